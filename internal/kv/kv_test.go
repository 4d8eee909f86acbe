package kv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

func TestMemoryGetSetDel(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "v" {
		t.Fatalf("unexpected value %q", value)
	}

	if err := store.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemorySetNX(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	stored, err := store.SetNX(ctx, "k", []byte("first"), 0)
	if err != nil || !stored {
		t.Fatalf("first SetNX should store, got %v / %v", stored, err)
	}
	stored, err = store.SetNX(ctx, "k", []byte("second"), 0)
	if err != nil || stored {
		t.Fatalf("second SetNX should not store, got %v / %v", stored, err)
	}
	value, _ := store.Get(ctx, "k")
	if string(value) != "first" {
		t.Fatalf("SetNX must not overwrite, got %q", value)
	}
}

// fakeValkey answers a minimal RESP dialect, one connection per operation.
func fakeValkey(t *testing.T, data map[string]string) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveRESP(conn, data)
		}
	}()
	return listener.Addr().String()
}

func serveRESP(conn net.Conn, data map[string]string) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		switch strings.ToUpper(args[0]) {
		case "PING":
			fmt.Fprint(conn, "+PONG\r\n")
		case "GET":
			if value, ok := data[args[1]]; ok {
				fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(value), value)
			} else {
				fmt.Fprint(conn, "$-1\r\n")
			}
		case "SET":
			data[args[1]] = args[2]
			fmt.Fprint(conn, "+OK\r\n")
		case "DEL":
			delete(data, args[1])
			fmt.Fprint(conn, ":1\r\n")
		default:
			fmt.Fprint(conn, "-ERR unknown command\r\n")
		}
	}
}

func readCommand(reader *bufio.Reader) ([]string, error) {
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "*") {
		return nil, fmt.Errorf("unexpected header %q", header)
	}
	var count int
	if _, err := fmt.Sscanf(header, "*%d", &count); err != nil {
		return nil, err
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if _, err := reader.ReadString('\n'); err != nil {
			return nil, err
		}
		arg, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		args = append(args, strings.TrimSpace(arg))
	}
	return args, nil
}

func TestValkeyStoreRoundTrip(t *testing.T) {
	addr := fakeValkey(t, map[string]string{})

	store, err := NewValkeyStore(ValkeyConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "incident:inc-1", []byte(`{"id":"inc-1"}`), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := store.Get(ctx, "incident:inc-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != `{"id":"inc-1"}` {
		t.Fatalf("unexpected value %q", value)
	}

	if _, err := store.Get(ctx, "incident:absent"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := store.Del(ctx, "incident:inc-1"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
}

func TestValkeyStoreRequiresAddr(t *testing.T) {
	if _, err := NewValkeyStore(ValkeyConfig{}); err == nil {
		t.Fatal("expected error for missing addr")
	}
}
