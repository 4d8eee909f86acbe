package kv

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyStore implements Store backed by a Valkey/Redis-compatible server.
// Connections are dialed per operation; each operation retries on transient
// network errors.
type ValkeyStore struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// NewValkeyStore creates a Store using the supplied configuration. It pings
// the target to fail fast when credentials or connectivity are wrong.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}

	cfg.normalise()
	store := &ValkeyStore{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := store.ping(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// Get fetches bytes by key, returning ErrKeyNotFound when the key is absent.
func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.withConn(ctx, func(c *respConn) error {
		if err := c.writeCommand("GET", []byte(key)); err != nil {
			return err
		}
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		switch reply.typ {
		case replyNil:
			return ErrKeyNotFound
		case replyBulkString:
			payload = reply.data
			return nil
		default:
			return fmt.Errorf("unexpected valkey reply type %q for GET", reply.typ)
		}
	})
	return payload, err
}

// Set stores bytes with the provided TTL.
func (s *ValkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.withConn(ctx, func(c *respConn) error {
		args := setArgs(key, value, ttl, false)
		if err := c.writeCommand("SET", args...); err != nil {
			return err
		}
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || string(reply.data) != "OK" {
			return fmt.Errorf("unexpected SET response: %s", reply.data)
		}
		return nil
	})
}

// SetNX stores the value only if the key does not exist.
func (s *ValkeyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var stored bool
	err := s.withConn(ctx, func(c *respConn) error {
		args := setArgs(key, value, ttl, true)
		if err := c.writeCommand("SET", args...); err != nil {
			return err
		}
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		switch reply.typ {
		case replySimpleString:
			stored = true
			return nil
		case replyNil:
			stored = false
			return nil
		default:
			return fmt.Errorf("unexpected SETNX response type: %s", reply.typ)
		}
	})
	return stored, err
}

// Del removes a key.
func (s *ValkeyStore) Del(ctx context.Context, key string) error {
	return s.withConn(ctx, func(c *respConn) error {
		if err := c.writeCommand("DEL", []byte(key)); err != nil {
			return err
		}
		_, err := c.readReply()
		return err
	})
}

// Close is a no-op for the per-operation dialing store.
func (s *ValkeyStore) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) [][]byte {
	args := [][]byte{[]byte(key), value}
	if ttl > 0 {
		ms := strconv.FormatInt(ttl.Milliseconds(), 10)
		args = append(args, []byte("PX"), []byte(ms))
	}
	if nx {
		args = append(args, []byte("NX"))
	}
	return args
}

func (s *ValkeyStore) ping(ctx context.Context) error {
	return s.withConn(ctx, func(c *respConn) error {
		if err := c.writeCommand("PING"); err != nil {
			return err
		}
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING response: %s", reply.data)
		}
		return nil
	})
}

func (s *ValkeyStore) withConn(ctx context.Context, fn func(*respConn) error) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c, err := s.dial(ctx)
		if err != nil {
			lastErr = err
			if retriable(err) && attempt < s.cfg.MaxRetries-1 {
				time.Sleep(retryDelay(attempt))
				continue
			}
			return err
		}

		err = s.authenticate(c)
		if err == nil {
			err = fn(c)
		}
		c.close()
		if err == nil {
			return nil
		}
		lastErr = err
		if retriable(err) && attempt < s.cfg.MaxRetries-1 {
			time.Sleep(retryDelay(attempt))
			continue
		}
		return err
	}
	return lastErr
}

func (s *ValkeyStore) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: dialDeadline(ctx, s.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if s.cfg.TLS {
		host := tlsServerName(s.cfg.Addr)
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		conn, err = tls.DialWithDialer(&dialer, "tcp", s.cfg.Addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  s.cfg.ReadTimeout,
		writeTimeout: s.cfg.WriteTimeout,
	}, nil
}

func (s *ValkeyStore) authenticate(c *respConn) error {
	if s.cfg.Password != "" {
		cmd := []string{"AUTH"}
		if s.cfg.Username != "" {
			cmd = append(cmd, s.cfg.Username, s.cfg.Password)
		} else {
			cmd = append(cmd, s.cfg.Password)
		}
		if err := c.writeStrings(cmd...); err != nil {
			return err
		}
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}
	if s.cfg.DB > 0 {
		if err := c.writeCommand("SELECT", []byte(strconv.Itoa(s.cfg.DB))); err != nil {
			return err
		}
		reply, err := c.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

func (cfg *ValkeyConfig) normalise() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

// replyType enumerates the subset of RESP types the store speaks.
type replyType string

const (
	replySimpleString replyType = "+"
	replyBulkString   replyType = "$"
	replyInteger      replyType = ":"
	replyNil          replyType = "_"
)

type respReply struct {
	typ  replyType
	data []byte
}

// respConn wraps a network connection with RESP helpers.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) writeCommand(command string, args ...[]byte) error {
	parts := make([][]byte, 0, len(args)+1)
	parts = append(parts, []byte(command))
	parts = append(parts, args...)
	return c.write(parts...)
}

func (c *respConn) writeStrings(parts ...string) error {
	chunks := make([][]byte, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, []byte(p))
	}
	return c.write(chunks...)
}

func (c *respConn) write(parts ...[]byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.writer, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := fmt.Fprintf(c.writer, "$%d\r\n", len(part)); err != nil {
			return err
		}
		if _, err := c.writer.Write(part); err != nil {
			return err
		}
		if _, err := c.writer.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

func (c *respConn) readReply() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		line, err := c.readLine()
		return respReply{typ: replySimpleString, data: line}, err
	case '-':
		line, err := c.readLine()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, errors.New(string(line))
	case ':':
		line, err := c.readLine()
		return respReply{typ: replyInteger, data: line}, err
	case '$':
		line, err := c.readLine()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size == -1 {
			return respReply{typ: replyNil}, nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return respReply{}, err
		}
		if err := c.expectCRLF(); err != nil {
			return respReply{}, err
		}
		return respReply{typ: replyBulkString, data: buf}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func (c *respConn) expectCRLF() error {
	b1, err := c.reader.ReadByte()
	if err != nil {
		return err
	}
	b2, err := c.reader.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("invalid line termination")
	}
	return nil
}

func dialDeadline(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func tlsServerName(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func retryDelay(attempt int) time.Duration {
	base := 25 * time.Millisecond
	return time.Duration(1<<attempt) * base
}

func retriable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
