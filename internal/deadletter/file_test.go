package deadletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func sampleRecord(batchID string) Record {
	return Record{
		BatchID: batchID,
		Events: []models.LogEvent{
			{ID: "ev-1", SourceID: "web-1", Timestamp: time.Unix(1_700_000_000, 0).UTC(), Level: models.LevelError, Message: "connection refused"},
		},
		Attempts:  4,
		LastError: "scoring unavailable: connection reset",
		FailedAt:  time.Unix(1_700_000_100, 0).UTC(),
	}
}

func TestFileSinkRoundTrip(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	if err := sink.Write(ctx, sampleRecord("batch-1")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := sink.Write(ctx, sampleRecord("batch-2")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ids, err := sink.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "batch-1" || ids[1] != "batch-2" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	record, err := sink.Read(ctx, "batch-1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if record.Attempts != 4 || len(record.Events) != 1 || record.Events[0].ID != "ev-1" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestFileSinkReadMissing(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sink.Close()

	_, err = sink.Read(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemorySinkOrder(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	_ = sink.Write(ctx, sampleRecord("b"))
	_ = sink.Write(ctx, sampleRecord("a"))

	ids, err := sink.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "b" {
		t.Fatalf("expected insertion order, got %v", ids)
	}
}
