package deadletter

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Record preserves a batch that exhausted its scoring retries, for manual
// inspection and replay.
type Record struct {
	BatchID   string            `json:"batch_id"`
	Events    []models.LogEvent `json:"events"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error"`
	FailedAt  time.Time         `json:"failed_at"`
}

// Sink stores dead-lettered batches. Implementations must never drop a
// record silently.
type Sink interface {
	Write(ctx context.Context, record Record) error
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, batchID string) (Record, error)
}

// MemorySink keeps records in memory, for tests and ephemeral deployments.
type MemorySink struct {
	mu      sync.Mutex
	records map[string]Record
	order   []string
}

// NewMemorySink constructs a MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string]Record)}
}

// Write stores the record.
func (s *MemorySink) Write(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.BatchID]; !exists {
		s.order = append(s.order, record.BatchID)
	}
	s.records[record.BatchID] = record
	return nil
}

// List returns stored batch IDs in insertion order.
func (s *MemorySink) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// Read returns one record by batch ID.
func (s *MemorySink) Read(_ context.Context, batchID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[batchID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}
