package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrNotFound signals an unknown batch ID.
var ErrNotFound = errors.New("dead-letter record not found")

const fileExtension = ".json.zst"

// FileSink persists dead-lettered batches as zstd-compressed JSON files, one
// file per batch, so operators can inspect and replay them.
type FileSink struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileSink creates the sink directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, errors.New("dead-letter directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dead-letter dir: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &FileSink{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// Write persists the record atomically (write to temp, then rename).
func (s *FileSink) Write(_ context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode dead-letter record: %w", err)
	}
	compressed := s.encoder.EncodeAll(payload, nil)

	final := filepath.Join(s.dir, record.BatchID+fileExtension)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("write dead-letter record: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("finalize dead-letter record: %w", err)
	}
	return nil
}

// List returns stored batch IDs, sorted.
func (s *FileSink) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dead-letter dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExtension))
	}
	sort.Strings(ids)
	return ids, nil
}

// Read loads one record by batch ID.
func (s *FileSink) Read(_ context.Context, batchID string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, batchID+fileExtension))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read dead-letter record: %w", err)
	}
	payload, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return Record{}, fmt.Errorf("decompress dead-letter record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return Record{}, fmt.Errorf("decode dead-letter record: %w", err)
	}
	return record, nil
}

// Close releases the codec resources.
func (s *FileSink) Close() {
	s.encoder.Close()
	s.decoder.Close()
}
