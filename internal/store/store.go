package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/aggregate"
	"github.com/miradorstack/mirador-sentinel/internal/kv"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	incidentKeyPrefix = "sentinel:incident:"
	baselineKey       = "sentinel:baselines"
)

// ErrIncidentNotFound signals an unknown incident ID.
var ErrIncidentNotFound = errors.New("incident not found")

// Store persists incident snapshots and baseline profiles behind the
// key-value boundary. It does not own the live in-memory state; it archives
// closed incidents and checkpoints baselines for restart.
type Store struct {
	kv        kv.Store
	logger    *slog.Logger
	retention time.Duration
}

// New constructs a Store. retention bounds how long archived incidents stay
// readable; zero keeps them indefinitely.
func New(backend kv.Store, retention time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: backend, logger: logger, retention: retention}
}

// ArchiveIncident writes the final snapshot of a closed incident.
func (s *Store) ArchiveIncident(ctx context.Context, incident models.Incident) error {
	payload, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident %s: %w", incident.ID, err)
	}
	if err := s.kv.Set(ctx, incidentKeyPrefix+incident.ID, payload, s.retention); err != nil {
		return fmt.Errorf("archive incident %s: %w", incident.ID, err)
	}
	s.logger.Debug("incident archived",
		slog.String("incident_id", incident.ID),
		slog.String("status", string(incident.Status)),
		slog.Int("members", len(incident.MemberInsights)),
	)
	return nil
}

// LoadIncident reads an archived incident by ID.
func (s *Store) LoadIncident(ctx context.Context, id string) (models.Incident, error) {
	payload, err := s.kv.Get(ctx, incidentKeyPrefix+id)
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return models.Incident{}, ErrIncidentNotFound
		}
		return models.Incident{}, fmt.Errorf("load incident %s: %w", id, err)
	}
	var incident models.Incident
	if err := json.Unmarshal(payload, &incident); err != nil {
		return models.Incident{}, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return incident, nil
}

// CheckpointBaselines persists the current baseline profiles.
func (s *Store) CheckpointBaselines(ctx context.Context, baselines *aggregate.BaselineStore) error {
	profiles := baselines.Snapshot()
	payload, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("encode baselines: %w", err)
	}
	if err := s.kv.Set(ctx, baselineKey, payload, 0); err != nil {
		return fmt.Errorf("checkpoint baselines: %w", err)
	}
	s.logger.Debug("baselines checkpointed", slog.Int("profiles", len(profiles)))
	return nil
}

// RestoreBaselines loads the last checkpoint into the baseline store. A
// missing checkpoint is not an error; cold starts are expected.
func (s *Store) RestoreBaselines(ctx context.Context, baselines *aggregate.BaselineStore) error {
	payload, err := s.kv.Get(ctx, baselineKey)
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("read baseline checkpoint: %w", err)
	}
	var profiles []aggregate.BaselineProfile
	if err := json.Unmarshal(payload, &profiles); err != nil {
		return fmt.Errorf("decode baseline checkpoint: %w", err)
	}
	baselines.Restore(profiles)
	s.logger.Info("baselines restored", slog.Int("profiles", len(profiles)))
	return nil
}
