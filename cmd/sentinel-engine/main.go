package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/aggregate"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/correlate"
	"github.com/miradorstack/mirador-sentinel/internal/deadletter"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/kv"
	"github.com/miradorstack/mirador-sentinel/internal/lifecycle"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/normalize"
	"github.com/miradorstack/mirador-sentinel/internal/orchestrator"
	"github.com/miradorstack/mirador-sentinel/internal/pipeline"
	"github.com/miradorstack/mirador-sentinel/internal/recommend"
	"github.com/miradorstack/mirador-sentinel/internal/scoring"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func main() {
	var configPath string
	var sourceID string

	root := &cobra.Command{
		Use:   "sentinel-engine",
		Short: "Log anomaly detection, incident correlation, and remediation proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, sourceID)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	root.Flags().StringVar(&sourceID, "source", "stdin", "Source ID attached to lines read from stdin")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newKVBackend opens the configured persistence backend. When kv is enabled
// the operator asked for durable archives and checkpoints, so an unreachable
// backend is a startup failure, not a silent fallback to memory.
func newKVBackend(cfg *config.Config) (kv.Store, error) {
	if !cfg.KV.Enabled {
		return kv.NewMemory(), nil
	}
	valkey, err := kv.NewValkeyStore(kv.ValkeyConfig{
		Addr:         cfg.KV.Addr,
		Username:     cfg.KV.Username,
		Password:     cfg.KV.Password,
		DB:           cfg.KV.DB,
		DialTimeout:  cfg.KV.DialTimeout,
		ReadTimeout:  cfg.KV.ReadTimeout,
		WriteTimeout: cfg.KV.WriteTimeout,
		MaxRetries:   cfg.KV.MaxRetries,
		TLS:          cfg.KV.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey backend unavailable: %w", err)
	}
	return valkey, nil
}

func run(configPath, sourceID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		return err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-sentinel", slog.String("metrics_address", cfg.Server.MetricsAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return err
	}

	backend, err := newKVBackend(cfg)
	if err != nil {
		logger.Error("failed to open kv backend", slog.String("addr", cfg.KV.Addr), slog.Any("error", err))
		return err
	}
	defer backend.Close()

	stateStore := store.New(backend, cfg.KV.ArchiveRetention, logger)

	sink, err := deadletter.NewFileSink(cfg.DeadLetter.Dir)
	if err != nil {
		logger.Error("failed to open dead-letter sink", slog.Any("error", err))
		return err
	}
	defer sink.Close()

	var scorer scoring.Scorer = scoring.NewStubScorer()
	if cfg.Scoring.Endpoint != "" {
		scorer = scoring.NewRemoteScorer(cfg.Scoring.Endpoint, "", cfg.Scoring.Timeout)
	} else {
		logger.Warn("no scoring endpoint configured, using in-process stub scorer")
	}

	bus := events.NewBus(logger)
	bus.Subscribe(events.TypeIncidentTransitioned, func(e events.Envelope) {
		if e.Transition != nil {
			metrics.ObserveTransition(string(e.Transition.From), string(e.Transition.To))
		}
	})

	gate, err := recommend.NewGate(cfg.Actions.Path, cfg.Actions.RecommendThreshold, cfg.Actions.AutoApplyThreshold, logger)
	if err != nil {
		logger.Error("failed to load action table", slog.Any("error", err))
		return err
	}
	if gate == nil {
		logger.Warn("no action table found, remediation proposals disabled", slog.String("path", cfg.Actions.Path))
	}

	aggregator := aggregate.NewAggregator(logger, cfg.Baseline.Alpha, cfg.Baseline.Retention)
	engine := correlate.NewEngine(logger, cfg.Correlation.Window, cfg.Correlation.NoiseFloor)
	manager := lifecycle.NewManager(logger, engine, stateStore, bus, lifecycle.Options{
		TriageThreshold:   cfg.Lifecycle.TriageThreshold,
		MinTriageMembers:  cfg.Lifecycle.MinTriageMembers,
		EscalationTimeout: cfg.Lifecycle.EscalationTimeout,
		RetentionGrace:    cfg.Lifecycle.RetentionGrace,
	})
	orch := orchestrator.NewOrchestrator(logger, scorer, sink, bus, orchestrator.Options{
		MaxBatchSize:     cfg.Pipeline.MaxBatchSize,
		MaxBatchDelay:    cfg.Pipeline.MaxBatchDelay,
		MaxRetries:       cfg.Pipeline.MaxRetries,
		ConcurrencyLimit: int64(cfg.Pipeline.ConcurrencyLimit),
		ScoreTimeout:     cfg.Pipeline.ScoreTimeout,
		InitialBackoff:   cfg.Pipeline.InitialBackoff,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := stateStore.RestoreBaselines(ctx, aggregator.Baselines()); err != nil {
		logger.Warn("baseline restore failed", slog.Any("error", err))
	}

	p := pipeline.New(logger, pipeline.Deps{
		Normalizer:   normalize.NewNormalizer(nil),
		Orchestrator: orch,
		Aggregator:   aggregator,
		Engine:       engine,
		Manager:      manager,
		Gate:         gate,
		Bus:          bus,
	}, cfg.Lifecycle.SweepInterval)
	p.Run(ctx)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	// Periodic baseline checkpoints survive restarts.
	if cfg.KV.CheckpointInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.KV.CheckpointInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := stateStore.CheckpointBaselines(ctx, aggregator.Baselines()); err != nil {
						logger.Warn("baseline checkpoint failed", slog.Any("error", err))
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Stdin stands in for the external log collector.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			if err := p.Ingest(ctx, line, sourceID); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Debug("line rejected", slog.Any("error", err))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	p.Close()

	checkpointCtx, cancelCheckpoint := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	if err := stateStore.CheckpointBaselines(checkpointCtx, aggregator.Baselines()); err != nil {
		logger.Warn("final baseline checkpoint failed", slog.Any("error", err))
	}
	cancelCheckpoint()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-sentinel stopped")
	return nil
}
