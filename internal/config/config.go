package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the sentinel pipeline.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Baseline    BaselineConfig    `yaml:"baseline"`
	Actions     ActionsConfig     `yaml:"actions"`
	DeadLetter  DeadLetterConfig  `yaml:"deadLetter"`
	KV          KVConfig          `yaml:"kv"`
}

// ServerConfig controls the metrics/health listener.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PipelineConfig bounds batching and orchestrator concurrency.
type PipelineConfig struct {
	MaxBatchSize     int           `yaml:"maxBatchSize"`
	MaxBatchDelay    time.Duration `yaml:"maxBatchDelay"`
	MaxRetries       int           `yaml:"maxRetries"`
	ConcurrencyLimit int           `yaml:"concurrencyLimit"`
	ScoreTimeout     time.Duration `yaml:"scoreTimeout"`
	InitialBackoff   time.Duration `yaml:"initialBackoff"`
}

// ScoringConfig configures the external scoring capability.
type ScoringConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CorrelationConfig tunes incident clustering.
type CorrelationConfig struct {
	Window     time.Duration `yaml:"window"`
	NoiseFloor float64       `yaml:"noiseFloor"`
}

// LifecycleConfig tunes incident state transitions.
type LifecycleConfig struct {
	TriageThreshold   float64       `yaml:"triageThreshold"`
	MinTriageMembers  int           `yaml:"minTriageMembers"`
	EscalationTimeout time.Duration `yaml:"escalationTimeout"`
	RetentionGrace    time.Duration `yaml:"retentionGrace"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
}

// BaselineConfig tunes per-source score normalization.
type BaselineConfig struct {
	Alpha     float64       `yaml:"alpha"`
	Retention time.Duration `yaml:"retention"`
}

// ActionsConfig controls the remediation action table and its thresholds.
type ActionsConfig struct {
	Path               string  `yaml:"path"`
	RecommendThreshold float64 `yaml:"recommendThreshold"`
	AutoApplyThreshold float64 `yaml:"autoApplyThreshold"`
}

// DeadLetterConfig controls the dead-letter sink for unscoreable batches.
type DeadLetterConfig struct {
	Dir string `yaml:"dir"`
}

// KVConfig controls the persistence backend for incident archives and
// baseline checkpoints.
type KVConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Addr               string        `yaml:"addr"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	DB                 int           `yaml:"db"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	WriteTimeout       time.Duration `yaml:"writeTimeout"`
	MaxRetries         int           `yaml:"maxRetries"`
	TLS                bool          `yaml:"tls"`
	ArchiveRetention   time.Duration `yaml:"archiveRetention"`
	CheckpointInterval time.Duration `yaml:"checkpointInterval"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Pipeline: PipelineConfig{
			MaxBatchSize:     50,
			MaxBatchDelay:    2 * time.Second,
			MaxRetries:       3,
			ConcurrencyLimit: 4,
			ScoreTimeout:     10 * time.Second,
			InitialBackoff:   500 * time.Millisecond,
		},
		Scoring: ScoringConfig{Timeout: 10 * time.Second},
		Correlation: CorrelationConfig{
			Window:     5 * time.Minute,
			NoiseFloor: 0.15,
		},
		Lifecycle: LifecycleConfig{
			TriageThreshold:   0.75,
			MinTriageMembers:  5,
			EscalationTimeout: 30 * time.Minute,
			RetentionGrace:    time.Hour,
			SweepInterval:     time.Minute,
		},
		Baseline: BaselineConfig{
			Alpha:     0.3,
			Retention: 24 * time.Hour,
		},
		Actions: ActionsConfig{
			Path:               "configs/actions/default.yaml",
			RecommendThreshold: 0.6,
			AutoApplyThreshold: 0.9,
		},
		DeadLetter: DeadLetterConfig{Dir: "data/deadletter"},
		KV: KVConfig{
			Enabled:            false,
			DialTimeout:        2 * time.Second,
			ReadTimeout:        500 * time.Millisecond,
			WriteTimeout:       500 * time.Millisecond,
			MaxRetries:         2,
			CheckpointInterval: 5 * time.Minute,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Correlation.NoiseFloor < 0 || cfg.Correlation.NoiseFloor >= 1 {
		return fmt.Errorf("correlation noise floor %v out of range [0,1)", cfg.Correlation.NoiseFloor)
	}
	if cfg.Actions.AutoApplyThreshold < cfg.Actions.RecommendThreshold {
		return fmt.Errorf("auto-apply threshold %v must not be below recommend threshold %v",
			cfg.Actions.AutoApplyThreshold, cfg.Actions.RecommendThreshold)
	}
	if cfg.Baseline.Alpha <= 0 || cfg.Baseline.Alpha > 1 {
		return fmt.Errorf("baseline alpha %v out of range (0,1]", cfg.Baseline.Alpha)
	}
	if cfg.KV.Enabled && cfg.KV.Addr == "" {
		return errors.New("kv backend enabled but no addr configured")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_SENTINEL_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxBatchSize = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_MAX_BATCH_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.MaxBatchDelay = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxRetries = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CONCURRENCY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ConcurrencyLimit = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_SCORING_ENDPOINT"); v != "" {
		cfg.Scoring.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_SCORING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scoring.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Window = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_NOISE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlation.NoiseFloor = f
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_TRIAGE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Lifecycle.TriageThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_ESCALATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lifecycle.EscalationTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_RECOMMEND_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Actions.RecommendThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_AUTO_APPLY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Actions.AutoApplyThreshold = f
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_BASELINE_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Baseline.Alpha = f
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_BASELINE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Baseline.Retention = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_ACTIONS_PATH"); v != "" {
		cfg.Actions.Path = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_DEADLETTER_DIR"); v != "" {
		cfg.DeadLetter.Dir = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KV_ENABLED"); v != "" {
		cfg.KV.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KV_ADDR"); v != "" {
		cfg.KV.Addr = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KV_USERNAME"); v != "" {
		cfg.KV.Username = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KV_PASSWORD"); v != "" {
		cfg.KV.Password = v
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KV_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.KV.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_SENTINEL_KV_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.KV.TLS = true
	}
}
