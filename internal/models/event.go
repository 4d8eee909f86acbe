package models

import (
	"strings"
	"time"
)

// LogLevel enumerates log severity levels.
type LogLevel string

const (
	LevelDebug    LogLevel = "debug"
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelError    LogLevel = "error"
	LevelCritical LogLevel = "critical"
	LevelUnknown  LogLevel = "unknown"
)

// ParseLevel maps a free-form level token onto a LogLevel, defaulting to LevelUnknown.
func ParseLevel(value string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug", "dbg", "trace":
		return LevelDebug
	case "info", "information", "notice":
		return LevelInfo
	case "warn", "warning":
		return LevelWarning
	case "error", "err":
		return LevelError
	case "critical", "crit", "fatal", "panic", "emerg":
		return LevelCritical
	default:
		return LevelUnknown
	}
}

// Numeric returns the sortable numeric representation of the level.
func (l LogLevel) Numeric() int {
	switch l {
	case LevelDebug:
		return 10
	case LevelInfo:
		return 20
	case LevelWarning:
		return 30
	case LevelError:
		return 40
	case LevelCritical:
		return 50
	default:
		return 0
	}
}

// IsError reports whether the level indicates an error condition.
func (l LogLevel) IsError() bool {
	return l == LevelError || l == LevelCritical
}

// LogEvent is a normalized, immutable log record produced by the normalizer.
type LogEvent struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"source_id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// ScoreResult is the scoring capability's verdict for a single LogEvent.
type ScoreResult struct {
	Label        string  `json:"label"`
	AnomalyScore float64 `json:"anomaly_score"`
	ModelVersion string  `json:"model_version"`
}
