// Package config holds the workq module's central configuration
// struct: a struct of duration/int/bool fields with documented
// defaults, an optional JSON file overlay, and environment-variable
// overrides parsed with strconv/time.ParseDuration.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// QueueConfig holds the in-memory queue engine's tunables.
type QueueConfig struct {
	Retries         int           `json:"retries"`           // Max retry attempts before dead-lettering (default: 3)
	WorkItemTimeout time.Duration `json:"work_item_timeout"` // Lease duration before a dequeued entry is retried (default: 30s)
	DeliveryDelay   time.Duration `json:"delivery_delay"`    // Minimum delay before an enqueued entry becomes visible (default: 0)
	BaseDelay       time.Duration `json:"base_delay"`        // First retry backoff delay (default: 1s)
	MaxDelay        time.Duration `json:"max_delay"`         // Retry backoff ceiling (default: 1m)
	CompletedLimit  int           `json:"completed_limit"`   // Bounded completed-history ring size (default: 100)
}

// WorkerConfig holds the dispatcher pool's tunables.
type WorkerConfig struct {
	Workers       int           `json:"workers"`        // Fixed pool size (default: 4)
	DequeueWait   time.Duration `json:"dequeue_wait"`   // Per-poll Dequeue timeout (default: 5s)
	HandlerBudget time.Duration `json:"handler_budget"` // Per-entry handler deadline, 0 uses the worker package default of 5m (default: 0)
}

// ResilienceConfig holds internal/resilience.Policy's tunables.
type ResilienceConfig struct {
	Enabled        bool          `json:"enabled"`          // Wrap handler invocations in a resilience.Policy (default: false)
	MaxRetries     int           `json:"max_retries"`      // Handler-level retries, separate from queue-level retries (default: 0)
	BaseDelay      time.Duration `json:"base_delay"`       // default: 100ms
	MaxDelay       time.Duration `json:"max_delay"`        // default: 5s
	Multiplier     float64       `json:"multiplier"`       // default: 2.0
	Timeout        time.Duration `json:"timeout"`          // Per-call deadline, 0 disables (default: 0)
	BreakerErrPct  float64       `json:"breaker_err_pct"`  // Error-rate trip threshold (default: 50)
	BreakerWindow  time.Duration `json:"breaker_window"`   // Sliding window duration (default: 10s)
	BreakerOpen    time.Duration `json:"breaker_open"`     // Open-state duration before probing (default: 30s)
	BreakerProbes  int           `json:"breaker_probes"`   // Half-open probe count (default: 3)
}

// MetricsConfig holds the Prometheus behavior's tunables.
type MetricsConfig struct {
	Enabled        bool          `json:"enabled"`         // Default: true
	Namespace      string        `json:"namespace"`       // workq
	SampleInterval time.Duration `json:"sample_interval"` // Gauge refresh period (default: 10s)
}

// TracingConfig holds the OpenTelemetry behavior's tunables.
type TracingConfig struct {
	Enabled    bool   `json:"enabled"`     // Default: false
	TracerName string `json:"tracer_name"` // default: workq/queue
}

// DedupConfig holds the deduplication behavior's tunables.
type DedupConfig struct {
	Enabled bool          `json:"enabled"` // Default: false
	TTL     time.Duration `json:"ttl"`     // default: 10m
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Config is the central configuration struct embedding all component
// configs.
type Config struct {
	Queue      QueueConfig      `json:"queue"`
	Worker     WorkerConfig     `json:"worker"`
	Resilience ResilienceConfig `json:"resilience"`
	Metrics    MetricsConfig    `json:"metrics"`
	Tracing    TracingConfig    `json:"tracing"`
	Dedup      DedupConfig      `json:"dedup"`
	Logging    LoggingConfig    `json:"logging"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Retries:         3,
			WorkItemTimeout: 30 * time.Second,
			DeliveryDelay:   0,
			BaseDelay:       time.Second,
			MaxDelay:        time.Minute,
			CompletedLimit:  100,
		},
		Worker: WorkerConfig{
			Workers:       4,
			DequeueWait:   5 * time.Second,
			HandlerBudget: 0,
		},
		Resilience: ResilienceConfig{
			Enabled:       false,
			MaxRetries:    0,
			BaseDelay:     100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			Multiplier:    2.0,
			Timeout:       0,
			BreakerErrPct: 50,
			BreakerWindow: 10 * time.Second,
			BreakerOpen:   30 * time.Second,
			BreakerProbes: 3,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Namespace:      "workq",
			SampleInterval: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			TracerName: "workq/queue",
		},
		Dedup: DedupConfig{
			Enabled: false,
			TTL:     10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON file, overlaying onto
// DefaultConfig. Duration fields are JSON integers in nanoseconds.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("WORKQ_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Retries = n
		}
	}
	if v := os.Getenv("WORKQ_WORK_ITEM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.WorkItemTimeout = d
		}
	}
	if v := os.Getenv("WORKQ_DELIVERY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.DeliveryDelay = d
		}
	}
	if v := os.Getenv("WORKQ_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.BaseDelay = d
		}
	}
	if v := os.Getenv("WORKQ_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.MaxDelay = d
		}
	}

	if v := os.Getenv("WORKQ_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Workers = n
		}
	}
	if v := os.Getenv("WORKQ_DEQUEUE_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.DequeueWait = d
		}
	}
	if v := os.Getenv("WORKQ_HANDLER_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.HandlerBudget = d
		}
	}

	if v := os.Getenv("WORKQ_RESILIENCE_ENABLED"); v != "" {
		cfg.Resilience.Enabled = parseBool(v)
	}
	if v := os.Getenv("WORKQ_RESILIENCE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Resilience.MaxRetries = n
		}
	}
	if v := os.Getenv("WORKQ_RESILIENCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Resilience.Timeout = d
		}
	}
	if v := os.Getenv("WORKQ_BREAKER_ERR_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Resilience.BreakerErrPct = f
		}
	}

	if v := os.Getenv("WORKQ_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("WORKQ_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}

	if v := os.Getenv("WORKQ_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("WORKQ_TRACING_NAME"); v != "" {
		cfg.Tracing.TracerName = v
	}

	if v := os.Getenv("WORKQ_DEDUP_ENABLED"); v != "" {
		cfg.Dedup.Enabled = parseBool(v)
	}
	if v := os.Getenv("WORKQ_DEDUP_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dedup.TTL = d
		}
	}

	if v := os.Getenv("WORKQ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WORKQ_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
