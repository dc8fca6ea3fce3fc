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

	"github.com/sentinelstack/guardian/internal/utils"
)

// Config captures the settings required to boot the Guardian service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	History    HistoryConfig    `yaml:"history"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Loop       LoopConfig       `yaml:"loop"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Responders RespondersConfig `yaml:"responders"`
	Poller     PollerConfig     `yaml:"poller"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	EventLog   EventLogConfig   `yaml:"eventLog"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// HistoryConfig bounds the diagnostic and action-plan ring buffers.
type HistoryConfig struct {
	MaxDiagnostics int `yaml:"maxDiagnostics"`
	MaxActionPlans int `yaml:"maxActionPlans"`
}

// AnalysisConfig parameterises the three health analyzers.
type AnalysisConfig struct {
	WindowDiagnostics      int     `yaml:"windowDiagnostics"`
	MinDiagnostics         int     `yaml:"minDiagnostics"`
	LowConfidenceThreshold float64 `yaml:"lowConfidenceThreshold"`
	ContradictionWeight    float64 `yaml:"contradictionWeight"`
	WindowActionPlans      int     `yaml:"windowActionPlans"`
	MinActionPlans         int     `yaml:"minActionPlans"`
}

// AlertingConfig holds thresholds and hysteresis counts for the level engine.
type AlertingConfig struct {
	CoherenceMin    float64 `yaml:"coherenceMin"`
	EfficacyMin     float64 `yaml:"efficacyMin"`
	StabilityMin    float64 `yaml:"stabilityMin"`
	AbsoluteFloor   float64 `yaml:"absoluteFloor"`
	EscalateTicks   int     `yaml:"escalateTicks"`
	DeescalateTicks int     `yaml:"deescalateTicks"`
}

// LoopConfig controls the evaluation loop.
type LoopConfig struct {
	TickInterval    time.Duration `yaml:"tickInterval"`
	SnapshotHistory int           `yaml:"snapshotHistory"`
}

// IngestConfig controls the event intake queue.
type IngestConfig struct {
	QueueCapacity int `yaml:"queueCapacity"`
	Workers       int `yaml:"workers"`
}

// RespondersConfig configures outbound calls to the self-healing pipeline.
type RespondersConfig struct {
	BaseURL          string        `yaml:"baseURL"`
	Timeout          time.Duration `yaml:"timeout"`
	RetryAttempts    int           `yaml:"retryAttempts"`
	RatePerSecond    float64       `yaml:"ratePerSecond"`
	RateBurst        int           `yaml:"rateBurst"`
	BreakerMaxFails  int           `yaml:"breakerMaxFails"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown"`
	RollbackRevision string        `yaml:"rollbackRevision"`
}

// PollerConfig enables the pull fallback when the pipeline cannot push events.
type PollerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	DiagnosticsURL string        `yaml:"diagnosticsURL"`
	ActionPlansURL string        `yaml:"actionPlansURL"`
	Timeout        time.Duration `yaml:"timeout"`
}

// BroadcastConfig enables publishing control flags over Redis so pipeline
// components observe level changes without polling the Guardian.
type BroadcastConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// EventLogConfig selects the emergency-event store. An empty path keeps the
// log in memory.
type EventLogConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GUARDIAN_CONFIG")
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		History: HistoryConfig{
			MaxDiagnostics: 500,
			MaxActionPlans: 500,
		},
		Analysis: AnalysisConfig{
			WindowDiagnostics:      50,
			MinDiagnostics:         10,
			LowConfidenceThreshold: 0.5,
			ContradictionWeight:    0,
			WindowActionPlans:      50,
			MinActionPlans:         10,
		},
		Alerting: AlertingConfig{
			CoherenceMin:    0.7,
			EfficacyMin:     0.6,
			StabilityMin:    0.6,
			AbsoluteFloor:   0.2,
			EscalateTicks:   3,
			DeescalateTicks: 5,
		},
		Loop: LoopConfig{
			TickInterval:    10 * time.Second,
			SnapshotHistory: 60,
		},
		Ingest: IngestConfig{
			QueueCapacity: 1024,
			Workers:       1,
		},
		Responders: RespondersConfig{
			Timeout:          30 * time.Second,
			RetryAttempts:    3,
			RatePerSecond:    10,
			RateBurst:        5,
			BreakerMaxFails:  5,
			BreakerCooldown:  30 * time.Second,
			RollbackRevision: "last-known-stable",
		},
		Poller: PollerConfig{
			Enabled:  false,
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		Broadcast: BroadcastConfig{
			Enabled:   false,
			KeyPrefix: "guardian",
		},
	}
}

// Validate rejects configurations that would make the control loop unsound.
// Validation failures are fatal at startup.
func (c *Config) Validate() error {
	const op = "config.Validate"
	fail := func(msg string) error {
		return utils.NewAppError(op, utils.KindConfiguration, msg, nil)
	}

	for _, t := range []struct {
		name  string
		value float64
	}{
		{"analysis.lowConfidenceThreshold", c.Analysis.LowConfidenceThreshold},
		{"alerting.coherenceMin", c.Alerting.CoherenceMin},
		{"alerting.efficacyMin", c.Alerting.EfficacyMin},
		{"alerting.stabilityMin", c.Alerting.StabilityMin},
		{"alerting.absoluteFloor", c.Alerting.AbsoluteFloor},
	} {
		if t.value < 0 || t.value > 1 {
			return fail(fmt.Sprintf("%s must be within [0,1], got %v", t.name, t.value))
		}
	}
	if c.Analysis.ContradictionWeight < 0 || c.Analysis.ContradictionWeight > 1 {
		return fail("analysis.contradictionWeight must be within [0,1]")
	}
	if c.Analysis.WindowDiagnostics <= 0 || c.Analysis.WindowActionPlans <= 0 {
		return fail("analysis windows must be positive")
	}
	if c.Analysis.MinDiagnostics <= 0 || c.Analysis.MinActionPlans <= 0 {
		return fail("analysis minimum sample counts must be positive")
	}
	if c.Analysis.MinDiagnostics > c.Analysis.WindowDiagnostics {
		return fail("analysis.minDiagnostics exceeds analysis.windowDiagnostics")
	}
	if c.Analysis.MinActionPlans > c.Analysis.WindowActionPlans {
		return fail("analysis.minActionPlans exceeds analysis.windowActionPlans")
	}
	if c.Alerting.EscalateTicks <= 0 {
		return fail("alerting.escalateTicks must be positive")
	}
	if c.Alerting.DeescalateTicks <= c.Alerting.EscalateTicks {
		return fail("alerting.deescalateTicks must be strictly greater than alerting.escalateTicks")
	}
	if c.History.MaxDiagnostics <= 0 || c.History.MaxActionPlans <= 0 {
		return fail("history capacities must be positive")
	}
	if c.Loop.TickInterval <= 0 {
		return fail("loop.tickInterval must be positive")
	}
	if c.Loop.SnapshotHistory <= 0 {
		return fail("loop.snapshotHistory must be positive")
	}
	if c.Ingest.QueueCapacity <= 0 {
		return fail("ingest.queueCapacity must be positive")
	}
	if c.Ingest.Workers <= 0 {
		return fail("ingest.workers must be positive")
	}
	if c.Responders.Timeout <= 0 {
		return fail("responders.timeout must be positive")
	}
	if c.Responders.RetryAttempts <= 0 {
		return fail("responders.retryAttempts must be positive")
	}
	if c.Poller.Enabled {
		if c.Poller.Interval <= 0 {
			return fail("poller.interval must be positive when the poller is enabled")
		}
		if c.Poller.DiagnosticsURL == "" && c.Poller.ActionPlansURL == "" {
			return fail("poller enabled without diagnosticsURL or actionPlansURL")
		}
	}
	if c.Broadcast.Enabled && c.Broadcast.Addr == "" {
		return fail("broadcast enabled without broadcast.addr")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GUARDIAN_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("GUARDIAN_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("GUARDIAN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GUARDIAN_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("GUARDIAN_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.TickInterval = d
		}
	}
	if v := os.Getenv("GUARDIAN_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.QueueCapacity = n
		}
	}
	if v := os.Getenv("GUARDIAN_RESPONDERS_BASE_URL"); v != "" {
		cfg.Responders.BaseURL = v
	}
	if v := os.Getenv("GUARDIAN_RESPONDERS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Responders.Timeout = d
		}
	}
	if v := os.Getenv("GUARDIAN_EVENTLOG_PATH"); v != "" {
		cfg.EventLog.Path = v
	}
	if v := os.Getenv("GUARDIAN_BROADCAST_ADDR"); v != "" {
		cfg.Broadcast.Addr = v
		cfg.Broadcast.Enabled = true
	}
	if v := os.Getenv("GUARDIAN_BROADCAST_PASSWORD"); v != "" {
		cfg.Broadcast.Password = v
	}
	if v := os.Getenv("GUARDIAN_BROADCAST_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Broadcast.DB = db
		}
	}
	if v := os.Getenv("GUARDIAN_POLLER_ENABLED"); v != "" {
		cfg.Poller.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("GUARDIAN_POLLER_DIAGNOSTICS_URL"); v != "" {
		cfg.Poller.DiagnosticsURL = v
	}
	if v := os.Getenv("GUARDIAN_POLLER_ACTION_PLANS_URL"); v != "" {
		cfg.Poller.ActionPlansURL = v
	}
}
