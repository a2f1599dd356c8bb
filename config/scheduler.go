package config

import "time"

// SchedulerConfig holds every runtime option the scheduler's two tiers, the
// Recording Executor, and its ambient services read at startup. Values are
// populated by cli/root.go from viper, which layers flags over environment
// variables over a config file over these defaults.
type SchedulerConfig struct {
	// Database
	DBDSN                     string
	DBMaxOpenConns            int
	DBMaxIdleConns            int
	DBConnMaxLifetimeMinutes  int

	// Tier 1: Build Orchestrator
	MaxConcurrentBuilds    int
	BuildPollIntervalSec   int
	BuildStaleTimeoutMin   int

	// Tier 2: Recording Queue Worker
	Concurrency          int
	IdleWaitMs           int
	HeartbeatIntervalMs  int
	StaleTimeoutMin      int
	MaxAttempts          int
	TaskTimeoutMin       int

	// Recorder
	RecorderURL string

	// Observability
	MetricsIntervalSec int
	MetricsAddr        string
	LogLevel           string
	LogFormat          string

	// Optional, best-effort integrations
	EventBusURL      string
	SnapshotCacheURL string

	ShutdownTimeoutSec int
}

// DefaultSchedulerConfig returns every option at its documented default.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DBMaxOpenConns:           25,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeMinutes: 60,

		MaxConcurrentBuilds:  5,
		BuildPollIntervalSec: 5,
		BuildStaleTimeoutMin: 15,

		Concurrency:         3,
		IdleWaitMs:          1000,
		HeartbeatIntervalMs: 5000,
		StaleTimeoutMin:     15,
		MaxAttempts:         3,
		TaskTimeoutMin:      10,

		MetricsIntervalSec: 30,
		MetricsAddr:        ":9090",
		LogLevel:           "info",
		LogFormat:          "text",

		ShutdownTimeoutSec: 60,
	}
}

func (c SchedulerConfig) DBConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeMinutes) * time.Minute
}

func (c SchedulerConfig) BuildPollInterval() time.Duration {
	return time.Duration(c.BuildPollIntervalSec) * time.Second
}

func (c SchedulerConfig) BuildStaleTimeout() time.Duration {
	return time.Duration(c.BuildStaleTimeoutMin) * time.Minute
}

func (c SchedulerConfig) IdleWait() time.Duration {
	return time.Duration(c.IdleWaitMs) * time.Millisecond
}

func (c SchedulerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

func (c SchedulerConfig) StaleTimeout() time.Duration {
	return time.Duration(c.StaleTimeoutMin) * time.Minute
}

func (c SchedulerConfig) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalSec) * time.Second
}

func (c SchedulerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// Validate checks the required fields and fails fast on an unusable config.
func (c SchedulerConfig) Validate() error {
	v := NewValidator()
	v.RequireString("db_dsn", c.DBDSN)
	v.RequirePositiveInt("max_concurrent_builds", c.MaxConcurrentBuilds)
	v.RequirePositiveInt("concurrency", c.Concurrency)
	v.RequirePositiveInt("max_attempts", c.MaxAttempts)
	v.RequireOneOf("log_format", c.LogFormat, []string{"text", "json"})
	return v.Validate()
}
