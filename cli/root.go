// Package cli wires command-line flags, environment variables, and a
// config file into a config.SchedulerConfig and drives the scheduler's
// full lifecycle: store/migration setup, the Tier-1 Build Orchestrator,
// the Tier-2 Recording Queue Worker, the metrics/health server, the
// optional Event Bus, and graceful shutdown.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"actionforge.dev/activity"
	"actionforge.dev/build"
	"actionforge.dev/common"
	"actionforge.dev/config"
	"actionforge.dev/db"
	"actionforge.dev/eventbus"
	"actionforge.dev/executor"
	"actionforge.dev/metrics"
	"actionforge.dev/orchestrator"
	"actionforge.dev/queue/snapshot"
	"actionforge.dev/recorder"
	"actionforge.dev/store"
	"actionforge.dev/version"
	"actionforge.dev/worker"
)

var cfgFile string

// RootCmd is the scheduler's entry point.
var RootCmd = &cobra.Command{
	Use:   "actionforge-scheduler",
	Short: "Two-tier scheduler for building website action capabilities",
	Long: `actionforge-scheduler claims per-site-version build jobs, expands each
into a set of recording tasks, and drives a concurrency-limited pool of
Recording Executors against them until the site's action capabilities
are built and the new version is published.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.actionforge-scheduler.yaml)")

	RootCmd.PersistentFlags().String("db-dsn", "", "PostgreSQL connection string")
	RootCmd.PersistentFlags().Int("max-concurrent-builds", 0, "Tier-1 build concurrency ceiling")
	RootCmd.PersistentFlags().Int("concurrency", 0, "Tier-2 recording task concurrency")
	RootCmd.PersistentFlags().String("recorder-url", "", "Recording Executor backend URL")
	RootCmd.PersistentFlags().String("metrics-addr", "", "address to serve /metrics and /healthz on")
	RootCmd.PersistentFlags().String("log-level", "", "debug|info|warn|error")
	RootCmd.PersistentFlags().String("log-format", "", "text|json")
	RootCmd.PersistentFlags().String("event-bus-url", "", "optional WebSocket URL to forward state-change events to")
	RootCmd.PersistentFlags().String("snapshot-cache-url", "", "optional Redis URL for best-effort metrics snapshot caching")
	RootCmd.PersistentFlags().Int("shutdown-timeout-seconds", 0, "graceful shutdown deadline")

	for _, binding := range []struct{ key, flag string }{
		{"db_dsn", "db-dsn"},
		{"max_concurrent_builds", "max-concurrent-builds"},
		{"concurrency", "concurrency"},
		{"recorder_url", "recorder-url"},
		{"metrics_addr", "metrics-addr"},
		{"log_level", "log-level"},
		{"log_format", "log-format"},
		{"event_bus_url", "event-bus-url"},
		{"snapshot_cache_url", "snapshot-cache-url"},
		{"shutdown_timeout_seconds", "shutdown-timeout-seconds"},
	} {
		viper.BindPFlag(binding.key, RootCmd.PersistentFlags().Lookup(binding.flag))
	}

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(migrateCmd)
	RootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".actionforge-scheduler")
	}

	viper.SetEnvPrefix("SCHEDULER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig layers viper (flags > env > file) over the documented
// defaults and validates the result.
func loadConfig() (config.SchedulerConfig, error) {
	cfg := config.DefaultSchedulerConfig()

	if v := viper.GetString("db_dsn"); v != "" {
		cfg.DBDSN = v
	}
	if v := viper.GetInt("max_concurrent_builds"); v != 0 {
		cfg.MaxConcurrentBuilds = v
	}
	if v := viper.GetInt("concurrency"); v != 0 {
		cfg.Concurrency = v
	}
	if v := viper.GetString("recorder_url"); v != "" {
		cfg.RecorderURL = v
	}
	if v := viper.GetString("metrics_addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if v := viper.GetString("log_format"); v != "" {
		cfg.LogFormat = v
	}
	if v := viper.GetString("event_bus_url"); v != "" {
		cfg.EventBusURL = v
	}
	if v := viper.GetString("snapshot_cache_url"); v != "" {
		cfg.SnapshotCacheURL = v
	}
	if v := viper.GetInt("shutdown_timeout_seconds"); v != 0 {
		cfg.ShutdownTimeoutSec = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler's build orchestrator, queue worker, and metrics server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetModuleVersion())
	},
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.New(store.Config{
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime(),
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer st.Close()

	return st.Migrate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	baseLogger := common.NewLogger(common.LoggerConfig{
		Level:  common.LogLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})
	log := common.NewContextLogger(baseLogger, map[string]interface{}{
		"service": "actionforge-scheduler",
		"version": version.GetModuleVersion(),
	})

	st, err := store.New(store.Config{
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime(),
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	recorderClient := recorder.NewHTTPClient(recorder.HTTPClientConfig{
		BaseURL: cfg.RecorderURL,
	})

	registry := executor.NewRegistry()
	registry.Register(executor.NewTaskDrivenExecutor(recorderClient.Factory(), cfg.TaskTimeoutMin))
	registry.Register(executor.NewExploratoryExecutor(recorderClient.Factory(), cfg.TaskTimeoutMin))

	tracker := activity.New(activity.DefaultConfig())

	events := eventbus.New(eventbus.Config{
		URL:    cfg.EventBusURL,
		Logger: nil,
	})

	workerCfg := worker.Config{
		Concurrency:       cfg.Concurrency,
		IdleWait:          cfg.IdleWait(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		StaleTimeout:      cfg.StaleTimeout(),
		MaxAttempts:       cfg.MaxAttempts,
	}
	pool := worker.New(workerCfg, st, registry, tracker, log, events)

	runnerCfg := build.Config{
		PollInterval:      cfg.BuildPollInterval(),
		HeartbeatInterval: cfg.HeartbeatInterval(),
		MaxAttempts:       cfg.MaxAttempts,
	}

	orchCfg := orchestrator.Config{
		MaxConcurrentBuilds: cfg.MaxConcurrentBuilds,
		BuildPollInterval:   cfg.BuildPollInterval(),
		BuildStaleTimeout:   cfg.BuildStaleTimeout(),
		MetricsInterval:     cfg.MetricsInterval(),
		QueueWorkerShutdown: cfg.ShutdownTimeout(),
	}
	orch := orchestrator.New(orchCfg, runnerCfg, st, pool, tracker, log, events)

	healthSrv := metrics.NewServer(metrics.ServerConfig{
		Addr:            cfg.MetricsAddr,
		ShutdownTimeout: 10 * time.Second,
	}, storeHealthChecker{st: st, tracker: tracker})
	tracker.RegisterRoutes(healthSrv.Group(""))

	snapshotPub, err := snapshot.New(snapshot.Config{
		RedisURL: cfg.SnapshotCacheURL,
		Key:      snapshot.DefaultConfig().Key,
		TTL:      snapshot.DefaultConfig().TTL,
	})
	if err != nil {
		log.WithError(err).Warn("snapshot cache disabled")
		snapshotPub, _ = snapshot.New(snapshot.Config{})
	}
	defer snapshotPub.Close()

	pgAgg, err := db.NewPostgresDB(cfg.DBDSN)
	if err != nil {
		log.WithError(err).Warn("aggregate metrics disabled")
	} else {
		defer pgAgg.Close()
	}
	aggEmitter := metrics.NewAggregateEmitter(pgAgg)

	ctx, cancel := context.WithCancel(context.Background())

	go snapshotPub.Run(ctx, 15*time.Second, func() interface{} { return tracker.Snapshot() })
	go aggEmitter.Run(ctx, 30*time.Second)

	eventsCtx, cancelEvents := context.WithCancel(context.Background())
	go events.Run(eventsCtx)

	metricsDone := make(chan error, 1)
	go func() {
		metricsDone <- metrics.StartServer(ctx, healthSrv, metrics.ServerConfig{Addr: cfg.MetricsAddr, ShutdownTimeout: 10 * time.Second})
	}()

	orchDone := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(orchDone)
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.WithField("deadline_seconds", cfg.ShutdownTimeout().Seconds()).Info("shutdown signal received, draining in-flight work")
	cancel()

	select {
	case <-orchDone:
	case <-sig:
		log.Warn("second shutdown signal received, exiting immediately")
		os.Exit(1)
	case <-time.After(cfg.ShutdownTimeout()):
		log.Warn("shutdown deadline elapsed, forcing exit")
		os.Exit(1)
	}

	cancelEvents()
	events.Close()
	<-metricsDone

	log.Info("shutdown complete")
	return nil
}

type storeHealthChecker struct {
	st      *store.Store
	tracker *activity.Tracker
}

func (h storeHealthChecker) Ping() error {
	return h.st.Ping()
}

func (h storeHealthChecker) Snapshot() interface{} {
	return h.tracker.Snapshot()
}
