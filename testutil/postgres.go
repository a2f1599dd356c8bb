// Package testutil provides testcontainers-based PostgreSQL fixtures for
// integration tests that need a real database rather than hand-written
// fakes (the narrow Store interfaces used by unit tests cover everything
// else).
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"actionforge.dev/store"
)

// PostgresConfig configures the PostgreSQL testcontainer.
type PostgresConfig struct {
	Image          string
	Username       string
	Password       string
	Database       string
	StartupTimeout time.Duration
}

// DefaultPostgresConfig returns sensible defaults for integration tests.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Image:          "postgres:17",
		Username:       "postgres",
		Password:       "postgres",
		Database:       "actionforge_test",
		StartupTimeout: 60 * time.Second,
	}
}

// ContainerCleanup terminates a test container. Safe to call via defer even
// if setup failed.
type ContainerCleanup func()

// SetupPostgres starts a PostgreSQL container and returns its DSN and a
// cleanup function. Callers are responsible for terminating the container
// via the returned cleanup.
func SetupPostgres(ctx context.Context, t *testing.T, cfg *PostgresConfig) (string, ContainerCleanup, error) {
	t.Helper()

	if cfg == nil {
		defaults := DefaultPostgresConfig()
		cfg = &defaults
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     cfg.Username,
			"POSTGRES_PASSWORD": cfg.Password,
			"POSTGRES_DB":       cfg.Database,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(cfg.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", func() {}, fmt.Errorf("start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return "", func() {}, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", func() {}, fmt.Errorf("mapped port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Username, cfg.Password, host, port.Port(), cfg.Database)

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("warning: failed to terminate postgres container: %v", err)
		}
	}

	return dsn, cleanup, nil
}

// SetupStore starts a PostgreSQL container, opens a *store.Store against it,
// and runs migrations. The returned cleanup closes the store and terminates
// the container.
func SetupStore(ctx context.Context, t *testing.T, cfg *PostgresConfig) (*store.Store, ContainerCleanup, error) {
	t.Helper()

	dsn, terminate, err := SetupPostgres(ctx, t, cfg)
	if err != nil {
		return nil, terminate, err
	}

	st, err := store.New(store.Config{DSN: dsn})
	if err != nil {
		terminate()
		return nil, func() {}, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		terminate()
		return nil, func() {}, fmt.Errorf("migrate store: %w", err)
	}

	cleanup := func() {
		st.Close()
		terminate()
	}
	return st, cleanup, nil
}
