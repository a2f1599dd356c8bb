package store

import (
	"fmt"
	"time"

	"actionforge.dev/db"
	"gorm.io/gorm"
)

// Store wraps the GORM connection used for all model CRUD and the raw-SQL
// claim primitives. It holds no pgx pool; the aggregate path uses a
// separate *db.PostgresDB opened by the caller.
type Store struct {
	DB *gorm.DB
}

// Config configures how Store connects to PostgreSQL.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New opens a Store against PostgreSQL and configures its connection pool.
func New(cfg Config) (*Store, error) {
	pool := db.DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.ConnMaxLifetime
	}

	gdb, err := db.OpenGORM(cfg.DSN, pool)
	if err != nil {
		return nil, err
	}
	return &Store{DB: gdb}, nil
}

// NewWithDB wraps an already-open *gorm.DB.
func NewWithDB(gdb *gorm.DB) *Store {
	return &Store{DB: gdb}
}

// Migrate creates or updates the scheduler's tables.
func (s *Store) Migrate() error {
	if err := s.DB.AutoMigrate(
		&Site{},
		&SiteVersion{},
		&Document{},
		&Chunk{},
		&BuildJob{},
		&RecordingTask{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping verifies connectivity, used by the /healthz endpoint.
func (s *Store) Ping() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
