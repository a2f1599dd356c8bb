// Package db provides PostgreSQL connection management for the scheduler.
//
// Two access paths are exposed side by side:
//   - OpenGORM opens a *gorm.DB, used by the store package for model CRUD,
//     upserts, and the transactional claim primitives.
//   - PostgresDB (postgres_pgx.go) wraps a pgx connection pool for the
//     aggregate/time-series reads the metrics emitter runs on a fixed
//     interval, where GORM's row-mapping overhead isn't worth paying.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PoolConfig controls the underlying sql.DB connection pool opened by GORM.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig mirrors the scheduler's configuration defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 60 * time.Minute,
	}
}

// OpenGORM establishes a GORM-backed PostgreSQL connection and configures
// the connection pool. Callers are responsible for running migrations.
func OpenGORM(dsn string, pool PoolConfig) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return gdb, nil
}
