// Package snapshot publishes a best-effort, non-authoritative cache of the
// scheduler's activity snapshot to Redis. It exists purely so an external
// reader (a dashboard, a CLI inspector) can read current progress without
// hitting the scheduler's own /healthz endpoint or the database; the
// scheduler never reads this cache back to make decisions.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the snapshot cache.
type Config struct {
	// RedisURL is the connection string, e.g. "redis://localhost:6379/0".
	// Empty disables the cache.
	RedisURL string

	// Key is the Redis key the snapshot is written under.
	Key string

	// TTL bounds how long a stale snapshot survives a scheduler crash.
	TTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Key: "actionforge:scheduler:activity_snapshot",
		TTL: 2 * time.Minute,
	}
}

// Publisher writes activity snapshots to Redis on an interval. A nil
// *Publisher, or one built from an empty RedisURL, is a safe no-op.
type Publisher struct {
	cfg    Config
	client *redis.Client
}

// New connects to Redis. If cfg.RedisURL is empty, it returns a Publisher
// whose methods are no-ops and a nil error.
func New(cfg Config) (*Publisher, error) {
	if cfg.RedisURL == "" {
		return &Publisher{cfg: cfg}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot cache url: %w", err)
	}

	return &Publisher{cfg: cfg, client: redis.NewClient(opts)}, nil
}

// Publish writes snapshot as JSON with the configured TTL. Errors are
// returned for the caller to log; they never affect scheduler state.
func (p *Publisher) Publish(ctx context.Context, snapshot interface{}) error {
	if p == nil || p.client == nil {
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return p.client.Set(ctx, p.cfg.Key, data, p.cfg.TTL).Err()
}

// Run calls fetch and publishes the result every interval until ctx is
// cancelled.
func (p *Publisher) Run(ctx context.Context, interval time.Duration, fetch func() interface{}) {
	if p == nil || p.client == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Publish(ctx, fetch())
		}
	}
}

// Close closes the underlying Redis connection.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
