// Package eventbus forwards scheduler state-change events to an optional
// external dashboard over a WebSocket connection. It is strictly
// best-effort and non-authoritative: the scheduler's own state always
// lives in Postgres, and a disconnected or absent Event Bus never blocks
// a build or recording task.
package eventbus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Config controls the Event Bus connection.
type Config struct {
	// URL is the WebSocket endpoint to publish to, e.g.
	// "ws://dashboard.internal/v1/events". Empty disables the bus.
	URL string

	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration
	ReconnectBackoffFactor float64

	PingInterval time.Duration

	Logger *logrus.Entry
}

// DefaultConfig returns sensible reconnect/ping defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectInitialDelay:  1 * time.Second,
		ReconnectMaxDelay:      30 * time.Second,
		ReconnectBackoffFactor: 2.0,
		PingInterval:           30 * time.Second,
	}
}

// Bus publishes Event values to a single WebSocket connection, with
// automatic exponential-backoff reconnect. A nil *Bus (or one built from
// an empty URL) is a safe no-op publisher.
type Bus struct {
	cfg    Config
	logger *logrus.Entry

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool

	sendChan chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Bus. If cfg.URL is empty, Publish becomes a no-op and
// Run/Close do nothing; callers don't need to special-case an unconfigured
// bus. Zero-valued reconnect/ping fields are filled in from DefaultConfig
// so a caller only needs to set URL.
func New(cfg Config) *Bus {
	defaults := DefaultConfig()
	if cfg.ReconnectInitialDelay <= 0 {
		cfg.ReconnectInitialDelay = defaults.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if cfg.ReconnectBackoffFactor <= 0 {
		cfg.ReconnectBackoffFactor = defaults.ReconnectBackoffFactor
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:      cfg,
		logger:   cfg.Logger.WithField("component", "eventbus"),
		sendChan: make(chan Event, 256),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run connects and maintains the connection until ctx is cancelled or
// Close is called. It is a no-op if the bus has no URL configured.
func (b *Bus) Run(ctx context.Context) {
	if b == nil || b.cfg.URL == "" {
		return
	}
	go func() {
		<-ctx.Done()
		b.cancel()
	}()
	b.wg.Add(1)
	b.connectionLoop()
}

// Close stops the connection loop and waits for it to finish.
func (b *Bus) Close() {
	if b == nil || b.cfg.URL == "" {
		return
	}
	b.cancel()
	b.connMu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.connMu.Unlock()
	b.wg.Wait()
}

// Publish queues an event for delivery. It never blocks the caller: while
// disconnected, events wait in the send buffer for the next connection; once
// the buffer is full, further events are dropped with a warning.
func (b *Bus) Publish(evt Event) {
	if b == nil || b.cfg.URL == "" {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case b.sendChan <- evt:
	default:
		b.logger.Warn("event bus queue full, dropping event")
	}
}

func (b *Bus) connectionLoop() {
	defer b.wg.Done()

	delay := b.cfg.ReconnectInitialDelay
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		conn, err := b.dial()
		if err != nil {
			b.logger.WithError(err).Warn("event bus connect failed")
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = nextDelay(delay, b.cfg.ReconnectBackoffFactor, b.cfg.ReconnectMaxDelay)
			continue
		}

		delay = b.cfg.ReconnectInitialDelay
		b.logger.Info("event bus connected")
		b.runConnection(conn)

		b.connMu.Lock()
		b.connected = false
		b.connMu.Unlock()
	}
}

func nextDelay(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}

func (b *Bus) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(b.ctx, b.cfg.URL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	b.connMu.Lock()
	b.conn = conn
	b.connected = true
	b.connMu.Unlock()

	return conn, nil
}

// runConnection sends queued events and pings until the connection drops
// or the bus is closed.
func (b *Bus) runConnection(conn *websocket.Conn) {
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		b.pingLoop(conn)
	}()

	for {
		select {
		case <-b.ctx.Done():
			conn.Close()
			<-pingDone
			return
		case evt := <-b.sendChan:
			data, err := evt.JSON()
			if err != nil {
				b.logger.WithError(err).Warn("marshal event")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.logger.WithError(err).Warn("event bus write failed")
				conn.Close()
				<-pingDone
				return
			}
		}
	}
}

func (b *Bus) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				b.logger.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}

// Connected reports whether the bus currently has a live connection.
func (b *Bus) Connected() bool {
	if b == nil {
		return false
	}
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.connected
}
