package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether the scheduler's dependencies are reachable
// and provides a snapshot of current activity for the /healthz response.
type HealthChecker interface {
	Ping() error
	Snapshot() interface{}
}

// ServerConfig configures the metrics/health HTTP server.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DefaultServerConfig mirrors the scheduler's configuration defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":9090",
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewServer builds the Echo server exposing /metrics and /healthz.
func NewServer(cfg ServerConfig, checker HealthChecker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := checker.Ping(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"activity": checker.Snapshot(),
		})
	})

	return e
}

// StartServer runs the server until ctx is cancelled, then shuts it down
// within cfg.ShutdownTimeout.
func StartServer(ctx context.Context, e *echo.Echo, cfg ServerConfig) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
