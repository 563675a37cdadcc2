// Package http serves the worker's admin surface: health and metrics.
package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports liveness of one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthStatus is the health check response.
type HealthStatus struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Dependencies map[string]string `json:"dependencies"`
}

// Server exposes /healthz and /metrics on the admin port.
type Server struct {
	app     *fiber.App
	port    string
	logger  *slog.Logger
	pingers map[string]Pinger
}

// NewServer builds the admin server. pingers maps a dependency name
// ("database", "redis", "broker") to its liveness check.
func NewServer(port string, registry *prometheus.Registry, pingers map[string]Pinger, logger *slog.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           5 * time.Second,
			WriteTimeout:          10 * time.Second,
		}),
		port:    port,
		logger:  logger,
		pingers: pingers,
	}

	s.app.Get("/healthz", s.healthAction)
	s.app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	return s
}

func (s *Server) healthAction(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	health := HealthStatus{
		Status:       "ok",
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]string, len(s.pingers)),
	}
	for name, pinger := range s.pingers {
		if err := pinger.Ping(ctx); err != nil {
			health.Dependencies[name] = "error"
			health.Status = "degraded"
			s.logger.Error("Health check failed",
				slog.String("dependency", name),
				slog.Any("error", err))
			continue
		}
		health.Dependencies[name] = "ok"
	}

	if health.Status != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(health)
	}
	return c.JSON(health)
}

// Listen blocks serving the admin port until Shutdown is called.
func (s *Server) Listen() error {
	s.logger.Info("Admin server listening", slog.String("port", s.port))
	return s.app.Listen(":" + s.port)
}

// Shutdown drains connections within the given timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}
