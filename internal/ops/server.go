// Package ops exposes the optional health and metrics listener. The probe
// engine opens no ports unless this server is enabled.
package ops

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/monitron-io/monitron/internal/config"
	"github.com/monitron-io/monitron/internal/logging"
	"github.com/monitron-io/monitron/internal/storage"
)

// Server serves /health, /ready, and /metrics.
type Server struct {
	app      *fiber.App
	cfg      config.OpsConfig
	store    storage.Store
	logger   *logging.Logger
	registry prometheus.Registerer
}

// NewServer creates the ops server against the given metric registry.
func NewServer(cfg config.OpsConfig, store storage.Store, registry prometheus.Registerer, logger *logging.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Monitron Ops",
		DisableStartupMessage: true,
		ServerHeader:          "Monitron",
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s := &Server{
		app:      app,
		cfg:      cfg,
		store:    store,
		logger:   logger.WithComponent(logging.ComponentOps),
		registry: registry,
	}

	app.Get("/health", s.healthHandler)
	app.Get("/ready", s.readyHandler)
	app.Get("/metrics", s.metricsHandler)

	return s
}

// Start blocks serving the listener.
func (s *Server) Start() error {
	address := net.JoinHostPort(s.cfg.Host, s.cfg.Port)

	s.logger.WithFields(map[string]interface{}{
		"address": address,
	}).Info("Starting ops server")

	return s.app.Listen(address)
}

// Stop gracefully stops the listener.
func (s *Server) Stop() error {
	s.logger.Info("Stopping ops server")
	return s.app.Shutdown()
}

// healthHandler reports process liveness
func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "monitron",
		"version": "1.0.0",
	})
}

// readyHandler reports readiness: the store must answer a ping
func (s *Server) readyHandler(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"checks": fiber.Map{
				"database": err.Error(),
			},
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
		"checks": fiber.Map{
			"database": "ok",
		},
	})
}

// metricsHandler serves the Prometheus exposition format
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	gatherer, ok := s.registry.(prometheus.Gatherer)
	if !ok {
		return c.Status(fiber.StatusInternalServerError).SendString("Error: registry does not implement Gatherer interface")
	}

	var buf bytes.Buffer
	req, _ := http.NewRequest("GET", "/metrics", nil)
	rw := &responseWriter{Buffer: &buf, header: make(http.Header)}

	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	handler.ServeHTTP(rw, req)

	return c.SendString(buf.String())
}

// responseWriter adapts a buffer to http.ResponseWriter for promhttp
type responseWriter struct {
	*bytes.Buffer
	header http.Header
}

func (rw *responseWriter) Header() http.Header {
	return rw.header
}

func (rw *responseWriter) WriteHeader(statusCode int) {
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	return rw.Buffer.Write(data)
}
