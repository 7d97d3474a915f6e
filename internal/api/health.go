package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Health serves the probe endpoints. Ready checks the database and the
// cache; Startup checks that the schema is loaded.
type Health struct {
	Service  string
	Version  string
	Database Pinger
	Cache    Pinger
	Startup  Pinger
	Timeout  time.Duration
}

func (h *Health) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.Service,
		"version": h.Version,
		"status":  "healthy",
	})
}

func (h *Health) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "backend"})
}

func (h *Health) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (h *Health) Ready(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	if err := ping(ctx, h.Database); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": "database: " + err.Error()})
		return
	}
	if err := ping(ctx, h.Cache); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": "cache: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"database": "connected",
		"cache":    "connected",
	})
}

func (h *Health) StartupProbe(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	if err := ping(ctx, h.Startup); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "database": "initialized"})
}

func (h *Health) context(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

func ping(ctx context.Context, p Pinger) error {
	if p == nil {
		return nil
	}
	return p.Ping(ctx)
}
