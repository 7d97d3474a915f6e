// Package api exposes the query service over HTTP with gin.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the read API, the health probes and, when metrics is
// non-nil, the Prometheus endpoint.
func NewRouter(h *Handler, health *Health, metrics http.Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), cors())

	r.GET("/", health.Root)
	r.GET("/health", health.Health)
	r.GET("/health/live", health.Live)
	r.GET("/health/ready", health.Ready)
	r.GET("/health/startup", health.StartupProbe)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/cities", h.ListCities)
		apiGroup.GET("/cities/:id", h.GetCity)
		apiGroup.GET("/cities/:id/invasions", h.ListCityInvasions)
		apiGroup.GET("/tribes", h.ListTribes)
		apiGroup.GET("/tribes/:id", h.GetTribe)
		apiGroup.GET("/tribes/:id/invasions", h.ListTribeInvasions)
	}

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "API route not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger logs every request except probe and scrape traffic at debug.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		level := slog.LevelInfo
		if strings.HasPrefix(path, "/health") || path == "/metrics" {
			level = slog.LevelDebug
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
