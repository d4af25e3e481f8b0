// ============================================================================
// HTTP Boundary
// ============================================================================
//
// Package: internal/api
// File: routes.go
// Purpose: gin router for the execution server
//
// Routes:
//   GET  /health      open; capacity and pool state
//   POST /execute     shared secret, optional per-client rate limit
//   GET  /jobs/:id    shared secret; tracker record of an admitted request
//   POST /test        development only, no secret
//
// Error bodies:
//   400 {error}                         validation or malformed body
//   401 {error, message}                missing or wrong X-Execution-Secret
//   404 {error}                         unknown job id
//   429 {error}                         rate limited
//   500 {verdict: "RE", error, serverTime}  pipeline failure
//   503 {error}                         shutting down
//
// ============================================================================

package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/ChuLiYu/judge-engine/internal/metrics"
	"github.com/ChuLiYu/judge-engine/internal/service"
)

// SecretHeader carries the pre-shared execution secret.
const SecretHeader = "X-Execution-Secret"

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 50 << 20

// Config configures the router.
type Config struct {
	Secret       string // empty disables the secret check
	Production   bool   // disables /test
	RateLimitRPS float64
	RateBurst    int
	MaxBodyBytes int64
}

// NewRouter builds the gin engine serving svc.
func NewRouter(cfg Config, svc *service.Service, m *metrics.Collector, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), bodyLimit(cfg.MaxBodyBytes))

	h := &Handler{svc: svc, log: logger}

	if cfg.Secret == "" {
		logger.Warn("EXECUTION_SECRET not set, allowing all requests")
	}
	auth := secretAuth(cfg.Secret)

	r.GET("/health", h.Health)

	execute := []gin.HandlerFunc{auth}
	if cfg.RateLimitRPS > 0 {
		execute = append(execute, NewClientLimiter(cfg.RateLimitRPS, cfg.RateBurst, m).Middleware())
	}
	execute = append(execute, h.Execute)
	r.POST("/execute", execute...)

	r.GET("/jobs/:id", auth, h.Job)

	if !cfg.Production {
		r.POST("/test", h.Test)
	}
	return r
}
