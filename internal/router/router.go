// internal/router/router.go
// Package router builds the chi router with tiltboard's standard
// middleware stack.
package router

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/config"
	"github.com/tiltboard/tiltboard/internal/logging"
	"github.com/tiltboard/tiltboard/internal/metrics"
	"github.com/tiltboard/tiltboard/internal/middleware"
)

// New creates a chi.Router pre-wired with the standard stack:
// request ID, real IP, panic recovery, body size limit, security headers,
// optional CORS, metrics, request logging, and JSON 404/405 handlers.
// Routes are mounted by the caller.
func New(cfg *config.Config, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Recoverer(logger))

	r.Use(middleware.LimitBodySize(cfg.MaxRequestBodyBytes))
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersOptions()))

	if cfg.CORS.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.CORSAllowedOrigins,
			AllowedMethods:   cfg.CORS.CORSAllowedMethods,
			AllowedHeaders:   cfg.CORS.CORSAllowedHeaders,
			AllowCredentials: cfg.CORS.CORSAllowCredentials,
			MaxAge:           cfg.CORS.CORSMaxAge,
		}))
	}

	r.Use(metrics.HTTPMetrics)
	r.Use(logging.RequestLogger(logger))

	r.NotFound(middleware.NotFoundHandler(logger))
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler(logger))

	return r
}
