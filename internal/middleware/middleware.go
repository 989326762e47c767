// internal/middleware/middleware.go
// Package middleware holds tiltboard's HTTP middleware: security headers,
// body-size limiting, and the JSON 404/405 handlers.
package middleware

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/httputil"
)

// SecurityHeadersOptions configures the security headers middleware.
type SecurityHeadersOptions struct {
	// XFrameOptions controls iframe embedding. Default "SAMEORIGIN";
	// empty disables the header.
	XFrameOptions string

	// XContentTypeOptions prevents MIME sniffing. Default "nosniff".
	XContentTypeOptions string

	// ReferrerPolicy controls referrer leakage.
	// Default "strict-origin-when-cross-origin".
	ReferrerPolicy string

	// HSTSMaxAge sets Strict-Transport-Security max-age in seconds, only
	// sent over HTTPS. 0 disables HSTS.
	HSTSMaxAge int

	// HSTSIncludeSubDomains adds includeSubDomains to the HSTS header.
	HSTSIncludeSubDomains bool

	// ContentSecurityPolicy sets Content-Security-Policy when non-empty.
	ContentSecurityPolicy string
}

// DefaultSecurityHeadersOptions returns secure defaults for tiltboard.
func DefaultSecurityHeadersOptions() SecurityHeadersOptions {
	return SecurityHeadersOptions{
		XFrameOptions:         "SAMEORIGIN",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		HSTSMaxAge:            31536000,
		HSTSIncludeSubDomains: true,
	}
}

// SecurityHeaders returns middleware that sets common security headers.
func SecurityHeaders(opts SecurityHeadersOptions) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.XFrameOptions != "" {
				w.Header().Set("X-Frame-Options", opts.XFrameOptions)
			}
			if opts.XContentTypeOptions != "" {
				w.Header().Set("X-Content-Type-Options", opts.XContentTypeOptions)
			}
			if opts.ReferrerPolicy != "" {
				w.Header().Set("Referrer-Policy", opts.ReferrerPolicy)
			}
			if opts.HSTSMaxAge > 0 && r.TLS != nil {
				hsts := "max-age=" + strconv.Itoa(opts.HSTSMaxAge)
				if opts.HSTSIncludeSubDomains {
					hsts += "; includeSubDomains"
				}
				w.Header().Set("Strict-Transport-Security", hsts)
			}
			if opts.ContentSecurityPolicy != "" {
				w.Header().Set("Content-Security-Policy", opts.ContentSecurityPolicy)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitBodySize returns a middleware that limits the request body to
// maxBytes. If maxBytes <= 0, it is a no-op.
func LimitBodySize(maxBytes int64) func(next http.Handler) http.Handler {
	if maxBytes <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// NotFoundHandler logs a 404 and returns a JSON error body. It is meant to
// be passed directly to chi.Router.NotFound(..).
func NotFoundHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if logger != nil {
			logger.Info("not_found",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
		}
		httputil.JSONError(w, http.StatusNotFound,
			"not_found", "The requested resource was not found")
	}
}

// MethodNotAllowedHandler logs a 405 and returns a JSON error body.
func MethodNotAllowedHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if logger != nil {
			logger.Info("method_not_allowed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
		}
		httputil.JSONError(w, http.StatusMethodNotAllowed,
			"method_not_allowed", "The requested HTTP method is not allowed for this resource")
	}
}
