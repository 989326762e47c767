// internal/server/server.go
// Package server runs the HTTP(S) listener with graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/acme/autocert"

	"github.com/tiltboard/tiltboard/internal/config"
)

// WithShutdownSignals returns a context that is canceled when the process
// receives SIGINT or SIGTERM. Use it as the parent context for the server.
func WithShutdownSignals(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			if logger != nil {
				logger.Info("shutdown signal received", zap.Any("signal", sig))
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// ListenAndServe starts an HTTP or HTTPS server (manual TLS or Let's
// Encrypt http-01) and blocks until the context is canceled or the server
// fails. It does not wire routes; the caller supplies the handler.
func ListenAndServe(ctx context.Context, cfg *config.Config, handler http.Handler, logger *zap.Logger) error {
	if cfg == nil {
		return fmt.Errorf("server: cfg is nil")
	}
	if handler == nil {
		return fmt.Errorf("server: handler is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	// Route stdlib server logs into zap.
	if stdlog, err := zap.NewStdLogAt(logger, zapcore.WarnLevel); err == nil {
		srv.ErrorLog = stdlog
	}

	serveErr := make(chan error, 1)
	var auxSrv *http.Server

	switch {
	case !cfg.HTTP.UseHTTPS:
		srv.Addr = ":" + strconv.Itoa(cfg.HTTP.HTTPPort)
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		go func() { serveErr <- srv.ListenAndServe() }()

	case cfg.TLS.UseLetsEncrypt:
		mgr := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLS.Domain),
			Cache:      autocert.DirCache(cfg.TLS.LetsEncryptCacheDir),
			Email:      cfg.TLS.LetsEncryptEmail,
		}
		srv.Addr = ":" + strconv.Itoa(cfg.HTTP.HTTPSPort)
		srv.TLSConfig = mgr.TLSConfig()

		// :80 serves the ACME http-01 challenge and redirects the rest.
		auxSrv = &http.Server{
			Addr:              ":80",
			Handler:           mgr.HTTPHandler(nil),
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		}
		go func() {
			if err := auxSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("ACME challenge server exited", zap.Error(err))
			}
		}()

		logger.Info("HTTPS server listening (Let's Encrypt)",
			zap.String("addr", srv.Addr),
			zap.String("domain", cfg.TLS.Domain))
		go func() { serveErr <- srv.ListenAndServeTLS("", "") }()

	default:
		srv.Addr = ":" + strconv.Itoa(cfg.HTTP.HTTPSPort)
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		logger.Info("HTTPS server listening (manual TLS)", zap.String("addr", srv.Addr))
		go func() { serveErr <- srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile) }()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if auxSrv != nil {
			_ = auxSrv.Shutdown(shutdownCtx)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
