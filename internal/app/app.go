// internal/app/app.go
// Package app boots tiltboard: configuration, logging, storage, auth,
// notifications, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/auth"
	"github.com/tiltboard/tiltboard/internal/config"
	"github.com/tiltboard/tiltboard/internal/logging"
	"github.com/tiltboard/tiltboard/internal/metrics"
	"github.com/tiltboard/tiltboard/internal/notify"
	"github.com/tiltboard/tiltboard/internal/redirect"
	"github.com/tiltboard/tiltboard/internal/server"
	"github.com/tiltboard/tiltboard/internal/store"
	"github.com/tiltboard/tiltboard/internal/web"
)

// Run wires the whole service together and blocks until shutdown.
func Run() error {
	boot := logging.Bootstrap()

	cfg, err := config.Load(boot)
	if err != nil {
		boot.Error("configuration failed", zap.Error(err))
		return err
	}

	logger := logging.MustBuild(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	metrics.RegisterDefault(logger)

	st, err := store.Open(cfg.DB.Driver, cfg.DB.DSN, cfg.DB.ConnectTimeout)
	if err != nil {
		logger.Error("database connection failed", zap.Error(err))
		return err
	}
	defer st.Close()

	ctx, cancel := server.WithShutdownSignals(context.Background(), logger)
	defer cancel()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("schema bootstrap failed", zap.Error(err))
		return err
	}

	trusted, err := redirect.TrustedHostsFromOrigin(cfg.BaseURL)
	if err != nil {
		logger.Error("invalid base_url", zap.Error(err))
		return err
	}

	sessions, cleanup, err := buildSessions(cfg, logger)
	if err != nil {
		logger.Error("session store failed", zap.Error(err))
		return err
	}
	defer cleanup()

	notifier := buildNotifier(cfg, st, logger)
	notifier.Start()
	defer notifier.Close()

	// A typed nil would sneak past the reset handler's nil check.
	var resetMailer auth.ResetMailer
	if notifier != nil {
		resetMailer = notifier
	}

	deps := web.RouteDeps{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Local:    auth.NewLocal(st, sessions, trusted, cfg.BaseURL, logger),
		Reset:    auth.NewReset(st, resetMailer, cfg.Auth.ResetSecret, cfg.Auth.ResetTTL, cfg.BaseURL, logger),
		Notifier: notifier,
		Trusted:  trusted,
		Logger:   logger,
	}

	if cfg.Auth.GoogleClientID != "" {
		google, gerr := auth.NewGoogleProvider(
			cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret,
			cfg.BaseURL, st, sessions, trusted, logger)
		if gerr != nil {
			logger.Error("google oauth setup failed", zap.Error(gerr))
			return gerr
		}
		deps.Google = google
		defer google.Close()
	}

	handler := web.Routes(deps)

	logger.Info("tiltboard starting",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("db_driver", cfg.DB.Driver))

	return server.ListenAndServe(ctx, cfg, handler, logger)
}

// buildSessions picks memory or Redis storage based on configuration.
func buildSessions(cfg *config.Config, logger *zap.Logger) (*auth.Sessions, func(), error) {
	secure := strings.HasPrefix(cfg.BaseURL, "https://")

	if cfg.Auth.RedisAddr != "" {
		rs, err := auth.NewRedisSessionStore(cfg.Auth.RedisAddr, cfg.Auth.RedisPassword)
		if err != nil {
			return nil, nil, fmt.Errorf("app: redis sessions: %w", err)
		}
		logger.Info("sessions backed by redis", zap.String("addr", cfg.Auth.RedisAddr))
		return auth.NewSessions(rs, cfg.Auth.SessionCookie, cfg.Auth.SessionTTL, secure),
			func() { _ = rs.Close() }, nil
	}

	ms := auth.NewMemorySessionStore()
	stop := ms.StartCleanupTask(cfg.Auth.SessionTTL)
	logger.Info("sessions backed by memory")
	return auth.NewSessions(ms, cfg.Auth.SessionCookie, cfg.Auth.SessionTTL, secure), stop, nil
}

// buildNotifier returns nil (inert) when SMTP is not configured.
func buildNotifier(cfg *config.Config, st *store.Store, logger *zap.Logger) *notify.Service {
	if cfg.SMTP.Host == "" {
		logger.Info("smtp not configured, notifications disabled")
		return nil
	}
	return notify.NewService(notify.NewSender(cfg.SMTP), st, cfg.BaseURL, logger)
}
