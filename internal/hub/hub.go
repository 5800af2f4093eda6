// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/LoGGGG2402/computer-management-system-sub001/internal/api"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/auth"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/config"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/relay"
	"github.com/LoGGGG2402/computer-management-system-sub001/internal/store"
)

// Hub is the main hub process.
type Hub struct {
	cfg          *config.Config
	store        store.Store
	authProvider auth.Provider
	relay        *relay.Relay
	api          *api.Server
	logger       *slog.Logger
}

// New creates a new hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authProvider, err := auth.NewProvider(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	// Bootstrap (creates the initial admin user for the builtin provider).
	if err := authProvider.Bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	var loginProvider auth.LoginProvider
	if lp, ok := authProvider.(auth.LoginProvider); ok {
		loginProvider = lp
	}

	// Agent tokens are always validated against the store, regardless of how
	// dashboard users authenticate.
	agentAuth := auth.NewService(db, cfg.Auth)

	rl := relay.New(db, authProvider, agentAuth, logger, relay.Options{
		CommandTimeout:      cfg.Relay.CommandTimeout.Duration,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
		MaxFrontendMsgBytes: cfg.Relay.MaxFrontendMsgBytes,
		MaxAgentMsgBytes:    cfg.Relay.MaxAgentMsgBytes,
		MaxConnsPerUser:     cfg.Relay.MaxConnsPerUser,
	})

	apiSrv := api.NewServer(db, authProvider, loginProvider, agentAuth, rl, cfg, logger)

	h := &Hub{
		cfg:          cfg,
		store:        db,
		authProvider: authProvider,
		relay:        rl,
		api:          apiSrv,
		logger:       logger.With("component", "hub"),
	}

	// Startup validation warnings (only for builtin provider).
	if authProvider.Name() == "builtin" {
		if len(cfg.Auth.JWTSecret) < 32 {
			logger.Warn("JWT secret is shorter than 32 characters — use a stronger secret in production")
		}
		if cfg.Auth.InitialAdmin != nil &&
			cfg.Auth.InitialAdmin.Username == "admin" && cfg.Auth.InitialAdmin.Password == "admin" {
			logger.Warn("default admin credentials detected (admin/admin) — change immediately in production")
		}
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return h, nil
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Server.Addr,
		Handler: h.api.Handler(),
	}

	// Start rate limiter cleanup tasks.
	h.api.StartBackgroundTasks(ctx)

	// Start retention purger.
	go h.runRetentionPurger(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.logger.Info("closing store")
		_ = h.store.Close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = h.store.Close()
		return err
	}
}

// runRetentionPurger deletes old audit events and resolved error reports on
// an hourly cadence.
func (h *Hub) runRetentionPurger(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			auditCutoff := time.Now().Add(-h.cfg.Storage.AuditRetention.Duration)
			if n, err := h.store.PurgeOldAuditEvents(ctx, auditCutoff); err != nil {
				h.logger.Warn("retention purge: audit events failed", "error", err)
			} else if n > 0 {
				h.logger.Info("retention purge: deleted old audit events", "count", n)
			}

			reportCutoff := time.Now().Add(-h.cfg.Storage.ErrorReportRetention.Duration)
			if n, err := h.store.PurgeResolvedErrorReports(ctx, reportCutoff); err != nil {
				h.logger.Warn("retention purge: error reports failed", "error", err)
			} else if n > 0 {
				h.logger.Info("retention purge: deleted resolved error reports", "count", n)
			}
		}
	}
}
