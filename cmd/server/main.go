// Package main is the entry point for the backoffice API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"backoffice/internal/app"
	"backoffice/internal/config"
	"backoffice/internal/domain/auth"
	v1 "backoffice/internal/infrastructure/http/v1"
	"backoffice/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const adminRole = "admin"

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Logger())
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting backoffice server",
		"version", version,
		"driver", cfg.Database.Driver,
		"lock_backend", cfg.Numbering.LockBackend,
		"reindex_mode", cfg.Numbering.ReindexMode)

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer application.Close()

	// --- Router ---
	rc := v1.RouterConfig{
		Logger:    log,
		AdminRole: adminRole,
		Vouchers:  application.Vouchers,
		Policies:  application.Policies,
		Pending:   application.Queue,
		DB:        application.DB,

		Idempotency: application.Idempotency,
		Driver:    cfg.Database.Driver,
		Version:   version,
	}
	if cfg.Auth.Enabled {
		rc.JWTValidator = auth.NewJWTService(auth.JWTConfig{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.Issuer,
		})
		log.Info("bearer token auth enabled")
	} else {
		log.Warn("bearer token auth disabled, tenant is taken from the X-Tenant-ID header")
	}
	router := v1.NewRouter(rc)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infow("server starting", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
