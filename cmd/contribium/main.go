package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/api"
	"github.com/contribium/contribium/internal/auth"
	"github.com/contribium/contribium/internal/config"
	"github.com/contribium/contribium/internal/logging"
	"github.com/contribium/contribium/internal/ratelimit"
	"github.com/contribium/contribium/internal/realtime"
	"github.com/contribium/contribium/internal/store"
	"github.com/contribium/contribium/internal/web"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Confirmed writes fan out to stream subscribers through the hub
	hub := realtime.NewHub(cfg.PushBuffer, logger)
	defer hub.Close()

	// Initialize store
	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath, hub, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer sqliteStore.Close()

	// Initialize services
	limiter := ratelimit.NewKeyedLimiter()
	limiter.StartCleanup(ctx, 5*time.Minute, 2*cfg.RateLimitWindow)

	authService := auth.NewService(sqliteStore, cfg.TokenTTL)
	go purgeExpiredTokens(ctx, sqliteStore, logger)

	// Initialize handlers
	apiHandler := api.NewHandler(sqliteStore, authService, limiter, hub, cfg, logger)
	webHandler, err := web.NewHandler(sqliteStore, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize web handler", zap.Error(err))
	}

	mux := http.NewServeMux()
	apiHandler.Register(mux)

	// Web routes
	mux.HandleFunc("GET /", webHandler.Home)
	mux.HandleFunc("GET /bounty/{id}", webHandler.Bounty)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.Info("Starting Contribium", zap.String("addr", addr))

	// Create server with timeouts. Event streams are long-lived, so there is
	// no write timeout.
	server := &http.Server{
		Addr:        addr,
		Handler:     api.LogRequests(logger)(mux),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Request contexts derive from ctx, so cancelling it ends open streams
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func purgeExpiredTokens(ctx context.Context, s store.Store, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.DeleteExpiredTokens(ctx); err != nil {
				logger.Warn("purge expired tokens", zap.Error(err))
			}
		}
	}
}
