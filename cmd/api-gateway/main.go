package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upb/rag-gateway/app"
	"github.com/upb/rag-gateway/config"
	"github.com/upb/rag-gateway/internal/observability"
	"github.com/upb/rag-gateway/routes"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "api-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting api-gateway",
		zap.String("environment", cfg.Environment),
		zap.String("address", cfg.Server.Address()),
		zap.String("rate_limit_store", cfg.RateLimit.Store))

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Embedding.ProbeOnStart {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Embedding.Timeout)
		err := deps.ProbeEmbeddings(probeCtx)
		cancel()
		if err != nil {
			_ = deps.Close(context.Background())
			return fmt.Errorf("embedding probe failed: %w", err)
		}
	}

	if err := deps.Start(); err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("failed to start background workers: %w", err)
	}

	srv := newServer(cfg, routes.SetupRoutes(deps))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", srv.Addr), zap.Bool("tls", cfg.Server.TLS.Enabled))
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = deps.Close(context.Background())
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error("dependency shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("api-gateway stopped")
	return nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(zap.String("service", "rag-gateway")), nil
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * cfg.Server.ReadTimeout,
	}
}
