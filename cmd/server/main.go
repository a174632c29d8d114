package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwhitfield/lostfound/internal/config"
	"github.com/mwhitfield/lostfound/internal/domain"
	"github.com/mwhitfield/lostfound/internal/geocode"
	"github.com/mwhitfield/lostfound/internal/httpserver"
	"github.com/mwhitfield/lostfound/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := sqlite.NewRepository(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database", "path", cfg.DatabasePath)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := domain.NewItemStore(ctx, repo, logger)
	if err != nil {
		return fmt.Errorf("create item store: %w", err)
	}
	defer store.Shutdown()

	resolver, err := geocode.NewResolver(geocode.Options{
		Endpoint:  cfg.GeocoderURL,
		UserAgent: cfg.GeocoderUserAgent,
		Timeout:   cfg.GeocoderTimeout,
		CacheTTL:  cfg.GeocodeCacheTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("create geocoder: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start background geocode cache eviction
	go resolver.StartEvictionJob(ctx, 10*time.Minute)

	// Start the HTTP server
	server := httpserver.NewServer(cfg, store, resolver, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
