// Kestrel - Fraud review scoring service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("kestrel stopped", "error", err)
		stop()
		os.Exit(1)
	}
}

// run wires the service and blocks until ctx is cancelled or the listener fails.
func run(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	tracing, err := telemetry.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	details, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer details.Close()

	events, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer events.Close()

	engine, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		return fmt.Errorf("scoring engine: %w", err)
	}
	slog.Info("scoring engine compiled",
		"factors", engine.FactorCount(),
		"high_threshold", cfg.Scoring.HighThreshold,
		"medium_threshold", cfg.Scoring.MediumThreshold,
	)

	warmer := worker.NewWorker(events, repo, details, engine, worker.Config{DetailTTL: cfg.Cache.DetailTTL})
	if err := warmer.Start(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	defer func() {
		if err := warmer.Stop(); err != nil {
			slog.Error("worker stop failed", "error", err)
		}
	}()

	srv := api.NewServer(cfg.Server, repo, details, events, engine, cfg.Cache.DetailTTL, Version)
	srv.AttachWorker(warmer)

	if cfg.SeedFile != "" {
		if err := loadSeed(ctx, cfg.SeedFile, repo, srv.Handler()); err != nil {
			slog.Error("seed data not loaded", "path", cfg.SeedFile, "error", err)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown incomplete", "error", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		slog.Error("tracing shutdown failed", "error", err)
	}
	slog.Info("kestrel stopped cleanly")
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadSeed scores and stores the records in a JSON seed file. Seeding is
// skipped when the repository already holds transactions.
func loadSeed(ctx context.Context, path string, repo domain.Repository, h *api.Handler) error {
	_, total, err := repo.ListTransactions(ctx, 0, 1)
	if err != nil {
		return err
	}
	if total > 0 {
		slog.Info("seed skipped, repository not empty", "transactions", total)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var records []domain.CanonicalRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}

	loaded := 0
	for i, rec := range records {
		if _, err := h.Submit(ctx, rec); err != nil {
			slog.Warn("seed record rejected", "index", i, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("seed data loaded", "loaded", loaded, "total", len(records))
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - Fraud Review Service")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions              - Score and store a transaction")
	fmt.Println("    GET  /transactions              - List transactions (page, page_size)")
	fmt.Println("    GET  /transactions/{id}         - Transaction with risk explanation")
	fmt.Println("    POST /transactions/{id}/approve - Mark as legitimate")
	fmt.Println("    POST /transactions/{id}/reject  - Mark as fraud")
	fmt.Println("    POST /transactions/{id}/review  - Flag for further review")
	fmt.Println("    GET  /transactions/{id}/audit   - Audit trail")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println()
}
