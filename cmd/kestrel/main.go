// Kestrel - Trust and enforcement decisions for two-sided marketplaces.
// Copyright (c) 2025 opensource.trust
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-trust/kestrel/internal/api"
	"github.com/opensource-trust/kestrel/internal/bus"
	"github.com/opensource-trust/kestrel/internal/cache"
	"github.com/opensource-trust/kestrel/internal/domain"
	"github.com/opensource-trust/kestrel/internal/repository"
	"github.com/opensource-trust/kestrel/internal/rules"
	"github.com/opensource-trust/kestrel/internal/scoring"
	"github.com/opensource-trust/kestrel/internal/telemetry"
	"github.com/opensource-trust/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// Model override (3-layer or 5-component)
	if model := os.Getenv("KESTREL_SCORE_MODEL"); model != "" {
		cfg.ScoreModel = model
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"model", cfg.ScoreModel,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Telemetry Store (reads the marketplace event tables)
	store, err := telemetry.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize telemetry store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("telemetry store initialized")

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize score calculator for the configured model
	aggregator := scoring.NewAggregator(store, repo)
	calculator, err := scoring.NewCalculator(cfg.ScoreModel, aggregator)
	if err != nil {
		slog.Error("failed to initialize calculator", "error", err)
		os.Exit(1)
	}
	slog.Info("score calculator initialized", "model", calculator.ModelVersion())

	// Initialize async Worker
	asyncWorker := worker.NewWorker(busImpl, repo, store, cacheImpl, calculator, engine)

	tenantIDs := []string{}
	if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
		for _, t := range strings.Split(envTenants, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tenantIDs = append(tenantIDs, t)
			}
		}
	}

	workerCfg := worker.Config{
		TenantIDs: tenantIDs,
		CacheTTL:  cfg.Cache.LocalTTL,
	}
	if err := asyncWorker.Start(workerCfg); err != nil {
		slog.Error("failed to start async worker", "error", err)
	}

	// Initialize Server with the shared scoring pipeline
	pipeline := worker.NewPipeline(busImpl, repo, store, cacheImpl, calculator, engine)
	srv := api.NewServer(cfg.Server, repo, cacheImpl, engine, pipeline, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// loadRules seeds the engine with the built-in rules, then overlays any
// admin-authored rules from the database.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
		return err
	}

	dbRules, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Builtins only - custom rules can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║   Marketplace Trust & Enforcement Engine  ║")
	fmt.Println("  ║        Watching every interaction.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Model:    %s\n", cfg.ScoreModel)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/scores/{userID}     - Compute a trust score")
	fmt.Println("    GET  /v1/scores/{userID}     - Get latest score")
	fmt.Println("    POST /v1/triggers/evaluate   - Evaluate an enforcement trigger")
	fmt.Println("    GET  /v1/decisions/{id}      - Get decision by ID")
	fmt.Println("    GET  /v1/actions/{userID}    - List enforcement actions")
	fmt.Println("    GET  /v1/rules               - List all rules")
	fmt.Println("    POST /v1/rules               - Create a new rule")
	fmt.Println("    POST /v1/rules/reload        - Hot-reload rules from database")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
