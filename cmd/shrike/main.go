// Shrike - Real-time transaction fraud scoring.
// Copyright (c) 2026 opensource.finance
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

	"github.com/opensource-finance/shrike/internal/api"
	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/ensemble"
	"github.com/opensource-finance/shrike/internal/feature"
	"github.com/opensource-finance/shrike/internal/policy"
	"github.com/opensource-finance/shrike/internal/profile"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/scoring"
	"github.com/opensource-finance/shrike/internal/velocity"
	"github.com/opensource-finance/shrike/internal/worker"
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
	if os.Getenv("SHRIKE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting shrike",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("SHRIKE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if dir := os.Getenv("SHRIKE_MODELS_DIR"); dir != "" {
		cfg.Models.Dir = dir
	}
	if version := os.Getenv("SHRIKE_MODEL_VERSION"); version != "" {
		cfg.Models.Version = version
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"models_dir", cfg.Models.Dir,
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

	// Initialize Velocity Service
	velocitySvc, err := velocity.NewService(repo, cacheImpl, 30*time.Second)
	if err != nil {
		slog.Error("failed to initialize velocity service", "error", err)
		os.Exit(1)
	}
	slog.Info("velocity service initialized")

	// Initialize Profile Store and Feature Extractor
	profiles := profile.NewStore(cfg.Features.ProfileShards)
	extractor, err := feature.NewExtractor(cfg.Features, velocitySvc, velocitySvc)
	if err != nil {
		slog.Error("failed to initialize feature extractor", "error", err)
		os.Exit(1)
	}
	slog.Info("feature extractor initialized", "dim", feature.Dim)

	// Initialize Classifier Ensemble
	ens, err := ensemble.New(cfg.Ensemble)
	if err != nil {
		slog.Error("failed to initialize ensemble", "error", err)
		os.Exit(1)
	}

	// Load the configured model bundle, if any. Without a bundle the
	// server starts but /predict returns 503 until POST /models/reload.
	if cfg.Models.Version != "" {
		bundle, err := ensemble.LoadBundle(cfg.Models.Dir, cfg.Models.Version, cfg.Ensemble)
		if err != nil {
			slog.Error("failed to load model bundle",
				"dir", cfg.Models.Dir,
				"version", cfg.Models.Version,
				"error", err,
			)
			os.Exit(1)
		}
		if err := ens.Install(bundle); err != nil {
			slog.Error("failed to install model bundle", "error", err)
			os.Exit(1)
		}
		slog.Info("model bundle loaded", "version", cfg.Models.Version)
	} else {
		slog.Warn("no model bundle configured - train with shrike-train, then POST /models/reload")
	}

	// Initialize Risk Classifier
	risk, err := scoring.NewRiskClassifier(cfg.Risk)
	if err != nil {
		slog.Error("failed to initialize risk classifier", "error", err)
		os.Exit(1)
	}

	// Initialize Policy Engine
	policyEngine, err := policy.NewEngine()
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	// Load policies from database (no hardcoded defaults - configure via API)
	if err := loadPoliciesFromDatabase(ctx, repo, policyEngine); err != nil {
		slog.Error("failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("policy engine initialized", "policies_count", policyEngine.PoliciesCount())

	// Initialize Scorer
	scorer, err := scoring.NewScorer(scoring.Config{
		Extractor:  extractor,
		Ensemble:   ens,
		Risk:       risk,
		Policies:   policyEngine,
		Profiles:   profiles,
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("failed to initialize scorer", "error", err)
		os.Exit(1)
	}
	slog.Info("scorer initialized", "engine_version", scoring.EngineVersion)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("SHRIKE_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, scorer)

		var tenantIDs []string
		if envTenants := os.Getenv("SHRIKE_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Scorer:     scorer,
		Ensemble:   ens,
		Policies:   policyEngine,
		Models:     cfg.Models,
		Version:    Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("shrike is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("shrike shutdown complete")
}

// loadPoliciesFromDatabase loads policies from the database into the engine.
// All policies must be configured via POST /policies API - no hardcoded defaults.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, engine *policy.Engine) error {
	dbPolicies, err := repo.ListPolicies(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list policies from database", "error", err)
		return nil // Start with empty policies - they can be added via API
	}

	if len(dbPolicies) > 0 {
		slog.Info("loading policies from database", "count", len(dbPolicies))
		return engine.LoadPolicies(dbPolicies)
	}

	slog.Info("no policies in database - configure via POST /policies API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 SHRIKE                   ║")
	fmt.Println("  ║      Transaction Fraud Scoring Engine     ║")
	fmt.Println("  ║       Every transaction, scored.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict           - Score a transaction")
	fmt.Println("    POST /predict/batch     - Score a batch of transactions")
	fmt.Println("    GET  /predictions/{id}  - Get prediction by ID")
	fmt.Println("    GET  /models/info       - Ensemble and bundle status")
	fmt.Println("    POST /models/reload     - Load a persisted bundle version")
	fmt.Println("    GET  /features          - Feature vector layout")
	fmt.Println("    GET  /policies          - List all policies")
	fmt.Println("    POST /policies          - Create a new policy")
	fmt.Println("    DELETE /policies/{id}   - Delete a policy")
	fmt.Println("    POST /policies/reload   - Hot-reload policies from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /ready             - Readiness (model bundle loaded)")
	fmt.Println()
}
