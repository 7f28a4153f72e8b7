// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package main is the entry point for the cinecohort server.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, optional YAML file, environment)
//  2. Logging
//  3. DuckDB event store
//  4. Source adapter over the rate-limited fetcher
//  5. Membership crawler, sync engine, run coordinator, RSS updater
//  6. Stats, ranking and insight engines behind the recompute service
//  7. Command bus (memory or NATS) and its handler
//  8. Scheduler and enrichment worker
//  9. HTTP API
//
// Everything long-lived runs under the supervisor tree. SIGINT or SIGTERM
// cancels the tree: the HTTP server drains, active sync runs stop at their
// next page boundary and are recorded as cancelled, and the database closes
// last.
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

	"github.com/tomtom215/cinecohort/internal/api"
	"github.com/tomtom215/cinecohort/internal/cache"
	"github.com/tomtom215/cinecohort/internal/commands"
	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/enrichment"
	"github.com/tomtom215/cinecohort/internal/fetch"
	"github.com/tomtom215/cinecohort/internal/insights"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/membership"
	"github.com/tomtom215/cinecohort/internal/ranking"
	"github.com/tomtom215/cinecohort/internal/recompute"
	"github.com/tomtom215/cinecohort/internal/scheduler"
	"github.com/tomtom215/cinecohort/internal/source"
	"github.com/tomtom215/cinecohort/internal/stats"
	"github.com/tomtom215/cinecohort/internal/supervisor"
	"github.com/tomtom215/cinecohort/internal/supervisor/services"
	syncer "github.com/tomtom215/cinecohort/internal/sync"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
	logging.Info().Msg("Application stopped gracefully")
}

//nolint:gocyclo // sequential wiring
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("source", cfg.Source.BaseURL).
		Str("messaging", cfg.Messaging.Backend).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Bool("enrichment", cfg.Enrichment.Enabled).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Source platform.
	fetcher := fetch.NewRateLimitedFetcher(cfg.Fetcher, cfg.Source.UserAgent)
	src := source.NewHTTP(fetcher, cfg.Source)

	// Membership and sync.
	crawler := membership.NewCrawler(src, membership.WithFanout(cfg.Sync.IncrementalConcurrency))
	refresher := membership.NewRefresher(db, crawler)
	engine := syncer.NewEngine(src, db, cfg.Sync.PageLimit)
	coordinator := syncer.NewCoordinator(db, engine, cfg.Sync)
	feeds := syncer.NewFeedUpdater(src, db, cfg.Sync.IncrementalConcurrency)

	// Derived data.
	insightEngine := insights.NewEngine(db)
	recomputer := recompute.NewService(stats.NewAggregator(db), ranking.NewEngine(db, cfg.Ranking), insightEngine)

	readCache := cache.New(cfg.Server.ReadCacheTTL)
	defer readCache.Close()

	// The API handler is built before the bus so the bus can invalidate its
	// read cache; the bus is attached through the late-bound publisher.
	publisher := &lateBus{}
	handler := api.NewHandler(api.Deps{
		Store:       db,
		Sync:        coordinator,
		Membership:  refresher,
		Recompute:   recomputer,
		Insights:    insightEngine,
		Bus:         publisher,
		Cohort:      cfg.Cohort,
		Cache:       readCache,
		ReadyChecks: map[string]func(context.Context) error{"commands": publisher.Ready},
	})

	cmdHandler := commands.NewHandler(coordinator, refresher, recomputer, handler.InvalidateCohort)
	bus, err := commands.New(cfg.Messaging, cmdHandler, commands.DefaultRouterOptions())
	if err != nil {
		return fmt.Errorf("create command bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing command bus")
		}
	}()
	publisher.bus = bus

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddSyncService(services.NewCoordinatorService(coordinator))
	if cfg.Enrichment.Enabled {
		client, err := enrichment.NewClient(fetcher, cfg.Enrichment)
		if err != nil {
			return fmt.Errorf("create enrichment client: %w", err)
		}
		defer client.Close()
		worker := enrichment.NewWorker(client, db, cfg.Enrichment.BatchSize, cfg.Enrichment.Interval)
		tree.AddSyncService(services.NewRunnerService("enrichment-worker", worker))
	}

	tree.AddMessagingService(services.NewRunnerService("command-bus", bus))
	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		if err := sched.Register(cfg.Scheduler, cfg.RSS, db, bus, feeds); err != nil {
			return fmt.Errorf("register schedules: %w", err)
		}
		tree.AddMessagingService(services.NewRunnerService("scheduler", sched))
	}

	mw := api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Server.RateLimit,
		RateLimitWindow:    time.Minute,
		CommandRateLimit:   max(cfg.Server.RateLimit/10, 1),
	})
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, mw).Routes(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
	return nil
}

// lateBus forwards to the command bus once it exists.
type lateBus struct {
	bus *commands.Bus
}

func (l *lateBus) Publish(ctx context.Context, cmd commands.Command) (string, error) {
	if l.bus == nil {
		return "", commands.ErrBusClosed
	}
	return l.bus.Publish(ctx, cmd)
}

func (l *lateBus) Ready(ctx context.Context) error {
	if l.bus == nil {
		return commands.ErrBusClosed
	}
	return l.bus.Ready(ctx)
}
