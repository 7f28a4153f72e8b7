// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package insights scopes a cohort's stats to a timeframe and labels each
// film by where it sits in that population.
//
// A computation resolves the filters against a clock, hashes them into a
// timeframe key and derives percentiles, z-scores, bucket and cluster
// labels. Persisted slices are stored under the key; a later request for
// the same key is served from storage until the stats snapshot is
// recomputed, at which point the stored slice is reported stale.
package insights

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/ranking"
)

// Store is the persistence the insight engine needs.
type Store interface {
	ListCohortStats(ctx context.Context, cohortID int64, q database.StatsQuery) ([]models.CohortFilmStat, error)
	StatsSnapshot(ctx context.Context, cohortID int64) (*models.StatsSnapshotInfo, error)
	ReplaceInsights(ctx context.Context, slice *models.InsightSlice) error
	LoadInsights(ctx context.Context, cohortID int64, strategy, timeframeKey string) (*models.InsightSlice, error)
}

// Engine computes, stores and serves insight slices.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates an insight engine.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func checkStrategy(strategy string) error {
	if !slices.Contains(ranking.Names(), strategy) {
		return fmt.Errorf("%q: %w", strategy, ranking.ErrUnknownStrategy)
	}
	return nil
}

// Compute derives a fresh slice for filters. With persist it replaces any
// slice stored under the same timeframe key.
func (e *Engine) Compute(ctx context.Context, cohortID int64, strategy string, filters models.InsightFilters, persist bool) (*models.InsightSlice, error) {
	if err := checkStrategy(strategy); err != nil {
		return nil, err
	}
	now := e.now()
	resolved, err := Resolve(filters, now)
	if err != nil {
		return nil, err
	}

	rows, err := e.store.ListCohortStats(ctx, cohortID, database.StatsQuery{})
	if err != nil {
		return nil, fmt.Errorf("load cohort %d stats: %w", cohortID, err)
	}

	key := TimeframeKey(resolved)
	computedAt := now.Truncate(time.Microsecond)
	slice := &models.InsightSlice{
		CohortID:     cohortID,
		Strategy:     strategy,
		TimeframeKey: key,
		Filters:      resolved,
		Source:       models.InsightSourceComputed,
		ComputedAt:   computedAt,
		Insights:     Derive(rows, resolved),
	}
	for i := range slice.Insights {
		in := &slice.Insights[i]
		in.Strategy = strategy
		in.TimeframeKey = key
		in.ComputedAt = computedAt
	}

	if persist {
		if err := e.store.ReplaceInsights(ctx, slice); err != nil {
			return nil, fmt.Errorf("store insights %s: %w", key, err)
		}
	}
	logging.Ctx(ctx).Debug().
		Int64("cohort_id", cohortID).
		Str("strategy", strategy).
		Str("timeframe_key", key).
		Int("films", len(slice.Insights)).
		Bool("persisted", persist).
		Msg("Insights computed")
	return slice, nil
}

// Load returns the slice stored under key, flagged stale when the stats
// snapshot was recomputed after it or is itself stale. A missing slice is database.ErrNotFound.
func (e *Engine) Load(ctx context.Context, cohortID int64, strategy, key string) (*models.InsightSlice, error) {
	if err := checkStrategy(strategy); err != nil {
		return nil, err
	}
	slice, err := e.store.LoadInsights(ctx, cohortID, strategy, key)
	if err != nil {
		return nil, err
	}
	info, err := e.store.StatsSnapshot(ctx, cohortID)
	if err != nil {
		return nil, fmt.Errorf("read stats snapshot: %w", err)
	}
	slice.Stale = info.Stale || info.ComputedAt == nil || info.ComputedAt.After(slice.ComputedAt)
	return slice, nil
}

// Get serves filters from storage when a fresh slice exists for their key
// and computes them otherwise, without persisting.
func (e *Engine) Get(ctx context.Context, cohortID int64, strategy string, filters models.InsightFilters) (*models.InsightSlice, error) {
	if err := checkStrategy(strategy); err != nil {
		return nil, err
	}
	resolved, err := Resolve(filters, e.now())
	if err != nil {
		return nil, err
	}
	stored, err := e.Load(ctx, cohortID, strategy, TimeframeKey(resolved))
	switch {
	case err == nil && !stored.Stale:
		metrics.InsightCacheLookups.WithLabelValues("hit").Inc()
		return stored, nil
	case err == nil:
		metrics.InsightCacheLookups.WithLabelValues("stale").Inc()
	case errors.Is(err, database.ErrNotFound):
		metrics.InsightCacheLookups.WithLabelValues("miss").Inc()
	default:
		return nil, err
	}
	return e.Compute(ctx, cohortID, strategy, filters, false)
}
