// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/models"
)

// Store is the persistence the ranking engine needs.
type Store interface {
	ListCohortStats(ctx context.Context, cohortID int64, q database.StatsQuery) ([]models.CohortFilmStat, error)
	ReplaceRankings(ctx context.Context, cohortID int64, strategy string, results []models.RankingResult) error
}

// Engine computes and stores strategy snapshots.
type Engine struct {
	store Store
	cfg   config.RankingConfig
	now   func() time.Time
}

// NewEngine creates a ranking engine.
func NewEngine(store Store, cfg config.RankingConfig) *Engine {
	return &Engine{store: store, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Compute ranks the cohort's current stats snapshot under strategy and
// replaces that strategy's stored snapshot in one transaction.
func (e *Engine) Compute(ctx context.Context, cohortID int64, strategy string) ([]models.RankingResult, error) {
	st, err := New(strategy, e.cfg)
	if err != nil {
		return nil, err
	}

	rows, err := e.store.ListCohortStats(ctx, cohortID, database.StatsQuery{})
	if err != nil {
		return nil, fmt.Errorf("load cohort %d stats: %w", cohortID, err)
	}

	results := Rank(st, rows)
	computedAt := e.now().Truncate(time.Microsecond)
	for i := range results {
		results[i].ComputedAt = computedAt
	}
	if err := e.store.ReplaceRankings(ctx, cohortID, st.Name(), results); err != nil {
		return nil, fmt.Errorf("store %s rankings for cohort %d: %w", st.Name(), cohortID, err)
	}

	logging.Ctx(ctx).Info().
		Int64("cohort_id", cohortID).
		Str("strategy", st.Name()).
		Int("films", len(results)).
		Msg("Rankings computed")
	return results, nil
}
