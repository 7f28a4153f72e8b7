// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/models"
)

// Store is the persistence the aggregator needs.
type Store interface {
	GetCohort(ctx context.Context, id int64) (*models.Cohort, error)
	ListCohortEvents(ctx context.Context, cohortID int64) ([]models.RatingEvent, error)
	ReplaceCohortStats(ctx context.Context, cohortID int64, rows []models.CohortFilmStat) error
}

// Aggregator recomputes cohort stat snapshots.
type Aggregator struct {
	store Store
	now   func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Recompute replaces the cohort's stats snapshot with one derived from the
// current members' events.
func (a *Aggregator) Recompute(ctx context.Context, cohortID int64) (*models.StatsSnapshotInfo, error) {
	if _, err := a.store.GetCohort(ctx, cohortID); err != nil {
		return nil, err
	}

	started := time.Now()
	events, err := a.store.ListCohortEvents(ctx, cohortID)
	if err != nil {
		return nil, fmt.Errorf("load cohort %d events: %w", cohortID, err)
	}

	// Stored timestamps keep microseconds.
	computedAt := a.now().Truncate(time.Microsecond)
	rows := Aggregate(cohortID, events, computedAt)
	if err := a.store.ReplaceCohortStats(ctx, cohortID, rows); err != nil {
		return nil, fmt.Errorf("replace cohort %d stats: %w", cohortID, err)
	}

	logging.Ctx(ctx).Info().
		Int64("cohort_id", cohortID).
		Int("events", len(events)).
		Int("films", len(rows)).
		Dur("duration", time.Since(started)).
		Msg("Cohort stats recomputed")
	return &models.StatsSnapshotInfo{CohortID: cohortID, Films: len(rows), ComputedAt: &computedAt}, nil
}
