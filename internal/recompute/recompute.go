// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package recompute serializes derived-data passes per cohort.
//
// Stats, rankings and insights for one cohort are recomputed by at most one
// caller at a time. A second caller does not queue: it gets
// ErrRecomputeInProgress and can retry later. Different cohorts proceed in
// parallel.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/cinecohort/internal/insights"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/ranking"
	"github.com/tomtom215/cinecohort/internal/stats"
)

// ErrRecomputeInProgress is returned when the cohort is already being
// recomputed.
var ErrRecomputeInProgress = errors.New("recompute already in progress")

// Summary reports a full recompute pass.
type Summary struct {
	CohortID     int64                     `json:"cohort_id"`
	Stats        *models.StatsSnapshotInfo `json:"stats"`
	Rankings     map[string]int            `json:"rankings"`
	TimeframeKey string                    `json:"timeframe_key"`
	Insights     int                       `json:"insights"`
	Duration     time.Duration             `json:"duration"`
}

// Service runs recompute passes.
type Service struct {
	stats    *stats.Aggregator
	rankings *ranking.Engine
	insights *insights.Engine

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService creates a recompute service over the three derivation engines.
func NewService(agg *stats.Aggregator, rank *ranking.Engine, ins *insights.Engine) *Service {
	return &Service{stats: agg, rankings: rank, insights: ins, locks: make(map[int64]*sync.Mutex)}
}

func (s *Service) acquire(cohortID int64) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[cohortID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[cohortID] = l
	}
	s.mu.Unlock()

	if !l.TryLock() {
		return nil, fmt.Errorf("cohort %d: %w", cohortID, ErrRecomputeInProgress)
	}
	return l.Unlock, nil
}

func observe(step string, started time.Time, err error) {
	metrics.RecordRecompute(step, time.Since(started), err)
}

// Stats recomputes the cohort's stats snapshot.
func (s *Service) Stats(ctx context.Context, cohortID int64) (*models.StatsSnapshotInfo, error) {
	release, err := s.acquire(cohortID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.runStats(ctx, cohortID)
}

func (s *Service) runStats(ctx context.Context, cohortID int64) (*models.StatsSnapshotInfo, error) {
	started := time.Now()
	info, err := s.stats.Recompute(ctx, cohortID)
	observe("stats", started, err)
	return info, err
}

// Rankings recomputes one strategy snapshot from the current stats.
func (s *Service) Rankings(ctx context.Context, cohortID int64, strategy string) ([]models.RankingResult, error) {
	release, err := s.acquire(cohortID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.runRankings(ctx, cohortID, strategy)
}

func (s *Service) runRankings(ctx context.Context, cohortID int64, strategy string) ([]models.RankingResult, error) {
	started := time.Now()
	results, err := s.rankings.Compute(ctx, cohortID, strategy)
	observe("rankings", started, err)
	return results, err
}

// Insights computes one insight slice, persisting it when asked.
func (s *Service) Insights(ctx context.Context, cohortID int64, strategy string, filters models.InsightFilters, persist bool) (*models.InsightSlice, error) {
	release, err := s.acquire(cohortID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.runInsights(ctx, cohortID, strategy, filters, persist)
}

func (s *Service) runInsights(ctx context.Context, cohortID int64, strategy string, filters models.InsightFilters, persist bool) (*models.InsightSlice, error) {
	started := time.Now()
	slice, err := s.insights.Compute(ctx, cohortID, strategy, filters, persist)
	observe("insights", started, err)
	return slice, err
}

// All recomputes stats, every ranking strategy and the default (unfiltered)
// Bayesian insight slice, in that order. The first failing step aborts the
// pass; snapshots written by earlier steps stay in place.
func (s *Service) All(ctx context.Context, cohortID int64) (*Summary, error) {
	release, err := s.acquire(cohortID)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	sum := &Summary{CohortID: cohortID, Rankings: make(map[string]int)}
	if sum.Stats, err = s.runStats(ctx, cohortID); err != nil {
		return nil, err
	}
	for _, name := range ranking.Names() {
		results, err := s.runRankings(ctx, cohortID, name)
		if err != nil {
			return nil, err
		}
		sum.Rankings[name] = len(results)
	}
	slice, err := s.runInsights(ctx, cohortID, models.StrategyBayesian, models.InsightFilters{}, true)
	if err != nil {
		return nil, err
	}
	sum.TimeframeKey = slice.TimeframeKey
	sum.Insights = len(slice.Insights)
	sum.Duration = time.Since(started)

	logging.Ctx(ctx).Info().
		Int64("cohort_id", cohortID).
		Int("films", sum.Stats.Films).
		Int("insights", sum.Insights).
		Dur("duration", sum.Duration).
		Msg("Cohort recompute finished")
	return sum, nil
}
