// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package membership

import (
	"context"
	"fmt"

	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
	"github.com/tomtom215/cinecohort/internal/models"
)

// Store is the persistence the refresher needs.
type Store interface {
	GetCohort(ctx context.Context, id int64) (*models.Cohort, error)
	ApplyMembership(ctx context.Context, cohortID int64, target []models.DiscoveredMember) (*models.MembershipDiff, error)
}

// Refresher recomputes and reconciles cohort membership.
type Refresher struct {
	store   Store
	crawler *Crawler
}

// NewRefresher creates a Refresher.
func NewRefresher(store Store, crawler *Crawler) *Refresher {
	return &Refresher{store: store, crawler: crawler}
}

// Refresh crawls the cohort's follow graph and applies the result as a
// diff. It is idempotent: a second refresh over an unchanged graph reports
// no additions or removals.
func (r *Refresher) Refresh(ctx context.Context, cohortID int64) (*models.MembershipDiff, error) {
	cohort, err := r.store.GetCohort(ctx, cohortID)
	if err != nil {
		metrics.MembershipRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("refresh cohort %d: %w", cohortID, err)
	}

	seed := models.AccountRef{Username: cohort.SeedUsername}
	target, err := r.crawler.Crawl(ctx, seed, cohort.Depth, cohort.IncludeSeed)
	if err != nil {
		metrics.MembershipRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("refresh cohort %d: %w", cohortID, err)
	}

	diff, err := r.store.ApplyMembership(ctx, cohortID, target)
	if err != nil {
		metrics.MembershipRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("refresh cohort %d: %w", cohortID, err)
	}

	metrics.MembershipRefreshes.WithLabelValues("ok").Inc()
	metrics.MembershipChanges.WithLabelValues("added").Add(float64(len(diff.Added)))
	metrics.MembershipChanges.WithLabelValues("removed").Add(float64(len(diff.Removed)))
	logging.Ctx(ctx).Info().
		Int64("cohort_id", cohortID).
		Int("members", len(target)).
		Strs("added", diff.Added).
		Strs("removed", diff.Removed).
		Int("retained", diff.Retained).
		Msg("Cohort membership refreshed")
	return diff, nil
}
