// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package sync

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/source"
)

// FeedStore is the persistence the feed updater needs.
type FeedStore interface {
	ListMembers(ctx context.Context, cohortID int64) ([]models.CohortMember, error)
	ApplyFeedRatings(ctx context.Context, accountID int64, entries []models.ActivityEntry) (int, error)
}

// FeedResult summarizes one feed pass over a cohort.
type FeedResult struct {
	Members int `json:"members"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// FeedUpdater applies members' RSS feeds to the event store. It only ever
// adds or changes ratings; like and favorite flags are left as stored.
type FeedUpdater struct {
	src         source.Source
	store       FeedStore
	concurrency int
}

// NewFeedUpdater creates a feed updater polling up to concurrency members
// at once.
func NewFeedUpdater(src source.Source, store FeedStore, concurrency int) *FeedUpdater {
	return &FeedUpdater{src: src, store: store, concurrency: max(concurrency, 1)}
}

// UpdateCohort polls the feed of every cohort member. A failing member is
// logged and counted; the pass continues for the others.
func (u *FeedUpdater) UpdateCohort(ctx context.Context, cohortID int64) (*FeedResult, error) {
	members, err := u.store.ListMembers(ctx, cohortID)
	if err != nil {
		return nil, fmt.Errorf("feed update cohort %d: %w", cohortID, err)
	}

	var (
		mu  sync.Mutex
		res = &FeedResult{Members: len(members)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for _, m := range members {
		g.Go(func() error {
			n, err := u.updateMember(gctx, m)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				metrics.FeedUpdates.WithLabelValues("error").Inc()
				logging.Ctx(gctx).Warn().Err(err).Str("member", m.Username).Msg("Feed update failed")
				return nil
			}
			res.Updated += n
			metrics.FeedUpdates.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	logging.Ctx(ctx).Info().
		Int64("cohort_id", cohortID).
		Int("members", res.Members).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Msg("Feed update finished")
	return res, nil
}

func (u *FeedUpdater) updateMember(ctx context.Context, m models.CohortMember) (int, error) {
	entries, err := u.src.FetchFeed(ctx, m.Username)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return u.store.ApplyFeedRatings(ctx, m.AccountID, entries)
}
