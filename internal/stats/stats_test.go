// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package stats

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregate_AbsentRatingsExcludedFromMean(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []models.RatingEvent{
		{AccountID: 1, FilmID: 10, Rating: models.Float64Ptr(4.0), Favorite: true, ObservedAt: day},
		{AccountID: 2, FilmID: 10, Rating: models.Float64Ptr(2.0), ObservedAt: day.AddDate(0, 0, 2)},
		{AccountID: 3, FilmID: 10, Liked: true, ObservedAt: day.AddDate(0, 0, 1)},
		{AccountID: 1, FilmID: 11, Liked: true},
	}

	rows := Aggregate(7, events, day)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	s := rows[0]
	if s.FilmID != 10 || s.CohortID != 7 {
		t.Fatalf("first row = film %d cohort %d", s.FilmID, s.CohortID)
	}
	if s.Watchers != 3 || s.RatedCount != 2 {
		t.Errorf("watchers/rated = %d/%d, want 3/2", s.Watchers, s.RatedCount)
	}
	if s.AvgRating == nil || !approx(*s.AvgRating, 3.0) {
		t.Errorf("AvgRating = %v, want 3.0", s.AvgRating)
	}
	if s.RatingVariance == nil || !approx(*s.RatingVariance, 1.0) {
		t.Errorf("RatingVariance = %v, want 1.0", s.RatingVariance)
	}
	if !approx(s.LikeRate, 1.0/3) || !approx(s.FavoriteRate, 1.0/3) {
		t.Errorf("rates = %v/%v, want 1/3 each", s.LikeRate, s.FavoriteRate)
	}
	if s.Histogram[models.Band40To45] != 1 || s.Histogram[models.BandLt25] != 1 || s.Histogram.Total() != 2 {
		t.Errorf("histogram = %v", s.Histogram)
	}
	if !s.FirstRatingAt.Equal(day) || !s.LastRatingAt.Equal(day.AddDate(0, 0, 2)) {
		t.Errorf("rating window = %v..%v", s.FirstRatingAt, s.LastRatingAt)
	}

	likeOnly := rows[1]
	if likeOnly.AvgRating != nil || likeOnly.RatingVariance != nil || likeOnly.Watchers != 1 {
		t.Errorf("like-only row = %+v, want no mean and one watcher", likeOnly)
	}
}

func TestBandFor_Edges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rating float64
		want   int
	}{
		{5.0, models.BandGte45},
		{4.5, models.BandGte45},
		{4.0, models.Band40To45},
		{3.5, models.Band35To40},
		{3.0, models.Band30To35},
		{2.5, models.Band25To30},
		{2.0, models.BandLt25},
		{0.5, models.BandLt25},
	}
	for _, tt := range tests {
		if got := models.BandFor(tt.rating); got != tt.want {
			t.Errorf("BandFor(%v) = %s, want %s", tt.rating, models.BandLabels[got], models.BandLabels[tt.want])
		}
	}
}

func TestClassifyDistribution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		hist      models.Histogram
		wantLabel string
		wantBonus func(float64) bool
	}{
		{"strong left", models.Histogram{55, 15, 15, 10, 3, 2}, DistributionStrongLeft, func(b float64) bool { return b > 0.2 }},
		{"right", models.Histogram{5, 7, 10, 18, 20, 20}, DistributionRight, func(b float64) bool { return b < 0 }},
		{"bimodal", models.Histogram{40, 15, 10, 5, 30, 20}, DistributionBimodal, func(b float64) bool { return b >= 0 }},
		{"balanced", models.Histogram{2, 3, 10, 10, 3, 2}, DistributionBalanced, func(b float64) bool { return b == 0 }},
		{"unknown", models.Histogram{}, DistributionUnknown, func(b float64) bool { return b == 0 }},
		{"strong right", models.Histogram{0, 1, 1, 2, 6, 10}, DistributionStrongRight, func(b float64) bool { return b < -0.2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			label, bonus := ClassifyDistribution(tt.hist)
			if label != tt.wantLabel {
				t.Errorf("label = %s, want %s", label, tt.wantLabel)
			}
			if !tt.wantBonus(bonus) {
				t.Errorf("bonus = %v out of range for %s", bonus, label)
			}
		})
	}
}

func TestConsensusStrength(t *testing.T) {
	t.Parallel()

	if got := ConsensusStrength(models.Histogram{3, 1, 0, 0, 0, 0}); !approx(got, 1) {
		t.Errorf("all high = %v, want 1", got)
	}
	if got := ConsensusStrength(models.Histogram{1, 0, 2, 0, 0, 1}); !approx(got, 0) {
		t.Errorf("even tails = %v, want 0", got)
	}
	if got := ConsensusStrength(models.Histogram{}); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
}

func TestCohortMean_WeightsByRatedCount(t *testing.T) {
	t.Parallel()

	rows := []models.CohortFilmStat{
		{RatedCount: 3, AvgRating: models.Float64Ptr(4)},
		{RatedCount: 1, AvgRating: models.Float64Ptr(2)},
		{Watchers: 2},
	}
	if got := CohortMean(rows); !approx(got, 3.5) {
		t.Errorf("CohortMean() = %v, want 3.5", got)
	}
	if got := CohortMean(nil); got != 0 {
		t.Errorf("CohortMean(nil) = %v, want 0", got)
	}
}

func TestAggregator_RecomputeReplacesSnapshot(t *testing.T) {
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB", Threads: 2})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	cohort, err := db.CreateCohort(ctx, "friends", models.AccountRef{Username: "seed"}, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ApplyMembership(ctx, cohort.ID, []models.DiscoveredMember{
		{Account: models.AccountRef{Username: "seed"}},
		{Account: models.AccountRef{Username: "bob"}, Depth: 1},
	}); err != nil {
		t.Fatal(err)
	}
	seed, _ := db.GetAccountByUsername(ctx, "seed")
	bob, _ := db.GetAccountByUsername(ctx, "bob")
	for _, a := range []*models.Account{seed, bob} {
		if _, err := db.CommitPage(ctx, a.ID, []models.ActivityEntry{
			{FilmSlug: "heat", FilmTitle: "Heat", Rating: models.Float64Ptr(4.5)},
		}, &models.MemberCheckpoint{Mode: models.SyncModeFull, LastPage: 1, Status: models.CheckpointInProgress}); err != nil {
			t.Fatal(err)
		}
	}

	agg := NewAggregator(db)
	info, err := agg.Recompute(ctx, cohort.ID)
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if info.Films != 1 {
		t.Errorf("Films = %d, want 1", info.Films)
	}

	// Dropping a member and recomputing removes their contribution.
	if _, err := db.ApplyMembership(ctx, cohort.ID, []models.DiscoveredMember{{Account: models.AccountRef{Username: "seed"}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := agg.Recompute(ctx, cohort.ID); err != nil {
		t.Fatal(err)
	}
	rows, err := db.ListCohortStats(ctx, cohort.ID, database.StatsQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Watchers != 1 {
		t.Errorf("rows = %+v, want one film with one watcher", rows)
	}

	if _, err := agg.Recompute(ctx, 999); err == nil {
		t.Error("Recompute(missing) error = nil, want not found")
	}
}
