// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package models

import "time"

// Insight result sources.
const (
	InsightSourceComputed = "computed"
	InsightSourceStored   = "stored"
)

// InsightFilters scope a bucket insight computation.
//
// RecentYears is a rolling window; it is resolved into WatchedSince against
// an evaluation clock before the filters are hashed into a timeframe key.
type InsightFilters struct {
	ReleaseStart *int       `json:"release_start,omitempty" validate:"omitempty,min=1870,max=2200"`
	ReleaseEnd   *int       `json:"release_end,omitempty" validate:"omitempty,min=1870,max=2200"`
	WatchedYear  *int       `json:"watched_year,omitempty" validate:"omitempty,min=1990,max=2200"`
	WatchedSince *time.Time `json:"watched_since,omitempty"`
	WatchedUntil *time.Time `json:"watched_until,omitempty"`
	RecentYears  *int       `json:"recent_years,omitempty" validate:"omitempty,min=1,max=100"`
}

// RankingInsight is one film's row within a scoped insight slice.
type RankingInsight struct {
	CohortID     int64          `json:"cohort_id"`
	Strategy     string         `json:"strategy"`
	FilmID       int64          `json:"film_id"`
	TimeframeKey string         `json:"timeframe_key"`
	Filters      InsightFilters `json:"filters"`

	Watchers  int     `json:"watchers"`
	AvgRating float64 `json:"avg_rating"`

	WatchersPercentile float64 `json:"watchers_percentile"`
	RatingPercentile   float64 `json:"rating_percentile"`
	WatchersZScore     float64 `json:"watchers_zscore"`
	RatingZScore       float64 `json:"rating_zscore"`

	Bucket  string `json:"bucket"`
	Cluster string `json:"cluster"`

	ComputedAt time.Time `json:"computed_at"`

	Slug  string `json:"slug,omitempty"`
	Title string `json:"title,omitempty"`
}

// InsightSlice is a full scoped computation, either freshly computed or
// loaded from the stored rows for its timeframe key.
type InsightSlice struct {
	CohortID     int64            `json:"cohort_id"`
	Strategy     string           `json:"strategy"`
	TimeframeKey string           `json:"timeframe_key"`
	Filters      InsightFilters   `json:"filters"`
	Source       string           `json:"source"`
	ComputedAt   time.Time        `json:"computed_at"`
	Stale        bool             `json:"stale"` // stored slice older than the stats snapshot
	Insights     []RankingInsight `json:"insights"`
}
