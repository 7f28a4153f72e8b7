// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package models

import "time"

// Histogram band indexes, highest band first. Bands are half-open on the
// upper edge: [4.5, 5], [4.0, 4.5), [3.5, 4.0), [3.0, 3.5), [2.5, 3.0), [0, 2.5).
const (
	BandGte45 = iota
	Band40To45
	Band35To40
	Band30To35
	Band25To30
	BandLt25
	NumBands
)

// BandLabels are the stable names for each histogram band.
var BandLabels = [NumBands]string{
	"gte_4_5",
	"4_0_4_5",
	"3_5_4_0",
	"3_0_3_5",
	"2_5_3_0",
	"lt_2_5",
}

// Histogram holds per-band rating counts.
type Histogram [NumBands]int

// BandFor returns the band index for a rating.
func BandFor(rating float64) int {
	switch {
	case rating >= 4.5:
		return BandGte45
	case rating >= 4.0:
		return Band40To45
	case rating >= 3.5:
		return Band35To40
	case rating >= 3.0:
		return Band30To35
	case rating >= 2.5:
		return Band25To30
	default:
		return BandLt25
	}
}

// Total returns the sum of all band counts.
func (h Histogram) Total() int {
	total := 0
	for _, c := range h {
		total += c
	}
	return total
}

// Map returns the histogram keyed by band label.
func (h Histogram) Map() map[string]int {
	out := make(map[string]int, NumBands)
	for i, c := range h {
		out[BandLabels[i]] = c
	}
	return out
}

// CohortFilmStat is the derived per-film aggregate for one cohort.
type CohortFilmStat struct {
	CohortID int64 `json:"cohort_id"`
	FilmID   int64 `json:"film_id"`

	// Watchers is the number of distinct members with an event for the film.
	Watchers int `json:"watchers"`

	// RatedCount is the number of members with a numeric rating.
	RatedCount int `json:"rated_count"`

	// AvgRating and RatingVariance are computed over present ratings only.
	// Both are nil when RatedCount is zero.
	AvgRating      *float64 `json:"avg_rating,omitempty"`
	RatingVariance *float64 `json:"rating_variance,omitempty"`

	LikeCount     int     `json:"like_count"`
	FavoriteCount int     `json:"favorite_count"`
	LikeRate      float64 `json:"like_rate"`
	FavoriteRate  float64 `json:"favorite_rate"`

	Histogram Histogram `json:"histogram"`

	FirstRatingAt *time.Time `json:"first_rating_at,omitempty"`
	LastRatingAt  *time.Time `json:"last_rating_at,omitempty"`

	ComputedAt time.Time `json:"computed_at"`

	// Joined film fields for readers; not persisted on the stats row.
	Slug        string `json:"slug,omitempty"`
	Title       string `json:"title,omitempty"`
	ReleaseYear *int   `json:"release_year,omitempty"`
}

// Mean returns AvgRating or zero when the film has no numeric ratings.
func (s *CohortFilmStat) Mean() float64 {
	if s.AvgRating == nil {
		return 0
	}
	return *s.AvgRating
}

// StatsSnapshotInfo describes the current aggregate snapshot of a cohort.
type StatsSnapshotInfo struct {
	CohortID   int64      `json:"cohort_id"`
	Films      int        `json:"films"`
	ComputedAt *time.Time `json:"computed_at,omitempty"`

	// EventsChangedAt is the last time the cohort's events or member set
	// changed. Stale is set when that is after ComputedAt.
	EventsChangedAt *time.Time `json:"events_changed_at,omitempty"`
	Stale           bool       `json:"stale"`
}

// RankingStale reports whether a ranking snapshot computed at computedAt no
// longer reflects the current stats: stats are stale or were recomputed
// after it.
func (s *StatsSnapshotInfo) RankingStale(computedAt time.Time) bool {
	return s.Stale || s.ComputedAt == nil || s.ComputedAt.After(computedAt)
}
