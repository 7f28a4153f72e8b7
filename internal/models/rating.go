// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package models

import (
	"math"
	"time"
)

// RatingEvent is the canonical fact table row, unique on (AccountID, FilmID).
//
// Rating is nil for an unrated entry that is only liked or logged. All
// aggregates are derived from these rows and never hand-edited.
type RatingEvent struct {
	AccountID  int64     `json:"account_id"`
	FilmID     int64     `json:"film_id"`
	Rating     *float64  `json:"rating,omitempty"`
	Liked      bool      `json:"liked"`
	Favorite   bool      `json:"favorite"`
	ObservedAt time.Time `json:"observed_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ActivityEntry is one item from a member's activity listing on the source
// platform, before the film slug has been resolved to a stored Film.
type ActivityEntry struct {
	FilmSlug   string    `json:"film_slug"`
	FilmTitle  string    `json:"film_title"`
	Rating     *float64  `json:"rating,omitempty"`
	Liked      bool      `json:"liked"`
	Favorite   bool      `json:"favorite"`
	ObservedAt time.Time `json:"observed_at"`
}

// SameFacts reports whether two events carry an identical
// (rating, liked, favorite) tuple. Timestamps are not compared.
func (e *RatingEvent) SameFacts(rating *float64, liked, favorite bool) bool {
	if e.Liked != liked || e.Favorite != favorite {
		return false
	}
	return RatingsEqual(e.Rating, rating)
}

// RatingsEqual compares two optional ratings. Two absent ratings are equal.
// Ratings are half-star values, so a small epsilon is enough.
func RatingsEqual(a, b *float64) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return math.Abs(*a-*b) < 1e-9
	}
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
