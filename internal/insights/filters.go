// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package insights

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cinecohort/internal/models"
)

// ErrInvalidFilters is returned for contradictory filter ranges.
var ErrInvalidFilters = errors.New("invalid insight filters")

// Resolve returns a copy of f with the rolling window turned into a fixed
// WatchedSince at midnight UTC, now.AddDate(-years). The result is the same
// for every call on the same evaluation date.
func Resolve(f models.InsightFilters, now time.Time) (models.InsightFilters, error) {
	out := f
	if out.RecentYears != nil {
		if *out.RecentYears <= 0 {
			return out, fmt.Errorf("recent_years %d: %w", *out.RecentYears, ErrInvalidFilters)
		}
		start := now.UTC().AddDate(-*out.RecentYears, 0, 0)
		since := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		if out.WatchedSince == nil || out.WatchedSince.Before(since) {
			out.WatchedSince = &since
		}
	}
	if out.WatchedSince != nil {
		t := out.WatchedSince.UTC()
		out.WatchedSince = &t
	}
	if out.WatchedUntil != nil {
		t := out.WatchedUntil.UTC()
		out.WatchedUntil = &t
	}

	if out.ReleaseStart != nil && out.ReleaseEnd != nil && *out.ReleaseStart > *out.ReleaseEnd {
		return out, fmt.Errorf("release range %d..%d: %w", *out.ReleaseStart, *out.ReleaseEnd, ErrInvalidFilters)
	}
	if out.WatchedSince != nil && out.WatchedUntil != nil && out.WatchedSince.After(*out.WatchedUntil) {
		return out, fmt.Errorf("watched range: %w", ErrInvalidFilters)
	}
	return out, nil
}

// keyPayload fixes field order and time encoding for hashing. RecentYears
// is left out: once resolved it is fully described by WatchedSince.
type keyPayload struct {
	ReleaseStart *int    `json:"release_start"`
	ReleaseEnd   *int    `json:"release_end"`
	WatchedYear  *int    `json:"watched_year"`
	WatchedSince *string `json:"watched_since"`
	WatchedUntil *string `json:"watched_until"`
}

func timeKey(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

// TimeframeKey hashes resolved filters into a stable hex key. Equal filters
// always produce equal keys.
func TimeframeKey(f models.InsightFilters) string {
	b, err := json.Marshal(keyPayload{
		ReleaseStart: f.ReleaseStart,
		ReleaseEnd:   f.ReleaseEnd,
		WatchedYear:  f.WatchedYear,
		WatchedSince: timeKey(f.WatchedSince),
		WatchedUntil: timeKey(f.WatchedUntil),
	})
	if err != nil {
		// Only pointers to ints and strings; encoding cannot fail.
		panic(fmt.Sprintf("insights: encode timeframe key: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Matches reports whether a stat row falls inside resolved filters. Watched
// filters apply to the film's most recent cohort rating. A film without a
// release year fails a release_start bound but passes release_end.
func Matches(s *models.CohortFilmStat, f models.InsightFilters) bool {
	if f.ReleaseStart != nil && (s.ReleaseYear == nil || *s.ReleaseYear < *f.ReleaseStart) {
		return false
	}
	if f.ReleaseEnd != nil && s.ReleaseYear != nil && *s.ReleaseYear > *f.ReleaseEnd {
		return false
	}
	last := s.LastRatingAt
	if f.WatchedYear != nil && (last == nil || last.UTC().Year() != *f.WatchedYear) {
		return false
	}
	if f.WatchedSince != nil && (last == nil || last.Before(*f.WatchedSince)) {
		return false
	}
	if f.WatchedUntil != nil && (last == nil || last.After(*f.WatchedUntil)) {
		return false
	}
	return true
}
