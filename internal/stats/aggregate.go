// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package stats derives per-film cohort aggregates from rating events.
//
// Aggregate is a pure function over the cohort's events. The Aggregator
// wraps it with the store: it loads the current members' events, computes
// every row and swaps the cohort's snapshot in one transaction, so readers
// see either the previous snapshot or the new one.
package stats

import (
	"sort"
	"time"

	"github.com/tomtom215/cinecohort/internal/models"
)

type accumulator struct {
	stat   models.CohortFilmStat
	sum    float64
	sumSq  float64
	rated  int
	first  time.Time
	last   time.Time
	hasAny bool
}

func (a *accumulator) add(e *models.RatingEvent) {
	a.stat.Watchers++
	if e.Liked {
		a.stat.LikeCount++
	}
	if e.Favorite {
		a.stat.FavoriteCount++
	}
	if e.Rating != nil {
		r := *e.Rating
		a.sum += r
		a.sumSq += r * r
		a.rated++
		a.stat.Histogram[models.BandFor(r)]++
	}

	at := e.ObservedAt
	if at.IsZero() {
		at = e.UpdatedAt
	}
	if at.IsZero() {
		return
	}
	at = at.UTC()
	if !a.hasAny || at.Before(a.first) {
		a.first = at
	}
	if !a.hasAny || at.After(a.last) {
		a.last = at
	}
	a.hasAny = true
}

func (a *accumulator) finish(computedAt time.Time) models.CohortFilmStat {
	s := a.stat
	s.RatedCount = a.rated
	if a.rated > 0 {
		n := float64(a.rated)
		mean := a.sum / n
		variance := a.sumSq/n - mean*mean
		if variance < 0 {
			// rounding on near-identical ratings
			variance = 0
		}
		s.AvgRating = &mean
		s.RatingVariance = &variance
	}
	if s.Watchers > 0 {
		s.LikeRate = float64(s.LikeCount) / float64(s.Watchers)
		s.FavoriteRate = float64(s.FavoriteCount) / float64(s.Watchers)
	}
	if a.hasAny {
		first, last := a.first, a.last
		s.FirstRatingAt = &first
		s.LastRatingAt = &last
	}
	s.ComputedAt = computedAt
	return s
}

// Aggregate computes one stat row per film touched by the events. events
// must already be restricted to the cohort's current members and hold at
// most one event per (account, film). Ratings that are absent count toward
// watchers and engagement but not toward the mean, variance or histogram.
// Rows are ordered by film ID.
func Aggregate(cohortID int64, events []models.RatingEvent, computedAt time.Time) []models.CohortFilmStat {
	byFilm := make(map[int64]*accumulator)
	for i := range events {
		e := &events[i]
		acc, ok := byFilm[e.FilmID]
		if !ok {
			acc = &accumulator{stat: models.CohortFilmStat{CohortID: cohortID, FilmID: e.FilmID}}
			byFilm[e.FilmID] = acc
		}
		acc.add(e)
	}

	computedAt = computedAt.UTC()
	rows := make([]models.CohortFilmStat, 0, len(byFilm))
	for _, acc := range byFilm {
		rows = append(rows, acc.finish(computedAt))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].FilmID < rows[j].FilmID })
	return rows
}

// CohortMean is the mean of every present rating in the cohort, weighting
// each film by its rated count. It is zero when nothing is rated.
func CohortMean(rows []models.CohortFilmStat) float64 {
	var sum float64
	var n int
	for i := range rows {
		if rows[i].AvgRating == nil {
			continue
		}
		sum += *rows[i].AvgRating * float64(rows[i].RatedCount)
		n += rows[i].RatedCount
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
