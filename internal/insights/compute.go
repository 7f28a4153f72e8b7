// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package insights

import (
	"math"
	"sort"

	"github.com/tomtom215/cinecohort/internal/models"
)

// Percentiles maps each value to the midpoint percentile of its tie block:
// a value occupying sorted positions start..end (1-based) of n receives
// (start+end)/2/n*100.
func Percentiles(values []float64) map[float64]float64 {
	n := len(values)
	if n == 0 {
		return map[float64]float64{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	out := make(map[float64]float64, n)
	for start := 0; start < n; {
		end := start
		for end+1 < n && sorted[end+1] == sorted[start] {
			end++
		}
		mid := float64(start+1+end+1) / 2
		out[sorted[start]] = mid / float64(n) * 100
		start = end + 1
	}
	return out
}

type moments struct {
	mean, std float64
}

func populationMoments(values []float64) moments {
	if len(values) == 0 {
		return moments{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return moments{mean: mean, std: math.Sqrt(sq / float64(len(values)))}
}

func (m moments) z(v float64) float64 {
	if m.std == 0 {
		return 0
	}
	return (v - m.mean) / m.std
}

// BucketLabel maps the watcher and rating percentiles to a bucket.
func BucketLabel(watchersPct, ratingPct float64) string {
	switch {
	case watchersPct >= 90 && ratingPct >= 90:
		return "Elite acclaim"
	case ratingPct >= 90 && watchersPct < 50:
		return "Cult favorite"
	case watchersPct >= 90 && ratingPct >= 40 && ratingPct <= 65:
		return "Crowd pleaser"
	case ratingPct >= 80 && watchersPct >= 60:
		return "Critical favorite"
	case ratingPct >= 70 && watchersPct < 30:
		return "Hidden gem"
	case watchersPct >= 85 && ratingPct < 40:
		return "Guilty pleasure"
	case ratingPct < 30 && watchersPct < 30:
		return "Skip it"
	default:
		return "Steady performer"
	}
}

// ClusterLabel maps the watcher and rating z-score quadrant to a cluster.
func ClusterLabel(watchersZ, ratingZ float64) string {
	switch {
	case ratingZ >= 1 && watchersZ >= 1:
		return "High rating / high watchers"
	case ratingZ >= 1 && watchersZ <= -0.25:
		return "High rating / low watchers"
	case ratingZ <= -1 && watchersZ >= 0.5:
		return "Low rating / high watchers"
	case ratingZ <= -1 && watchersZ <= -0.25:
		return "Low rating / low watchers"
	case math.Abs(ratingZ) <= 0.5 && watchersZ >= 0.75:
		return "High engagement / mixed sentiment"
	case ratingZ >= 0.5 && math.Abs(watchersZ) <= 0.5:
		return "Critical darling"
	case ratingZ <= -0.5 && math.Abs(watchersZ) <= 0.5:
		return "Divisive pick"
	default:
		return "Middle of the pack"
	}
}

// Derive computes insight rows for the stats matching filters. Only films
// with at least one watcher and a positive mean enter the population. Rows
// are ordered by bucket, then rating percentile and watcher percentile
// descending, then film ID.
func Derive(rows []models.CohortFilmStat, filters models.InsightFilters) []models.RankingInsight {
	population := make([]models.CohortFilmStat, 0, len(rows))
	for i := range rows {
		s := &rows[i]
		if s.Watchers > 0 && s.Mean() > 0 && Matches(s, filters) {
			population = append(population, *s)
		}
	}
	if len(population) == 0 {
		return []models.RankingInsight{}
	}

	watchers := make([]float64, len(population))
	ratings := make([]float64, len(population))
	for i := range population {
		watchers[i] = float64(population[i].Watchers)
		ratings[i] = population[i].Mean()
	}
	wPct, rPct := Percentiles(watchers), Percentiles(ratings)
	wMom, rMom := populationMoments(watchers), populationMoments(ratings)

	out := make([]models.RankingInsight, 0, len(population))
	for i := range population {
		s := &population[i]
		in := models.RankingInsight{
			CohortID:           s.CohortID,
			FilmID:             s.FilmID,
			Filters:            filters,
			Watchers:           s.Watchers,
			AvgRating:          ratings[i],
			WatchersPercentile: wPct[watchers[i]],
			RatingPercentile:   rPct[ratings[i]],
			WatchersZScore:     wMom.z(watchers[i]),
			RatingZScore:       rMom.z(ratings[i]),
			Slug:               s.Slug,
			Title:              s.Title,
		}
		in.Bucket = BucketLabel(in.WatchersPercentile, in.RatingPercentile)
		in.Cluster = ClusterLabel(in.WatchersZScore, in.RatingZScore)
		out = append(out, in)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		if a.RatingPercentile != b.RatingPercentile {
			return a.RatingPercentile > b.RatingPercentile
		}
		if a.WatchersPercentile != b.WatchersPercentile {
			return a.WatchersPercentile > b.WatchersPercentile
		}
		return a.FilmID < b.FilmID
	})
	return out
}
