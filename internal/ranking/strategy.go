// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package ranking scores a cohort's films under pluggable strategies.
//
// A Strategy first derives a Baseline from the whole stats population
// (cohort mean, feature moments) and then scores each film against it.
// Baselines are rebuilt on every pass; nothing is cached between passes.
// Ranks are assigned by descending score with ties broken by film ID, so
// unchanged input always yields the same ranks.
package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/models"
)

// ErrUnknownStrategy is returned for a strategy name with no implementation.
var ErrUnknownStrategy = errors.New("unknown ranking strategy")

// Baseline is the cohort-level context a strategy scores against.
type Baseline struct {
	// CohortMean is the mean of every present rating in the population.
	CohortMean float64
	// Moments holds per-feature (mean, population std) for z-scoring.
	Moments map[string]Moment
}

// Moment is a feature's population mean and standard deviation.
type Moment struct {
	Mean float64
	Std  float64
}

// Z returns the z-score of v, or 0 when the feature has no spread.
func (m Moment) Z(v float64) float64 {
	if m.Std == 0 {
		return 0
	}
	return (v - m.Mean) / m.Std
}

// Strategy scores films relative to a cohort baseline.
type Strategy interface {
	Name() string
	// Params are stored with every result row of the snapshot.
	Params() map[string]float64
	// Eligible reports whether a film enters the ranked population.
	Eligible(s *models.CohortFilmStat) bool
	Baseline(population []models.CohortFilmStat) Baseline
	// Score returns the film's score and the per-feature detail behind it.
	Score(s *models.CohortFilmStat, b Baseline) (float64, map[string]float64)
}

// New returns the named strategy configured from cfg.
func New(name string, cfg config.RankingConfig) (Strategy, error) {
	switch name {
	case models.StrategyBayesian:
		return NewBayesian(cfg.MValue), nil
	case models.StrategyAffinity:
		return NewAffinity(cfg), nil
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
	}
}

// Names lists the supported strategies.
func Names() []string {
	return []string{models.StrategyBayesian, models.StrategyAffinity}
}

// Rank scores every eligible film and assigns ranks 1..n.
func Rank(st Strategy, stats []models.CohortFilmStat) []models.RankingResult {
	population := make([]models.CohortFilmStat, 0, len(stats))
	for i := range stats {
		if st.Eligible(&stats[i]) {
			population = append(population, stats[i])
		}
	}
	base := st.Baseline(population)
	params := st.Params()

	results := make([]models.RankingResult, 0, len(population))
	for i := range population {
		s := &population[i]
		score, detail := st.Score(s, base)
		results = append(results, models.RankingResult{
			CohortID: s.CohortID,
			Strategy: st.Name(),
			FilmID:   s.FilmID,
			Score:    score,
			Params:   params,
			Detail:   detail,
			Slug:     s.Slug,
			Title:    s.Title,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].FilmID < results[j].FilmID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func moment(values []float64) Moment {
	if len(values) == 0 {
		return Moment{}
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
	return Moment{Mean: mean, Std: math.Sqrt(sq / float64(len(values)))}
}
