// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package ranking

import (
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/stats"
)

// DefaultMValue is the prior strength used when none is configured.
const DefaultMValue = 50

// Bayesian shrinks each film's mean toward the cohort mean:
//
//	score = v/(v+m)·R + m/(v+m)·C
//
// where v is the film's watcher count and R its mean rating. A film with no
// present ratings scores C.
type Bayesian struct {
	m float64
}

// NewBayesian creates the strategy with prior strength m.
func NewBayesian(m float64) *Bayesian {
	if m <= 0 {
		m = DefaultMValue
	}
	return &Bayesian{m: m}
}

func (b *Bayesian) Name() string { return models.StrategyBayesian }

func (b *Bayesian) Params() map[string]float64 {
	return map[string]float64{"m_value": b.m}
}

func (b *Bayesian) Eligible(*models.CohortFilmStat) bool { return true }

func (b *Bayesian) Baseline(population []models.CohortFilmStat) Baseline {
	return Baseline{CohortMean: stats.CohortMean(population)}
}

func (b *Bayesian) Score(s *models.CohortFilmStat, base Baseline) (float64, map[string]float64) {
	c := base.CohortMean
	r := c
	if s.AvgRating != nil {
		r = *s.AvgRating
	}
	v := float64(s.Watchers)
	score := Shrink(v, b.m, r, c)
	return score, map[string]float64{
		"watchers":    v,
		"avg_rating":  r,
		"cohort_mean": c,
	}
}

// Shrink is the Bayesian weighted mean of r and c for v votes at prior m.
func Shrink(v, m, r, c float64) float64 {
	if v+m == 0 {
		return c
	}
	return (v/(v+m))*r + (m/(v+m))*c
}
