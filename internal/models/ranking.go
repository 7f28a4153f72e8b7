// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package models

import "time"

// Ranking strategy names.
const (
	StrategyBayesian = "bayesian"
	StrategyAffinity = "cohort_affinity"
)

// RankingResult is one row of a strategy's ranked snapshot for a cohort.
type RankingResult struct {
	CohortID   int64              `json:"cohort_id"`
	Strategy   string             `json:"strategy"`
	FilmID     int64              `json:"film_id"`
	Score      float64            `json:"score"`
	Rank       int                `json:"rank"`
	Params     map[string]float64 `json:"params,omitempty"`
	Detail     map[string]float64 `json:"detail,omitempty"`
	ComputedAt time.Time          `json:"computed_at"`

	Slug  string `json:"slug,omitempty"`
	Title string `json:"title,omitempty"`
}
