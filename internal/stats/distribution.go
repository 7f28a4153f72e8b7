// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package stats

import "github.com/tomtom215/cinecohort/internal/models"

// Distribution labels describe where a film's ratings concentrate. "Left"
// means the mass sits on the high bands with the tail toward low ratings.
const (
	DistributionUnknown     = "unknown"
	DistributionStrongLeft  = "strong-left"
	DistributionLeft        = "left"
	DistributionBimodal     = "bimodal-low-high"
	DistributionBalanced    = "balanced"
	DistributionRight       = "right"
	DistributionStrongRight = "strong-right"
)

var distributionBonus = map[string]float64{
	DistributionUnknown:     0,
	DistributionStrongLeft:  0.3,
	DistributionLeft:        0.15,
	DistributionBimodal:     0.05,
	DistributionBalanced:    0,
	DistributionRight:       -0.15,
	DistributionStrongRight: -0.3,
}

// Classification thresholds over histogram shares.
const (
	bimodalShare    = 0.35
	strongSkewShare = 0.5
	skewShare       = 0.2
)

// Shares splits a histogram into the fraction of ratings at or above 4.0
// (high) and below 3.0 (low). Both are zero for an empty histogram.
func Shares(h models.Histogram) (high, low float64) {
	total := h.Total()
	if total == 0 {
		return 0, 0
	}
	t := float64(total)
	high = float64(h[models.BandGte45]+h[models.Band40To45]) / t
	low = float64(h[models.Band25To30]+h[models.BandLt25]) / t
	return high, low
}

// ClassifyDistribution labels a histogram and returns the label's signed
// bonus. A histogram with both tails heavily populated is bimodal before
// any skew is considered.
func ClassifyDistribution(h models.Histogram) (string, float64) {
	if h.Total() == 0 {
		return DistributionUnknown, 0
	}
	high, low := Shares(h)

	label := DistributionBalanced
	switch skew := high - low; {
	case high >= bimodalShare && low >= bimodalShare:
		label = DistributionBimodal
	case skew >= strongSkewShare:
		label = DistributionStrongLeft
	case skew >= skewShare:
		label = DistributionLeft
	case skew <= -strongSkewShare:
		label = DistributionStrongRight
	case skew <= -skewShare:
		label = DistributionRight
	}
	return label, distributionBonus[label]
}

// ConsensusStrength is the high-rating fraction minus the low-rating
// fraction, in [-1, 1].
func ConsensusStrength(h models.Histogram) float64 {
	high, low := Shares(h)
	return high - low
}
