// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package ranking

import (
	"math"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/stats"
)

// Affinity feature names, as they appear in result detail.
const (
	FeatureAvgRating    = "avg_rating"
	FeatureWatchers     = "watchers"
	FeatureFavoriteRate = "favorite_rate"
	FeatureLikeRate     = "like_rate"
	FeatureDistribution = "distribution_bonus"
	FeatureConsensus    = "consensus_strength"
)

var affinityFeatures = []string{
	FeatureAvgRating,
	FeatureWatchers,
	FeatureFavoriteRate,
	FeatureLikeRate,
	FeatureDistribution,
	FeatureConsensus,
}

// Affinity is a weighted sum of z-scored features. The watcher feature is
// log1p of the watcher count, raised to the configured floor first so very
// small films do not spread the feature.
type Affinity struct {
	weights  map[string]float64
	minVotes int
	floor    float64
}

// NewAffinity creates the strategy from the ranking configuration.
func NewAffinity(cfg config.RankingConfig) *Affinity {
	w := cfg.Weights
	return &Affinity{
		weights: map[string]float64{
			FeatureAvgRating:    w.AvgRating,
			FeatureWatchers:     w.Watchers,
			FeatureFavoriteRate: w.FavoriteRate,
			FeatureLikeRate:     w.LikeRate,
			FeatureDistribution: w.Distribution,
			FeatureConsensus:    w.Consensus,
		},
		minVotes: cfg.MinVotes,
		floor:    cfg.WatchersFloor,
	}
}

func (a *Affinity) Name() string { return models.StrategyAffinity }

func (a *Affinity) Params() map[string]float64 {
	p := map[string]float64{
		"min_votes":      float64(a.minVotes),
		"watchers_floor": a.floor,
	}
	for name, w := range a.weights {
		p["w_"+name] = w
	}
	return p
}

// Eligible admits films with at least min_votes watchers and a present mean.
func (a *Affinity) Eligible(s *models.CohortFilmStat) bool {
	return s.Watchers >= a.minVotes && s.AvgRating != nil
}

func (a *Affinity) features(s *models.CohortFilmStat) map[string]float64 {
	_, bonus := stats.ClassifyDistribution(s.Histogram)
	return map[string]float64{
		FeatureAvgRating:    s.Mean(),
		FeatureWatchers:     math.Log1p(math.Max(float64(s.Watchers), a.floor)),
		FeatureFavoriteRate: s.FavoriteRate,
		FeatureLikeRate:     s.LikeRate,
		FeatureDistribution: bonus,
		FeatureConsensus:    stats.ConsensusStrength(s.Histogram),
	}
}

func (a *Affinity) Baseline(population []models.CohortFilmStat) Baseline {
	columns := make(map[string][]float64, len(affinityFeatures))
	for i := range population {
		for name, v := range a.features(&population[i]) {
			columns[name] = append(columns[name], v)
		}
	}
	b := Baseline{CohortMean: stats.CohortMean(population), Moments: make(map[string]Moment, len(affinityFeatures))}
	for _, name := range affinityFeatures {
		b.Moments[name] = moment(columns[name])
	}
	return b
}

func (a *Affinity) Score(s *models.CohortFilmStat, b Baseline) (float64, map[string]float64) {
	raw := a.features(s)
	detail := make(map[string]float64, 2*len(affinityFeatures))
	var score float64
	for _, name := range affinityFeatures {
		z := b.Moments[name].Z(raw[name])
		score += a.weights[name] * z
		detail[name] = raw[name]
		detail[name+"_z"] = z
	}
	return score, detail
}
