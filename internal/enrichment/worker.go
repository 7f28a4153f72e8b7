// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
	"github.com/tomtom215/cinecohort/internal/models"
)

// Store is the persistence the worker needs.
type Store interface {
	ListFilmsPendingEnrichment(ctx context.Context, limit int) ([]models.Film, error)
	ApplyFilmMetadata(ctx context.Context, filmID int64, meta *models.FilmMetadata) error
	MarkFilmNotFound(ctx context.Context, filmID int64) error
}

// PassResult summarizes one enrichment pass.
type PassResult struct {
	Selected int `json:"selected"`
	Enriched int `json:"enriched"`
	NotFound int `json:"not_found"`
	Failed   int `json:"failed"`
}

// Worker enriches pending films in batches.
type Worker struct {
	lookup   Lookup
	store    Store
	batch    int
	interval time.Duration
}

// NewWorker creates a worker taking up to batch films per pass and running
// a pass every interval.
func NewWorker(lookup Lookup, store Store, batch int, interval time.Duration) *Worker {
	if batch <= 0 {
		batch = 50
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Worker{lookup: lookup, store: store, batch: batch, interval: interval}
}

// RunOnce enriches one batch. A lookup failure other than not found is
// counted and leaves the film pending; store failures abort the pass.
func (w *Worker) RunOnce(ctx context.Context) (*PassResult, error) {
	films, err := w.store.ListFilmsPendingEnrichment(ctx, w.batch)
	if err != nil {
		return nil, fmt.Errorf("select pending films: %w", err)
	}
	res := &PassResult{Selected: len(films)}
	log := logging.Ctx(ctx)

	for i := range films {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		f := &films[i]
		meta, err := w.lookup.Lookup(ctx, f.Slug)
		switch {
		case err == nil:
			if err := w.store.ApplyFilmMetadata(ctx, f.ID, meta); err != nil {
				return res, err
			}
			res.Enriched++
			metrics.EnrichmentLookups.WithLabelValues("enriched").Inc()
		case errors.Is(err, ErrNotFound):
			if err := w.store.MarkFilmNotFound(ctx, f.ID); err != nil {
				return res, err
			}
			res.NotFound++
			metrics.EnrichmentLookups.WithLabelValues("not_found").Inc()
		case ctx.Err() != nil:
			return res, ctx.Err()
		default:
			res.Failed++
			metrics.EnrichmentLookups.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("film", f.Slug).Msg("Enrichment lookup failed")
		}
	}

	if res.Selected > 0 {
		log.Info().
			Int("selected", res.Selected).
			Int("enriched", res.Enriched).
			Int("not_found", res.NotFound).
			Int("failed", res.Failed).
			Msg("Enrichment pass finished")
	}
	return res, nil
}

// Run performs a pass immediately and then every interval until ctx is
// done. Pass errors are logged, not returned.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Enrichment pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
