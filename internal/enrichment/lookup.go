// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package enrichment fills in film metadata from an external catalog.
//
// Films are created by sync with a bare slug. The Worker picks up films
// still pending enrichment in batches, asks a Lookup for their metadata and
// writes it back. A film the catalog does not know is marked not_found and
// skipped on later passes; a transient lookup failure leaves it pending for
// the next pass. Sync never waits on any of this.
package enrichment

import (
	"context"
	"errors"

	"github.com/tomtom215/cinecohort/internal/models"
)

// ErrNotFound means the catalog has no entry for the slug.
var ErrNotFound = errors.New("film not found in catalog")

// Lookup resolves a film slug to catalog metadata.
type Lookup interface {
	Lookup(ctx context.Context, slug string) (*models.FilmMetadata, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, slug string) (*models.FilmMetadata, error)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, slug string) (*models.FilmMetadata, error) {
	return f(ctx, slug)
}
