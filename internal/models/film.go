// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package models

import "time"

// Enrichment statuses for Film.EnrichmentStatus.
const (
	EnrichmentPending  = "pending"
	EnrichmentDone     = "enriched"
	EnrichmentNotFound = "not_found"
)

// Film is a canonical title keyed by its stable external slug.
//
// A Film row is created with only a slug (and the title seen on the
// listing) the first time an event references it. The enrichment fields
// are owned by the metadata collaborator and filled in asynchronously.
type Film struct {
	ID    int64  `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`

	ReleaseYear *int     `json:"release_year,omitempty"`
	PosterURL   string   `json:"poster_url,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	People      []string `json:"people,omitempty"`

	EnrichmentStatus string     `json:"enrichment_status"`
	EnrichedAt       *time.Time `json:"enriched_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FilmMetadata is the result of a metadata enrichment lookup.
type FilmMetadata struct {
	Title       string   `json:"title"`
	ReleaseYear *int     `json:"release_year,omitempty"`
	PosterURL   string   `json:"poster_url,omitempty"`
	People      []string `json:"people,omitempty"`
	Genres      []string `json:"genres,omitempty"`
}
