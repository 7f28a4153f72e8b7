// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package source adapts the external film-logging platform to the sync
// engine and the membership crawler.
//
// Two implementations satisfy Source: HTTP, which fetches and parses the
// platform's public HTML listings and RSS feeds through a fetch.Fetcher, and
// Memory, a scripted in-process fake used by tests.
package source

import (
	"context"
	"errors"

	"github.com/tomtom215/cinecohort/internal/models"
)

// ErrParse marks a payload whose shape could not be understood. Callers
// treat it as a structural failure: record against the member and move on.
var ErrParse = errors.New("unexpected payload shape")

// ActivityPage is one page of a member's newest-first activity listing.
type ActivityPage struct {
	Entries []models.ActivityEntry
	// HasNext is false once the source signals no further pages.
	HasNext bool
}

// Source is the consumed interface of the source platform.
type Source interface {
	// ListFollows returns one page of accounts the user follows. An empty
	// result means the listing is exhausted.
	ListFollows(ctx context.Context, username string, page int) ([]models.AccountRef, error)

	// ListActivity returns one page of the user's film activity, newest first.
	ListActivity(ctx context.Context, username string, mode models.SyncMode, page int) (*ActivityPage, error)

	// FetchFeed returns the newest rated entries from the user's RSS feed.
	FetchFeed(ctx context.Context, username string) ([]models.ActivityEntry, error)
}
