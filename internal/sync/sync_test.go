// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/source"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB", Threads: 2})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// pages builds n pages of size entries for prefix, newest first, rated 3.5.
func pages(prefix string, n, size int) [][]models.ActivityEntry {
	out := make([][]models.ActivityEntry, n)
	for p := range n {
		for i := range size {
			slug := fmt.Sprintf("%s-film-%d-%d", prefix, p+1, i+1)
			out[p] = append(out[p], models.ActivityEntry{
				FilmSlug:  slug,
				FilmTitle: slug,
				Rating:    models.Float64Ptr(3.5),
			})
		}
	}
	return out
}

func account(t *testing.T, db *database.DB, username string) *models.Account {
	t.Helper()
	a, err := db.EnsureAccount(context.Background(), models.AccountRef{Username: username})
	if err != nil {
		t.Fatalf("EnsureAccount(%s) error = %v", username, err)
	}
	return a
}

func cohortWith(t *testing.T, db *database.DB, seed string, members ...string) *models.Cohort {
	t.Helper()
	ctx := context.Background()
	c, err := db.CreateCohort(ctx, "test", models.AccountRef{Username: seed}, 1, true)
	if err != nil {
		t.Fatalf("CreateCohort() error = %v", err)
	}
	target := []models.DiscoveredMember{{Account: models.AccountRef{Username: seed}}}
	for _, m := range members {
		target = append(target, models.DiscoveredMember{Account: models.AccountRef{Username: m}, Depth: 1})
	}
	if _, err := db.ApplyMembership(ctx, c.ID, target); err != nil {
		t.Fatalf("ApplyMembership() error = %v", err)
	}
	return c
}

func ratingSlugs(t *testing.T, db *database.DB, accountID int64) map[string]bool {
	t.Helper()
	events, err := db.ListAccountRatings(context.Background(), accountID)
	if err != nil {
		t.Fatalf("ListAccountRatings() error = %v", err)
	}
	out := make(map[string]bool, len(events))
	for _, e := range events {
		f, err := db.GetFilm(context.Background(), e.FilmID)
		if err != nil {
			t.Fatalf("GetFilm() error = %v", err)
		}
		out[f.Slug] = true
	}
	return out
}

func newTestEngine(db *database.DB, src source.Source) *Engine {
	return NewEngine(src, db, 0)
}
