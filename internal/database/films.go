// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cinecohort/internal/models"
)

const filmColumns = `id, slug, title, release_year, poster_url, genres, people,
	enrichment_status, enriched_at, created_at, updated_at`

func scanFilm(row rowScanner) (*models.Film, error) {
	var (
		f              models.Film
		year           sql.NullInt64
		genres, people string
		enrichedAt     sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.Slug, &f.Title, &year, &f.PosterURL, &genres, &people,
		&f.EnrichmentStatus, &enrichedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.ReleaseYear = nullIntPtr(year)
	f.EnrichedAt = nullTimePtr(enrichedAt)
	f.Genres = decodeStrings(genres)
	f.People = decodeStrings(people)
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return &f, nil
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NormalizeSlug canonicalizes a film slug.
func NormalizeSlug(slug string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(slug)), "/")
}

// ensureFilm resolves a slug to a film ID, creating a bare row on first
// reference. A non-empty title replaces a stale one.
func ensureFilm(ctx context.Context, q querier, slug, title string, now time.Time) (int64, error) {
	slug = NormalizeSlug(slug)
	if slug == "" {
		return 0, fmt.Errorf("empty film slug")
	}

	var (
		id       int64
		existing string
	)
	err := q.QueryRowContext(ctx, `SELECT id, title FROM films WHERE slug = ?`, slug).Scan(&id, &existing)
	switch {
	case err == nil:
		if title != "" && title != existing {
			if _, err := q.ExecContext(ctx,
				`UPDATE films SET title = ?, updated_at = ? WHERE id = ?`, title, now, id); err != nil {
				return 0, fmt.Errorf("failed to update film %s: %w", slug, err)
			}
		}
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("failed to look up film %s: %w", slug, err)
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO films (slug, title, enrichment_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (slug) DO NOTHING`,
		slug, title, models.EnrichmentPending, now, now); err != nil {
		return 0, fmt.Errorf("failed to insert film %s: %w", slug, err)
	}
	if err := q.QueryRowContext(ctx, `SELECT id FROM films WHERE slug = ?`, slug).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read back film %s: %w", slug, err)
	}
	return id, nil
}

// EnsureFilm returns the film for slug, creating a bare row if needed.
func (db *DB) EnsureFilm(ctx context.Context, slug, title string) (*models.Film, error) {
	var id int64
	err := db.writeTx(ctx, "ensure_film", func(tx *sql.Tx) error {
		var err error
		id, err = ensureFilm(ctx, tx, slug, title, db.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.GetFilm(ctx, id)
}

// GetFilm returns the film with the given ID.
func (db *DB) GetFilm(ctx context.Context, id int64) (*models.Film, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	f, err := scanFilm(db.conn.QueryRowContext(ctx, `SELECT `+filmColumns+` FROM films WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("film %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get film %d: %w", id, err)
	}
	return f, nil
}

// GetFilmBySlug returns the film with the given slug.
func (db *DB) GetFilmBySlug(ctx context.Context, slug string) (*models.Film, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	slug = NormalizeSlug(slug)
	f, err := scanFilm(db.conn.QueryRowContext(ctx, `SELECT `+filmColumns+` FROM films WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("film %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get film %q: %w", slug, err)
	}
	return f, nil
}

// ListFilmsPendingEnrichment returns up to limit films that have not been enriched.
func (db *DB) ListFilmsPendingEnrichment(ctx context.Context, limit int) ([]models.Film, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `SELECT `+filmColumns+` FROM films
		WHERE enrichment_status = ?
		ORDER BY id
		LIMIT ?`, models.EnrichmentPending, limit)
	if err != nil {
		observe("list_pending_films", start, err)
		return nil, fmt.Errorf("failed to list pending films: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var films []models.Film
	for rows.Next() {
		f, err := scanFilm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan film: %w", err)
		}
		films = append(films, *f)
	}
	err = rows.Err()
	observe("list_pending_films", start, err)
	return films, err
}

// ApplyFilmMetadata stores an enrichment result and marks the film enriched.
func (db *DB) ApplyFilmMetadata(ctx context.Context, filmID int64, meta *models.FilmMetadata) error {
	genres, err := encodeStrings(meta.Genres)
	if err != nil {
		return fmt.Errorf("failed to encode genres: %w", err)
	}
	people, err := encodeStrings(meta.People)
	if err != nil {
		return fmt.Errorf("failed to encode people: %w", err)
	}

	return db.writeTx(ctx, "apply_film_metadata", func(tx *sql.Tx) error {
		now := db.now()
		res, err := tx.ExecContext(ctx, `
			UPDATE films SET
				title = CASE WHEN ? <> '' THEN ? ELSE title END,
				release_year = COALESCE(?, release_year),
				poster_url = ?,
				genres = ?,
				people = ?,
				enrichment_status = ?,
				enriched_at = ?,
				updated_at = ?
			WHERE id = ?`,
			meta.Title, meta.Title, intArg(meta.ReleaseYear), meta.PosterURL, genres, people,
			models.EnrichmentDone, now, now, filmID)
		if err != nil {
			return fmt.Errorf("failed to apply metadata to film %d: %w", filmID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("film %d: %w", filmID, ErrNotFound)
		}
		return nil
	})
}

// MarkFilmNotFound records that the metadata service has no entry for the film.
func (db *DB) MarkFilmNotFound(ctx context.Context, filmID int64) error {
	return db.writeTx(ctx, "mark_film_not_found", func(tx *sql.Tx) error {
		now := db.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE films SET enrichment_status = ?, enriched_at = ?, updated_at = ? WHERE id = ?`,
			models.EnrichmentNotFound, now, now, filmID)
		if err != nil {
			return fmt.Errorf("failed to mark film %d: %w", filmID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("film %d: %w", filmID, ErrNotFound)
		}
		return nil
	})
}
