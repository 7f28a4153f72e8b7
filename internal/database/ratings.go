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
	"time"

	"github.com/tomtom215/cinecohort/internal/database/query"
	"github.com/tomtom215/cinecohort/internal/models"
)

const upsertRatingSQL = `
	INSERT INTO ratings (account_id, film_id, rating, liked, favorite, observed_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_id, film_id) DO UPDATE SET
		rating = excluded.rating,
		liked = excluded.liked,
		favorite = excluded.favorite,
		observed_at = excluded.observed_at,
		updated_at = excluded.updated_at`

func scanRating(row rowScanner) (*models.RatingEvent, error) {
	var (
		e      models.RatingEvent
		rating sql.NullFloat64
	)
	if err := row.Scan(&e.AccountID, &e.FilmID, &rating, &e.Liked, &e.Favorite, &e.ObservedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Rating = nullFloatPtr(rating)
	e.ObservedAt = e.ObservedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func getRating(ctx context.Context, q querier, accountID, filmID int64) (*models.RatingEvent, error) {
	e, err := scanRating(q.QueryRowContext(ctx, `
		SELECT account_id, film_id, rating, liked, favorite, observed_at, updated_at
		FROM ratings WHERE account_id = ? AND film_id = ?`, accountID, filmID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// LookupRatingsBySlug returns the stored events of an account keyed by film
// slug, restricted to the given slugs. Slugs with no stored event are absent.
func (db *DB) LookupRatingsBySlug(ctx context.Context, accountID int64, slugs []string) (map[string]models.RatingEvent, error) {
	out := make(map[string]models.RatingEvent, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	normalized := make([]string, len(slugs))
	for i, s := range slugs {
		normalized[i] = NormalizeSlug(s)
	}

	wb := query.NewWhereBuilder().
		AddClause("r.account_id = ?", accountID).
		AddStrings("f.slug", normalized)
	where, args := wb.BuildWithPrefix()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT f.slug, r.account_id, r.film_id, r.rating, r.liked, r.favorite, r.observed_at, r.updated_at
		FROM ratings r
		JOIN films f ON f.id = r.film_id
		`+where, args...)
	if err != nil {
		observe("lookup_ratings", start, err)
		return nil, fmt.Errorf("failed to look up ratings: %w", err)
	}
	defer closeWithLog(rows, "rows")

	for rows.Next() {
		var (
			slug   string
			e      models.RatingEvent
			rating sql.NullFloat64
		)
		if err := rows.Scan(&slug, &e.AccountID, &e.FilmID, &rating, &e.Liked, &e.Favorite, &e.ObservedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		e.Rating = nullFloatPtr(rating)
		e.ObservedAt = e.ObservedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		out[slug] = e
	}
	err = rows.Err()
	observe("lookup_ratings", start, err)
	return out, err
}

// CommitPage upserts one page of activity for an account and, when cp is
// non-nil, advances the member checkpoint. Both happen in one transaction:
// the checkpoint never moves past a page whose events are not durable.
//
// Entries whose stored row already carries identical facts are not
// rewritten. The returned count is the number of rows inserted or changed.
func (db *DB) CommitPage(ctx context.Context, accountID int64, entries []models.ActivityEntry, cp *models.MemberCheckpoint) (int, error) {
	written := 0
	err := db.writeTx(ctx, "commit_page", func(tx *sql.Tx) error {
		written = 0
		now := db.now()
		for i := range entries {
			changed, err := upsertActivity(ctx, tx, accountID, &entries[i], now, true)
			if err != nil {
				return err
			}
			if changed {
				written++
			}
		}
		if cp != nil {
			cp.AccountID = accountID
			if err := upsertCheckpoint(ctx, tx, cp, now); err != nil {
				return err
			}
		}
		if written > 0 {
			return touchMemberCohorts(ctx, tx, accountID, now)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// upsertActivity writes one listing entry. With keepObserved the original
// observation time of an existing row is preserved.
func upsertActivity(ctx context.Context, q querier, accountID int64, e *models.ActivityEntry, now time.Time, keepObserved bool) (bool, error) {
	filmID, err := ensureFilm(ctx, q, e.FilmSlug, e.FilmTitle, now)
	if err != nil {
		return false, err
	}
	existing, err := getRating(ctx, q, accountID, filmID)
	if err != nil {
		return false, fmt.Errorf("failed to read rating for film %d: %w", filmID, err)
	}
	if existing != nil && existing.SameFacts(e.Rating, e.Liked, e.Favorite) {
		return false, nil
	}

	observed := e.ObservedAt.UTC()
	if observed.IsZero() {
		observed = now
	}
	if existing != nil && keepObserved {
		observed = existing.ObservedAt
	}

	if _, err := q.ExecContext(ctx, upsertRatingSQL,
		accountID, filmID, floatArg(e.Rating), e.Liked, e.Favorite, observed, now); err != nil {
		return false, fmt.Errorf("failed to upsert rating for film %d: %w", filmID, err)
	}
	return true, nil
}

// ApplyFeedRatings applies rated feed entries to an account. Feed entries
// carry no like or favorite flags, so existing flags are preserved and only
// the rating and observation time change. Unrated entries are ignored and
// nothing is ever removed.
func (db *DB) ApplyFeedRatings(ctx context.Context, accountID int64, entries []models.ActivityEntry) (int, error) {
	written := 0
	err := db.writeTx(ctx, "apply_feed_ratings", func(tx *sql.Tx) error {
		written = 0
		now := db.now()
		for i := range entries {
			e := entries[i]
			if e.Rating == nil {
				continue
			}
			filmID, err := ensureFilm(ctx, tx, e.FilmSlug, e.FilmTitle, now)
			if err != nil {
				return err
			}
			existing, err := getRating(ctx, tx, accountID, filmID)
			if err != nil {
				return fmt.Errorf("failed to read rating for film %d: %w", filmID, err)
			}
			if existing != nil {
				if models.RatingsEqual(existing.Rating, e.Rating) {
					continue
				}
				e.Liked = existing.Liked
				e.Favorite = existing.Favorite
			}
			changed, err := upsertActivity(ctx, tx, accountID, &e, now, false)
			if err != nil {
				return err
			}
			if changed {
				written++
			}
		}
		if written > 0 {
			return touchMemberCohorts(ctx, tx, accountID, now)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// touchMemberCohorts records that the events of every cohort containing
// accountID changed at now, which marks their derived snapshots stale.
func touchMemberCohorts(ctx context.Context, tx *sql.Tx, accountID int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE cohorts SET events_changed_at = ?
		WHERE id IN (SELECT cohort_id FROM cohort_members WHERE account_id = ?)`, now, accountID); err != nil {
		return fmt.Errorf("failed to mark cohorts of account %d changed: %w", accountID, err)
	}
	return nil
}

// ListAccountRatings returns every stored event for an account, ordered by film ID.
func (db *DB) ListAccountRatings(ctx context.Context, accountID int64) ([]models.RatingEvent, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT account_id, film_id, rating, liked, favorite, observed_at, updated_at
		FROM ratings WHERE account_id = ? ORDER BY film_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var events []models.RatingEvent
	for rows.Next() {
		e, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// CountRatings returns the total number of stored rating events.
func (db *DB) CountRatings(ctx context.Context) (int, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM ratings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ratings: %w", err)
	}
	return n, nil
}
