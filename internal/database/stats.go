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

// ListCohortEvents returns every rating event whose account is a current
// member of the cohort, ordered by film then account.
func (db *DB) ListCohortEvents(ctx context.Context, cohortID int64) ([]models.RatingEvent, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT r.account_id, r.film_id, r.rating, r.liked, r.favorite, r.observed_at, r.updated_at
		FROM ratings r
		JOIN cohort_members m ON m.account_id = r.account_id
		WHERE m.cohort_id = ?
		ORDER BY r.film_id, r.account_id`, cohortID)
	if err != nil {
		observe("list_cohort_events", start, err)
		return nil, fmt.Errorf("failed to list cohort events: %w", err)
	}
	defer closeWithLog(rows, "rows")

	var events []models.RatingEvent
	for rows.Next() {
		e, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	err = rows.Err()
	observe("list_cohort_events", start, err)
	return events, err
}

// ReplaceCohortStats swaps the cohort's stats snapshot for rows. The old
// snapshot stays visible until the new one commits.
func (db *DB) ReplaceCohortStats(ctx context.Context, cohortID int64, rows []models.CohortFilmStat) error {
	return db.writeTx(ctx, "replace_cohort_stats", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cohort_film_stats WHERE cohort_id = ?`, cohortID); err != nil {
			return fmt.Errorf("failed to clear stats for cohort %d: %w", cohortID, err)
		}
		computedAt := db.now()
		if len(rows) > 0 {
			computedAt = rows[0].ComputedAt.UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE cohorts SET stats_computed_at = ? WHERE id = ?`, computedAt, cohortID); err != nil {
			return fmt.Errorf("failed to stamp stats for cohort %d: %w", cohortID, err)
		}
		if len(rows) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cohort_film_stats (
				cohort_id, film_id, watchers, rated_count, avg_rating, rating_variance,
				like_count, favorite_count, like_rate, favorite_rate,
				band_gte_4_5, band_4_0_4_5, band_3_5_4_0, band_3_0_3_5, band_2_5_3_0, band_lt_2_5,
				first_rating_at, last_rating_at, computed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare stats insert: %w", err)
		}
		defer closeWithLog(stmt, "statement")

		for i := range rows {
			s := &rows[i]
			h := s.Histogram
			if _, err := stmt.ExecContext(ctx,
				cohortID, s.FilmID, s.Watchers, s.RatedCount, floatArg(s.AvgRating), floatArg(s.RatingVariance),
				s.LikeCount, s.FavoriteCount, s.LikeRate, s.FavoriteRate,
				h[models.BandGte45], h[models.Band40To45], h[models.Band35To40],
				h[models.Band30To35], h[models.Band25To30], h[models.BandLt25],
				timeArg(s.FirstRatingAt), timeArg(s.LastRatingAt), s.ComputedAt.UTC()); err != nil {
				return fmt.Errorf("failed to insert stats for film %d: %w", s.FilmID, err)
			}
		}
		return nil
	})
}

// StatsQuery narrows ListCohortStats.
type StatsQuery struct {
	MinWatchers int
	// Limit caps the number of rows; 0 returns all.
	Limit int
}

// ListCohortStats returns the cohort's current stats snapshot joined with
// film metadata, ordered by watchers descending then film ID.
func (db *DB) ListCohortStats(ctx context.Context, cohortID int64, q StatsQuery) ([]models.CohortFilmStat, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	wb := query.NewWhereBuilder().
		AddClause("s.cohort_id = ?", cohortID).
		AddMin("s.watchers", q.MinWatchers)
	where, args := wb.BuildWithPrefix()

	sqlText := `
		SELECT s.cohort_id, s.film_id, s.watchers, s.rated_count, s.avg_rating, s.rating_variance,
			s.like_count, s.favorite_count, s.like_rate, s.favorite_rate,
			s.band_gte_4_5, s.band_4_0_4_5, s.band_3_5_4_0, s.band_3_0_3_5, s.band_2_5_3_0, s.band_lt_2_5,
			s.first_rating_at, s.last_rating_at, s.computed_at,
			f.slug, f.title, f.release_year
		FROM cohort_film_stats s
		JOIN films f ON f.id = s.film_id
		` + where + `
		ORDER BY s.watchers DESC, s.film_id`
	if q.Limit > 0 {
		sqlText += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		observe("list_cohort_stats", start, err)
		return nil, fmt.Errorf("failed to list stats: %w", err)
	}
	defer closeWithLog(rows, "rows")

	stats := []models.CohortFilmStat{}
	for rows.Next() {
		var (
			s             models.CohortFilmStat
			avg, variance sql.NullFloat64
			first, last   sql.NullTime
			year          sql.NullInt64
			h             models.Histogram
		)
		if err := rows.Scan(&s.CohortID, &s.FilmID, &s.Watchers, &s.RatedCount, &avg, &variance,
			&s.LikeCount, &s.FavoriteCount, &s.LikeRate, &s.FavoriteRate,
			&h[models.BandGte45], &h[models.Band40To45], &h[models.Band35To40],
			&h[models.Band30To35], &h[models.Band25To30], &h[models.BandLt25],
			&first, &last, &s.ComputedAt, &s.Slug, &s.Title, &year); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		s.AvgRating = nullFloatPtr(avg)
		s.RatingVariance = nullFloatPtr(variance)
		s.FirstRatingAt = nullTimePtr(first)
		s.LastRatingAt = nullTimePtr(last)
		s.ComputedAt = s.ComputedAt.UTC()
		s.ReleaseYear = nullIntPtr(year)
		s.Histogram = h
		stats = append(stats, s)
	}
	err = rows.Err()
	observe("list_cohort_stats", start, err)
	return stats, err
}

// StatsSnapshot reports the size and computation time of the cohort's
// current stats snapshot. ComputedAt is nil when no snapshot exists.
func (db *DB) StatsSnapshot(ctx context.Context, cohortID int64) (*models.StatsSnapshotInfo, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	info := &models.StatsSnapshotInfo{CohortID: cohortID}
	var computed, stamped, changed sql.NullTime
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(computed_at) FROM cohort_film_stats WHERE cohort_id = ?`, cohortID).
		Scan(&info.Films, &computed); err != nil {
		return nil, fmt.Errorf("failed to read stats snapshot: %w", err)
	}
	err := db.conn.QueryRowContext(ctx,
		`SELECT stats_computed_at, events_changed_at FROM cohorts WHERE id = ?`, cohortID).
		Scan(&stamped, &changed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read cohort change marks: %w", err)
	}
	if !computed.Valid {
		computed = stamped
	}
	info.ComputedAt = nullTimePtr(computed)
	info.EventsChangedAt = nullTimePtr(changed)
	info.Stale = info.EventsChangedAt != nil &&
		(info.ComputedAt == nil || info.EventsChangedAt.After(*info.ComputedAt))
	return info, nil
}
