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
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cinecohort/internal/models"
)

// ErrInvalidScore is returned when a ranking snapshot contains a NaN or
// infinite score. The whole snapshot is rejected.
var ErrInvalidScore = errors.New("invalid ranking score")

// ReplaceRankings swaps the (cohort, strategy) snapshot for results in one
// transaction. Any failure, including an invalid score part way through,
// rolls back and leaves the prior snapshot intact.
func (db *DB) ReplaceRankings(ctx context.Context, cohortID int64, strategy string, results []models.RankingResult) error {
	return db.writeTx(ctx, "replace_rankings", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ranking_results WHERE cohort_id = ? AND strategy = ?`, cohortID, strategy); err != nil {
			return fmt.Errorf("failed to clear rankings: %w", err)
		}
		if len(results) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ranking_results (cohort_id, strategy, film_id, score, rank, params, detail, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare ranking insert: %w", err)
		}
		defer closeWithLog(stmt, "statement")

		for i := range results {
			r := &results[i]
			if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
				return fmt.Errorf("film %d score %v: %w", r.FilmID, r.Score, ErrInvalidScore)
			}
			params, err := json.Marshal(r.Params)
			if err != nil {
				return fmt.Errorf("failed to encode params: %w", err)
			}
			detail, err := json.Marshal(r.Detail)
			if err != nil {
				return fmt.Errorf("failed to encode detail: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				cohortID, strategy, r.FilmID, r.Score, r.Rank, string(params), string(detail), r.ComputedAt.UTC()); err != nil {
				return fmt.Errorf("failed to insert ranking for film %d: %w", r.FilmID, err)
			}
		}
		return nil
	})
}

// ListRankings returns a ranking snapshot in rank order. limit 0 returns all rows.
func (db *DB) ListRankings(ctx context.Context, cohortID int64, strategy string, limit int) ([]models.RankingResult, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	sqlText := `
		SELECT r.cohort_id, r.strategy, r.film_id, r.score, r.rank, r.params, r.detail, r.computed_at,
			f.slug, f.title
		FROM ranking_results r
		JOIN films f ON f.id = r.film_id
		WHERE r.cohort_id = ? AND r.strategy = ?
		ORDER BY r.rank, r.film_id`
	args := []interface{}{cohortID, strategy}
	if limit > 0 {
		sqlText += ` LIMIT ?`
		args = append(args, limit)
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		observe("list_rankings", start, err)
		return nil, fmt.Errorf("failed to list rankings: %w", err)
	}
	defer closeWithLog(rows, "rows")

	results := []models.RankingResult{}
	for rows.Next() {
		var (
			r              models.RankingResult
			params, detail string
		)
		if err := rows.Scan(&r.CohortID, &r.Strategy, &r.FilmID, &r.Score, &r.Rank, &params, &detail,
			&r.ComputedAt, &r.Slug, &r.Title); err != nil {
			return nil, fmt.Errorf("failed to scan ranking: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &r.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode detail: %w", err)
		}
		r.ComputedAt = r.ComputedAt.UTC()
		results = append(results, r)
	}
	err = rows.Err()
	observe("list_rankings", start, err)
	return results, err
}
