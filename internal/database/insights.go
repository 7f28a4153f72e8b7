// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cinecohort/internal/models"
)

// ReplaceInsights stores a computed slice under its timeframe key,
// replacing any slice previously stored under the same key.
func (db *DB) ReplaceInsights(ctx context.Context, slice *models.InsightSlice) error {
	filters, err := json.Marshal(slice.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}

	return db.writeTx(ctx, "replace_insights", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ranking_insights WHERE cohort_id = ? AND strategy = ? AND timeframe_key = ?`,
			slice.CohortID, slice.Strategy, slice.TimeframeKey); err != nil {
			return fmt.Errorf("failed to clear insights: %w", err)
		}
		if len(slice.Insights) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ranking_insights (
				cohort_id, strategy, film_id, timeframe_key, filters, watchers, avg_rating,
				watchers_percentile, rating_percentile, watchers_zscore, rating_zscore,
				bucket, cluster, slice_position, computed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insight insert: %w", err)
		}
		defer closeWithLog(stmt, "statement")

		for i := range slice.Insights {
			in := &slice.Insights[i]
			if _, err := stmt.ExecContext(ctx,
				slice.CohortID, slice.Strategy, in.FilmID, slice.TimeframeKey, string(filters),
				in.Watchers, in.AvgRating, in.WatchersPercentile, in.RatingPercentile,
				in.WatchersZScore, in.RatingZScore, in.Bucket, in.Cluster, i, slice.ComputedAt.UTC()); err != nil {
				return fmt.Errorf("failed to insert insight for film %d: %w", in.FilmID, err)
			}
		}
		return nil
	})
}

// LoadInsights returns the slice stored under a timeframe key in its
// original order, or ErrNotFound when nothing is stored.
func (db *DB) LoadInsights(ctx context.Context, cohortID int64, strategy, timeframeKey string) (*models.InsightSlice, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT i.film_id, i.filters, i.watchers, i.avg_rating, i.watchers_percentile, i.rating_percentile,
			i.watchers_zscore, i.rating_zscore, i.bucket, i.cluster, i.computed_at, f.slug, f.title
		FROM ranking_insights i
		JOIN films f ON f.id = i.film_id
		WHERE i.cohort_id = ? AND i.strategy = ? AND i.timeframe_key = ?
		ORDER BY i.slice_position`, cohortID, strategy, timeframeKey)
	if err != nil {
		observe("load_insights", start, err)
		return nil, fmt.Errorf("failed to load insights: %w", err)
	}
	defer closeWithLog(rows, "rows")

	slice := &models.InsightSlice{
		CohortID:     cohortID,
		Strategy:     strategy,
		TimeframeKey: timeframeKey,
		Source:       models.InsightSourceStored,
		Insights:     []models.RankingInsight{},
	}
	for rows.Next() {
		var (
			in      models.RankingInsight
			filters string
		)
		if err := rows.Scan(&in.FilmID, &filters, &in.Watchers, &in.AvgRating, &in.WatchersPercentile,
			&in.RatingPercentile, &in.WatchersZScore, &in.RatingZScore, &in.Bucket, &in.Cluster,
			&in.ComputedAt, &in.Slug, &in.Title); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		if len(slice.Insights) == 0 {
			if err := json.Unmarshal([]byte(filters), &slice.Filters); err != nil {
				return nil, fmt.Errorf("failed to decode filters: %w", err)
			}
			slice.ComputedAt = in.ComputedAt.UTC()
		}
		in.CohortID = cohortID
		in.Strategy = strategy
		in.TimeframeKey = timeframeKey
		in.Filters = slice.Filters
		in.ComputedAt = in.ComputedAt.UTC()
		slice.Insights = append(slice.Insights, in)
	}
	err = rows.Err()
	observe("load_insights", start, err)
	if err != nil {
		return nil, err
	}
	if len(slice.Insights) == 0 {
		return nil, fmt.Errorf("insights %s/%s: %w", strategy, timeframeKey, ErrNotFound)
	}
	return slice, nil
}
