// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package database

import (
	"context"
	"fmt"
)

// The schema avoids FOREIGN KEY constraints: DuckDB rejects UPDATEs on rows
// referenced by a foreign key, and accounts/films are updated in place.
// Referential integrity is kept by the write paths instead (films and
// accounts are resolved inside the same transaction that references them).
//
// Derived tables carry no primary key. They are only ever replaced by a
// delete-then-insert inside one transaction. Secondary indexes never cover
// a column that is updated in place.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS accounts_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS films_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS cohorts_id_seq START 1`,
	`CREATE SEQUENCE IF NOT EXISTS sync_runs_id_seq START 1`,

	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGINT PRIMARY KEY DEFAULT nextval('accounts_id_seq'),
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_full_sync_at TIMESTAMP,
		last_incremental_sync_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS films (
		id BIGINT PRIMARY KEY DEFAULT nextval('films_id_seq'),
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		release_year INTEGER,
		poster_url TEXT NOT NULL DEFAULT '',
		genres TEXT NOT NULL DEFAULT '[]',
		people TEXT NOT NULL DEFAULT '[]',
		enrichment_status TEXT NOT NULL DEFAULT 'pending',
		enriched_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ratings (
		account_id BIGINT NOT NULL,
		film_id BIGINT NOT NULL,
		rating DOUBLE,
		liked BOOLEAN NOT NULL DEFAULT FALSE,
		favorite BOOLEAN NOT NULL DEFAULT FALSE,
		observed_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, film_id)
	)`,

	`CREATE TABLE IF NOT EXISTS cohorts (
		id BIGINT PRIMARY KEY DEFAULT nextval('cohorts_id_seq'),
		name TEXT NOT NULL,
		seed_account_id BIGINT NOT NULL,
		depth INTEGER NOT NULL,
		include_seed BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		events_changed_at TIMESTAMP,
		stats_computed_at TIMESTAMP
	)`,
	`ALTER TABLE cohorts ADD COLUMN IF NOT EXISTS events_changed_at TIMESTAMP`,
	`ALTER TABLE cohorts ADD COLUMN IF NOT EXISTS stats_computed_at TIMESTAMP`,

	`CREATE TABLE IF NOT EXISTS cohort_members (
		cohort_id BIGINT NOT NULL,
		account_id BIGINT NOT NULL,
		depth INTEGER NOT NULL,
		added_at TIMESTAMP NOT NULL,
		PRIMARY KEY (cohort_id, account_id)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_runs (
		id BIGINT PRIMARY KEY DEFAULT nextval('sync_runs_id_seq'),
		cohort_id BIGINT NOT NULL,
		mode TEXT NOT NULL,
		force_full BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS sync_run_members (
		run_id BIGINT NOT NULL,
		account_id BIGINT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		pages_fetched INTEGER NOT NULL DEFAULT 0,
		events_written INTEGER NOT NULL DEFAULT 0,
		last_page INTEGER NOT NULL DEFAULT 0,
		error_class TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		PRIMARY KEY (run_id, account_id)
	)`,

	`CREATE TABLE IF NOT EXISTS member_checkpoints (
		account_id BIGINT PRIMARY KEY,
		mode TEXT NOT NULL,
		last_page INTEGER NOT NULL DEFAULT 0,
		last_cursor TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_class TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS cohort_film_stats (
		cohort_id BIGINT NOT NULL,
		film_id BIGINT NOT NULL,
		watchers INTEGER NOT NULL,
		rated_count INTEGER NOT NULL,
		avg_rating DOUBLE,
		rating_variance DOUBLE,
		like_count INTEGER NOT NULL,
		favorite_count INTEGER NOT NULL,
		like_rate DOUBLE NOT NULL,
		favorite_rate DOUBLE NOT NULL,
		band_gte_4_5 INTEGER NOT NULL,
		band_4_0_4_5 INTEGER NOT NULL,
		band_3_5_4_0 INTEGER NOT NULL,
		band_3_0_3_5 INTEGER NOT NULL,
		band_2_5_3_0 INTEGER NOT NULL,
		band_lt_2_5 INTEGER NOT NULL,
		first_rating_at TIMESTAMP,
		last_rating_at TIMESTAMP,
		computed_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ranking_results (
		cohort_id BIGINT NOT NULL,
		strategy TEXT NOT NULL,
		film_id BIGINT NOT NULL,
		score DOUBLE NOT NULL,
		rank INTEGER NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		detail TEXT NOT NULL DEFAULT '{}',
		computed_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ranking_insights (
		cohort_id BIGINT NOT NULL,
		strategy TEXT NOT NULL,
		film_id BIGINT NOT NULL,
		timeframe_key TEXT NOT NULL,
		filters TEXT NOT NULL DEFAULT '{}',
		watchers INTEGER NOT NULL,
		avg_rating DOUBLE NOT NULL,
		watchers_percentile DOUBLE NOT NULL,
		rating_percentile DOUBLE NOT NULL,
		watchers_zscore DOUBLE NOT NULL,
		rating_zscore DOUBLE NOT NULL,
		bucket TEXT NOT NULL,
		cluster TEXT NOT NULL,
		slice_position INTEGER NOT NULL,
		computed_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_ratings_film ON ratings(film_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cohort_members_account ON cohort_members(account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_cohort ON sync_runs(cohort_id)`,
	`CREATE INDEX IF NOT EXISTS idx_cohort_film_stats_cohort ON cohort_film_stats(cohort_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ranking_results_key ON ranking_results(cohort_id, strategy)`,
	`CREATE INDEX IF NOT EXISTS idx_ranking_insights_key ON ranking_insights(cohort_id, strategy, timeframe_key)`,
}

// createTables applies the schema. Every statement is idempotent.
func (db *DB) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
