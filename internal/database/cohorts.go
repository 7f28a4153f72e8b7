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

	"github.com/tomtom215/cinecohort/internal/models"
)

const cohortSelect = `
	SELECT c.id, c.name, c.seed_account_id, a.username, c.depth, c.include_seed,
		(SELECT COUNT(*) FROM cohort_members m WHERE m.cohort_id = c.id) AS member_count,
		c.created_at, c.updated_at
	FROM cohorts c
	JOIN accounts a ON a.id = c.seed_account_id`

func scanCohort(row rowScanner) (*models.Cohort, error) {
	var c models.Cohort
	if err := row.Scan(&c.ID, &c.Name, &c.SeedAccountID, &c.SeedUsername, &c.Depth, &c.IncludeSeed,
		&c.MemberCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// CreateCohort creates a cohort around a seed account. The seed account is
// created on first reference. Membership is empty until the first refresh.
func (db *DB) CreateCohort(ctx context.Context, name string, seed models.AccountRef, depth int, includeSeed bool) (*models.Cohort, error) {
	if depth < 0 {
		return nil, fmt.Errorf("depth must be >= 0, got %d", depth)
	}
	var id int64
	err := db.writeTx(ctx, "create_cohort", func(tx *sql.Tx) error {
		now := db.now()
		seedID, err := ensureAccount(ctx, tx, seed, now)
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO cohorts (name, seed_account_id, depth, include_seed, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`,
			name, seedID, depth, includeSeed, now, now).Scan(&id); err != nil {
			return fmt.Errorf("failed to insert cohort: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db.GetCohort(ctx, id)
}

// GetCohort returns the cohort with the given ID.
func (db *DB) GetCohort(ctx context.Context, id int64) (*models.Cohort, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	c, err := scanCohort(db.conn.QueryRowContext(ctx, cohortSelect+` WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cohort %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cohort %d: %w", id, err)
	}
	return c, nil
}

// ListCohorts returns every cohort ordered by ID.
func (db *DB) ListCohorts(ctx context.Context) ([]models.Cohort, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, cohortSelect+` ORDER BY c.id`)
	if err != nil {
		observe("list_cohorts", start, err)
		return nil, fmt.Errorf("failed to list cohorts: %w", err)
	}
	defer closeWithLog(rows, "rows")

	cohorts := []models.Cohort{}
	for rows.Next() {
		c, err := scanCohort(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cohort: %w", err)
		}
		cohorts = append(cohorts, *c)
	}
	err = rows.Err()
	observe("list_cohorts", start, err)
	return cohorts, err
}

// RenameCohort changes a cohort's display name.
func (db *DB) RenameCohort(ctx context.Context, id int64, name string) (*models.Cohort, error) {
	err := db.writeTx(ctx, "rename_cohort", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE cohorts SET name = ?, updated_at = ? WHERE id = ?`, name, db.now(), id)
		if err != nil {
			return fmt.Errorf("failed to rename cohort %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("cohort %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db.GetCohort(ctx, id)
}

// DeleteCohort removes a cohort with its memberships, run history and every
// derived row. Accounts, films and rating events are kept.
func (db *DB) DeleteCohort(ctx context.Context, id int64) error {
	return db.writeTx(ctx, "delete_cohort", func(tx *sql.Tx) error {
		var running int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sync_runs WHERE cohort_id = ? AND status IN (?, ?)`,
			id, string(models.RunStatusPending), string(models.RunStatusRunning)).Scan(&running); err != nil {
			return fmt.Errorf("failed to check active runs: %w", err)
		}
		if running > 0 {
			return fmt.Errorf("cohort %d has an active sync run: %w", id, ErrConflict)
		}

		statements := []string{
			`DELETE FROM ranking_insights WHERE cohort_id = ?`,
			`DELETE FROM ranking_results WHERE cohort_id = ?`,
			`DELETE FROM cohort_film_stats WHERE cohort_id = ?`,
			`DELETE FROM sync_run_members WHERE run_id IN (SELECT id FROM sync_runs WHERE cohort_id = ?)`,
			`DELETE FROM sync_runs WHERE cohort_id = ?`,
			`DELETE FROM cohort_members WHERE cohort_id = ?`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to delete cohort %d: %w", id, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM cohorts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete cohort %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("cohort %d: %w", id, ErrNotFound)
		}
		return nil
	})
}
