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

	"github.com/tomtom215/cinecohort/internal/models"
)

const runColumns = `id, cohort_id, mode, force_full, status, error, created_at, started_at, finished_at`

func scanRun(row rowScanner) (*models.SyncRun, error) {
	var (
		r                 models.SyncRun
		mode, status      string
		started, finished sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.CohortID, &mode, &r.ForceFull, &status, &r.Error, &r.CreatedAt, &started, &finished); err != nil {
		return nil, err
	}
	r.Mode = models.SyncMode(mode)
	r.Status = models.RunStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.StartedAt = nullTimePtr(started)
	r.FinishedAt = nullTimePtr(finished)
	return &r, nil
}

// CreateRun inserts a pending run for a cohort. It fails with ErrConflict
// when the cohort already has a pending or running run, and with
// ErrNotFound when the cohort does not exist; in both cases no row is written.
func (db *DB) CreateRun(ctx context.Context, cohortID int64, mode models.SyncMode, forceFull bool) (*models.SyncRun, error) {
	var id int64
	err := db.writeTx(ctx, "create_run", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cohorts WHERE id = ?`, cohortID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check cohort %d: %w", cohortID, err)
		}
		if exists == 0 {
			return fmt.Errorf("cohort %d: %w", cohortID, ErrNotFound)
		}

		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sync_runs WHERE cohort_id = ? AND status IN (?, ?)`,
			cohortID, string(models.RunStatusPending), string(models.RunStatusRunning)).Scan(&active); err != nil {
			return fmt.Errorf("failed to check active runs: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("cohort %d already has an active run: %w", cohortID, ErrConflict)
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO sync_runs (cohort_id, mode, force_full, status, created_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id`,
			cohortID, string(mode), forceFull, string(models.RunStatusPending), db.now()).Scan(&id); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db.GetRun(ctx, id)
}

// StartRun moves a pending run to running and records its member rows.
func (db *DB) StartRun(ctx context.Context, runID int64, members []models.RunMember) error {
	return db.writeTx(ctx, "start_run", func(tx *sql.Tx) error {
		now := db.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE sync_runs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			string(models.RunStatusRunning), now, runID, string(models.RunStatusPending))
		if err != nil {
			return fmt.Errorf("failed to start run %d: %w", runID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("pending run %d: %w", runID, ErrNotFound)
		}
		for _, m := range members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sync_run_members (run_id, account_id, mode, status)
				VALUES (?, ?, ?, ?)`,
				runID, m.AccountID, string(m.Mode), string(models.MemberQueued)); err != nil {
				return fmt.Errorf("failed to queue member %d: %w", m.AccountID, err)
			}
		}
		return nil
	})
}

// FinishRun records a run's terminal status.
func (db *DB) FinishRun(ctx context.Context, runID int64, status models.RunStatus, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	return db.writeTx(ctx, "finish_run", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sync_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
			string(status), errMsg, db.now(), runID)
		if err != nil {
			return fmt.Errorf("failed to finish run %d: %w", runID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %d: %w", runID, ErrNotFound)
		}
		return nil
	})
}

// StartRunMember marks a queued member as in progress.
func (db *DB) StartRunMember(ctx context.Context, runID, accountID int64) error {
	return db.writeTx(ctx, "start_run_member", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE sync_run_members SET status = ?, started_at = ? WHERE run_id = ? AND account_id = ?`,
			string(models.MemberInProgress), db.now(), runID, accountID)
		if err != nil {
			return fmt.Errorf("failed to start member %d: %w", accountID, err)
		}
		return nil
	})
}

// UpdateRunMemberProgress records page and write counters for a running member.
func (db *DB) UpdateRunMemberProgress(ctx context.Context, runID, accountID int64, pages, written, lastPage int) error {
	return db.writeTx(ctx, "update_run_member", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sync_run_members SET pages_fetched = ?, events_written = ?, last_page = ?
			WHERE run_id = ? AND account_id = ?`,
			pages, written, lastPage, runID, accountID)
		if err != nil {
			return fmt.Errorf("failed to update member %d: %w", accountID, err)
		}
		return nil
	})
}

// FinishRunMember records a member's terminal status and telemetry.
func (db *DB) FinishRunMember(ctx context.Context, m *models.RunMember) error {
	return db.writeTx(ctx, "finish_run_member", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sync_run_members SET
				mode = ?, status = ?, outcome = ?, pages_fetched = ?, events_written = ?,
				last_page = ?, error_class = ?, error = ?, finished_at = ?
			WHERE run_id = ? AND account_id = ?`,
			string(m.Mode), string(m.Status), string(m.Outcome), m.PagesFetched, m.EventsWritten,
			m.LastPage, m.ErrorClass, m.Error, db.now(), m.RunID, m.AccountID)
		if err != nil {
			return fmt.Errorf("failed to finish member %d: %w", m.AccountID, err)
		}
		return nil
	})
}

// GetRun returns the run with the given ID.
func (db *DB) GetRun(ctx context.Context, id int64) (*models.SyncRun, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	r, err := scanRun(db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return r, nil
}

// ListRuns returns a cohort's most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, cohortID int64, limit int) ([]models.SyncRun, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE cohort_id = ? ORDER BY id DESC LIMIT ?`, cohortID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer closeWithLog(rows, "rows")

	runs := []models.SyncRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunProgress returns a run with its member counts and per-member detail.
func (db *DB) GetRunProgress(ctx context.Context, runID int64) (*models.RunProgress, error) {
	run, err := db.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT m.run_id, m.account_id, a.username, m.mode, m.status, m.outcome, m.pages_fetched,
			m.events_written, m.last_page, m.error_class, m.error, m.started_at, m.finished_at
		FROM sync_run_members m
		JOIN accounts a ON a.id = m.account_id
		WHERE m.run_id = ?
		ORDER BY a.username`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run members: %w", err)
	}
	defer closeWithLog(rows, "rows")

	progress := &models.RunProgress{Run: *run, Members: []models.RunMember{}}
	for rows.Next() {
		var (
			m                     models.RunMember
			mode, status, outcome string
			started, finished     sql.NullTime
		)
		if err := rows.Scan(&m.RunID, &m.AccountID, &m.Username, &mode, &status, &outcome, &m.PagesFetched,
			&m.EventsWritten, &m.LastPage, &m.ErrorClass, &m.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run member: %w", err)
		}
		m.Mode = models.SyncMode(mode)
		m.Status = models.MemberStatus(status)
		m.Outcome = models.Outcome(outcome)
		m.StartedAt = nullTimePtr(started)
		m.FinishedAt = nullTimePtr(finished)
		progress.Counts.Add(m.Status)
		progress.Members = append(progress.Members, m)
	}
	return progress, rows.Err()
}

// RecoverInterruptedRuns closes runs left pending or running by a previous
// process. Unfinished members are marked cancelled; their checkpoints are
// untouched, so the next run resumes from the last committed page.
func (db *DB) RecoverInterruptedRuns(ctx context.Context) (int, error) {
	recovered := 0
	err := db.writeTx(ctx, "recover_runs", func(tx *sql.Tx) error {
		recovered = 0
		now := db.now()

		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM sync_runs WHERE status IN (?, ?)`,
			string(models.RunStatusPending), string(models.RunStatusRunning))
		if err != nil {
			return fmt.Errorf("failed to find interrupted runs: %w", err)
		}
		var runs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				closeQuietly(rows)
				return fmt.Errorf("failed to scan run: %w", err)
			}
			runs = append(runs, id)
		}
		if err := rows.Err(); err != nil {
			closeQuietly(rows)
			return err
		}
		closeQuietly(rows)

		// An interrupted run did start, so it closes partial whatever its
		// members managed; failed is reserved for runs that never started.
		for _, id := range runs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE sync_run_members SET status = ?, outcome = ?, finished_at = ?
				WHERE run_id = ? AND status IN (?, ?)`,
				string(models.MemberCancelled), string(models.OutcomeCancelled), now,
				id, string(models.MemberQueued), string(models.MemberInProgress)); err != nil {
				return fmt.Errorf("failed to cancel members of run %d: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE sync_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
				string(models.RunStatusPartial), "interrupted by process restart", now, id); err != nil {
				return fmt.Errorf("failed to close run %d: %w", id, err)
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}
