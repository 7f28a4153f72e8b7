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

func upsertCheckpoint(ctx context.Context, q querier, cp *models.MemberCheckpoint, now time.Time) error {
	cp.UpdatedAt = now
	if _, err := q.ExecContext(ctx, `
		INSERT INTO member_checkpoints (account_id, mode, last_page, last_cursor, status, error_class, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			mode = excluded.mode,
			last_page = excluded.last_page,
			last_cursor = excluded.last_cursor,
			status = excluded.status,
			error_class = excluded.error_class,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		cp.AccountID, string(cp.Mode), cp.LastPage, cp.LastCursor, cp.Status,
		cp.ErrorClass, cp.LastError, now); err != nil {
		return fmt.Errorf("failed to save checkpoint for account %d: %w", cp.AccountID, err)
	}
	return nil
}

// SaveCheckpoint writes a checkpoint without committing any events. It is
// used for terminal status changes (complete, error) after the last page
// commit.
func (db *DB) SaveCheckpoint(ctx context.Context, cp *models.MemberCheckpoint) error {
	return db.writeTx(ctx, "save_checkpoint", func(tx *sql.Tx) error {
		return upsertCheckpoint(ctx, tx, cp, db.now())
	})
}

// GetCheckpoint returns the checkpoint for an account, or ErrNotFound.
func (db *DB) GetCheckpoint(ctx context.Context, accountID int64) (*models.MemberCheckpoint, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var (
		cp   models.MemberCheckpoint
		mode string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT account_id, mode, last_page, last_cursor, status, error_class, last_error, updated_at
		FROM member_checkpoints WHERE account_id = ?`, accountID).
		Scan(&cp.AccountID, &mode, &cp.LastPage, &cp.LastCursor, &cp.Status, &cp.ErrorClass, &cp.LastError, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for account %d: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for account %d: %w", accountID, err)
	}
	cp.Mode = models.SyncMode(mode)
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return &cp, nil
}
