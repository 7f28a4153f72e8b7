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

	"github.com/tomtom215/cinecohort/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const accountColumns = `id, username, display_name, active, last_full_sync_at,
	last_incremental_sync_at, created_at, updated_at`

// NormalizeUsername canonicalizes a source-platform username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a           models.Account
		full, incr  sql.NullTime
		displayName sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Username, &displayName, &a.Active, &full, &incr, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.DisplayName = displayName.String
	a.LastFullSyncAt = nullTimePtr(full)
	a.LastIncrementalSyncAt = nullTimePtr(incr)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// ensureAccount resolves ref to an account ID, creating the row on first
// reference.
func ensureAccount(ctx context.Context, q querier, ref models.AccountRef, now time.Time) (int64, error) {
	username := NormalizeUsername(ref.Username)
	if username == "" {
		return 0, fmt.Errorf("empty username")
	}

	var (
		id          int64
		displayName string
	)
	err := q.QueryRowContext(ctx, `SELECT id, display_name FROM accounts WHERE username = ?`, username).Scan(&id, &displayName)
	switch {
	case err == nil:
		if ref.DisplayName != "" && ref.DisplayName != displayName {
			if _, err := q.ExecContext(ctx,
				`UPDATE accounts SET display_name = ?, updated_at = ? WHERE id = ?`,
				ref.DisplayName, now, id); err != nil {
				return 0, fmt.Errorf("failed to update account %s: %w", username, err)
			}
		}
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("failed to look up account %s: %w", username, err)
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO accounts (username, display_name, active, created_at, updated_at)
		VALUES (?, ?, TRUE, ?, ?)
		ON CONFLICT (username) DO NOTHING`,
		username, ref.DisplayName, now, now); err != nil {
		return 0, fmt.Errorf("failed to insert account %s: %w", username, err)
	}

	if err := q.QueryRowContext(ctx, `SELECT id FROM accounts WHERE username = ?`, username).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read back account %s: %w", username, err)
	}
	return id, nil
}

// EnsureAccount returns the stored account for ref, creating it if needed.
func (db *DB) EnsureAccount(ctx context.Context, ref models.AccountRef) (*models.Account, error) {
	var id int64
	err := db.writeTx(ctx, "ensure_account", func(tx *sql.Tx) error {
		var err error
		id, err = ensureAccount(ctx, tx, ref, db.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return db.GetAccount(ctx, id)
}

// GetAccount returns the account with the given ID.
func (db *DB) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	a, err := scanAccount(db.conn.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return a, nil
}

// GetAccountByUsername returns the account with the given username.
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	username = NormalizeUsername(username)
	a, err := scanAccount(db.conn.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %q: %w", username, err)
	}
	return a, nil
}

// MarkAccountSynced stamps the last sync timestamp for mode.
func (db *DB) MarkAccountSynced(ctx context.Context, accountID int64, mode models.SyncMode, at time.Time) error {
	column := "last_incremental_sync_at"
	if mode == models.SyncModeFull {
		column = "last_full_sync_at"
	}
	return db.writeTx(ctx, "mark_account_synced", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET `+column+` = ?, updated_at = ? WHERE id = ?`,
			at.UTC(), db.now(), accountID)
		if err != nil {
			return fmt.Errorf("failed to mark account %d synced: %w", accountID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}
		return nil
	})
}

// SetAccountActive activates or deactivates an account. Accounts are never deleted.
func (db *DB) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	return db.writeTx(ctx, "set_account_active", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET active = ?, updated_at = ? WHERE id = ?`,
			active, db.now(), accountID)
		if err != nil {
			return fmt.Errorf("failed to update account %d: %w", accountID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}
		return nil
	})
}
