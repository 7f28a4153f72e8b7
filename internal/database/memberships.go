// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/tomtom215/cinecohort/internal/models"
)

// ListMembers returns a cohort's members ordered by depth, then username.
func (db *DB) ListMembers(ctx context.Context, cohortID int64) ([]models.CohortMember, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT m.cohort_id, m.account_id, a.username, m.depth, m.added_at
		FROM cohort_members m
		JOIN accounts a ON a.id = m.account_id
		WHERE m.cohort_id = ?
		ORDER BY m.depth, a.username`, cohortID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of cohort %d: %w", cohortID, err)
	}
	defer closeWithLog(rows, "rows")

	members := []models.CohortMember{}
	for rows.Next() {
		var m models.CohortMember
		if err := rows.Scan(&m.CohortID, &m.AccountID, &m.Username, &m.Depth, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.AddedAt = m.AddedAt.UTC()
		members = append(members, m)
	}
	return members, rows.Err()
}

// ApplyMembership replaces a cohort's membership with target by diffing
// against the stored rows: additions are inserted, removals deleted and
// retained members keep their row (with the depth updated if it changed).
// Running it twice with the same target is a no-op the second time.
func (db *DB) ApplyMembership(ctx context.Context, cohortID int64, target []models.DiscoveredMember) (*models.MembershipDiff, error) {
	diff := &models.MembershipDiff{Added: []string{}, Removed: []string{}}

	err := db.writeTx(ctx, "apply_membership", func(tx *sql.Tx) error {
		*diff = models.MembershipDiff{Added: []string{}, Removed: []string{}}
		now := db.now()

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cohorts WHERE id = ?`, cohortID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check cohort %d: %w", cohortID, err)
		}
		if exists == 0 {
			return fmt.Errorf("cohort %d: %w", cohortID, ErrNotFound)
		}

		type current struct {
			username string
			depth    int
		}
		stored := make(map[int64]current)
		rows, err := tx.QueryContext(ctx, `
			SELECT m.account_id, a.username, m.depth
			FROM cohort_members m JOIN accounts a ON a.id = m.account_id
			WHERE m.cohort_id = ?`, cohortID)
		if err != nil {
			return fmt.Errorf("failed to load members: %w", err)
		}
		for rows.Next() {
			var (
				id int64
				c  current
			)
			if err := rows.Scan(&id, &c.username, &c.depth); err != nil {
				closeQuietly(rows)
				return fmt.Errorf("failed to scan member: %w", err)
			}
			stored[id] = c
		}
		if err := rows.Err(); err != nil {
			closeQuietly(rows)
			return err
		}
		closeQuietly(rows)

		seen := make(map[int64]bool, len(target))
		for _, m := range target {
			id, err := ensureAccount(ctx, tx, m.Account, now)
			if err != nil {
				return err
			}
			if seen[id] {
				continue
			}
			seen[id] = true

			prev, ok := stored[id]
			switch {
			case !ok:
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO cohort_members (cohort_id, account_id, depth, added_at)
					VALUES (?, ?, ?, ?)`, cohortID, id, m.Depth, now); err != nil {
					return fmt.Errorf("failed to add member %s: %w", m.Account.Username, err)
				}
				diff.Added = append(diff.Added, NormalizeUsername(m.Account.Username))
			case prev.depth != m.Depth:
				if _, err := tx.ExecContext(ctx,
					`UPDATE cohort_members SET depth = ? WHERE cohort_id = ? AND account_id = ?`,
					m.Depth, cohortID, id); err != nil {
					return fmt.Errorf("failed to update member %s: %w", m.Account.Username, err)
				}
				diff.Retained++
				diff.Redepthed++
			default:
				diff.Retained++
			}
		}

		for id, c := range stored {
			if seen[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cohort_members WHERE cohort_id = ? AND account_id = ?`, cohortID, id); err != nil {
				return fmt.Errorf("failed to remove member %s: %w", c.username, err)
			}
			diff.Removed = append(diff.Removed, c.username)
		}

		if len(diff.Added) > 0 || len(diff.Removed) > 0 {
			// The member set feeding the aggregates changed.
			if _, err := tx.ExecContext(ctx,
				`UPDATE cohorts SET updated_at = ?, events_changed_at = ? WHERE id = ?`, now, now, cohortID); err != nil {
				return fmt.Errorf("failed to touch cohort %d: %w", cohortID, err)
			}
		} else if diff.Redepthed > 0 {
			if _, err := tx.ExecContext(ctx, `UPDATE cohorts SET updated_at = ? WHERE id = ?`, now, cohortID); err != nil {
				return fmt.Errorf("failed to touch cohort %d: %w", cohortID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	return diff, nil
}
