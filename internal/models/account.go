// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package models

import "time"

// Account is an external user identity on the source platform.
//
// Accounts are created on first reference (as a cohort seed or a discovered
// follow) and are never deleted, only deactivated.
type Account struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active"`

	// LastFullSyncAt is stamped when a full sync of this account succeeds.
	LastFullSyncAt *time.Time `json:"last_full_sync_at,omitempty"`

	// LastIncrementalSyncAt is stamped when an incremental sync succeeds.
	LastIncrementalSyncAt *time.Time `json:"last_incremental_sync_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountRef is an account reference as reported by the source platform,
// before it has been resolved to a stored Account.
type AccountRef struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// NeverSynced reports whether the account has never completed a full sync.
// New members always run a full sync.
func (a *Account) NeverSynced() bool {
	return a.LastFullSyncAt == nil
}
