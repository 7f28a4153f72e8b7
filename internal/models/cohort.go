// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package models

import "time"

// Cohort is a named grouping of accounts discovered from a seed account.
type Cohort struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	SeedAccountID int64  `json:"seed_account_id"`
	SeedUsername  string `json:"seed_username"`

	// Depth is the maximum follow-graph distance from the seed.
	Depth int `json:"depth"`

	// IncludeSeed adds the seed account itself as a depth-0 member.
	IncludeSeed bool `json:"include_seed"`

	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CohortMember is one (cohort, account) membership with the follow-graph
// distance at which the account was discovered.
type CohortMember struct {
	CohortID  int64     `json:"cohort_id"`
	AccountID int64     `json:"account_id"`
	Username  string    `json:"username"`
	Depth     int       `json:"depth"`
	AddedAt   time.Time `json:"added_at"`
}

// MembershipDiff summarizes a membership refresh.
type MembershipDiff struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Retained  int      `json:"retained"`
	Redepthed int      `json:"redepthed"`
}

// CreateCohortRequest is the command payload for creating a cohort.
type CreateCohortRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=200"`
	SeedUsername string `json:"seed_username" validate:"required,username"`
	Depth        *int   `json:"depth,omitempty" validate:"omitempty,min=0,max=3"`
	IncludeSeed  *bool  `json:"include_seed,omitempty"`
}

// UpdateCohortRequest is the command payload for renaming a cohort.
type UpdateCohortRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// DiscoveredMember is one account found by the follow-graph crawl, with the
// graph distance from the seed at which it was first reached.
type DiscoveredMember struct {
	Account AccountRef `json:"account"`
	Depth   int        `json:"depth"`
}
