// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package models

import "time"

// SyncMode selects how far the engine paginates a member's activity.
type SyncMode string

const (
	// SyncModeFull paginates until the source reports no further pages.
	SyncModeFull SyncMode = "full"

	// SyncModeIncremental stops at the first entry already stored verbatim.
	SyncModeIncremental SyncMode = "incremental"
)

// Valid reports whether m is a known mode.
func (m SyncMode) Valid() bool {
	return m == SyncModeFull || m == SyncModeIncremental
}

// RunStatus is the lifecycle state of a SyncRun.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusPartial
}

// MemberStatus is the state of one member within a run.
type MemberStatus string

const (
	MemberQueued     MemberStatus = "queued"
	MemberInProgress MemberStatus = "in_progress"
	MemberSucceeded  MemberStatus = "succeeded"
	MemberFailed     MemberStatus = "failed"
	MemberCancelled  MemberStatus = "cancelled"
)

// Outcome is how a member's pagination ended.
type Outcome string

const (
	OutcomeStopSeen      Outcome = "stop-seen"
	OutcomeStopExhausted Outcome = "stop-exhausted"
	OutcomeError         Outcome = "error"
	OutcomeCancelled     Outcome = "cancelled"
)

// Error classes recorded against failed members and checkpoints.
const (
	ErrorClassTransient  = "transient"
	ErrorClassStructural = "structural"
	ErrorClassTerminal   = "terminal"
	ErrorClassStorage    = "storage"
)

// SyncRun is one attempt to synchronize a cohort or a batch of members.
type SyncRun struct {
	ID         int64      `json:"id"`
	CohortID   int64      `json:"cohort_id"`
	Mode       SyncMode   `json:"mode"`
	ForceFull  bool       `json:"force_full"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunMember is the per-member telemetry row of a SyncRun.
type RunMember struct {
	RunID         int64        `json:"run_id"`
	AccountID     int64        `json:"account_id"`
	Username      string       `json:"username"`
	Mode          SyncMode     `json:"mode"`
	Status        MemberStatus `json:"status"`
	Outcome       Outcome      `json:"outcome,omitempty"`
	PagesFetched  int          `json:"pages_fetched"`
	EventsWritten int          `json:"events_written"`
	LastPage      int          `json:"last_page"`
	ErrorClass    string       `json:"error_class,omitempty"`
	Error         string       `json:"error,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
}

// RunCounts are member counts by status for progress reporting.
type RunCounts struct {
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// Add increments the counter for status.
func (c *RunCounts) Add(status MemberStatus) {
	c.Total++
	switch status {
	case MemberQueued:
		c.Queued++
	case MemberInProgress:
		c.InProgress++
	case MemberSucceeded:
		c.Succeeded++
	case MemberFailed:
		c.Failed++
	case MemberCancelled:
		c.Cancelled++
	}
}

// RunProgress is the progress view of a run for external observers.
type RunProgress struct {
	Run     SyncRun     `json:"run"`
	Counts  RunCounts   `json:"counts"`
	Members []RunMember `json:"members"`
}

// Checkpoint statuses.
const (
	CheckpointInProgress = "in_progress"
	CheckpointComplete   = "complete"
	CheckpointError      = "error"
)

// MemberCheckpoint is the last successfully committed pagination position
// for one account in one mode.
type MemberCheckpoint struct {
	AccountID  int64     `json:"account_id"`
	Mode       SyncMode  `json:"mode"`
	LastPage   int       `json:"last_page"`
	LastCursor string    `json:"last_cursor,omitempty"`
	Status     string    `json:"status"`
	ErrorClass string    `json:"error_class,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SyncRequest is the command payload for requesting a cohort sync.
type SyncRequest struct {
	Mode      SyncMode `json:"mode,omitempty" validate:"omitempty,oneof=full incremental"`
	ForceFull bool     `json:"force_full,omitempty"`
}
