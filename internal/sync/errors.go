// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package sync

import (
	"errors"

	"github.com/tomtom215/cinecohort/internal/fetch"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/source"
)

var (
	// ErrRunInProgress is returned when a cohort already has an active run.
	ErrRunInProgress = errors.New("sync run already in progress")

	// ErrCohortNotFound is returned when the requested cohort does not exist.
	// No run row is created.
	ErrCohortNotFound = errors.New("cohort not found")

	// ErrRunNotActive is returned when cancelling a run this process is not
	// executing.
	ErrRunNotActive = errors.New("run is not active")
)

// storageError marks a failure of the event store rather than the source.
type storageError struct {
	err error
}

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

// ClassifyError maps a member failure onto the recorded error classes.
func ClassifyError(err error) string {
	var se *storageError
	switch {
	case errors.As(err, &se):
		return models.ErrorClassStorage
	case errors.Is(err, source.ErrParse), errors.Is(err, fetch.ErrNonRetryable):
		return models.ErrorClassStructural
	case errors.Is(err, fetch.ErrRetriesExhausted), errors.Is(err, fetch.ErrCircuitOpen):
		return models.ErrorClassTerminal
	default:
		return models.ErrorClassTransient
	}
}
