// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted means every attempt failed with a transient error.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrNonRetryable means the response can never succeed by retrying
	// (404 and other client errors).
	ErrNonRetryable = errors.New("non-retryable response")

	// ErrCircuitOpen means the host breaker rejected the request without
	// sending it.
	ErrCircuitOpen = errors.New("circuit open")
)

// Error describes a terminal fetch failure.
type Error struct {
	URL      string
	Status   int // 0 when no response was received
	Attempts int
	Kind     error // one of the sentinels above
	Cause    error // last underlying error, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Kind, e.Attempts)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// StatusError is the cause recorded for an unsuccessful HTTP status.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// IsNotFound reports whether err is a terminal 404.
func IsNotFound(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Status == 404
}
