// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/cinecohort/internal/logging"
)

// RunCoordinator is the lifecycle surface of the sync run coordinator.
type RunCoordinator interface {
	// Recover closes runs left active by a previous process.
	Recover(ctx context.Context) (int, error)
	// Shutdown cancels active runs and waits for their members to stop.
	Shutdown()
}

// CoordinatorService supervises the run coordinator. Each start recovers
// interrupted runs; cancellation stops every active run at a page boundary
// before Serve returns.
type CoordinatorService struct {
	coordinator RunCoordinator
	name        string
}

// NewCoordinatorService wraps the coordinator.
func NewCoordinatorService(c RunCoordinator) *CoordinatorService {
	return &CoordinatorService{coordinator: c, name: "run-coordinator"}
}

// Serve implements suture.Service.
func (s *CoordinatorService) Serve(ctx context.Context) error {
	recovered, err := s.coordinator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	if recovered > 0 {
		logging.Info().Int("runs", recovered).Msg("Closed runs interrupted by a previous shutdown")
	}

	<-ctx.Done()
	s.coordinator.Shutdown()
	return ctx.Err()
}

func (s *CoordinatorService) String() string {
	return s.name
}
