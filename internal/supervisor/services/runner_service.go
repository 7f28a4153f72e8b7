// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package services

import (
	"context"
	"errors"
	"fmt"
)

// Runner is a component whose Run blocks until ctx is done. The command
// bus, the scheduler and the enrichment worker all have this shape.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService supervises a Runner under a fixed name.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService wraps runner.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// Serve implements suture.Service. A Runner that returns before ctx is done
// is reported as failed so suture restarts it.
func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s stopped unexpectedly", s.name)
	}
	return fmt.Errorf("%s failed: %w", s.name, err)
}

func (s *RunnerService) String() string {
	return s.name
}
