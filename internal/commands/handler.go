// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package commands

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/recompute"
	syncer "github.com/tomtom215/cinecohort/internal/sync"
)

// Runner starts and cancels sync runs.
type Runner interface {
	Start(ctx context.Context, cohortID int64, req models.SyncRequest) (*models.SyncRun, error)
	Cancel(runID int64) error
}

// MembershipRefresher recrawls a cohort's membership.
type MembershipRefresher interface {
	Refresh(ctx context.Context, cohortID int64) (*models.MembershipDiff, error)
}

// Recomputer rebuilds a cohort's derived snapshots.
type Recomputer interface {
	All(ctx context.Context, cohortID int64) (*recompute.Summary, error)
}

// Handler executes commands against the services.
type Handler struct {
	runner     Runner
	membership MembershipRefresher
	recompute  Recomputer
	onChange   func(cohortID int64)
}

// NewHandler creates a command handler. onChange, if set, is called after a
// command changed a cohort's derived data.
func NewHandler(runner Runner, membership MembershipRefresher, rec Recomputer, onChange func(cohortID int64)) *Handler {
	return &Handler{runner: runner, membership: membership, recompute: rec, onChange: onChange}
}

// rejected reports errors that a retry cannot fix.
func rejected(err error) bool {
	return errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, syncer.ErrRunInProgress) ||
		errors.Is(err, syncer.ErrCohortNotFound) ||
		errors.Is(err, syncer.ErrRunNotActive) ||
		errors.Is(err, recompute.ErrRecomputeInProgress) ||
		errors.Is(err, database.ErrNotFound)
}

// Handle is the watermill consumer for Topic.
func (h *Handler) Handle(msg *message.Message) error {
	ctx := msg.Context()
	if id := msg.Metadata.Get(metaCorrelationID); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	} else {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}

	cmd, err := decode(msg)
	typ := string(cmd.Type)
	if typ == "" {
		typ = msg.Metadata.Get(metaType)
	}
	if err == nil {
		err = h.Execute(ctx, cmd)
	}

	log := logging.Ctx(ctx)
	switch {
	case err == nil:
		metrics.CommandsHandled.WithLabelValues(typ, "ok").Inc()
		return nil
	case rejected(err):
		metrics.CommandsHandled.WithLabelValues(typ, "rejected").Inc()
		log.Warn().Err(err).Str("command_id", msg.UUID).Str("command_type", typ).Msg("Command rejected")
		return nil
	default:
		metrics.CommandsHandled.WithLabelValues(typ, "error").Inc()
		log.Error().Err(err).Str("command_id", msg.UUID).Str("command_type", typ).Msg("Command failed")
		return err
	}
}

// Execute runs cmd synchronously. Sync commands return once the run has
// started.
func (h *Handler) Execute(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	log := logging.Ctx(ctx).With().Str("command_type", string(cmd.Type)).Int64("cohort_id", cmd.CohortID).Logger()

	switch cmd.Type {
	case TypeSync:
		req := models.SyncRequest{Mode: models.SyncModeIncremental}
		if cmd.Sync != nil {
			req = *cmd.Sync
		}
		run, err := h.runner.Start(ctx, cmd.CohortID, req)
		if err != nil {
			return err
		}
		log.Info().Int64("run_id", run.ID).Msg("Sync run started from command")
	case TypeRefreshMembership:
		diff, err := h.membership.Refresh(ctx, cmd.CohortID)
		if err != nil {
			return err
		}
		log.Info().Int("added", len(diff.Added)).Int("removed", len(diff.Removed)).Msg("Membership refreshed from command")
		h.changed(cmd.CohortID)
	case TypeRecompute:
		sum, err := h.recompute.All(ctx, cmd.CohortID)
		if err != nil {
			return err
		}
		log.Info().Int("films", sum.Stats.Films).Msg("Recompute finished from command")
		h.changed(cmd.CohortID)
	case TypeCancelRun:
		if err := h.runner.Cancel(cmd.RunID); err != nil {
			return err
		}
		log.Info().Int64("run_id", cmd.RunID).Msg("Run cancellation requested from command")
	}
	return nil
}

func (h *Handler) changed(cohortID int64) {
	if h.onChange != nil {
		h.onChange(cohortID)
	}
}
