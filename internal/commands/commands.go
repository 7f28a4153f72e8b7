// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package commands carries work requests to the run coordinator and the
// derivation services as messages.
//
// Producers (the scheduler, operators) publish a Command to the Bus; a
// single Handler consumes the topic and invokes the coordinator, the
// membership refresher or the recompute service. The bus runs on an
// in-process watermill gochannel by default, or on NATS JetStream
// (external or embedded) for multi-process deployments.
//
// A command rejected because the target is busy or missing is acknowledged
// and dropped; it is not retried. Other failures are retried by the router
// middleware a bounded number of times.
package commands

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/cinecohort/internal/models"
)

// Topic is the single command topic.
const Topic = "cinecohort-commands"

const (
	metaType          = "command_type"
	metaCorrelationID = "correlation_id"
)

// Type names a command.
type Type string

const (
	TypeSync              Type = "sync_cohort"
	TypeRefreshMembership Type = "refresh_membership"
	TypeRecompute         Type = "recompute"
	TypeCancelRun         Type = "cancel_run"
)

// ErrInvalidCommand marks a payload that cannot be decoded or is missing
// required fields.
var ErrInvalidCommand = errors.New("invalid command")

// Command is one work request.
type Command struct {
	ID       string              `json:"id"`
	Type     Type                `json:"type"`
	CohortID int64               `json:"cohort_id,omitempty"`
	RunID    int64               `json:"run_id,omitempty"`
	Sync     *models.SyncRequest `json:"sync,omitempty"`
}

// SyncCohort requests a sync run for a cohort.
func SyncCohort(cohortID int64, req models.SyncRequest) Command {
	return Command{Type: TypeSync, CohortID: cohortID, Sync: &req}
}

// RefreshMembership requests a membership recrawl for a cohort.
func RefreshMembership(cohortID int64) Command {
	return Command{Type: TypeRefreshMembership, CohortID: cohortID}
}

// Recompute requests stats, rankings and the default insight slice for a
// cohort.
func Recompute(cohortID int64) Command {
	return Command{Type: TypeRecompute, CohortID: cohortID}
}

// CancelRun requests cancellation of an active run.
func CancelRun(runID int64) Command {
	return Command{Type: TypeCancelRun, RunID: runID}
}

// Validate checks that the command names a known type and its target.
func (c *Command) Validate() error {
	switch c.Type {
	case TypeSync, TypeRefreshMembership, TypeRecompute:
		if c.CohortID <= 0 {
			return fmt.Errorf("%s without cohort_id: %w", c.Type, ErrInvalidCommand)
		}
	case TypeCancelRun:
		if c.RunID <= 0 {
			return fmt.Errorf("%s without run_id: %w", c.Type, ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("unknown type %q: %w", c.Type, ErrInvalidCommand)
	}
	if c.Sync != nil && c.Sync.Mode != "" && c.Sync.Mode != models.SyncModeFull && c.Sync.Mode != models.SyncModeIncremental {
		return fmt.Errorf("sync mode %q: %w", c.Sync.Mode, ErrInvalidCommand)
	}
	return nil
}

// encode turns a command into a watermill message, assigning an ID if the
// command has none.
func encode(cmd Command, correlationID string) (*message.Message, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	msg := message.NewMessage(cmd.ID, payload)
	msg.Metadata.Set(metaType, string(cmd.Type))
	if correlationID != "" {
		msg.Metadata.Set(metaCorrelationID, correlationID)
	}
	return msg, nil
}

func decode(msg *message.Message) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		return cmd, fmt.Errorf("decode command %s: %v: %w", msg.UUID, err, ErrInvalidCommand)
	}
	if cmd.ID == "" {
		cmd.ID = msg.UUID
	}
	return cmd, cmd.Validate()
}
