// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
	"github.com/tomtom215/cinecohort/internal/models"
)

// CoordinatorStore is the persistence the coordinator needs on top of the
// engine's.
type CoordinatorStore interface {
	EngineStore
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListMembers(ctx context.Context, cohortID int64) ([]models.CohortMember, error)
	MarkAccountSynced(ctx context.Context, accountID int64, mode models.SyncMode, at time.Time) error
	CreateRun(ctx context.Context, cohortID int64, mode models.SyncMode, forceFull bool) (*models.SyncRun, error)
	StartRun(ctx context.Context, runID int64, members []models.RunMember) error
	FinishRun(ctx context.Context, runID int64, status models.RunStatus, errMsg string) error
	StartRunMember(ctx context.Context, runID, accountID int64) error
	FinishRunMember(ctx context.Context, m *models.RunMember) error
	GetRun(ctx context.Context, id int64) (*models.SyncRun, error)
	GetRunProgress(ctx context.Context, runID int64) (*models.RunProgress, error)
	RecoverInterruptedRuns(ctx context.Context) (int, error)
}

// Coordinator owns the lifecycle of sync runs.
type Coordinator struct {
	store  CoordinatorStore
	engine *Engine

	fullSlots        *semaphore.Weighted
	incrementalSlots *semaphore.Weighted

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc // by run ID
	wg      sync.WaitGroup

	now func() time.Time
}

// NewCoordinator creates a coordinator. Full and incremental member syncs
// draw from separate concurrency budgets.
func NewCoordinator(store CoordinatorStore, engine *Engine, cfg config.SyncConfig) *Coordinator {
	full := max(cfg.FullConcurrency, 1)
	incremental := max(cfg.IncrementalConcurrency, 1)
	return &Coordinator{
		store:            store,
		engine:           engine,
		fullSlots:        semaphore.NewWeighted(int64(full)),
		incrementalSlots: semaphore.NewWeighted(int64(incremental)),
		cancels:          make(map[int64]context.CancelFunc),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func mapCreateError(cohortID int64, err error) error {
	switch {
	case errors.Is(err, database.ErrConflict):
		return fmt.Errorf("cohort %d: %w", cohortID, ErrRunInProgress)
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("cohort %d: %w", cohortID, ErrCohortNotFound)
	default:
		return err
	}
}

// Start creates a run for the cohort and executes it in the background.
// The returned run is already in the running state. A second Start for the
// same cohort while a run is active fails with ErrRunInProgress.
func (c *Coordinator) Start(ctx context.Context, cohortID int64, req models.SyncRequest) (*models.SyncRun, error) {
	run, tasks, err := c.prepare(ctx, cohortID, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.track(run.ID, cancel)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.untrack(run.ID)
		c.execute(runCtx, run, tasks)
	}()
	return run, nil
}

// Run creates a run and executes it to completion, returning the final run.
func (c *Coordinator) Run(ctx context.Context, cohortID int64, req models.SyncRequest) (*models.SyncRun, error) {
	run, tasks, err := c.prepare(ctx, cohortID, req)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.track(run.ID, cancel)
	defer c.untrack(run.ID)

	c.execute(runCtx, run, tasks)
	return c.store.GetRun(context.WithoutCancel(ctx), run.ID)
}

// Cancel requests that an active run stop at its members' next page
// boundary.
func (c *Coordinator) Cancel(runID int64) error {
	c.mu.Lock()
	cancel, ok := c.cancels[runID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %d: %w", runID, ErrRunNotActive)
	}
	cancel()
	return nil
}

// Progress returns live member counts and detail for a run.
func (c *Coordinator) Progress(ctx context.Context, runID int64) (*models.RunProgress, error) {
	return c.store.GetRunProgress(ctx, runID)
}

// Recover closes runs left active by a previous process.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	n, err := c.store.RecoverInterruptedRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted runs: %w", err)
	}
	if n > 0 {
		logging.Warn().Int("runs", n).Msg("Closed runs interrupted by a previous shutdown")
	}
	return n, nil
}

// Wait blocks until every background run has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown cancels every background run and waits for them to record
// their final state.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) track(runID int64, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancels[runID] = cancel
	c.mu.Unlock()
}

func (c *Coordinator) untrack(runID int64) {
	c.mu.Lock()
	if cancel, ok := c.cancels[runID]; ok {
		cancel()
		delete(c.cancels, runID)
	}
	c.mu.Unlock()
}

// prepare creates the run row, resolves each member's mode and moves the
// run to running with every member queued.
func (c *Coordinator) prepare(ctx context.Context, cohortID int64, req models.SyncRequest) (*models.SyncRun, []MemberTask, error) {
	mode := req.Mode
	if mode == "" {
		mode = models.SyncModeIncremental
	}
	if !mode.Valid() {
		return nil, nil, fmt.Errorf("invalid sync mode %q", mode)
	}

	run, err := c.store.CreateRun(ctx, cohortID, mode, req.ForceFull)
	if err != nil {
		return nil, nil, mapCreateError(cohortID, err)
	}

	tasks, err := c.plan(ctx, cohortID, run.ID, mode, req.ForceFull)
	if err == nil {
		rows := make([]models.RunMember, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, models.RunMember{RunID: run.ID, AccountID: t.AccountID, Username: t.Username, Mode: t.Mode})
		}
		err = c.store.StartRun(ctx, run.ID, rows)
	}
	if err != nil {
		if ferr := c.store.FinishRun(context.WithoutCancel(ctx), run.ID, models.RunStatusFailed, err.Error()); ferr != nil {
			logging.Error().Err(ferr).Int64("run_id", run.ID).Msg("Failed to mark run failed")
		}
		metrics.RecordSyncRun(string(models.RunStatusFailed), 0)
		return nil, nil, fmt.Errorf("start run %d: %w", run.ID, err)
	}

	run.Status = models.RunStatusRunning
	now := c.now()
	run.StartedAt = &now
	logging.Ctx(ctx).Info().
		Int64("run_id", run.ID).
		Int64("cohort_id", cohortID).
		Str("mode", string(mode)).
		Int("members", len(tasks)).
		Msg("Sync run started")
	return run, tasks, nil
}

// plan resolves the mode of each member. Members that never completed a
// full sync, or whose last full walk stopped mid-way, run full; the rest
// use the requested mode.
func (c *Coordinator) plan(ctx context.Context, cohortID, runID int64, mode models.SyncMode, forceFull bool) ([]MemberTask, error) {
	members, err := c.store.ListMembers(ctx, cohortID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	tasks := make([]MemberTask, 0, len(members))
	for _, m := range members {
		memberMode := mode
		if forceFull {
			memberMode = models.SyncModeFull
		}
		if memberMode != models.SyncModeFull {
			acct, err := c.store.GetAccount(ctx, m.AccountID)
			if err != nil {
				return nil, fmt.Errorf("load account %s: %w", m.Username, err)
			}
			cp, err := c.store.GetCheckpoint(ctx, m.AccountID)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return nil, fmt.Errorf("load checkpoint %s: %w", m.Username, err)
			}
			if acct.NeverSynced() || fullWalkPending(cp) {
				memberMode = models.SyncModeFull
			}
		}
		tasks = append(tasks, MemberTask{RunID: runID, AccountID: m.AccountID, Username: m.Username, Mode: memberMode})
	}
	return tasks, nil
}

func fullWalkPending(cp *models.MemberCheckpoint) bool {
	return cp != nil && cp.Mode == models.SyncModeFull &&
		(cp.Status == models.CheckpointInProgress || cp.Status == models.CheckpointError)
}

func (c *Coordinator) slots(mode models.SyncMode) *semaphore.Weighted {
	if mode == models.SyncModeFull {
		return c.fullSlots
	}
	return c.incrementalSlots
}

// execute dispatches every member onto its mode's worker budget and folds
// the outcomes into the run's terminal status.
func (c *Coordinator) execute(ctx context.Context, run *models.SyncRun, tasks []MemberTask) {
	started := time.Now()
	ctx = logging.ContextWithCorrelationID(ctx, fmt.Sprintf("run-%d", run.ID))

	var (
		mu     sync.Mutex
		counts models.RunCounts
	)
	var g errgroup.Group
	for _, task := range tasks {
		g.Go(func() error {
			status := c.runMember(ctx, task)
			mu.Lock()
			counts.Add(status)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status, msg := runStatus(counts)
	// The run row must be closed even when the run was cancelled.
	if err := c.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, msg); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("run_id", run.ID).Msg("Failed to finish run")
	}
	metrics.RecordSyncRun(string(status), time.Since(started))
	logging.Ctx(ctx).Info().
		Int64("run_id", run.ID).
		Str("status", string(status)).
		Int("succeeded", counts.Succeeded).
		Int("failed", counts.Failed).
		Int("cancelled", counts.Cancelled).
		Dur("duration", time.Since(started)).
		Msg("Sync run finished")
}

// runStatus is succeeded when every member succeeded and partial otherwise,
// including when no member succeeded. Only a run that could not start is
// failed.
func runStatus(counts models.RunCounts) (models.RunStatus, string) {
	if counts.Failed == 0 && counts.Cancelled == 0 {
		return models.RunStatusSucceeded, ""
	}
	return models.RunStatusPartial, fmt.Sprintf("%d failed, %d cancelled of %d members",
		counts.Failed, counts.Cancelled, counts.Total)
}

// runMember syncs one member and records its row. Recording uses a
// context detached from cancellation so a cancelled member still lands in
// a terminal state.
func (c *Coordinator) runMember(ctx context.Context, task MemberTask) models.MemberStatus {
	record := context.WithoutCancel(ctx)
	row := &models.RunMember{RunID: task.RunID, AccountID: task.AccountID, Username: task.Username, Mode: task.Mode}

	slots := c.slots(task.Mode)
	if err := slots.Acquire(ctx, 1); err != nil {
		row.Status = models.MemberCancelled
		row.Outcome = models.OutcomeCancelled
		c.finishMember(record, row)
		return row.Status
	}
	defer slots.Release(1)

	if ctx.Err() != nil {
		row.Status = models.MemberCancelled
		row.Outcome = models.OutcomeCancelled
		c.finishMember(record, row)
		return row.Status
	}

	if err := c.store.StartRunMember(record, task.RunID, task.AccountID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("member", task.Username).Msg("Failed to mark member in progress")
	}
	gauge := metrics.SyncActiveMembers.WithLabelValues(string(task.Mode))
	gauge.Inc()
	res := c.engine.SyncMember(ctx, task)
	gauge.Dec()

	row.Outcome = res.Outcome
	row.PagesFetched = res.PagesFetched
	row.EventsWritten = res.EventsWritten
	row.LastPage = res.LastPage
	switch res.Outcome {
	case models.OutcomeError:
		row.Status = models.MemberFailed
		row.ErrorClass = res.ErrorClass
		row.Error = res.Err.Error()
	case models.OutcomeCancelled:
		row.Status = models.MemberCancelled
	default:
		row.Status = models.MemberSucceeded
		if !res.Truncated {
			if err := c.store.MarkAccountSynced(record, task.AccountID, task.Mode, c.now()); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("member", task.Username).Msg("Failed to stamp sync time")
			}
		}
	}
	metrics.SyncMembers.WithLabelValues(string(task.Mode), string(row.Outcome)).Inc()
	c.finishMember(record, row)
	return row.Status
}

func (c *Coordinator) finishMember(ctx context.Context, row *models.RunMember) {
	if err := c.store.FinishRunMember(ctx, row); err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Int64("run_id", row.RunID).
			Str("member", row.Username).
			Msg("Failed to record member result")
	}
}
