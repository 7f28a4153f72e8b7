// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/source"
)

// EngineStore is the event store surface used by the engine.
type EngineStore interface {
	LookupRatingsBySlug(ctx context.Context, accountID int64, slugs []string) (map[string]models.RatingEvent, error)
	CommitPage(ctx context.Context, accountID int64, entries []models.ActivityEntry, cp *models.MemberCheckpoint) (int, error)
	GetCheckpoint(ctx context.Context, accountID int64) (*models.MemberCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp *models.MemberCheckpoint) error
	UpdateRunMemberProgress(ctx context.Context, runID, accountID int64, pages, written, lastPage int) error
}

// MemberTask is one member's unit of work within a run.
type MemberTask struct {
	RunID     int64 // 0 when not part of a recorded run
	AccountID int64
	Username  string
	Mode      models.SyncMode
}

// MemberResult is how a member's walk ended.
type MemberResult struct {
	Outcome       models.Outcome
	PagesFetched  int
	EventsWritten int
	// LastPage is the last committed page, or the page that failed.
	LastPage   int
	Resumed    bool
	Truncated  bool
	ErrorClass string
	Err        error
}

// Engine runs the per-member sync state machine.
type Engine struct {
	src       source.Source
	store     EngineStore
	pageLimit int
}

// NewEngine creates an engine. pageLimit caps pages per member walk; 0
// means unbounded.
func NewEngine(src source.Source, store EngineStore, pageLimit int) *Engine {
	return &Engine{src: src, store: store, pageLimit: pageLimit}
}

// resumePage returns the first page to fetch given the stored checkpoint.
// A full walk that stopped mid-way resumes after its last committed page.
// Incremental walks always restart at page 1: new activity lands at the
// head of the listing, and the stop condition keeps the restart cheap.
func resumePage(cp *models.MemberCheckpoint, mode models.SyncMode) int {
	if mode != models.SyncModeFull || cp == nil || cp.Mode != mode || cp.LastPage <= 0 {
		return 1
	}
	if cp.Status == models.CheckpointInProgress || cp.Status == models.CheckpointError {
		return cp.LastPage + 1
	}
	return 1
}

// dedupeEntries keeps the first (newest) entry per film slug.
func dedupeEntries(entries []models.ActivityEntry) ([]models.ActivityEntry, []string) {
	seen := make(map[string]bool, len(entries))
	out := make([]models.ActivityEntry, 0, len(entries))
	slugs := make([]string, 0, len(entries))
	for _, e := range entries {
		slug := database.NormalizeSlug(e.FilmSlug)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		e.FilmSlug = slug
		out = append(out, e)
		slugs = append(slugs, slug)
	}
	return out, slugs
}

// SyncMember walks one member's activity listing.
func (e *Engine) SyncMember(ctx context.Context, task MemberTask) MemberResult {
	log := logging.Ctx(ctx).With().
		Int64("run_id", task.RunID).
		Str("member", task.Username).
		Str("mode", string(task.Mode)).
		Logger()

	var res MemberResult
	cancelled := func() MemberResult {
		res.Outcome = models.OutcomeCancelled
		res.Err = ctx.Err()
		return res
	}
	// A store call failing under a cancelled context is a cancellation at
	// the page boundary, not a member failure.
	fail := func(page int, err error) MemberResult {
		if ctx.Err() != nil {
			return cancelled()
		}
		res.Outcome = models.OutcomeError
		res.LastPage = page
		res.Err = err
		res.ErrorClass = ClassifyError(err)
		return res
	}

	cp, err := e.store.GetCheckpoint(ctx, task.AccountID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fail(0, &storageError{fmt.Errorf("load checkpoint: %w", err)})
	}
	if errors.Is(err, database.ErrNotFound) {
		cp = nil
	}

	start := resumePage(cp, task.Mode)
	res.Resumed = start > 1
	res.LastPage = start - 1
	if res.Resumed {
		log.Info().Int("page", start).Msg("Resuming member sync from checkpoint")
	}

	for page := start; ; page++ {
		if ctx.Err() != nil {
			return cancelled()
		}
		if e.pageLimit > 0 && res.PagesFetched >= e.pageLimit {
			res.Outcome = models.OutcomeStopExhausted
			res.Truncated = true
			log.Warn().Int("page_limit", e.pageLimit).Msg("Member sync stopped at page limit")
			// Leave the checkpoint mid-walk so the next run continues.
			return res
		}

		p, err := e.src.ListActivity(ctx, task.Username, task.Mode, page)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled()
			}
			lastGood := res.LastPage
			out := fail(page, fmt.Errorf("page %d: %w", page, err))
			e.recordFailure(ctx, task, out.PagesFetched, lastGood, out)
			log.Warn().Err(err).Int("page", page).Str("error_class", out.ErrorClass).Msg("Member page fetch failed")
			return out
		}
		res.PagesFetched++

		if len(p.Entries) == 0 {
			res.Outcome = models.OutcomeStopExhausted
			break
		}

		entries, slugs := dedupeEntries(p.Entries)
		stored, err := e.store.LookupRatingsBySlug(ctx, task.AccountID, slugs)
		if err != nil {
			return fail(page, &storageError{fmt.Errorf("page %d lookup: %w", page, err)})
		}

		changed := make([]models.ActivityEntry, 0, len(entries))
		seen := false
		for _, entry := range entries {
			if prev, ok := stored[entry.FilmSlug]; ok && prev.SameFacts(entry.Rating, entry.Liked, entry.Favorite) {
				if task.Mode == models.SyncModeIncremental {
					seen = true
					break
				}
				continue
			}
			changed = append(changed, entry)
		}

		// Full mode advances the checkpoint on every page; incremental
		// mode commits only pages that carry changes.
		if task.Mode == models.SyncModeFull || len(changed) > 0 {
			pageCP := &models.MemberCheckpoint{
				Mode:     task.Mode,
				LastPage: page,
				Status:   models.CheckpointInProgress,
			}
			n, err := e.store.CommitPage(ctx, task.AccountID, changed, pageCP)
			if err != nil {
				return fail(page, &storageError{fmt.Errorf("page %d commit: %w", page, err)})
			}
			res.EventsWritten += n
			res.LastPage = page
			metrics.SyncPages.WithLabelValues(string(task.Mode)).Inc()
			metrics.SyncEventsWritten.Add(float64(n))
		}

		if task.RunID > 0 {
			if err := e.store.UpdateRunMemberProgress(ctx, task.RunID, task.AccountID, res.PagesFetched, res.EventsWritten, res.LastPage); err != nil {
				log.Warn().Err(err).Msg("Failed to record member progress")
			}
		}
		log.Debug().
			Int("page", page).
			Int("entries", len(entries)).
			Int("changed", len(changed)).
			Bool("stop_seen", seen).
			Msg("Activity page processed")

		if seen {
			res.Outcome = models.OutcomeStopSeen
			break
		}
		if !p.HasNext {
			res.Outcome = models.OutcomeStopExhausted
			break
		}
	}

	needFinal := task.Mode == models.SyncModeFull || res.EventsWritten > 0 ||
		cp == nil || cp.Status != models.CheckpointComplete || cp.Mode != task.Mode
	if needFinal {
		final := &models.MemberCheckpoint{
			AccountID: task.AccountID,
			Mode:      task.Mode,
			LastPage:  res.LastPage,
			Status:    models.CheckpointComplete,
		}
		if err := e.store.SaveCheckpoint(ctx, final); err != nil {
			return fail(res.LastPage, &storageError{fmt.Errorf("final checkpoint: %w", err)})
		}
	}

	log.Info().
		Str("outcome", string(res.Outcome)).
		Int("pages", res.PagesFetched).
		Int("written", res.EventsWritten).
		Msg("Member sync finished")
	return res
}

// recordFailure leaves the checkpoint at the last committed page with the
// failure attached, so the next run in the same mode retries from there.
func (e *Engine) recordFailure(ctx context.Context, task MemberTask, pages, lastGood int, res MemberResult) {
	cp := &models.MemberCheckpoint{
		AccountID:  task.AccountID,
		Mode:       task.Mode,
		LastPage:   lastGood,
		Status:     models.CheckpointError,
		ErrorClass: res.ErrorClass,
		LastError:  res.Err.Error(),
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("member", task.Username).Msg("Failed to record checkpoint error")
	}
	if task.RunID > 0 {
		if err := e.store.UpdateRunMemberProgress(ctx, task.RunID, task.AccountID, pages, res.EventsWritten, lastGood); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to record member progress")
		}
	}
}
