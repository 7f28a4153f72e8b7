// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package api

import (
	"net/http"

	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/models"
)

// SyncStarted acknowledges a sync run started in the background.
type SyncStarted struct {
	RunID    int64            `json:"run_id"`
	CohortID int64            `json:"cohort_id"`
	Mode     models.SyncMode  `json:"mode"`
	Status   models.RunStatus `json:"status"`
}

// StartSync handles POST /api/v1/cohorts/{id}/sync. It answers 202 with the
// run ID, or 409 when the cohort already has an active run.
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	var req models.SyncRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if !validate(rw, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = models.SyncModeIncremental
	}

	run, err := h.sync.Start(r.Context(), c.ID, req)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Int64("run_id", run.ID).
		Int64("cohort_id", c.ID).
		Str("mode", string(run.Mode)).
		Bool("force_full", req.ForceFull).
		Msg("Sync run started")
	rw.Accepted(SyncStarted{RunID: run.ID, CohortID: c.ID, Mode: run.Mode, Status: run.Status})
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, err := pathID(r, "id")
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	progress, err := h.sync.Progress(r.Context(), id)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(progress)
}

// CancelRun handles POST /api/v1/runs/{id}/cancel. Members stop at their
// next page boundary; the run finishes as cancelled.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, err := pathID(r, "id")
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	progress, err := h.sync.Progress(r.Context(), id)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	if err := h.sync.Cancel(id); err != nil {
		writeServiceError(rw, err)
		return
	}
	logging.Ctx(r.Context()).Info().Int64("run_id", id).Msg("Sync run cancellation requested")
	rw.Accepted(progress.Run)
}
