// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package api

import (
	"net/http"
	"strings"

	"github.com/tomtom215/cinecohort/internal/commands"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/models"
)

// CohortDetail is a cohort with its recent runs.
type CohortDetail struct {
	models.Cohort
	RecentRuns []models.SyncRun `json:"recent_runs"`
}

// QueuedCommand acknowledges a command accepted for background execution.
type QueuedCommand struct {
	CommandID string        `json:"command_id"`
	Type      commands.Type `json:"type"`
	CohortID  int64         `json:"cohort_id,omitempty"`
	RunID     int64         `json:"run_id,omitempty"`
}

const recentRunLimit = 5

// ListCohorts handles GET /api/v1/cohorts.
func (h *Handler) ListCohorts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	cohorts, err := h.store.ListCohorts(r.Context())
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.SuccessWithMeta(cohorts, &APIMeta{Pagination: &PaginationMeta{Count: len(cohorts)}})
}

// CreateCohort handles POST /api/v1/cohorts.
func (h *Handler) CreateCohort(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var req models.CreateCohortRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.SeedUsername = strings.ToLower(strings.TrimSpace(req.SeedUsername))
	if !validate(rw, &req) {
		return
	}

	depth := h.cohort.FollowDepth
	if req.Depth != nil {
		depth = *req.Depth
	}
	includeSeed := h.cohort.IncludeSeed
	if req.IncludeSeed != nil {
		includeSeed = *req.IncludeSeed
	}

	c, err := h.store.CreateCohort(r.Context(), req.Name, models.AccountRef{Username: req.SeedUsername}, depth, includeSeed)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Int64("cohort_id", c.ID).
		Str("seed", c.SeedUsername).
		Int("depth", c.Depth).
		Msg("Cohort created")
	rw.Created(c)
}

// GetCohort handles GET /api/v1/cohorts/{id}.
func (h *Handler) GetCohort(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	runs, err := h.store.ListRuns(r.Context(), c.ID, recentRunLimit)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(CohortDetail{Cohort: *c, RecentRuns: runs})
}

// UpdateCohort handles PATCH /api/v1/cohorts/{id}.
func (h *Handler) UpdateCohort(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id, err := pathID(r, "id")
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	var req models.UpdateCohortRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !validate(rw, &req) {
		return
	}
	c, err := h.store.RenameCohort(r.Context(), id, req.Name)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(c)
}

// DeleteCohort handles DELETE /api/v1/cohorts/{id}.
func (h *Handler) DeleteCohort(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	if err := h.store.DeleteCohort(r.Context(), c.ID); err != nil {
		writeServiceError(rw, err)
		return
	}
	h.reads.invalidate(c.ID)
	logging.Ctx(r.Context()).Info().Int64("cohort_id", c.ID).Msg("Cohort deleted")
	rw.NoContent()
}

// ListMembers handles GET /api/v1/cohorts/{id}/members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	members, err := h.store.ListMembers(r.Context(), c.ID)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.SuccessWithMeta(members, &APIMeta{Pagination: &PaginationMeta{Count: len(members)}})
}

// RefreshMembership handles POST /api/v1/cohorts/{id}/membership/refresh.
// With ?async=true the refresh is queued on the command bus.
func (h *Handler) RefreshMembership(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	if wantsAsync(r) {
		h.enqueue(rw, r, commands.RefreshMembership(c.ID))
		return
	}
	diff, err := h.membership.Refresh(r.Context(), c.ID)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	h.reads.invalidate(c.ID)
	rw.Success(diff)
}

func wantsAsync(r *http.Request) bool {
	v := r.URL.Query().Get("async")
	return v == "true" || v == "1"
}

// enqueue publishes cmd and answers 202 with the command ID.
func (h *Handler) enqueue(rw *ResponseWriter, r *http.Request, cmd commands.Command) {
	if h.bus == nil {
		rw.ServiceUnavailable("command bus is not configured")
		return
	}
	id, err := h.bus.Publish(r.Context(), cmd)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Accepted(QueuedCommand{CommandID: id, Type: cmd.Type, CohortID: cmd.CohortID, RunID: cmd.RunID})
}
