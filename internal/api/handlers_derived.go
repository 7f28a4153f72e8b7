// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package api

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/cinecohort/internal/commands"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/ranking"
)

const maxListLimit = 1000

// StatsView is the stats read response.
type StatsView struct {
	Snapshot *models.StatsSnapshotInfo `json:"snapshot"`
	Stale    bool                      `json:"stale"`
	Films    []models.CohortFilmStat   `json:"films"`
}

// RankingsView is the ranking read response. Stale is set when the
// snapshot predates the current stats or the stats are themselves stale.
type RankingsView struct {
	CohortID   int64                  `json:"cohort_id"`
	Strategy   string                 `json:"strategy"`
	ComputedAt *time.Time             `json:"computed_at,omitempty"`
	Stale      bool                   `json:"stale"`
	Results    []models.RankingResult `json:"results"`
}

// InsightRequest is the body of an insight computation.
type InsightRequest struct {
	models.InsightFilters
	Persist bool `json:"persist,omitempty"`
}

// queryInt parses a non-negative integer query parameter, returning def
// when it is absent.
func queryInt(r *http.Request, name string, def, maxValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	if maxValue > 0 && v > maxValue {
		return 0, fmt.Errorf("%s must be at most %d", name, maxValue)
	}
	return v, nil
}

func strategyParam(rw *ResponseWriter, r *http.Request) (string, bool) {
	strategy := chi.URLParam(r, "strategy")
	if !slices.Contains(ranking.Names(), strategy) {
		rw.Error(http.StatusBadRequest, ErrCodeUnknownStrategy,
			fmt.Sprintf("unknown strategy %q, want one of %v", strategy, ranking.Names()))
		return "", false
	}
	return strategy, true
}

// RecomputeStats handles POST /api/v1/cohorts/{id}/stats/recompute. With
// ?all=true it also recomputes every ranking and the default insight slice;
// with ?async=true the full pass is queued on the command bus.
func (h *Handler) RecomputeStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	if wantsAsync(r) {
		h.enqueue(rw, r, commands.Recompute(c.ID))
		return
	}
	if all := r.URL.Query().Get("all"); all == "true" || all == "1" {
		sum, err := h.recompute.All(r.Context(), c.ID)
		if err != nil {
			writeServiceError(rw, err)
			return
		}
		h.reads.invalidate(c.ID)
		rw.Success(sum)
		return
	}
	info, err := h.recompute.Stats(r.Context(), c.ID)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	h.reads.invalidate(c.ID)
	rw.Success(info)
}

// GetStats handles GET /api/v1/cohorts/{id}/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	minWatchers, err := queryInt(r, "min_watchers", 0, 0)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0, maxListLimit)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	q := database.StatsQuery{MinWatchers: minWatchers, Limit: limit}

	v, hit, err := h.reads.load(h.reads.key(c.ID, "stats", q), func() (interface{}, error) {
		info, err := h.store.StatsSnapshot(r.Context(), c.ID)
		if err != nil {
			return nil, err
		}
		rows, err := h.store.ListCohortStats(r.Context(), c.ID, q)
		if err != nil {
			return nil, err
		}
		return &StatsView{Snapshot: info, Films: rows}, nil
	})
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	// Event writes do not pass through the read cache, so the change marks
	// are read fresh on every request.
	info, err := h.store.StatsSnapshot(r.Context(), c.ID)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	view := *v.(*StatsView)
	view.Snapshot, view.Stale = info, info.Stale
	rw.SuccessWithMeta(&view, &APIMeta{
		Cache:      cacheState(hit),
		Pagination: &PaginationMeta{Count: len(view.Films), Limit: limit, HasMore: limit > 0 && len(view.Films) == limit},
	})
}

// ComputeRankings handles POST /api/v1/cohorts/{id}/rankings/{strategy}/compute.
func (h *Handler) ComputeRankings(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	strategy, ok := strategyParam(rw, r)
	if !ok {
		return
	}
	results, err := h.recompute.Rankings(r.Context(), c.ID, strategy)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	h.reads.invalidate(c.ID)
	rw.Success(RankingsView{CohortID: c.ID, Strategy: strategy, Results: results})
}

// GetRankings handles GET /api/v1/cohorts/{id}/rankings/{strategy}.
func (h *Handler) GetRankings(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	strategy, ok := strategyParam(rw, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 100, maxListLimit)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	key := h.reads.key(c.ID, "rankings", map[string]interface{}{"strategy": strategy, "limit": limit})
	v, hit, err := h.reads.load(key, func() (interface{}, error) {
		results, err := h.store.ListRankings(r.Context(), c.ID, strategy, limit)
		if err != nil {
			return nil, err
		}
		view := &RankingsView{CohortID: c.ID, Strategy: strategy, Results: results}
		if len(results) > 0 {
			at := results[0].ComputedAt
			view.ComputedAt = &at
		}
		return view, nil
	})
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	info, err := h.store.StatsSnapshot(r.Context(), c.ID)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	view := *v.(*RankingsView)
	view.Stale = info.Stale
	if view.ComputedAt != nil {
		view.Stale = info.RankingStale(*view.ComputedAt)
	}
	rw.SuccessWithMeta(&view, &APIMeta{
		Cache:      cacheState(hit),
		Pagination: &PaginationMeta{Count: len(view.Results), Limit: limit, HasMore: limit > 0 && len(view.Results) == limit},
	})
}

// ComputeInsights handles POST /api/v1/cohorts/{id}/insights/{strategy}.
func (h *Handler) ComputeInsights(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	strategy, ok := strategyParam(rw, r)
	if !ok {
		return
	}
	var req InsightRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if !validate(rw, &req) {
		return
	}

	slice, err := h.recompute.Insights(r.Context(), c.ID, strategy, req.InsightFilters, req.Persist)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	if req.Persist {
		h.reads.invalidate(c.ID)
	}
	rw.Success(slice)
}

// GetInsights handles GET /api/v1/cohorts/{id}/insights/{strategy}. With
// ?timeframe_key= it returns that stored slice, flagged stale when the stats
// have been recomputed since; without it the unfiltered slice is served
// from storage when fresh and computed otherwise.
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	c, ok := h.loadCohort(rw, r)
	if !ok {
		return
	}
	strategy, ok := strategyParam(rw, r)
	if !ok {
		return
	}
	timeframeKey := r.URL.Query().Get("timeframe_key")

	key := h.reads.key(c.ID, "insights", map[string]string{"strategy": strategy, "timeframe_key": timeframeKey})
	v, hit, err := h.reads.load(key, func() (interface{}, error) {
		if timeframeKey != "" {
			return h.insights.Load(r.Context(), c.ID, strategy, timeframeKey)
		}
		return h.insights.Get(r.Context(), c.ID, strategy, models.InsightFilters{})
	})
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.SuccessWithMeta(v, &APIMeta{Cache: cacheState(hit)})
}
