// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cinecohort/internal/cache"
	"github.com/tomtom215/cinecohort/internal/commands"
	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/insights"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/ranking"
	"github.com/tomtom215/cinecohort/internal/recompute"
	syncer "github.com/tomtom215/cinecohort/internal/sync"
	"github.com/tomtom215/cinecohort/internal/validation"
)

const maxBodyBytes = 1 << 20

// Store is the persistence the HTTP surface reads and writes directly.
type Store interface {
	CreateCohort(ctx context.Context, name string, seed models.AccountRef, depth int, includeSeed bool) (*models.Cohort, error)
	GetCohort(ctx context.Context, id int64) (*models.Cohort, error)
	ListCohorts(ctx context.Context) ([]models.Cohort, error)
	RenameCohort(ctx context.Context, id int64, name string) (*models.Cohort, error)
	DeleteCohort(ctx context.Context, id int64) error
	ListMembers(ctx context.Context, cohortID int64) ([]models.CohortMember, error)
	ListRuns(ctx context.Context, cohortID int64, limit int) ([]models.SyncRun, error)
	ListCohortStats(ctx context.Context, cohortID int64, q database.StatsQuery) ([]models.CohortFilmStat, error)
	StatsSnapshot(ctx context.Context, cohortID int64) (*models.StatsSnapshotInfo, error)
	ListRankings(ctx context.Context, cohortID int64, strategy string, limit int) ([]models.RankingResult, error)
	Ping(ctx context.Context) error
}

// SyncRunner starts and observes sync runs.
type SyncRunner interface {
	Start(ctx context.Context, cohortID int64, req models.SyncRequest) (*models.SyncRun, error)
	Cancel(runID int64) error
	Progress(ctx context.Context, runID int64) (*models.RunProgress, error)
}

// MembershipRefresher recrawls a cohort's membership.
type MembershipRefresher interface {
	Refresh(ctx context.Context, cohortID int64) (*models.MembershipDiff, error)
}

// Recomputer runs derived-data passes.
type Recomputer interface {
	Stats(ctx context.Context, cohortID int64) (*models.StatsSnapshotInfo, error)
	Rankings(ctx context.Context, cohortID int64, strategy string) ([]models.RankingResult, error)
	Insights(ctx context.Context, cohortID int64, strategy string, filters models.InsightFilters, persist bool) (*models.InsightSlice, error)
	All(ctx context.Context, cohortID int64) (*recompute.Summary, error)
}

// InsightReader serves stored insight slices.
type InsightReader interface {
	Load(ctx context.Context, cohortID int64, strategy, key string) (*models.InsightSlice, error)
	Get(ctx context.Context, cohortID int64, strategy string, filters models.InsightFilters) (*models.InsightSlice, error)
}

// Publisher queues commands for asynchronous execution.
type Publisher interface {
	Publish(ctx context.Context, cmd commands.Command) (string, error)
}

// Deps groups the services behind the handlers. Bus may be nil, in which
// case requests for asynchronous execution are rejected.
type Deps struct {
	Store      Store
	Sync       SyncRunner
	Membership MembershipRefresher
	Recompute  Recomputer
	Insights   InsightReader
	Bus        Publisher
	Cohort     config.CohortConfig
	Cache      *cache.Cache

	// ReadyChecks are run by /readyz in addition to the database.
	ReadyChecks map[string]func(context.Context) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	store      Store
	sync       SyncRunner
	membership MembershipRefresher
	recompute  Recomputer
	insights   InsightReader
	bus        Publisher
	cohort     config.CohortConfig
	reads      *readCache
	checks     map[string]func(context.Context) error
	startTime  time.Time
}

// NewHandler creates the HTTP handler set.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:      d.Store,
		sync:       d.Sync,
		membership: d.Membership,
		recompute:  d.Recompute,
		insights:   d.Insights,
		bus:        d.Bus,
		cohort:     d.Cohort,
		reads:      newReadCache(d.Cache),
		checks:     d.ReadyChecks,
		startTime:  time.Now(),
	}
}

// InvalidateCohort drops cached reads for a cohort. It is safe to pass as
// the command handler's change callback.
func (h *Handler) InvalidateCohort(cohortID int64) {
	h.reads.invalidate(cohortID)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves
// dst untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validate writes a 400 and returns false when v fails validation.
func validate(rw *ResponseWriter, v interface{}) bool {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return true
	}
	apiErr := verr.ToAPIError()
	rw.ValidationError(apiErr.Message, apiErr.Details)
	return false
}

// loadCohort resolves the {id} path parameter to an existing cohort,
// writing the error response itself when it cannot.
func (h *Handler) loadCohort(rw *ResponseWriter, r *http.Request) (*models.Cohort, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		rw.BadRequest(err.Error())
		return nil, false
	}
	c, err := h.store.GetCohort(r.Context(), id)
	if err != nil {
		writeServiceError(rw, err)
		return nil, false
	}
	return c, true
}

// writeServiceError maps domain errors onto status codes.
func writeServiceError(rw *ResponseWriter, err error) {
	var invalid *validation.RequestValidationError
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, syncer.ErrCohortNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, syncer.ErrRunInProgress):
		rw.Conflict(ErrCodeRunInProgress, err.Error())
	case errors.Is(err, recompute.ErrRecomputeInProgress):
		rw.Conflict(ErrCodeRecomputeBusy, err.Error())
	case errors.Is(err, syncer.ErrRunNotActive), errors.Is(err, database.ErrConflict):
		rw.Conflict(ErrCodeConflict, err.Error())
	case errors.Is(err, ranking.ErrUnknownStrategy):
		rw.Error(http.StatusBadRequest, ErrCodeUnknownStrategy, err.Error())
	case errors.Is(err, insights.ErrInvalidFilters), errors.As(err, &invalid):
		rw.ValidationError(err.Error(), nil)
	case errors.Is(err, commands.ErrBusClosed):
		rw.ServiceUnavailable(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rw.ServiceUnavailable("request cancelled")
	default:
		rw.DatabaseError(err)
	}
}
