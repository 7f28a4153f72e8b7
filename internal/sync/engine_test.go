// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"

	"github.com/tomtom215/cinecohort/internal/fetch"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/source"
)

func TestEngine_FullThenIncrementalConverges(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := source.NewMemory()
	src.SetActivity("alice", pages("a", 2, 3)...)
	acct := account(t, db, "alice")
	engine := newTestEngine(db, src)

	full := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull})
	if full.Err != nil {
		t.Fatalf("full sync error = %v", full.Err)
	}
	if full.Outcome != models.OutcomeStopExhausted || full.EventsWritten != 6 || full.PagesFetched != 2 {
		t.Errorf("full = %+v, want stop-exhausted, 6 written, 2 pages", full)
	}

	first := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeIncremental})
	if first.EventsWritten != 0 || first.Outcome != models.OutcomeStopSeen {
		t.Errorf("first incremental = %+v, want stop-seen with no writes", first)
	}
	before, err := db.GetCheckpoint(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	count, _ := db.CountRatings(ctx)

	second := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeIncremental})
	if second.EventsWritten != 0 {
		t.Errorf("second incremental wrote %d events, want 0", second.EventsWritten)
	}
	after, err := db.GetCheckpoint(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *before != *after {
		t.Errorf("checkpoint changed: before %+v after %+v", before, after)
	}
	if again, _ := db.CountRatings(ctx); again != count {
		t.Errorf("rating rows = %d, want %d", again, count)
	}
}

func TestEngine_StopsAfterOneMatchingPage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := source.NewMemory()
	src.SetActivity("alice", pages("a", 4, 5)...)
	acct := account(t, db, "alice")
	engine := newTestEngine(db, src)

	if res := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull}); res.Err != nil {
		t.Fatal(res.Err)
	}
	src.ResetCalls()

	res := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeIncremental})
	if res.Outcome != models.OutcomeStopSeen {
		t.Errorf("Outcome = %s, want stop-seen", res.Outcome)
	}
	if calls := src.ActivityCalls("alice"); calls != 1 {
		t.Errorf("page fetches = %d, want exactly 1", calls)
	}
}

func TestEngine_ChangedRatingDoesNotStop(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := source.NewMemory()
	listing := pages("a", 2, 3)
	src.SetActivity("alice", listing...)
	acct := account(t, db, "alice")
	engine := newTestEngine(db, src)

	if res := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull}); res.Err != nil {
		t.Fatal(res.Err)
	}

	// A new entry at the head, then a re-rated film, then unchanged history.
	head := []models.ActivityEntry{
		{FilmSlug: "brand-new", FilmTitle: "Brand New", Rating: models.Float64Ptr(4)},
		{FilmSlug: listing[0][0].FilmSlug, FilmTitle: listing[0][0].FilmTitle, Rating: models.Float64Ptr(1.5)},
	}
	head = append(head, listing[0][1:]...)
	src.SetActivity("alice", head, listing[1])
	src.ResetCalls()

	res := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeIncremental})
	if res.EventsWritten != 2 {
		t.Errorf("EventsWritten = %d, want 2 (new + re-rated)", res.EventsWritten)
	}
	if res.Outcome != models.OutcomeStopSeen || src.ActivityCalls("alice") != 1 {
		t.Errorf("outcome = %s after %d fetches, want stop-seen after 1", res.Outcome, src.ActivityCalls("alice"))
	}

	stored, err := db.LookupRatingsBySlug(ctx, acct.ID, []string{listing[0][0].FilmSlug})
	if err != nil {
		t.Fatal(err)
	}
	if got := stored[listing[0][0].FilmSlug].Rating; got == nil || *got != 1.5 {
		t.Errorf("re-rated film = %v, want 1.5", got)
	}
}

func TestEngine_UnratedLikeParticipatesInStop(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := source.NewMemory()
	src.SetActivity("alice", []models.ActivityEntry{
		{FilmSlug: "liked-only", FilmTitle: "Liked Only", Liked: true},
		{FilmSlug: "rated", FilmTitle: "Rated", Rating: models.Float64Ptr(4)},
	})
	acct := account(t, db, "alice")
	engine := newTestEngine(db, src)

	if res := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull}); res.EventsWritten != 2 {
		t.Fatalf("full = %+v, want 2 written", res)
	}
	stored, err := db.LookupRatingsBySlug(ctx, acct.ID, []string{"liked-only"})
	if err != nil {
		t.Fatal(err)
	}
	if e := stored["liked-only"]; e.Rating != nil || !e.Liked {
		t.Errorf("liked-only = %+v, want absent rating and liked", e)
	}

	res := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeIncremental})
	if res.Outcome != models.OutcomeStopSeen || res.EventsWritten != 0 {
		t.Errorf("incremental = %+v, want stop-seen on the unrated like", res)
	}
}

func TestEngine_CrashResume(t *testing.T) {
	ctx := context.Background()

	// Reference: an uninterrupted five page run.
	refDB := setupTestDB(t)
	refSrc := source.NewMemory()
	refSrc.SetActivity("alice", pages("a", 5, 4)...)
	refAcct := account(t, refDB, "alice")
	if res := newTestEngine(refDB, refSrc).SyncMember(ctx, MemberTask{AccountID: refAcct.ID, Username: "alice", Mode: models.SyncModeFull}); res.Err != nil {
		t.Fatal(res.Err)
	}
	want := ratingSlugs(t, refDB, refAcct.ID)

	db := setupTestDB(t)
	src := source.NewMemory()
	src.SetActivity("alice", pages("a", 5, 4)...)
	acct := account(t, db, "alice")
	engine := newTestEngine(db, src)

	src.FailActivity("alice", 3, errors.New("connection reset"))
	crashed := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull})
	if crashed.Outcome != models.OutcomeError || crashed.EventsWritten != 8 {
		t.Fatalf("crashed = %+v, want error after 8 events", crashed)
	}
	cp, err := db.GetCheckpoint(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.LastPage != 2 || cp.Status != models.CheckpointError {
		t.Errorf("checkpoint = %+v, want last page 2 with error status", cp)
	}

	src.ClearFailures()
	var (
		mu      gosync.Mutex
		fetched []int
	)
	src.OnActivity = func(_ string, page int) {
		mu.Lock()
		fetched = append(fetched, page)
		mu.Unlock()
	}
	resumed := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull})
	if resumed.Err != nil || !resumed.Resumed {
		t.Fatalf("resumed = %+v", resumed)
	}
	if fmt.Sprint(fetched) != "[3 4 5]" {
		t.Errorf("pages fetched on resume = %v, want [3 4 5]", fetched)
	}

	got := ratingSlugs(t, db, acct.ID)
	if len(got) != len(want) {
		t.Fatalf("events = %d, want %d", len(got), len(want))
	}
	for slug := range want {
		if !got[slug] {
			t.Errorf("missing %s after resume", slug)
		}
	}
	cp, _ = db.GetCheckpoint(ctx, acct.ID)
	if cp.Status != models.CheckpointComplete || cp.LastPage != 5 {
		t.Errorf("final checkpoint = %+v, want complete at page 5", cp)
	}
}

func TestEngine_ErrorClasses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"exhausted", &fetch.Error{URL: "u", Kind: fetch.ErrRetriesExhausted, Attempts: 4}, models.ErrorClassTerminal},
		{"circuit open", &fetch.Error{URL: "u", Kind: fetch.ErrCircuitOpen}, models.ErrorClassTerminal},
		{"not found", &fetch.Error{URL: "u", Kind: fetch.ErrNonRetryable, Status: 404}, models.ErrorClassStructural},
		{"parse", fmt.Errorf("page 1: %w", source.ErrParse), models.ErrorClassStructural},
		{"other", errors.New("reset"), models.ErrorClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			src := source.NewMemory()
			src.SetActivity("alice", pages("a", 1, 1)...)
			src.FailActivity("alice", 1, tt.err)
			acct := account(t, db, "alice")

			res := newTestEngine(db, src).SyncMember(context.Background(), MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull})
			if res.Outcome != models.OutcomeError || res.ErrorClass != tt.want {
				t.Errorf("result = %s/%s, want error/%s", res.Outcome, res.ErrorClass, tt.want)
			}
			if !errors.Is(res.Err, tt.err) {
				t.Errorf("Err = %v, want to wrap %v", res.Err, tt.err)
			}
		})
	}
}

func TestEngine_CancelledBeforeFirstPage(t *testing.T) {
	db := setupTestDB(t)
	src := source.NewMemory()
	src.SetActivity("alice", pages("a", 2, 2)...)
	acct := account(t, db, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestEngine(db, src).SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull})
	if res.Outcome != models.OutcomeCancelled {
		t.Errorf("Outcome = %s, want cancelled", res.Outcome)
	}
	if src.ActivityCalls("alice") != 0 {
		t.Errorf("fetched %d pages after cancellation", src.ActivityCalls("alice"))
	}
}

// cancelAfterPage cancels the walk right after handing out one page, so the
// cancel lands between the fetch and the commit of that page.
type cancelAfterPage struct {
	source.Source
	page   int
	cancel context.CancelFunc
}

func (c *cancelAfterPage) ListActivity(ctx context.Context, username string, mode models.SyncMode, page int) (*source.ActivityPage, error) {
	p, err := c.Source.ListActivity(ctx, username, mode, page)
	if page == c.page {
		c.cancel()
	}
	return p, err
}

func TestEngine_CancelBetweenFetchAndCommit(t *testing.T) {
	db := setupTestDB(t)
	mem := source.NewMemory()
	mem.SetActivity("alice", pages("a", 5, 2)...)
	acct := account(t, db, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelAfterPage{Source: mem, page: 3, cancel: cancel}

	res := newTestEngine(db, src).SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull})
	if res.Outcome != models.OutcomeCancelled {
		t.Fatalf("Outcome = %s (class %q, err %v), want cancelled", res.Outcome, res.ErrorClass, res.Err)
	}
	if res.ErrorClass != "" {
		t.Errorf("ErrorClass = %q, want empty for a cancellation", res.ErrorClass)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
	if res.LastPage != 2 {
		t.Errorf("LastPage = %d, want 2", res.LastPage)
	}

	cp, err := db.GetCheckpoint(context.Background(), acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.LastPage != 2 || cp.Status != models.CheckpointInProgress {
		t.Errorf("checkpoint = page %d %s, want page 2 in_progress", cp.LastPage, cp.Status)
	}
}

func TestEngine_PageLimitLeavesFullWalkResumable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := source.NewMemory()
	src.SetActivity("alice", pages("a", 3, 2)...)
	acct := account(t, db, "alice")
	engine := NewEngine(src, db, 2)

	res := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull})
	if !res.Truncated || res.PagesFetched != 2 {
		t.Fatalf("res = %+v, want truncated after 2 pages", res)
	}
	cp, err := db.GetCheckpoint(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.Status != models.CheckpointInProgress || cp.LastPage != 2 {
		t.Errorf("checkpoint = %+v, want in_progress at page 2", cp)
	}

	next := engine.SyncMember(ctx, MemberTask{AccountID: acct.ID, Username: "alice", Mode: models.SyncModeFull})
	if !next.Resumed || next.Truncated || next.EventsWritten != 2 {
		t.Errorf("next = %+v, want resumed walk writing the last page", next)
	}
}
