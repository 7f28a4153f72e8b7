// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/fetch"
	"github.com/tomtom215/cinecohort/internal/models"
)

func newTestHTTP(t *testing.T, handler http.Handler) *HTTP {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	f := fetch.NewRateLimitedFetcher(config.FetcherConfig{
		RequestsPerSecond:  1000,
		Burst:              10,
		Timeout:            2 * time.Second,
		MaxRetries:         1,
		BaseBackoff:        time.Millisecond,
		MaxBackoff:         time.Millisecond,
		BreakerMinRequests: 100,
	}, "cinecohort-test")
	return NewHTTP(f, config.SourceConfig{BaseURL: server.URL + "/", RSSMaxEntries: 10})
}

func TestHTTP_ListActivity(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/alice/films/by/date/page/1/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(flagsFixture))
	})
	mux.HandleFunc("/alice/films/by/date/page/2/", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	src := newTestHTTP(t, mux)

	page, err := src.ListActivity(context.Background(), "alice", models.SyncModeFull, 1)
	if err != nil {
		t.Fatalf("ListActivity(1) error = %v", err)
	}
	if len(page.Entries) != 3 {
		t.Errorf("page 1 entries = %d, want 3", len(page.Entries))
	}

	page, err = src.ListActivity(context.Background(), "alice", models.SyncModeFull, 2)
	if err != nil {
		t.Fatalf("ListActivity(2) error = %v, want empty page for 404", err)
	}
	if len(page.Entries) != 0 || page.HasNext {
		t.Errorf("page 2 = %+v, want empty", page)
	}
}

func TestHTTP_ListActivity_FirstPageNotFoundIsTerminal(t *testing.T) {
	t.Parallel()

	src := newTestHTTP(t, http.NotFoundHandler())
	_, err := src.ListActivity(context.Background(), "ghost", models.SyncModeIncremental, 1)
	if !errors.Is(err, fetch.ErrNonRetryable) {
		t.Fatalf("error = %v, want ErrNonRetryable", err)
	}
}

func TestHTTP_ListActivity_ParseFailure(t *testing.T) {
	t.Parallel()

	src := newTestHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<ul class="poster-list"><li class="poster-container"></li></ul>`))
	}))
	_, err := src.ListActivity(context.Background(), "alice", models.SyncModeFull, 1)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("error = %v, want ErrParse", err)
	}
}

func TestHTTP_ListFollowsAndFeed(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/seed/following/page/1/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<div class="follow-button-wrapper" data-username="alice" data-name="Alice"></div>`))
	})
	mux.HandleFunc("/seed/following/page/2/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<p>Not following anyone else.</p>`))
	})
	mux.HandleFunc("/alice/rss/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedFixture))
	})
	src := newTestHTTP(t, mux)
	ctx := context.Background()

	refs, err := src.ListFollows(ctx, "seed", 1)
	if err != nil {
		t.Fatalf("ListFollows(1) error = %v", err)
	}
	if len(refs) != 1 || refs[0].Username != "alice" {
		t.Errorf("page 1 refs = %+v", refs)
	}
	refs, err = src.ListFollows(ctx, "seed", 2)
	if err != nil {
		t.Fatalf("ListFollows(2) error = %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("page 2 refs = %+v, want none", refs)
	}

	entries, err := src.FetchFeed(ctx, "alice")
	if err != nil {
		t.Fatalf("FetchFeed() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("feed entries = %d, want 3", len(entries))
	}
}

func TestMemory_Paging(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	m.FollowsPageSize = 2
	m.SetFollows("seed", "a", "b", "c")
	m.SetActivity("a", []models.ActivityEntry{{FilmSlug: "x"}}, []models.ActivityEntry{{FilmSlug: "y"}})
	ctx := context.Background()

	p1, _ := m.ListFollows(ctx, "seed", 1)
	p2, _ := m.ListFollows(ctx, "seed", 2)
	p3, _ := m.ListFollows(ctx, "seed", 3)
	if len(p1) != 2 || len(p2) != 1 || len(p3) != 0 {
		t.Errorf("follow pages = %d/%d/%d, want 2/1/0", len(p1), len(p2), len(p3))
	}

	page, _ := m.ListActivity(ctx, "a", models.SyncModeFull, 1)
	if !page.HasNext {
		t.Error("page 1 HasNext = false")
	}
	page, _ = m.ListActivity(ctx, "a", models.SyncModeFull, 2)
	if page.HasNext || len(page.Entries) != 1 {
		t.Errorf("page 2 = %+v", page)
	}

	boom := errors.New("boom")
	m.FailActivity("a", 1, boom)
	if _, err := m.ListActivity(ctx, "a", models.SyncModeFull, 1); !errors.Is(err, boom) {
		t.Errorf("error = %v, want injected", err)
	}
	if got := m.ActivityCalls("a"); got != 3 {
		t.Errorf("ActivityCalls = %d, want 3", got)
	}
}
