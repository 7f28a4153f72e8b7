// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package enrichment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/fetch"
	"github.com/tomtom215/cinecohort/internal/models"
)

func testFetcher() *fetch.RateLimitedFetcher {
	cfg := config.FetcherConfig{
		RequestsPerSecond:   1000,
		Burst:               10,
		Timeout:             2 * time.Second,
		MaxRetries:          1,
		BaseBackoff:         time.Millisecond,
		MaxBackoff:          time.Millisecond,
		RetryStatuses:       []int{500, 503},
		BreakerFailureRatio: 0.6,
		BreakerMinRequests:  100,
		BreakerTimeout:      time.Minute,
	}
	return fetch.NewRateLimitedFetcher(cfg, "cinecohort-test",
		fetch.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

const heatJSON = `{
	"title": "Heat",
	"release_date": "1995-12-15",
	"poster_path": "/heat.jpg",
	"genres": [{"name": "Crime"}, {"name": "Thriller"}],
	"credits": {"crew": [
		{"name": "Michael Mann", "job": "Director"},
		{"name": "Dante Spinotti", "job": "Director of Photography"},
		{"name": "Michael Mann", "job": "Director"}
	]}
}`

func catalogServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.URL.Query().Get("api_key"); got != "secret" {
			t.Errorf("api_key = %q", got)
		}
		switch strings.TrimPrefix(r.URL.Path, "/films/") {
		case "heat":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(heatJSON))
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(testFetcher(), config.EnrichmentConfig{BaseURL: baseURL + "/", APIKey: "secret"},
		WithImageBase("https://img.example/w500/"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestClient_Lookup(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	c := newTestClient(t, catalogServer(t, &hits).URL)
	ctx := context.Background()

	meta, err := c.Lookup(ctx, "heat")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if meta.Title != "Heat" || meta.ReleaseYear == nil || *meta.ReleaseYear != 1995 {
		t.Errorf("meta = %+v", meta)
	}
	if meta.PosterURL != "https://img.example/w500/heat.jpg" {
		t.Errorf("PosterURL = %s", meta.PosterURL)
	}
	if len(meta.Genres) != 2 || len(meta.People) != 1 || meta.People[0] != "Michael Mann" {
		t.Errorf("genres = %v people = %v", meta.Genres, meta.People)
	}

	// Cached answers do not hit the catalog again.
	meta.Title = "mutated"
	again, err := c.Lookup(ctx, "heat")
	if err != nil || again.Title != "Heat" {
		t.Errorf("cached Lookup() = %+v, %v", again, err)
	}
	if hits.Load() != 1 {
		t.Errorf("catalog hits = %d, want 1", hits.Load())
	}
}

func TestClient_NotFoundIsCached(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	c := newTestClient(t, catalogServer(t, &hits).URL)

	for i := 0; i < 2; i++ {
		if _, err := c.Lookup(context.Background(), "unknown-film"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Lookup() error = %v, want ErrNotFound", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("catalog hits = %d, want 1", hits.Load())
	}
}

func TestClient_ServerErrorIsNotNotFound(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	c := newTestClient(t, catalogServer(t, &hits).URL)

	_, err := c.Lookup(context.Background(), "broken")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup() error = %v, want a transient failure", err)
	}
	if !errors.Is(err, fetch.ErrRetriesExhausted) {
		t.Errorf("error = %v, want ErrRetriesExhausted", err)
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(testFetcher(), config.EnrichmentConfig{}); err == nil {
		t.Error("NewClient() without base_url succeeded")
	}
}

func TestYearOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1995-12-15", 1995, true},
		{"", 0, false},
		{"1995", 0, false},
		{"not-a-date", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := yearOf(tt.in)
			if (got != nil) != tt.ok || (got != nil && *got != tt.want) {
				t.Errorf("yearOf(%q) = %v", tt.in, got)
			}
		})
	}
}

func TestWorker_RunOnce(t *testing.T) {
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "512MB", Threads: 2})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	for _, slug := range []string{"heat", "unknown-film", "flaky"} {
		if _, err := db.EnsureFilm(ctx, slug, ""); err != nil {
			t.Fatal(err)
		}
	}

	lookup := LookupFunc(func(_ context.Context, slug string) (*models.FilmMetadata, error) {
		switch slug {
		case "heat":
			year := 1995
			return &models.FilmMetadata{Title: "Heat", ReleaseYear: &year, Genres: []string{"Crime"}}, nil
		case "flaky":
			return nil, errors.New("connection reset")
		default:
			return nil, ErrNotFound
		}
	})
	w := NewWorker(lookup, db, 10, time.Minute)

	res, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Selected != 3 || res.Enriched != 1 || res.NotFound != 1 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	heat, err := db.GetFilmBySlug(ctx, "heat")
	if err != nil {
		t.Fatal(err)
	}
	if heat.EnrichmentStatus != models.EnrichmentDone || heat.Title != "Heat" || heat.ReleaseYear == nil {
		t.Errorf("heat = %+v", heat)
	}
	missing, err := db.GetFilmBySlug(ctx, "unknown-film")
	if err != nil {
		t.Fatal(err)
	}
	if missing.EnrichmentStatus != models.EnrichmentNotFound {
		t.Errorf("unknown-film status = %s", missing.EnrichmentStatus)
	}

	// Only the transient failure is retried on the next pass.
	res, err = w.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Selected != 1 || res.Failed != 1 {
		t.Errorf("second pass = %+v, want only flaky", res)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	store := &emptyStore{calls: &calls}
	w := NewWorker(LookupFunc(func(context.Context, string) (*models.FilmMetadata, error) { return nil, ErrNotFound }), store, 5, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first pass never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

type emptyStore struct {
	calls *atomic.Int32
}

func (s *emptyStore) ListFilmsPendingEnrichment(context.Context, int) ([]models.Film, error) {
	s.calls.Add(1)
	return nil, nil
}

func (s *emptyStore) ApplyFilmMetadata(context.Context, int64, *models.FilmMetadata) error {
	return nil
}

func (s *emptyStore) MarkFilmNotFound(context.Context, int64) error { return nil }
