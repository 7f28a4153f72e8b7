// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/cinecohort/internal/config"
)

func testConfig() config.FetcherConfig {
	return config.FetcherConfig{
		RequestsPerSecond:   1000,
		Burst:               10,
		Timeout:             2 * time.Second,
		MaxRetries:          3,
		BaseBackoff:         100 * time.Millisecond,
		MaxBackoff:          time.Second,
		Jitter:              0,
		RetryStatuses:       []int{429, 500, 502, 503, 504},
		BreakerFailureRatio: 0.6,
		BreakerMinRequests:  100,
		BreakerTimeout:      time.Minute,
	}
}

// recordingSleep captures backoff waits without sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestFetcher(cfg config.FetcherConfig, rec *recordingSleep) *RateLimitedFetcher {
	return NewRateLimitedFetcher(cfg, "cinecohort-test", WithSleep(rec.sleep), WithJitterSource(func() float64 { return 0.5 }))
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "cinecohort-test" {
			t.Errorf("User-Agent = %q", got)
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	rec := &recordingSleep{}
	f := newTestFetcher(testConfig(), rec)

	resp, err := f.Fetch(context.Background(), &Request{URL: server.URL + "/a"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("Body = %q, want hello", resp.Body)
	}
	if resp.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", resp.Attempts)
	}
	if len(rec.delays) != 0 {
		t.Errorf("expected no backoff, got %v", rec.delays)
	}
}

func TestFetch_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	rec := &recordingSleep{}
	f := newTestFetcher(testConfig(), rec)

	resp, err := f.Fetch(context.Background(), &Request{URL: server.URL})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", resp.Attempts)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestFetch_NonRetryable(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := newTestFetcher(testConfig(), &recordingSleep{})

	_, err := f.Fetch(context.Background(), &Request{URL: server.URL + "/missing"})
	if !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("expected ErrNonRetryable, got %v", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("non-retryable must not report exhausted retries")
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false for 404")
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestFetch_RetriesExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 2
	f := newTestFetcher(cfg, &recordingSleep{})

	_, err := f.Fetch(context.Background(), &Request{URL: server.URL})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if fe.Status != http.StatusInternalServerError || fe.Attempts != 3 {
		t.Errorf("unexpected error detail %+v", fe)
	}
	if hits.Load() != 3 {
		t.Errorf("server hits = %d, want 3", hits.Load())
	}
}

func TestFetch_HonoursRetryAfter(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxBackoff = 60 * time.Second
	rec := &recordingSleep{}
	f := newTestFetcher(cfg, rec)

	if _, err := f.Fetch(context.Background(), &Request{URL: server.URL}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(rec.delays) != 1 || rec.delays[0] != 7*time.Second {
		t.Errorf("delays = %v, want [7s]", rec.delays)
	}
}

func TestFetch_CircuitOpens(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	f := newTestFetcher(cfg, &recordingSleep{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(ctx, &Request{URL: server.URL}); !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("fetch %d: expected ErrRetriesExhausted, got %v", i, err)
		}
	}

	_, err := f.Fetch(ctx, &Request{URL: server.URL})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("open breaker must not contact the host, hits = %d", hits.Load())
	}
	if state := f.BreakerState(server.Listener.Addr().String()); state != "open" {
		t.Errorf("BreakerState() = %q, want open", state)
	}
}

func TestFetch_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := NewRateLimitedFetcher(testConfig(), "", WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := f.Fetch(ctx, &Request{URL: server.URL})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BaseBackoff = time.Second
	cfg.MaxBackoff = 5 * time.Second

	tests := []struct {
		name   string
		jitter float64
		src    float64
		n      int
		want   time.Duration
	}{
		{"first attempt", 0, 0.5, 0, time.Second},
		{"doubles", 0, 0.5, 2, 4 * time.Second},
		{"capped", 0, 0.5, 5, 5 * time.Second},
		{"jitter low", 0.2, 0, 1, 1600 * time.Millisecond},
		{"jitter high", 0.2, 0.999999, 2, 4*time.Second + 799999*time.Microsecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.Jitter = tt.jitter
			src := tt.src
			f := NewRateLimitedFetcher(c, "", WithJitterSource(func() float64 { return src }))
			got := f.backoff(tt.n)
			diff := got - tt.want
			if diff < 0 {
				diff = -diff
			}
			if diff > time.Millisecond {
				t.Errorf("backoff(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("parseRetryAfter(3) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter('') = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(soon) = %v", got)
	}
}
