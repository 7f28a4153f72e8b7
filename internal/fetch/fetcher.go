// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package fetch implements the rate-limited, retrying HTTP fetcher that
// every outbound call to the source platform and the metadata service goes
// through.
//
// Each external host gets one token bucket and one circuit breaker, shared
// by every caller targeting that host. Transient failures (timeouts, 5xx,
// 429) are retried with jittered exponential backoff up to MaxRetries; the
// terminal error distinguishes ErrRetriesExhausted from ErrNonRetryable so
// callers can choose between checkpoint-and-stop and record-and-skip.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/metrics"
)

// maxBodyBytes caps a single response body.
const maxBodyBytes = 16 << 20

var (
	errTransient = errors.New("transient failure")
	errPermanent = errors.New("permanent failure")
)

// Request is a single outbound GET.
type Request struct {
	URL    string
	Header http.Header
}

// Response is a successful (2xx) response with its body fully read.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Attempts int
}

// Fetcher is the contract consumed by the source adapter and the
// enrichment client.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

type hostState struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Response]
}

// RateLimitedFetcher is the production Fetcher.
type RateLimitedFetcher struct {
	cfg       config.FetcherConfig
	userAgent string
	client    *http.Client
	retryable map[int]bool

	mu    sync.Mutex
	hosts map[string]*hostState

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// Option configures a RateLimitedFetcher.
type Option func(*RateLimitedFetcher)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *RateLimitedFetcher) { f.client = c }
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *RateLimitedFetcher) { f.sleep = sleep }
}

// WithJitterSource replaces the [0,1) random source for backoff jitter.
func WithJitterSource(src func() float64) Option {
	return func(f *RateLimitedFetcher) { f.jitter = src }
}

// NewRateLimitedFetcher creates a fetcher from configuration.
func NewRateLimitedFetcher(cfg config.FetcherConfig, userAgent string, opts ...Option) *RateLimitedFetcher {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	statuses := cfg.RetryStatuses
	if len(statuses) == 0 {
		statuses = []int{429, 500, 502, 503, 504}
	}

	f := &RateLimitedFetcher{
		cfg:       cfg,
		userAgent: userAgent,
		client:    &http.Client{},
		retryable: make(map[int]bool, len(statuses)),
		hosts:     make(map[string]*hostState),
		sleep:     sleepContext,
		jitter:    rand.Float64,
	}
	for _, s := range statuses {
		f.retryable[s] = true
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *RateLimitedFetcher) host(name string) *hostState {
	f.mu.Lock()
	defer f.mu.Unlock()

	hs, ok := f.hosts[name]
	if !ok {
		hs = &hostState{
			limiter: rate.NewLimiter(rate.Limit(f.cfg.RequestsPerSecond), f.cfg.Burst),
			breaker: newHostBreaker(name, &f.cfg),
		}
		f.hosts[name] = hs
	}
	return hs
}

// BreakerState returns the breaker state for a host ("closed" when the
// host has never been contacted).
func (f *RateLimitedFetcher) BreakerState(host string) string {
	f.mu.Lock()
	hs, ok := f.hosts[host]
	f.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return hs.breaker.State().String()
}

// Fetch performs req, waiting on the host token bucket before every attempt.
func (f *RateLimitedFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return nil, &Error{URL: req.URL, Kind: ErrNonRetryable, Cause: fmt.Errorf("invalid url: %w", err)}
	}
	host := u.Host
	hs := f.host(host)
	log := logging.Ctx(ctx).With().Str("component", "fetch").Str("host", host).Logger()

	var (
		lastStatus int
		lastErr    error
	)
	maxAttempts := f.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		waitStart := time.Now()
		if err := hs.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
		metrics.FetchRateLimitWait.WithLabelValues(host).Observe(time.Since(waitStart).Seconds())

		var retryAfter time.Duration
		resp, err := hs.breaker.Execute(func() (*Response, error) {
			r, ra, err := f.attempt(ctx, req)
			retryAfter = ra
			return r, err
		})

		switch {
		case err == nil:
			resp.Attempts = attempt
			metrics.FetchRequests.WithLabelValues(host, "ok").Inc()
			return resp, nil

		case ctx.Err() != nil:
			return nil, ctx.Err()

		case isBreakerRejection(err):
			metrics.FetchRequests.WithLabelValues(host, "circuit_open").Inc()
			return nil, &Error{URL: req.URL, Attempts: attempt, Kind: ErrCircuitOpen, Cause: err}

		case errors.Is(err, errPermanent):
			metrics.FetchRequests.WithLabelValues(host, "non_retryable").Inc()
			return nil, &Error{URL: req.URL, Status: statusOf(err), Attempts: attempt, Kind: ErrNonRetryable, Cause: causeOf(err)}
		}

		lastStatus = statusOf(err)
		lastErr = causeOf(err)
		if attempt == maxAttempts {
			break
		}

		delay := f.backoff(attempt - 1)
		if retryAfter > 0 {
			delay = min(retryAfter, f.cfg.MaxBackoff)
		}
		metrics.FetchRequests.WithLabelValues(host, "retried").Inc()
		log.Warn().
			Err(lastErr).
			Str("url", req.URL).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Msg("Transient fetch failure, retrying")

		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	metrics.FetchRequests.WithLabelValues(host, "exhausted").Inc()
	return nil, &Error{URL: req.URL, Status: lastStatus, Attempts: maxAttempts, Kind: ErrRetriesExhausted, Cause: lastErr}
}

// backoff returns base*2^n capped at MaxBackoff with the configured jitter
// fraction applied symmetrically.
func (f *RateLimitedFetcher) backoff(n int) time.Duration {
	d := float64(f.cfg.BaseBackoff) * math.Pow(2, float64(n))
	if limit := float64(f.cfg.MaxBackoff); d > limit {
		d = limit
	}
	if j := f.cfg.Jitter; j > 0 {
		d *= 1 + j*(2*f.jitter()-1)
	}
	if limit := float64(f.cfg.MaxBackoff); d > limit {
		d = limit
	}
	return time.Duration(d)
}

// attemptError carries the status and cause of one failed attempt, tagged
// transient or permanent.
type attemptError struct {
	kind   error
	status int
	cause  error
}

func (e *attemptError) Error() string { return e.cause.Error() }
func (e *attemptError) Unwrap() error { return e.kind }

func statusOf(err error) int {
	var ae *attemptError
	if errors.As(err, &ae) {
		return ae.status
	}
	return 0
}

func causeOf(err error) error {
	var ae *attemptError
	if errors.As(err, &ae) {
		return ae.cause
	}
	return err
}

// attempt sends one request under the per-request timeout.
func (f *RateLimitedFetcher) attempt(ctx context.Context, req *Request) (*Response, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, 0, &attemptError{kind: errPermanent, cause: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" && f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	metrics.FetchDuration.WithLabelValues(httpReq.URL.Host).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		// Timeouts and connection failures are transient.
		return nil, 0, &attemptError{kind: errTransient, cause: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case f.retryable[resp.StatusCode]:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")),
			&attemptError{kind: errTransient, status: resp.StatusCode, cause: &StatusError{Status: resp.StatusCode}}
	case resp.StatusCode >= 300:
		return nil, 0, &attemptError{kind: errPermanent, status: resp.StatusCode, cause: &StatusError{Status: resp.StatusCode}}
	case readErr != nil:
		return nil, 0, &attemptError{kind: errTransient, status: resp.StatusCode, cause: fmt.Errorf("read body: %w", readErr)}
	}

	return &Response{
		URL:    req.URL,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, 0, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
