// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks that configuration is present and consistent.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateFetcher(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateRanking(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	if err := c.validateMessaging(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must be >= 0, got %d", c.Server.RateLimit)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be >= 0, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateSource() error {
	if err := validateHTTPURL("SOURCE_BASE_URL", c.Source.BaseURL); err != nil {
		return err
	}
	if c.Source.RSSMaxEntries < 1 {
		return fmt.Errorf("RSS_MAX_ENTRIES must be >= 1, got %d", c.Source.RSSMaxEntries)
	}
	return nil
}

func (c *Config) validateFetcher() error {
	f := c.Fetcher
	if f.RequestsPerSecond <= 0 {
		return fmt.Errorf("FETCH_RPS must be > 0, got %v", f.RequestsPerSecond)
	}
	if f.Burst < 1 {
		return fmt.Errorf("FETCH_BURST must be >= 1, got %d", f.Burst)
	}
	if f.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %v", f.Timeout)
	}
	if f.MaxRetries < 0 {
		return fmt.Errorf("FETCH_MAX_RETRIES must be >= 0, got %d", f.MaxRetries)
	}
	if f.BaseBackoff <= 0 || f.MaxBackoff < f.BaseBackoff {
		return fmt.Errorf("FETCH_BASE_BACKOFF must be positive and <= FETCH_MAX_BACKOFF (%v, %v)", f.BaseBackoff, f.MaxBackoff)
	}
	if f.Jitter < 0 || f.Jitter > 1 {
		return fmt.Errorf("FETCH_JITTER must be within [0, 1], got %v", f.Jitter)
	}
	for _, code := range f.RetryStatuses {
		if code < 400 || code > 599 {
			return fmt.Errorf("FETCH_RETRY_STATUSES contains non-error status %d", code)
		}
	}
	if f.BreakerFailureRatio <= 0 || f.BreakerFailureRatio > 1 {
		return fmt.Errorf("FETCH_BREAKER_FAILURE_RATIO must be within (0, 1], got %v", f.BreakerFailureRatio)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.FullConcurrency < 1 {
		return fmt.Errorf("SYNC_FULL_CONCURRENCY must be >= 1, got %d", c.Sync.FullConcurrency)
	}
	if c.Sync.IncrementalConcurrency < 1 {
		return fmt.Errorf("SYNC_INCREMENTAL_CONCURRENCY must be >= 1, got %d", c.Sync.IncrementalConcurrency)
	}
	if c.Sync.PageLimit < 0 {
		return fmt.Errorf("SYNC_PAGE_LIMIT must be >= 0, got %d", c.Sync.PageLimit)
	}
	if c.Cohort.FollowDepth < 0 || c.Cohort.FollowDepth > 3 {
		return fmt.Errorf("COHORT_FOLLOW_DEPTH must be within [0, 3], got %d", c.Cohort.FollowDepth)
	}
	return nil
}

func (c *Config) validateRanking() error {
	r := c.Ranking
	if r.MValue < 0 {
		return fmt.Errorf("RANKING_M_VALUE must be >= 0, got %v", r.MValue)
	}
	if r.MinVotes < 0 {
		return fmt.Errorf("RANKING_MIN_VOTES must be >= 0, got %d", r.MinVotes)
	}
	w := r.Weights
	for name, v := range map[string]float64{
		"avg_rating":    w.AvgRating,
		"watchers":      w.Watchers,
		"favorite_rate": w.FavoriteRate,
		"like_rate":     w.LikeRate,
		"distribution":  w.Distribution,
		"consensus":     w.Consensus,
	} {
		if v < 0 {
			return fmt.Errorf("ranking.weights.%s must be >= 0, got %v", name, v)
		}
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if !c.Scheduler.Enabled {
		return nil
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE %q is invalid: %w", c.Scheduler.Timezone, err)
	}
	if c.Scheduler.IncrementalCron == "" {
		return fmt.Errorf("INCREMENTAL_CRON is required when SCHEDULER_ENABLED=true")
	}
	for name, spec := range map[string]string{
		"MEMBERSHIP_CRON":  c.Scheduler.MembershipCron,
		"INCREMENTAL_CRON": c.Scheduler.IncrementalCron,
		"RECOMPUTE_CRON":   c.Scheduler.RecomputeCron,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q is invalid: %w", name, spec, err)
		}
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	if !c.Enrichment.Enabled {
		return nil
	}
	if err := validateHTTPURL("ENRICHMENT_BASE_URL", c.Enrichment.BaseURL); err != nil {
		return err
	}
	if c.Enrichment.Interval <= 0 {
		return fmt.Errorf("ENRICHMENT_INTERVAL must be positive, got %v", c.Enrichment.Interval)
	}
	if c.Enrichment.BatchSize < 1 {
		return fmt.Errorf("ENRICHMENT_BATCH_SIZE must be >= 1, got %d", c.Enrichment.BatchSize)
	}
	return nil
}

func (c *Config) validateMessaging() error {
	switch c.Messaging.Backend {
	case "memory":
		return nil
	case "nats":
		if c.Messaging.EmbeddedNATS {
			if c.Messaging.NATSPort < 1 || c.Messaging.NATSPort > 65535 {
				return fmt.Errorf("NATS_PORT must be between 1 and 65535, got %d", c.Messaging.NATSPort)
			}
			return nil
		}
		if !strings.HasPrefix(c.Messaging.NATSURL, "nats://") {
			return fmt.Errorf("NATS_URL must start with nats://, got %q", c.Messaging.NATSURL)
		}
		return nil
	default:
		return fmt.Errorf("MESSAGING_BACKEND must be 'memory' or 'nats', got %q", c.Messaging.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is invalid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got %q", c.Logging.Format)
	}
}

func validateHTTPURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
