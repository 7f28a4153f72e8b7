// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package config loads and validates Cinecohort configuration.
//
// Configuration is layered with Koanf: built-in defaults, then an optional
// YAML file, then environment variables. Components receive the section
// they need as an explicit value; nothing reads configuration globally.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Source     SourceConfig     `koanf:"source"`
	Fetcher    FetcherConfig    `koanf:"fetcher"`
	Sync       SyncConfig       `koanf:"sync"`
	Cohort     CohortConfig     `koanf:"cohort"`
	Ranking    RankingConfig    `koanf:"ranking"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	RSS        RSSConfig        `koanf:"rss"`
	Messaging  MessagingConfig  `koanf:"messaging"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig configures the HTTP read and command surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"` // requests per minute per client IP, 0 disables
	ReadCacheTTL    time.Duration `koanf:"read_cache_ttl"`
}

// DatabaseConfig configures the DuckDB event store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = DuckDB default
}

// SourceConfig describes the source platform.
type SourceConfig struct {
	BaseURL       string `koanf:"base_url"`
	UserAgent     string `koanf:"user_agent"`
	RSSMaxEntries int    `koanf:"rss_max_entries"`
}

// FetcherConfig configures the rate-limited fetcher.
type FetcherConfig struct {
	RequestsPerSecond   float64       `koanf:"requests_per_second"`
	Burst               int           `koanf:"burst"`
	Timeout             time.Duration `koanf:"timeout"`
	MaxRetries          int           `koanf:"max_retries"`
	BaseBackoff         time.Duration `koanf:"base_backoff"`
	MaxBackoff          time.Duration `koanf:"max_backoff"`
	Jitter              float64       `koanf:"jitter"` // fraction of each backoff randomized, 0..1
	RetryStatuses       []int         `koanf:"retry_statuses"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout"`
}

// SyncConfig configures the run coordinator and sync engine.
type SyncConfig struct {
	FullConcurrency        int `koanf:"full_concurrency"`
	IncrementalConcurrency int `koanf:"incremental_concurrency"`
	// PageLimit caps pages per member per run; 0 means unbounded.
	PageLimit int `koanf:"page_limit"`
}

// CohortConfig holds defaults applied to new cohorts.
type CohortConfig struct {
	FollowDepth int  `koanf:"follow_depth"`
	IncludeSeed bool `koanf:"include_seed"`
}

// RankingConfig holds strategy parameters. Weights are fixed configuration.
type RankingConfig struct {
	MValue        float64        `koanf:"m_value"`
	MinVotes      int            `koanf:"min_votes"`
	WatchersFloor float64        `koanf:"watchers_floor"`
	Weights       AffinityWeight `koanf:"weights"`
}

// AffinityWeight are the composite affinity feature weights.
type AffinityWeight struct {
	AvgRating    float64 `koanf:"avg_rating"`
	Watchers     float64 `koanf:"watchers"`
	FavoriteRate float64 `koanf:"favorite_rate"`
	LikeRate     float64 `koanf:"like_rate"`
	Distribution float64 `koanf:"distribution"`
	Consensus    float64 `koanf:"consensus"`
}

// SchedulerConfig configures cron-driven runs.
type SchedulerConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Timezone        string `koanf:"timezone"`
	MembershipCron  string `koanf:"membership_cron"`
	IncrementalCron string `koanf:"incremental_cron"`
	RecomputeCron   string `koanf:"recompute_cron"`
}

// EnrichmentConfig configures the metadata enrichment worker.
type EnrichmentConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

// RSSConfig configures the RSS feed poller.
type RSSConfig struct {
	Enabled      bool          `koanf:"enabled"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// MessagingConfig selects the command bus backend.
type MessagingConfig struct {
	Backend      string `koanf:"backend"` // memory or nats
	NATSURL      string `koanf:"nats_url"`
	EmbeddedNATS bool   `koanf:"embedded_nats"`
	NATSHost     string `koanf:"nats_host"`
	NATSPort     int    `koanf:"nats_port"`
	StoreDir     string `koanf:"store_dir"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
