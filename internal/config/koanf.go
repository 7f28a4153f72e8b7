// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cinecohort/config.yaml",
	"/etc/cinecohort/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults. Defaults are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       120,
			ReadCacheTTL:    30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "./data/cinecohort.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Source: SourceConfig{
			BaseURL:       "https://letterboxd.com",
			UserAgent:     "cinecohort/1.0 (+https://github.com/tomtom215/cinecohort)",
			RSSMaxEntries: 50,
		},
		Fetcher: FetcherConfig{
			RequestsPerSecond:   1.0,
			Burst:               1,
			Timeout:             15 * time.Second,
			MaxRetries:          3,
			BaseBackoff:         2 * time.Second,
			MaxBackoff:          60 * time.Second,
			Jitter:              0.2,
			RetryStatuses:       []int{429, 500, 502, 503, 504},
			BreakerFailureRatio: 0.6,
			BreakerMinRequests:  10,
			BreakerTimeout:      2 * time.Minute,
		},
		Sync: SyncConfig{
			FullConcurrency:        2,
			IncrementalConcurrency: 4,
			PageLimit:              0,
		},
		Cohort: CohortConfig{
			FollowDepth: 1,
			IncludeSeed: true,
		},
		Ranking: RankingConfig{
			MValue:        50,
			MinVotes:      25,
			WatchersFloor: 5,
			Weights: AffinityWeight{
				AvgRating:    0.35,
				Watchers:     0.20,
				FavoriteRate: 0.25,
				LikeRate:     0.10,
				Distribution: 0.10,
				Consensus:    0.10,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			Timezone:        "UTC",
			MembershipCron:  "0 3 * * 1",
			IncrementalCron: "0 4 * * *",
			RecomputeCron:   "30 5 * * *",
		},
		Enrichment: EnrichmentConfig{
			Enabled:   false,
			Interval:  10 * time.Minute,
			BatchSize: 50,
		},
		RSS: RSSConfig{
			Enabled:      false,
			PollInterval: 60 * time.Minute,
		},
		Messaging: MessagingConfig{
			Backend:      "memory",
			NATSURL:      "nats://127.0.0.1:4222",
			EmbeddedNATS: false,
			NATSHost:     "127.0.0.1",
			NATSPort:     4222,
			StoreDir:     "./data/nats",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with Koanf from layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables: override any mapped setting
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile loads configuration using an explicit YAML path. An empty path
// skips the file layer.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// DUCKDB_PATH -> database.path, FETCH_RPS -> fetcher.requests_per_second
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first config file found, or "" when none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"fetcher.retry_statuses",
}

// processSliceFields converts comma-separated string values to slices.
// Values that are already slices (from YAML) are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":          "server.cors_origins",
	"rate_limit":            "server.rate_limit",
	"read_cache_ttl":        "server.read_cache_ttl",

	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Source platform
	"source_base_url":   "source.base_url",
	"source_user_agent": "source.user_agent",
	"rss_max_entries":   "source.rss_max_entries",

	// Fetcher
	"fetch_rps":                   "fetcher.requests_per_second",
	"fetch_burst":                 "fetcher.burst",
	"fetch_timeout":               "fetcher.timeout",
	"fetch_max_retries":           "fetcher.max_retries",
	"fetch_base_backoff":          "fetcher.base_backoff",
	"fetch_max_backoff":           "fetcher.max_backoff",
	"fetch_jitter":                "fetcher.jitter",
	"fetch_retry_statuses":        "fetcher.retry_statuses",
	"fetch_breaker_failure_ratio": "fetcher.breaker_failure_ratio",
	"fetch_breaker_min_requests":  "fetcher.breaker_min_requests",
	"fetch_breaker_timeout":       "fetcher.breaker_timeout",

	// Sync
	"sync_full_concurrency":        "sync.full_concurrency",
	"sync_incremental_concurrency": "sync.incremental_concurrency",
	"sync_page_limit":              "sync.page_limit",

	// Cohort defaults
	"cohort_follow_depth": "cohort.follow_depth",
	"cohort_include_seed": "cohort.include_seed",

	// Ranking
	"ranking_m_value":        "ranking.m_value",
	"ranking_min_votes":      "ranking.min_votes",
	"ranking_watchers_floor": "ranking.watchers_floor",

	// Scheduler
	"scheduler_enabled":  "scheduler.enabled",
	"scheduler_timezone": "scheduler.timezone",
	"membership_cron":    "scheduler.membership_cron",
	"incremental_cron":   "scheduler.incremental_cron",
	"recompute_cron":     "scheduler.recompute_cron",

	// Enrichment
	"enrichment_enabled":    "enrichment.enabled",
	"enrichment_base_url":   "enrichment.base_url",
	"enrichment_api_key":    "enrichment.api_key",
	"enrichment_interval":   "enrichment.interval",
	"enrichment_batch_size": "enrichment.batch_size",

	// RSS
	"rss_enabled":       "rss.enabled",
	"rss_poll_interval": "rss.poll_interval",

	// Messaging
	"messaging_backend": "messaging.backend",
	"nats_url":          "messaging.nats_url",
	"nats_embedded":     "messaging.embedded_nats",
	"nats_host":         "messaging.nats_host",
	"nats_port":         "messaging.nats_port",
	"nats_store_dir":    "messaging.store_dir",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
//   - DUCKDB_PATH -> database.path
//   - HTTP_PORT -> server.port
//   - FETCH_RPS -> fetcher.requests_per_second
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
