// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package api

import (
	"fmt"

	"github.com/tomtom215/cinecohort/internal/cache"
	"github.com/tomtom215/cinecohort/internal/metrics"
)

// readCache memoizes downstream read responses per cohort. Keys are
// prefixed "cohort:{id}:" so a cohort's entries drop together when any of
// its snapshots change. A nil cache disables caching.
type readCache struct {
	c *cache.Cache
}

func newReadCache(c *cache.Cache) *readCache {
	return &readCache{c: c}
}

func cohortPrefix(cohortID int64) string {
	return fmt.Sprintf("cohort:%d:", cohortID)
}

func (rc *readCache) key(cohortID int64, view string, params interface{}) string {
	return cohortPrefix(cohortID) + cache.GenerateKey(view, params)
}

// load returns the cached value for key or computes, stores and returns it.
// The second result reports whether the value came from the cache.
func (rc *readCache) load(key string, compute func() (interface{}, error)) (interface{}, bool, error) {
	if rc.c == nil {
		v, err := compute()
		return v, false, err
	}
	if v, ok := rc.c.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return v, true, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	v, err := compute()
	if err != nil {
		return nil, false, err
	}
	rc.c.Set(key, v)
	return v, false, nil
}

func (rc *readCache) invalidate(cohortID int64) {
	if rc.c == nil {
		return
	}
	rc.c.DeletePrefix(cohortPrefix(cohortID))
}

func cacheState(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
