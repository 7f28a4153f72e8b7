// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tomtom215/cinecohort/internal/models"
)

// Memory is a scripted Source for tests. Activity is served page by page
// as configured; follows are chunked into FollowsPageSize pages.
type Memory struct {
	FollowsPageSize int

	// OnActivity, when set, runs before each ListActivity call.
	OnActivity func(username string, page int)

	mu       sync.Mutex
	follows  map[string][]models.AccountRef
	activity map[string][][]models.ActivityEntry
	feeds    map[string][]models.ActivityEntry
	failures map[string]error
	calls    map[string]int
}

// NewMemory creates an empty Memory source.
func NewMemory() *Memory {
	return &Memory{
		FollowsPageSize: 25,
		follows:         make(map[string][]models.AccountRef),
		activity:        make(map[string][][]models.ActivityEntry),
		feeds:           make(map[string][]models.ActivityEntry),
		failures:        make(map[string]error),
		calls:           make(map[string]int),
	}
}

func memKey(kind, username string, page int) string {
	return fmt.Sprintf("%s:%s:%d", kind, strings.ToLower(username), page)
}

// SetFollows replaces the follow list of username.
func (m *Memory) SetFollows(username string, usernames ...string) {
	refs := make([]models.AccountRef, 0, len(usernames))
	for _, u := range usernames {
		refs = append(refs, models.AccountRef{Username: u, DisplayName: u})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.follows[strings.ToLower(username)] = refs
}

// SetActivity replaces the activity pages of username, newest first.
func (m *Memory) SetActivity(username string, pages ...[]models.ActivityEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity[strings.ToLower(username)] = pages
}

// SetFeed replaces the RSS entries of username.
func (m *Memory) SetFeed(username string, entries ...models.ActivityEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[strings.ToLower(username)] = entries
}

// FailActivity makes ListActivity for (username, page) return err until
// ClearFailures is called.
func (m *Memory) FailActivity(username string, page int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[memKey("activity", username, page)] = err
}

// FailFollows makes ListFollows for username return err on every page.
func (m *Memory) FailFollows(username string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[memKey("follows", username, 0)] = err
}

// ClearFailures removes every injected failure.
func (m *Memory) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
}

// ActivityCalls returns how many activity pages were requested for username.
func (m *Memory) ActivityCalls(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls["activity:"+strings.ToLower(username)]
}

// FollowCalls returns how many follow pages were requested for username.
func (m *Memory) FollowCalls(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls["follows:"+strings.ToLower(username)]
}

// ResetCalls zeroes the call counters.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// ListFollows implements Source.
func (m *Memory) ListFollows(ctx context.Context, username string, page int) ([]models.AccountRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	username = strings.ToLower(username)
	m.calls["follows:"+username]++
	if err := m.failures[memKey("follows", username, 0)]; err != nil {
		return nil, err
	}

	size := m.FollowsPageSize
	if size <= 0 {
		size = 25
	}
	all := m.follows[username]
	start := (page - 1) * size
	if page < 1 || start >= len(all) {
		return nil, nil
	}
	end := min(start+size, len(all))
	return append([]models.AccountRef(nil), all[start:end]...), nil
}

// ListActivity implements Source.
func (m *Memory) ListActivity(ctx context.Context, username string, _ models.SyncMode, page int) (*ActivityPage, error) {
	if m.OnActivity != nil {
		m.OnActivity(username, page)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	username = strings.ToLower(username)
	m.calls["activity:"+username]++
	if err := m.failures[memKey("activity", username, page)]; err != nil {
		return nil, err
	}

	pages := m.activity[username]
	if page < 1 || page > len(pages) {
		return &ActivityPage{}, nil
	}
	return &ActivityPage{
		Entries: append([]models.ActivityEntry(nil), pages[page-1]...),
		HasNext: page < len(pages),
	}, nil
}

// FetchFeed implements Source.
func (m *Memory) FetchFeed(ctx context.Context, username string) ([]models.ActivityEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ActivityEntry(nil), m.feeds[strings.ToLower(username)]...), nil
}
