// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/fetch"
	"github.com/tomtom215/cinecohort/internal/models"
)

// HTTP reads the platform's public pages through a fetch.Fetcher.
type HTTP struct {
	fetcher    fetch.Fetcher
	baseURL    string
	maxEntries int
}

// NewHTTP creates the HTTP source adapter.
func NewHTTP(f fetch.Fetcher, cfg config.SourceConfig) *HTTP {
	return &HTTP{
		fetcher:    f,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxEntries: cfg.RSSMaxEntries,
	}
}

func (h *HTTP) pageURL(username, listing string, page int) string {
	return fmt.Sprintf("%s/%s/%s/page/%d/", h.baseURL, url.PathEscape(username), listing, page)
}

func (h *HTTP) get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := h.fetcher.Fetch(ctx, &fetch.Request{
		URL:    rawURL,
		Header: http.Header{"Accept": []string{"text/html,application/xhtml+xml,application/rss+xml"}},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ListFollows fetches /{user}/following/page/{n}/. Past the last page the
// platform answers 404, which is reported as an empty page.
func (h *HTTP) ListFollows(ctx context.Context, username string, page int) ([]models.AccountRef, error) {
	body, err := h.get(ctx, h.pageURL(username, "following", page))
	if err != nil {
		if page > 1 && fetch.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list follows %s page %d: %w", username, page, err)
	}
	refs, err := parseFollows(body)
	if err != nil {
		return nil, fmt.Errorf("list follows %s page %d: %w", username, page, err)
	}
	return refs, nil
}

// ListActivity fetches /{user}/films/by/date/page/{n}/, which is ordered by
// most recent activity in both modes; mode only changes how far the engine
// walks it.
func (h *HTTP) ListActivity(ctx context.Context, username string, _ models.SyncMode, page int) (*ActivityPage, error) {
	body, err := h.get(ctx, h.pageURL(username, "films/by/date", page))
	if err != nil {
		if page > 1 && fetch.IsNotFound(err) {
			return &ActivityPage{}, nil
		}
		return nil, fmt.Errorf("list activity %s page %d: %w", username, page, err)
	}
	p, err := parseActivityPage(body)
	if err != nil {
		return nil, fmt.Errorf("list activity %s page %d: %w", username, page, err)
	}
	return p, nil
}

// FetchFeed fetches /{user}/rss/.
func (h *HTTP) FetchFeed(ctx context.Context, username string) ([]models.ActivityEntry, error) {
	body, err := h.get(ctx, fmt.Sprintf("%s/%s/rss/", h.baseURL, url.PathEscape(username)))
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", username, err)
	}
	entries, err := parseFeed(body, h.maxEntries)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", username, err)
	}
	return entries, nil
}
