// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cinecohort/internal/cache"
	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/fetch"
	"github.com/tomtom215/cinecohort/internal/models"
)

// DefaultCacheTTL bounds how long a catalog answer, including not found, is
// reused.
const DefaultCacheTTL = time.Hour

// catalogFilm is the catalog's JSON shape for GET /films/{slug}.
type catalogFilm struct {
	Title         string `json:"title"`
	OriginalTitle string `json:"original_title"`
	ReleaseDate   string `json:"release_date"`
	ReleaseYear   *int   `json:"release_year"`
	PosterURL     string `json:"poster_url"`
	PosterPath    string `json:"poster_path"`
	Genres        []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Credits struct {
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
}

// Client looks films up in a JSON catalog over the shared fetcher.
type Client struct {
	fetcher   fetch.Fetcher
	baseURL   string
	apiKey    string
	imageBase string
	cache     *cache.Cache
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCache replaces the lookup cache.
func WithCache(c *cache.Cache) ClientOption {
	return func(cl *Client) { cl.cache = c }
}

// WithImageBase sets the prefix applied to relative poster paths.
func WithImageBase(base string) ClientOption {
	return func(cl *Client) { cl.imageBase = strings.TrimRight(base, "/") }
}

// NewClient creates a catalog client. Requests go through f so they share
// its rate limits and breaker.
func NewClient(f fetch.Fetcher, cfg config.EnrichmentConfig, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("enrichment base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid enrichment base_url: %w", err)
	}
	c := &Client{
		fetcher: f,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = cache.New(DefaultCacheTTL)
	}
	return c, nil
}

// Close releases the lookup cache.
func (c *Client) Close() {
	c.cache.Close()
}

func (c *Client) filmURL(slug string) string {
	u := c.baseURL + "/films/" + url.PathEscape(slug)
	if c.apiKey != "" {
		u += "?" + url.Values{"api_key": {c.apiKey}}.Encode()
	}
	return u
}

// Lookup returns the catalog metadata for slug, or ErrNotFound.
func (c *Client) Lookup(ctx context.Context, slug string) (*models.FilmMetadata, error) {
	key := "film:" + slug
	if v, ok := c.cache.Get(key); ok {
		if v == nil {
			return nil, fmt.Errorf("%s: %w", slug, ErrNotFound)
		}
		meta := *v.(*models.FilmMetadata)
		return &meta, nil
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	resp, err := c.fetcher.Fetch(ctx, &fetch.Request{URL: c.filmURL(slug), Header: header})
	if err != nil {
		if fetch.IsNotFound(err) {
			c.cache.Set(key, nil)
			return nil, fmt.Errorf("%s: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("lookup %s: %w", slug, err)
	}

	var body catalogFilm
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode catalog entry %s: %w", slug, err)
	}
	meta := c.toMetadata(&body)
	if meta.Title == "" {
		c.cache.Set(key, nil)
		return nil, fmt.Errorf("%s: %w", slug, ErrNotFound)
	}
	c.cache.Set(key, meta)
	out := *meta
	return &out, nil
}

func (c *Client) toMetadata(b *catalogFilm) *models.FilmMetadata {
	meta := &models.FilmMetadata{
		Title:       b.Title,
		ReleaseYear: b.ReleaseYear,
		PosterURL:   b.PosterURL,
	}
	if meta.Title == "" {
		meta.Title = b.OriginalTitle
	}
	if meta.ReleaseYear == nil {
		meta.ReleaseYear = yearOf(b.ReleaseDate)
	}
	if meta.PosterURL == "" && b.PosterPath != "" {
		meta.PosterURL = c.imageBase + b.PosterPath
	}
	for _, g := range b.Genres {
		if g.Name != "" {
			meta.Genres = append(meta.Genres, g.Name)
		}
	}
	seen := make(map[string]bool)
	for _, p := range b.Credits.Crew {
		if p.Job != "Director" || p.Name == "" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		meta.People = append(meta.People, p.Name)
	}
	return meta
}

// yearOf extracts the year from an ISO date; malformed dates give nil.
func yearOf(date string) *int {
	if len(date) < 4 {
		return nil
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return nil
	}
	return &y
}
