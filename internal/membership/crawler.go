// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package membership computes a cohort's member set by walking the
// "follows" graph from its seed account and reconciles it with the stored
// membership.
package membership

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/source"
)

const (
	defaultMaxFollowPages = 100
	defaultFanout         = 4
)

// Crawler performs a breadth-first walk of the follow graph.
type Crawler struct {
	src            source.Source
	maxFollowPages int
	fanout         int
}

// CrawlerOption configures a Crawler.
type CrawlerOption func(*Crawler)

// WithMaxFollowPages caps the follow pages read per account.
func WithMaxFollowPages(n int) CrawlerOption {
	return func(c *Crawler) { c.maxFollowPages = n }
}

// WithFanout sets how many accounts of one level are fetched concurrently.
// The fetcher's host bucket still bounds the request rate.
func WithFanout(n int) CrawlerOption {
	return func(c *Crawler) { c.fanout = n }
}

// NewCrawler creates a crawler reading follows from src.
func NewCrawler(src source.Source, opts ...CrawlerOption) *Crawler {
	c := &Crawler{src: src, maxFollowPages: defaultMaxFollowPages, fanout: defaultFanout}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxFollowPages <= 0 {
		c.maxFollowPages = defaultMaxFollowPages
	}
	if c.fanout <= 0 {
		c.fanout = 1
	}
	return c
}

// Crawl returns every account reachable from seed within depth follow
// hops, each tagged with the level at which it was first discovered. The
// seed itself is included at depth 0 when includeSeed is set.
//
// Levels are expanded in order and, within a level, accounts in the order
// they were discovered, so the result is deterministic for a given graph.
// Any fetch failure aborts the crawl: a partial set must never be applied,
// or a refresh would delete members it simply failed to see.
func (c *Crawler) Crawl(ctx context.Context, seed models.AccountRef, depth int, includeSeed bool) ([]models.DiscoveredMember, error) {
	seed.Username = strings.ToLower(strings.TrimSpace(seed.Username))
	if seed.Username == "" {
		return nil, fmt.Errorf("crawl: empty seed username")
	}
	if seed.DisplayName == "" {
		seed.DisplayName = seed.Username
	}

	visited := map[string]bool{seed.Username: true}
	var members []models.DiscoveredMember
	if includeSeed {
		members = append(members, models.DiscoveredMember{Account: seed, Depth: 0})
	}

	frontier := []models.AccountRef{seed}
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		follows, err := c.expand(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("crawl level %d: %w", level, err)
		}

		var next []models.AccountRef
		for _, refs := range follows {
			for _, ref := range refs {
				if visited[ref.Username] {
					continue
				}
				visited[ref.Username] = true
				members = append(members, models.DiscoveredMember{Account: ref, Depth: level})
				next = append(next, ref)
			}
		}
		logging.Ctx(ctx).Debug().
			Str("seed", seed.Username).
			Int("level", level).
			Int("frontier", len(frontier)).
			Int("discovered", len(next)).
			Msg("Follow graph level expanded")
		frontier = next
	}
	return members, nil
}

// expand fetches the follow lists of every account in frontier. Results
// are indexed like frontier.
func (c *Crawler) expand(ctx context.Context, frontier []models.AccountRef) ([][]models.AccountRef, error) {
	out := make([][]models.AccountRef, len(frontier))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanout)
	for i, ref := range frontier {
		g.Go(func() error {
			refs, err := c.follows(gctx, ref.Username)
			if err != nil {
				return err
			}
			out[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// follows pages through one account's follow list until an empty page.
func (c *Crawler) follows(ctx context.Context, username string) ([]models.AccountRef, error) {
	var all []models.AccountRef
	for page := 1; page <= c.maxFollowPages; page++ {
		refs, err := c.src.ListFollows(ctx, username, page)
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			return all, nil
		}
		for _, ref := range refs {
			ref.Username = strings.ToLower(strings.TrimSpace(ref.Username))
			if ref.Username != "" {
				all = append(all, ref)
			}
		}
	}
	logging.Ctx(ctx).Warn().
		Str("username", username).
		Int("max_pages", c.maxFollowPages).
		Msg("Follow list truncated at page cap")
	return all, nil
}
