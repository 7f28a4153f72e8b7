// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package source

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/cinecohort/internal/models"
)

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

// rssItem matches the platform's feed items. Namespaced elements are
// matched by local name.
type rssItem struct {
	Title        string `xml:"title"`
	Link         string `xml:"link"`
	PubDate      string `xml:"pubDate"`
	WatchedDate  string `xml:"watchedDate"`
	FilmTitle    string `xml:"filmTitle"`
	FilmSlug     string `xml:"filmSlug"`
	MemberRating string `xml:"memberRating"`
}

// parseFeed returns at most maxEntries rated film entries from an RSS
// document. Entries without a slug or a rating (lists, unrated diary
// entries) are skipped. maxEntries <= 0 means no cap.
func parseFeed(body []byte, maxEntries int) ([]models.ActivityEntry, error) {
	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: rss: %v", ErrParse, err)
	}

	entries := make([]models.ActivityEntry, 0, len(doc.Channel.Items))
	for i := range doc.Channel.Items {
		if maxEntries > 0 && len(entries) >= maxEntries {
			break
		}
		if e, ok := feedEntry(&doc.Channel.Items[i]); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func feedEntry(item *rssItem) (models.ActivityEntry, bool) {
	slug := normalizeSlug(item.FilmSlug)
	if slug == "" {
		slug = slugFromLink(item.Link)
	}
	if slug == "" {
		return models.ActivityEntry{}, false
	}

	title := strings.TrimSpace(item.FilmTitle)
	if title == "" {
		title = strings.TrimSpace(item.Title)
		if i := strings.LastIndex(title, " - "); i > 0 {
			title = strings.TrimSpace(title[:i])
		}
	}
	if title == "" {
		title = slug
	}

	var rating *float64
	if v, ok := coerceRating(item.MemberRating); ok {
		rating = &v
	} else if i := strings.LastIndex(item.Title, "-"); i >= 0 {
		if v, ok := starRating(item.Title[i+1:]); ok {
			rating = &v
		}
	}
	if rating == nil {
		return models.ActivityEntry{}, false
	}

	var observed time.Time
	if t, ok := parseDate(item.WatchedDate); ok {
		observed = t
	} else if t, ok := parseDate(item.PubDate); ok {
		observed = t
	}

	return models.ActivityEntry{
		FilmSlug:   slug,
		FilmTitle:  title,
		Rating:     rating,
		ObservedAt: observed,
	}, true
}
