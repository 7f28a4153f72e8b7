// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package source

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/tomtom215/cinecohort/internal/models"
)

var (
	filmLinkPattern   = regexp.MustCompile(`/film/([^/?#]+)/?`)
	ratedClassPattern = regexp.MustCompile(`^rated-(\d+)$`)
)

// ratingAttributes are checked in order when no rated-N class is present.
// Values above 5 are on a ten-point scale.
var ratingAttributes = []string{"data-rating", "data-average-rating", "data-my-rating", "data-own-rating"}

func parseDocument(body []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return doc, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && n.Data == tag
}

// findAll returns n and its element descendants matching pred, in
// document order.
func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && pred(c) {
			out = append(out, c)
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return out
}

// findFirst returns the first element in n's subtree (n included)
// matching pred, or nil.
func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && pred(n) {
		return n
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if found := findFirst(ch, pred); found != nil {
			return found
		}
	}
	return nil
}

func hasAncestor(n *html.Node, pred func(*html.Node) bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && pred(p) {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func normalizeSlug(slug string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(slug)), "/")
}

func slugFromLink(link string) string {
	m := filmLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return normalizeSlug(m[1])
}

func hasSlugAttr(n *html.Node) bool {
	return attr(n, "data-film-slug") != "" || attr(n, "data-item-slug") != ""
}

// listingContainers locates one node per film tile. The platform has
// shipped several grid layouts; when none match, the outermost elements
// carrying a slug attribute are used.
func listingContainers(doc *html.Node) []*html.Node {
	items := findAll(doc, func(n *html.Node) bool {
		if n.Data != "li" {
			return false
		}
		if hasClass(n, "poster-container") || hasClass(n, "listitem") {
			return true
		}
		if hasClass(n, "griditem") && hasAncestor(n, func(p *html.Node) bool {
			return p.Data == "div" && hasClass(p, "poster-grid")
		}) {
			return true
		}
		return isElement(n.Parent, "ul") && hasClass(n.Parent, "poster-list")
	})
	if len(items) > 0 {
		return items
	}
	return findAll(doc, func(n *html.Node) bool {
		return hasSlugAttr(n) && !hasAncestor(n, hasSlugAttr)
	})
}

func filmSlug(n *html.Node) string {
	for _, key := range []string{"data-film-slug", "data-item-slug"} {
		if el := findFirst(n, func(c *html.Node) bool { return attr(c, key) != "" }); el != nil {
			if slug := normalizeSlug(attr(el, key)); slug != "" {
				return slug
			}
		}
	}
	for _, key := range []string{"data-item-link", "data-target-link"} {
		if el := findFirst(n, func(c *html.Node) bool { return attr(c, key) != "" }); el != nil {
			if slug := slugFromLink(attr(el, key)); slug != "" {
				return slug
			}
		}
	}
	if a := findFirst(n, func(c *html.Node) bool {
		return c.Data == "a" && filmLinkPattern.MatchString(attr(c, "href"))
	}); a != nil {
		return slugFromLink(attr(a, "href"))
	}
	return ""
}

func filmTitle(n *html.Node) string {
	if img := findFirst(n, func(c *html.Node) bool { return c.Data == "img" && attr(c, "alt") != "" }); img != nil {
		return strings.TrimSpace(attr(img, "alt"))
	}
	for _, key := range []string{"data-film-name", "data-item-name"} {
		if el := findFirst(n, func(c *html.Node) bool { return attr(c, key) != "" }); el != nil {
			return strings.TrimSpace(attr(el, key))
		}
	}
	return ""
}

func coerceRating(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	if v > 5 {
		v /= 2
	}
	if v > 5 {
		return 0, false
	}
	return math.Round(v*2) / 2, true
}

func starRating(text string) (float64, bool) {
	v := float64(strings.Count(text, "★"))
	if strings.Contains(text, "½") {
		v += 0.5
	}
	return v, v > 0
}

func filmRating(n *html.Node) *float64 {
	span := findFirst(n, func(c *html.Node) bool { return c.Data == "span" && hasClass(c, "rating") })
	if span != nil {
		for _, class := range strings.Fields(attr(span, "class")) {
			m := ratedClassPattern.FindStringSubmatch(class)
			if m == nil {
				continue
			}
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 && v <= 10 {
				return models.Float64Ptr(float64(v) / 2)
			}
		}
	}
	for _, key := range ratingAttributes {
		el := findFirst(n, func(c *html.Node) bool { return attr(c, key) != "" })
		if el == nil {
			continue
		}
		if v, ok := coerceRating(attr(el, key)); ok {
			return &v
		}
	}
	if span != nil {
		if v, ok := starRating(textContent(span)); ok {
			return &v
		}
	}
	return nil
}

func observedAt(n *html.Node) time.Time {
	if el := findFirst(n, func(c *html.Node) bool { return c.Data == "time" && attr(c, "datetime") != "" }); el != nil {
		if t, ok := parseDate(attr(el, "datetime")); ok {
			return t
		}
	}
	if el := findFirst(n, func(c *html.Node) bool { return attr(c, "data-viewing-date") != "" }); el != nil {
		if t, ok := parseDate(attr(el, "data-viewing-date")); ok {
			return t
		}
	}
	return time.Time{}
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02", time.RFC1123Z, time.RFC1123} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func entryFromContainer(n *html.Node) (models.ActivityEntry, bool) {
	slug := filmSlug(n)
	if slug == "" {
		return models.ActivityEntry{}, false
	}
	title := filmTitle(n)
	if title == "" {
		title = slug
	}
	liked := findFirst(n, func(c *html.Node) bool { return hasClass(c, "icon-liked") }) != nil
	favorite := findFirst(n, func(c *html.Node) bool {
		return hasClass(c, "icon-favorite") || hasClass(c, "poster-favorite")
	}) != nil
	return models.ActivityEntry{
		FilmSlug:   slug,
		FilmTitle:  title,
		Rating:     filmRating(n),
		Liked:      liked,
		Favorite:   favorite,
		ObservedAt: observedAt(n),
	}, true
}

// parseActivityPage extracts the film tiles of one listing page.
//
// When the page carries pagination markup, HasNext follows its "next"
// link; otherwise any non-empty page is assumed to have a successor and
// the walk ends at the first empty page.
func parseActivityPage(body []byte) (*ActivityPage, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	containers := listingContainers(doc)
	page := &ActivityPage{Entries: make([]models.ActivityEntry, 0, len(containers))}
	for _, c := range containers {
		if e, ok := entryFromContainer(c); ok {
			page.Entries = append(page.Entries, e)
		}
	}
	if len(containers) > 0 && len(page.Entries) == 0 {
		return nil, fmt.Errorf("%w: %d film tiles without a slug", ErrParse, len(containers))
	}

	pagination := findFirst(doc, func(n *html.Node) bool {
		return hasClass(n, "pagination") || hasClass(n, "paginate-pages")
	})
	if pagination != nil {
		next := findFirst(doc, func(n *html.Node) bool {
			return n.Data == "a" && hasClass(n, "next") && attr(n, "href") != ""
		})
		page.HasNext = next != nil && len(page.Entries) > 0
	} else {
		page.HasNext = len(page.Entries) > 0
	}
	return page, nil
}

// parseFollows extracts the accounts listed on one "following" page.
func parseFollows(body []byte) ([]models.AccountRef, error) {
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	wrappers := findAll(doc, func(n *html.Node) bool {
		return n.Data == "div" && hasClass(n, "follow-button-wrapper")
	})
	seen := make(map[string]bool, len(wrappers))
	refs := make([]models.AccountRef, 0, len(wrappers))
	for _, w := range wrappers {
		username := strings.ToLower(strings.TrimSpace(attr(w, "data-username")))
		if username == "" || seen[username] {
			continue
		}
		seen[username] = true
		display := strings.TrimSpace(attr(w, "data-name"))
		if display == "" {
			display = username
		}
		refs = append(refs, models.AccountRef{Username: username, DisplayName: display})
	}
	if len(wrappers) > 0 && len(refs) == 0 {
		return nil, fmt.Errorf("%w: follow entries without a username", ErrParse)
	}
	return refs, nil
}
