package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB
	maxCandidates    = 100

	defaultItemSelector = "a.video-item"
	defaultLinkAttr     = "href"
)

// HTMLDiscoverer scrapes a listing page and extracts candidate links with a
// configurable selector. Items appear newest first on the listing pages we
// target, so the cursor is the fingerprint of the newest item seen: on the
// next pass collection stops as soon as the cursor item reappears.
type HTMLDiscoverer struct {
	client HTTPClient
}

// NewHTMLDiscoverer constructs an HTML listing discoverer with the provided
// HTTP client.
func NewHTMLDiscoverer(client HTTPClient) *HTMLDiscoverer {
	return &HTMLDiscoverer{client: client}
}

func (d *HTMLDiscoverer) Type() string { return "html" }

func (d *HTMLDiscoverer) Discover(ctx context.Context, src channels.SourceConfig, cursor string) ([]domain.Candidate, string, error) {
	resp, err := d.client.Get(ctx, src.URL, Headers(src))
	if err != nil {
		return nil, cursor, fmt.Errorf("fetch listing: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, cursor, fmt.Errorf("listing %s returned status %d", src.URL, resp.StatusCode())
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, cursor, fmt.Errorf("parse listing html: %w", err)
	}

	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, cursor, fmt.Errorf("parse source url: %w", err)
	}

	itemSelector := ConfigString(src, ConfigItemSelectorKey, defaultItemSelector)
	linkAttr := ConfigString(src, ConfigLinkAttrKey, defaultLinkAttr)
	titleSelector := ConfigString(src, ConfigTitleSelectorKey, "")

	now := time.Now().UTC()
	var candidates []domain.Candidate

	doc.Find(itemSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw, ok := sel.Attr(linkAttr)
		if !ok {
			return true
		}
		origin := resolveLink(base, raw)
		if origin == "" {
			return true
		}

		fp := Fingerprint(origin)
		if cursor != "" && fp == cursor {
			return false
		}

		candidates = append(candidates, domain.Candidate{
			Origin:       origin,
			Fingerprint:  fp,
			Title:        itemTitle(sel, titleSelector),
			DiscoveredAt: now,
		})
		return len(candidates) < maxCandidates
	})

	next := cursor
	if len(candidates) > 0 {
		next = candidates[0].Fingerprint
	}
	return candidates, next, nil
}

func itemTitle(sel *goquery.Selection, titleSelector string) string {
	if titleSelector != "" {
		if node := sel.Find(titleSelector).First(); node.Length() > 0 {
			return strings.TrimSpace(node.Text())
		}
	}
	if title, ok := sel.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(sel.Text())
}

// resolveLink turns a possibly-relative href into an absolute URL, dropping
// fragments and anything that is not http(s).
func resolveLink(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
