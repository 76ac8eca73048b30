package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

const maxFeedBodyBytes = 4 << 20 // 4 MiB

// RSSDiscoverer reads an RSS 2.0 feed and emits one candidate per item.
// Feeds list items newest first; the cursor is the fingerprint of the newest
// item, same contract as the HTML discoverer.
type RSSDiscoverer struct {
	client HTTPClient
}

// NewRSSDiscoverer constructs an RSS feed discoverer with the provided HTTP client.
func NewRSSDiscoverer(client HTTPClient) *RSSDiscoverer {
	return &RSSDiscoverer{client: client}
}

func (d *RSSDiscoverer) Type() string { return "rss" }

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    string `xml:"guid"`
	PubDate string `xml:"pubDate"`
}

func (d *RSSDiscoverer) Discover(ctx context.Context, src channels.SourceConfig, cursor string) ([]domain.Candidate, string, error) {
	resp, err := d.client.Get(ctx, src.URL, Headers(src))
	if err != nil {
		return nil, cursor, fmt.Errorf("fetch feed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, cursor, fmt.Errorf("feed %s returned status %d", src.URL, resp.StatusCode())
	}

	body := resp.Body()
	if len(body) > maxFeedBodyBytes {
		return nil, cursor, fmt.Errorf("feed %s exceeds %d bytes", src.URL, maxFeedBodyBytes)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, cursor, fmt.Errorf("decode feed: %w", err)
	}

	now := time.Now().UTC()
	var candidates []domain.Candidate
	for _, item := range feed.Channel.Items {
		origin := strings.TrimSpace(item.Link)
		if origin == "" {
			origin = strings.TrimSpace(item.GUID)
		}
		if origin == "" {
			continue
		}

		fp := Fingerprint(origin)
		if cursor != "" && fp == cursor {
			break
		}

		discoveredAt := now
		if ts, err := parsePubDate(item.PubDate); err == nil {
			discoveredAt = ts
		}

		candidates = append(candidates, domain.Candidate{
			Origin:       origin,
			Fingerprint:  fp,
			Title:        strings.TrimSpace(item.Title),
			DiscoveredAt: discoveredAt,
		})
		if len(candidates) >= maxCandidates {
			break
		}
	}

	next := cursor
	if len(candidates) > 0 {
		next = candidates[0].Fingerprint
	}
	return candidates, next, nil
}

func parsePubDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty pubDate")
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized pubDate %q", raw)
}
