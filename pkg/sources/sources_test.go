package sources

import (
	"context"
	"testing"

	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/httpclient"
)

type stubResponse struct {
	body   []byte
	status int
}

func (r stubResponse) Body() []byte    { return r.body }
func (r stubResponse) StatusCode() int { return r.status }

type stubClient struct {
	body    string
	status  int
	lastURL string
	headers map[string]string
}

func (c *stubClient) Get(_ context.Context, url string, headers map[string]string) (httpclient.Response, error) {
	c.lastURL = url
	c.headers = headers
	return stubResponse{body: []byte(c.body), status: c.status}, nil
}

const listingHTML = `
<html><body>
<div class="grid">
  <a class="video-item" href="/watch/clip-3" title="Clip Three">three</a>
  <a class="video-item" href="/watch/clip-2" title="Clip Two">two</a>
  <a class="video-item" href="https://cdn.example.com/watch/clip-1" title="Clip One">one</a>
  <a class="video-item">no href</a>
  <a class="other" href="/watch/ignored">ignored</a>
</div>
</body></html>`

func TestHTMLDiscoverResolvesRelativeLinks(t *testing.T) {
	client := &stubClient{body: listingHTML, status: 200}
	d := NewHTMLDiscoverer(client)

	src := channels.SourceConfig{ID: "listing", Type: "html", URL: "https://videos.example.com/latest"}
	candidates, next, err := d.Discover(context.Background(), src, "")
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if candidates[0].Origin != "https://videos.example.com/watch/clip-3" {
		t.Fatalf("unexpected first origin: %s", candidates[0].Origin)
	}
	if candidates[2].Origin != "https://cdn.example.com/watch/clip-1" {
		t.Fatalf("absolute link should pass through unchanged, got %s", candidates[2].Origin)
	}
	if candidates[0].Title != "Clip Three" {
		t.Fatalf("expected title attribute, got %q", candidates[0].Title)
	}
	if next != candidates[0].Fingerprint {
		t.Fatalf("cursor should be the newest fingerprint, got %q", next)
	}
}

func TestHTMLDiscoverStopsAtCursor(t *testing.T) {
	client := &stubClient{body: listingHTML, status: 200}
	d := NewHTMLDiscoverer(client)
	src := channels.SourceConfig{ID: "listing", Type: "html", URL: "https://videos.example.com/latest"}

	cursor := Fingerprint("https://videos.example.com/watch/clip-2")
	candidates, next, err := d.Discover(context.Background(), src, cursor)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected only the item newer than the cursor, got %d", len(candidates))
	}
	if candidates[0].Origin != "https://videos.example.com/watch/clip-3" {
		t.Fatalf("unexpected origin: %s", candidates[0].Origin)
	}
	if next == cursor {
		t.Fatalf("cursor should advance to the newest item")
	}
}

func TestHTMLDiscoverCursorUnchangedWhenNothingNew(t *testing.T) {
	client := &stubClient{body: listingHTML, status: 200}
	d := NewHTMLDiscoverer(client)
	src := channels.SourceConfig{ID: "listing", Type: "html", URL: "https://videos.example.com/latest"}

	cursor := Fingerprint("https://videos.example.com/watch/clip-3")
	candidates, next, err := d.Discover(context.Background(), src, cursor)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no new candidates, got %d", len(candidates))
	}
	if next != cursor {
		t.Fatalf("cursor should stay put with no new items, got %q", next)
	}
}

func TestHTMLDiscoverCustomSelector(t *testing.T) {
	body := `<ul><li class="entry"><a class="link" href="/v/9"><span class="name">Nine</span></a></li></ul>`
	client := &stubClient{body: body, status: 200}
	d := NewHTMLDiscoverer(client)

	src := channels.SourceConfig{
		ID:   "custom",
		Type: "html",
		URL:  "https://videos.example.com/",
		Config: map[string]any{
			"item_selector":  "li.entry a.link",
			"title_selector": "span.name",
			"user_agent":     "clipcast/1.0",
		},
	}
	candidates, _, err := d.Discover(context.Background(), src, "")
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Origin != "https://videos.example.com/v/9" {
		t.Fatalf("unexpected origin: %s", candidates[0].Origin)
	}
	if candidates[0].Title != "Nine" {
		t.Fatalf("unexpected title: %q", candidates[0].Title)
	}
	if client.headers["User-Agent"] != "clipcast/1.0" {
		t.Fatalf("expected user agent header, got %v", client.headers)
	}
}

func TestHTMLDiscoverNon200(t *testing.T) {
	client := &stubClient{body: "gone", status: 503}
	d := NewHTMLDiscoverer(client)
	src := channels.SourceConfig{ID: "listing", Type: "html", URL: "https://videos.example.com/latest"}

	if _, _, err := d.Discover(context.Background(), src, ""); err == nil {
		t.Fatalf("expected error for non-200 listing")
	}
}

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Clips</title>
  <item><title>Newest</title><link>https://videos.example.com/watch/30</link><pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate></item>
  <item><title>Middle</title><link>https://videos.example.com/watch/20</link></item>
  <item><title>GUID only</title><guid>https://videos.example.com/watch/10</guid></item>
  <item><title>No link</title></item>
</channel></rss>`

func TestRSSDiscover(t *testing.T) {
	client := &stubClient{body: feedXML, status: 200}
	d := NewRSSDiscoverer(client)
	src := channels.SourceConfig{ID: "feed", Type: "rss", URL: "https://videos.example.com/feed.xml"}

	candidates, next, err := d.Discover(context.Background(), src, "")
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if candidates[0].Title != "Newest" {
		t.Fatalf("unexpected first title: %q", candidates[0].Title)
	}
	if candidates[0].DiscoveredAt.Year() != 2006 {
		t.Fatalf("pubDate should populate DiscoveredAt, got %v", candidates[0].DiscoveredAt)
	}
	if candidates[2].Origin != "https://videos.example.com/watch/10" {
		t.Fatalf("guid should serve as origin fallback, got %s", candidates[2].Origin)
	}
	if next != Fingerprint("https://videos.example.com/watch/30") {
		t.Fatalf("unexpected cursor: %q", next)
	}
}

func TestRSSDiscoverStopsAtCursor(t *testing.T) {
	client := &stubClient{body: feedXML, status: 200}
	d := NewRSSDiscoverer(client)
	src := channels.SourceConfig{ID: "feed", Type: "rss", URL: "https://videos.example.com/feed.xml"}

	cursor := Fingerprint("https://videos.example.com/watch/20")
	candidates, _, err := d.Discover(context.Background(), src, cursor)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate newer than cursor, got %d", len(candidates))
	}
	if candidates[0].Title != "Newest" {
		t.Fatalf("unexpected title: %q", candidates[0].Title)
	}
}

func TestRSSDiscoverBadXML(t *testing.T) {
	client := &stubClient{body: "<rss><channel>", status: 200}
	d := NewRSSDiscoverer(client)
	src := channels.SourceConfig{ID: "feed", Type: "rss", URL: "https://videos.example.com/feed.xml"}

	if _, _, err := d.Discover(context.Background(), src, ""); err == nil {
		t.Fatalf("expected error for malformed feed")
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := DefaultRegistry(&stubClient{status: 200})

	d, err := reg.DiscovererFor(channels.SourceConfig{ID: "a", Type: "HTML"})
	if err != nil {
		t.Fatalf("DiscovererFor returned error: %v", err)
	}
	if d.Type() != "html" {
		t.Fatalf("unexpected discoverer type: %s", d.Type())
	}

	if _, err := reg.DiscovererFor(channels.SourceConfig{ID: "b", Type: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown source type")
	}
	if _, err := reg.DiscovererFor(channels.SourceConfig{ID: "c"}); err == nil {
		t.Fatalf("expected error for missing source type")
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("https://videos.example.com/watch/1")
	b := Fingerprint("  https://videos.example.com/watch/1  ")
	if a != b {
		t.Fatalf("fingerprint should ignore surrounding whitespace: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", a)
	}
	if a == Fingerprint("https://videos.example.com/watch/2") {
		t.Fatalf("different origins must not collide")
	}
}
