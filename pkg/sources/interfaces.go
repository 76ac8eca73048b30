package sources

import (
	"context"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/httpclient"
)

// Discoverer is responsible for pulling candidate references out of one
// configured source. Concrete implementations live in type-specific files
// (e.g., html.go, rss.go).
//
// Discover returns the candidates newer than the cursor, ordered newest
// first, plus the cursor to resume from next time. A finite batch per call;
// callers re-invoke on their own cadence.
type Discoverer interface {
	Type() string
	Discover(ctx context.Context, src channels.SourceConfig, cursor string) ([]domain.Candidate, string, error)
}

// Registry resolves the discoverer implementation for a given source config.
type Registry interface {
	DiscovererFor(src channels.SourceConfig) (Discoverer, error)
}

// HTTPClient aliases the shared httpclient.Client interface for clarity within sources.
type HTTPClient = httpclient.Client
