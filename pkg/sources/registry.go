package sources

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/httpclient"
)

const defaultFetchTimeout = 30 * time.Second

// registry implements Registry keyed by source type.
type registry struct {
	mu          sync.RWMutex
	discoverers map[string]Discoverer
}

// NewRegistry builds a registry for the provided discoverer implementations.
func NewRegistry(discoverers ...Discoverer) Registry {
	reg := &registry{discoverers: make(map[string]Discoverer)}
	for _, d := range discoverers {
		if d == nil {
			continue
		}
		reg.register(d)
	}
	return reg
}

func (r *registry) register(d Discoverer) {
	typ := strings.ToLower(strings.TrimSpace(d.Type()))
	if typ == "" {
		return
	}
	r.mu.Lock()
	r.discoverers[typ] = d
	r.mu.Unlock()
}

// DiscovererFor returns the discoverer registered for the source's type.
func (r *registry) DiscovererFor(src channels.SourceConfig) (Discoverer, error) {
	typ := strings.ToLower(strings.TrimSpace(src.Type))
	if typ == "" {
		return nil, fmt.Errorf("source %q has no type configured", src.ID)
	}

	r.mu.RLock()
	d := r.discoverers[typ]
	r.mu.RUnlock()

	if d == nil {
		return nil, fmt.Errorf("no discoverer registered for source type %q", typ)
	}
	return d, nil
}

// DefaultRegistry wires up the built-in discoverers. A nil client uses the
// default resty-backed HTTP client.
func DefaultRegistry(client HTTPClient) Registry {
	if client == nil {
		client = httpclient.NewRestyClient(defaultFetchTimeout)
	}
	return NewRegistry(
		NewHTMLDiscoverer(client),
		NewRSSDiscoverer(client),
	)
}
