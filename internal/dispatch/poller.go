package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clipcast-hq/clipcast-pipeline/internal/logger"
	"github.com/clipcast-hq/clipcast-pipeline/internal/store"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/httpclient"
)

// Poller periodically asks the runner for the status of outstanding
// dispatches. It complements the callback and queue paths: if those are
// deployed, the poller simply finds nothing left to resolve.
type Poller struct {
	client      *resty.Client
	baseURL     string
	token       string
	interval    time.Duration
	store       store.Store
	completions *Completions
	log         logger.Logger
}

// NewPoller builds a poller against the runner at baseURL.
func NewPoller(baseURL, token string, interval time.Duration, st store.Store, completions *Completions, log logger.Logger) *Poller {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		client:      httpclient.NewRestyHTTPClient(submitTimeout),
		baseURL:     baseURL,
		token:       token,
		interval:    interval,
		store:       st,
		completions: completions,
		log:         log,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.log.ErrorObj("dispatch poll failed", "error", err.Error())
			}
		}
	}
}

// pollOnce resolves every job with an outstanding remote dispatch.
func (p *Poller) pollOnce(ctx context.Context) error {
	jobs, err := p.store.ListDispatched()
	if err != nil {
		return fmt.Errorf("list dispatched jobs: %w", err)
	}

	for _, job := range jobs {
		if job.DispatchTarget != TargetRemote {
			continue
		}

		comp, err := p.fetch(ctx, job.DispatchID)
		if err != nil {
			p.log.WarnObj("run status fetch failed", "poll_error", map[string]any{
				"dispatch_id": job.DispatchID,
				"error":       err.Error(),
			})
			continue
		}
		if comp.Status == StatusPending {
			continue
		}
		if _, _, err := p.completions.Apply(comp); err != nil {
			return err
		}
	}
	return nil
}

// fetch retrieves one run's status from the runner.
func (p *Poller) fetch(ctx context.Context, dispatchID string) (Completion, error) {
	var comp Completion
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.token).
		SetResult(&comp).
		Get(p.baseURL + "/v1/runs/" + dispatchID)
	if err != nil {
		return Completion{}, err
	}
	if resp.IsError() {
		return Completion{}, fmt.Errorf("run %s: status %d", dispatchID, resp.StatusCode())
	}
	comp.DispatchID = dispatchID
	return comp, nil
}
