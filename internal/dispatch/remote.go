package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/httpclient"
)

const submitTimeout = 30 * time.Second

// RemoteDispatcher submits stage executions to an asynchronous runner over
// HTTP. The submission returns a dispatch id; the stage result arrives later
// through a callback, the poller, or the results queue.
type RemoteDispatcher struct {
	client  *resty.Client
	baseURL string
	token   string
}

// NewRemoteDispatcher builds a dispatcher for the runner at baseURL.
func NewRemoteDispatcher(baseURL, token string) *RemoteDispatcher {
	return &RemoteDispatcher{
		client:  httpclient.NewRestyHTTPClient(submitTimeout),
		baseURL: baseURL,
		token:   token,
	}
}

// submitRequest is the runner's run-creation payload.
type submitRequest struct {
	Activity  string            `json:"activity"`
	JobID     string            `json:"job_id"`
	ChannelID string            `json:"channel_id"`
	Origin    string            `json:"origin"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Preset    string            `json:"preset,omitempty"`
}

// submitResponse carries the runner-assigned dispatch id.
type submitResponse struct {
	RunID string `json:"run_id"`
}

// Dispatch submits the activity and returns PendingRemote with the runner's
// dispatch id.
func (d *RemoteDispatcher) Dispatch(ctx context.Context, activity domain.Activity, job *domain.Job, channel channels.Channel) (Result, error) {
	req := submitRequest{
		Activity:  string(activity),
		JobID:     job.ID,
		ChannelID: channel.ID,
		Origin:    job.Candidate.Origin,
		Artifacts: job.Artifacts,
	}
	if channel.Transform != nil {
		req.Preset = channel.Transform.Preset
	}

	var out submitResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetAuthToken(d.token).
		SetBody(req).
		SetResult(&out).
		Post(d.baseURL + "/v1/runs")
	if err != nil {
		return Result{Target: TargetRemote}, fmt.Errorf("submit run: %w", err)
	}
	if resp.IsError() {
		return Result{Target: TargetRemote}, fmt.Errorf("submit run: status %d", resp.StatusCode())
	}
	if out.RunID == "" {
		return Result{Target: TargetRemote}, fmt.Errorf("submit run: runner returned no run id")
	}

	return Result{Pending: true, DispatchID: out.RunID, Target: TargetRemote}, nil
}
