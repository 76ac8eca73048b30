package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/httpclient"
)

const acquireTimeout = 15 * time.Minute

// HTTPAcquirer downloads candidate source content over HTTP into the
// artifact directory.
type HTTPAcquirer struct {
	client *resty.Client
	dir    string
}

// NewHTTPAcquirer builds an acquirer writing into dir.
func NewHTTPAcquirer(dir string) *HTTPAcquirer {
	return &HTTPAcquirer{
		client: httpclient.NewRestyHTTPClient(acquireTimeout),
		dir:    dir,
	}
}

// Acquire fetches the candidate origin into a local file and returns its path.
func (a *HTTPAcquirer) Acquire(ctx context.Context, candidate domain.Candidate) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}
	dest := filepath.Join(a.dir, candidate.Fingerprint+"-src.mp4")

	resp, err := a.client.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(candidate.Origin)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", candidate.Origin, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusGone:
		return "", &AcquireError{Kind: AcquireNotFound, Message: candidate.Origin}
	case resp.StatusCode() == http.StatusTooManyRequests:
		return "", &AcquireError{Kind: AcquireRateLimited, Message: candidate.Origin}
	case resp.IsError():
		return "", fmt.Errorf("download %s: status %d", candidate.Origin, resp.StatusCode())
	}

	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		return "", &AcquireError{Kind: AcquireCorrupt, Message: fmt.Sprintf("empty download from %s", candidate.Origin)}
	}
	return dest, nil
}
