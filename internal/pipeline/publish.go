package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/httpclient"
)

const publishTimeout = 30 * time.Minute

// HTTPPublisher uploads artifacts to the channel's destination endpoint,
// authenticating with the credential resolved from the channel's credential
// reference.
type HTTPPublisher struct {
	client *resty.Client
	creds  *Credentials
}

// NewHTTPPublisher builds a publisher using the given credential resolver.
func NewHTTPPublisher(creds *Credentials) *HTTPPublisher {
	return &HTTPPublisher{
		client: httpclient.NewRestyHTTPClient(publishTimeout),
		creds:  creds,
	}
}

// uploadResponse is the destination's reply to a successful upload.
type uploadResponse struct {
	VideoID string `json:"video_id"`
}

// Publish uploads the artifact and returns the destination's video id.
func (p *HTTPPublisher) Publish(ctx context.Context, artifact string, channel channels.Channel) (string, error) {
	token, err := p.creds.Resolve(channel.CredentialRef)
	if err != nil {
		return "", &PublishError{Kind: PublishAuthExpired, Message: err.Error()}
	}

	var result uploadResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetFile("video", artifact).
		SetFormData(map[string]string{"channel": channel.ID}).
		SetResult(&result).
		Post(channel.DestinationURL)
	if err != nil {
		return "", fmt.Errorf("upload to %s: %w", channel.DestinationURL, err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return "", &PublishError{Kind: PublishAuthExpired, Message: bodySnippet(resp.Body())}
	case resp.StatusCode() == http.StatusTooManyRequests:
		return "", &PublishError{Kind: PublishQuotaExceeded, Message: bodySnippet(resp.Body())}
	case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
		return "", &PublishError{Kind: PublishRejected, Message: bodySnippet(resp.Body())}
	case resp.IsError():
		return "", fmt.Errorf("upload to %s: status %d", channel.DestinationURL, resp.StatusCode())
	}

	if result.VideoID == "" {
		return "", &PublishError{Kind: PublishRejected, Message: "destination returned no video id"}
	}
	return result.VideoID, nil
}

func bodySnippet(body []byte) string {
	if len(body) > 512 {
		body = body[:512]
	}
	return strings.TrimSpace(string(body))
}
