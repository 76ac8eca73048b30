package httpclient

import "context"

// Response is the subset of an HTTP response the pipeline consumes: feed and
// page fetchers only ever need the raw body and the status code.
type Response interface {
	Body() []byte
	StatusCode() int
}

// Client is the outbound HTTP contract used by source discoverers. Tests
// substitute canned implementations; production code uses the resty adapter.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
}
