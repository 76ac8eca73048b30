package pipeline

import (
	"context"
	"fmt"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

// Collaborator interfaces for the three executable stages. Implementations in
// this package are defaults; any collaborator satisfying these contracts can
// be wired into the executor.

// Acquirer fetches the candidate's source content into a local artifact.
type Acquirer interface {
	Acquire(ctx context.Context, candidate domain.Candidate) (artifact string, err error)
}

// Transformer applies the channel's transform preset to an artifact.
type Transformer interface {
	Transform(ctx context.Context, artifact string, preset channels.TransformConfig) (string, error)
}

// Publisher uploads the artifact to the channel's destination.
type Publisher interface {
	Publish(ctx context.Context, artifact string, channel channels.Channel) (externalVideoID string, err error)
}

// AcquireErrorKind enumerates acquisition failure modes.
type AcquireErrorKind string

const (
	AcquireNotFound    AcquireErrorKind = "not_found"
	AcquireRateLimited AcquireErrorKind = "rate_limited"
	AcquireCorrupt     AcquireErrorKind = "corrupt"
)

// AcquireError is a classified acquisition failure.
type AcquireError struct {
	Kind    AcquireErrorKind
	Message string
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire %s: %s", e.Kind, e.Message)
}

// TransformErrorKind enumerates transformation failure modes.
type TransformErrorKind string

const (
	TransformUnsupportedFormat TransformErrorKind = "unsupported_format"
	TransformToolFailure       TransformErrorKind = "tool_failure"
)

// TransformError is a classified transformation failure.
type TransformError struct {
	Kind    TransformErrorKind
	Message string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %s", e.Kind, e.Message)
}

// PublishErrorKind enumerates publication failure modes.
type PublishErrorKind string

const (
	PublishAuthExpired   PublishErrorKind = "auth_expired"
	PublishQuotaExceeded PublishErrorKind = "quota_exceeded"
	PublishRejected      PublishErrorKind = "rejected"
)

// PublishError is a classified publication failure.
type PublishError struct {
	Kind    PublishErrorKind
	Message string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %s", e.Kind, e.Message)
}
