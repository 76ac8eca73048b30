package dispatch

import (
	"context"
	"errors"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/pipeline"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

// Execution targets.
const (
	TargetLocal  = "local"
	TargetRemote = "remote"
)

// Result is the immediate outcome of dispatching one activity. Either the
// stage finished synchronously (Stage is populated) or it was handed to a
// remote substrate and will complete out of band (Pending + DispatchID).
type Result struct {
	Pending    bool
	DispatchID string
	Target     string
	Stage      pipeline.StageResult
}

// Dispatcher translates a (job, activity) pair into execution under one
// strategy. New substrates implement this interface; the state machine does
// not change.
type Dispatcher interface {
	Dispatch(ctx context.Context, activity domain.Activity, job *domain.Job, channel channels.Channel) (Result, error)
}

// Classify maps an execution error onto the retry taxonomy at the adapter
// boundary. Unrecognized shapes default to transient so that failures surface
// through normal retry caps instead of stalling silently.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorTimeout
	}

	var acquireErr *pipeline.AcquireError
	if errors.As(err, &acquireErr) {
		switch acquireErr.Kind {
		case pipeline.AcquireNotFound, pipeline.AcquireCorrupt:
			return domain.ErrorPermanent
		default:
			return domain.ErrorTransient
		}
	}

	var transformErr *pipeline.TransformError
	if errors.As(err, &transformErr) {
		if transformErr.Kind == pipeline.TransformUnsupportedFormat {
			return domain.ErrorPermanent
		}
		return domain.ErrorTransient
	}

	var publishErr *pipeline.PublishError
	if errors.As(err, &publishErr) {
		// auth, quota, and rejection all need operator intervention
		return domain.ErrorPermanent
	}

	return domain.ErrorTransient
}
