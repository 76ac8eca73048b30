package dispatch

import (
	"strings"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/logger"
	"github.com/clipcast-hq/clipcast-pipeline/internal/store"
)

// Completion is one remotely delivered stage result, however it arrived
// (callback, poll, or results queue).
type Completion struct {
	DispatchID      string            `json:"dispatch_id"`
	Status          string            `json:"status"`
	Artifacts       map[string]string `json:"artifacts,omitempty"`
	ExternalVideoID string            `json:"external_video_id,omitempty"`
	ErrorKind       string            `json:"error_kind,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
}

// Completion statuses accepted from the runner.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Completions applies delivered completions to the job store. Application is
// idempotent by dispatch id, so every delivery path can share one instance.
type Completions struct {
	store store.Store
	log   logger.Logger
}

// NewCompletions builds the shared completion applier.
func NewCompletions(st store.Store, log logger.Logger) *Completions {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &Completions{store: st, log: log}
}

// Apply resolves the completion against the store. The returned bool reports
// whether the outcome was applied; duplicates and superseded dispatch ids
// return false with no error.
func (c *Completions) Apply(comp Completion) (*domain.Job, bool, error) {
	outcome := store.DispatchOutcome{
		Success:         comp.Status == StatusSucceeded,
		Artifacts:       comp.Artifacts,
		ExternalVideoID: comp.ExternalVideoID,
		ErrorKind:       completionErrorKind(comp),
		ErrorMessage:    comp.ErrorMessage,
	}

	job, applied, err := c.store.ResolveDispatch(comp.DispatchID, outcome)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		c.log.DebugObj("dispatch completion ignored", "completion_meta", map[string]any{
			"dispatch_id": comp.DispatchID,
			"status":      comp.Status,
		})
		return job, false, nil
	}

	c.log.InfoObj("dispatch completion applied", "completion_meta", map[string]any{
		"dispatch_id": comp.DispatchID,
		"job_id":      job.ID,
		"stage":       job.Stage,
		"status":      comp.Status,
	})
	return job, true, nil
}

// completionErrorKind maps the wire error kind into the retry taxonomy;
// unrecognized values and the timeout status classify per the adapter rules.
func completionErrorKind(comp Completion) domain.ErrorKind {
	if comp.Status == StatusTimeout {
		return domain.ErrorTimeout
	}
	switch strings.ToLower(strings.TrimSpace(comp.ErrorKind)) {
	case string(domain.ErrorPermanent):
		return domain.ErrorPermanent
	case string(domain.ErrorTimeout):
		return domain.ErrorTimeout
	default:
		return domain.ErrorTransient
	}
}
