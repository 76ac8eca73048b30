package pipeline

import (
	"context"
	"fmt"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

// StageResult carries the artifacts, and for publish the external video id,
// produced by one executed activity.
type StageResult struct {
	Artifacts       map[string]string
	ExternalVideoID string
}

// Executor runs a job's current activity against the configured collaborators.
type Executor struct {
	acquirer    Acquirer
	transformer Transformer
	publisher   Publisher
}

// NewExecutor wires the three stage collaborators.
func NewExecutor(acq Acquirer, tr Transformer, pub Publisher) *Executor {
	return &Executor{acquirer: acq, transformer: tr, publisher: pub}
}

// Run executes the activity for the job and returns its result. Errors come
// back as the collaborator's classified error types; classification into the
// retry taxonomy happens at the dispatch boundary, not here.
func (e *Executor) Run(ctx context.Context, activity domain.Activity, job *domain.Job, channel channels.Channel) (StageResult, error) {
	switch activity {
	case domain.ActivityAcquire:
		if e.acquirer == nil {
			return StageResult{}, fmt.Errorf("no acquirer configured")
		}
		artifact, err := e.acquirer.Acquire(ctx, job.Candidate)
		if err != nil {
			return StageResult{}, err
		}
		return StageResult{Artifacts: map[string]string{domain.ArtifactSource: artifact}}, nil

	case domain.ActivityTransform:
		if e.transformer == nil {
			return StageResult{}, fmt.Errorf("no transformer configured")
		}
		if channel.Transform == nil {
			return StageResult{}, fmt.Errorf("channel %s has no transform preset", channel.ID)
		}
		source := job.Artifacts[domain.ArtifactSource]
		if source == "" {
			return StageResult{}, fmt.Errorf("job %s has no source artifact", job.ID)
		}
		out, err := e.transformer.Transform(ctx, source, *channel.Transform)
		if err != nil {
			return StageResult{}, err
		}
		return StageResult{Artifacts: map[string]string{domain.ArtifactTransformed: out}}, nil

	case domain.ActivityPublish:
		if e.publisher == nil {
			return StageResult{}, fmt.Errorf("no publisher configured")
		}
		artifact := job.Artifacts[domain.ArtifactTransformed]
		if artifact == "" {
			artifact = job.Artifacts[domain.ArtifactSource]
		}
		if artifact == "" {
			return StageResult{}, fmt.Errorf("job %s has no artifact to publish", job.ID)
		}
		externalID, err := e.publisher.Publish(ctx, artifact, channel)
		if err != nil {
			return StageResult{}, err
		}
		return StageResult{ExternalVideoID: externalID}, nil
	}

	return StageResult{}, fmt.Errorf("unknown activity %q", activity)
}
