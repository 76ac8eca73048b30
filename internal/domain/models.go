package domain

// Domain contains core models for candidates, jobs, leases, and the stage machine.

import "time"

// Stage is the position of a Job in the pipeline state machine.
type Stage string

const (
	StageDiscovered   Stage = "discovered"
	StageAcquiring    Stage = "acquiring"
	StageAcquired     Stage = "acquired"
	StageTransforming Stage = "transforming"
	StageTransformed  Stage = "transformed"
	StagePublishing   Stage = "publishing"
	StagePublished    Stage = "published"
	StageFailed       Stage = "failed"
	StageCancelled    Stage = "cancelled"
)

// Terminal reports whether the stage ends the job's lifecycle.
func (s Stage) Terminal() bool {
	return s == StagePublished || s == StageFailed || s == StageCancelled
}

// Active reports whether the stage represents in-flight work that requires a lease.
func (s Stage) Active() bool {
	return s == StageAcquiring || s == StageTransforming || s == StagePublishing
}

// OccupiesDedup reports whether a job in this stage still holds its dedup key.
// Published jobs keep the key so re-discovered content is not republished.
func (s Stage) OccupiesDedup() bool {
	return s != StageFailed && s != StageCancelled
}

// Activity is the unit of work a single dispatch executes.
type Activity string

const (
	ActivityAcquire   Activity = "acquire"
	ActivityTransform Activity = "transform"
	ActivityPublish   Activity = "publish"
)

// ActivityFor resolves the next activity and the active stage it runs under,
// given the job's current stage. hasTransform is the channel's transform
// configuration flag; without it Acquired shortcuts straight to Publishing.
// ok is false for terminal stages.
func ActivityFor(s Stage, hasTransform bool) (Activity, Stage, bool) {
	switch s {
	case StageDiscovered, StageAcquiring:
		return ActivityAcquire, StageAcquiring, true
	case StageAcquired:
		if hasTransform {
			return ActivityTransform, StageTransforming, true
		}
		return ActivityPublish, StagePublishing, true
	case StageTransforming:
		return ActivityTransform, StageTransforming, true
	case StageTransformed, StagePublishing:
		return ActivityPublish, StagePublishing, true
	default:
		return "", "", false
	}
}

// RestAfter returns the stage a job settles in once the given active stage succeeds.
func RestAfter(active Stage) (Stage, bool) {
	switch active {
	case StageAcquiring:
		return StageAcquired, true
	case StageTransforming:
		return StageTransformed, true
	case StagePublishing:
		return StagePublished, true
	default:
		return "", false
	}
}

// CanTransition validates a single stage transition against the canonical machine.
func CanTransition(from, to Stage, hasTransform bool) bool {
	if from.Terminal() {
		return false
	}
	if to == StageCancelled {
		return true
	}
	if to == StageFailed {
		return from.Active()
	}
	switch from {
	case StageDiscovered:
		return to == StageAcquiring
	case StageAcquiring:
		return to == StageAcquired || to == StageAcquiring
	case StageAcquired:
		if hasTransform {
			return to == StageTransforming
		}
		return to == StagePublishing
	case StageTransforming:
		return to == StageTransformed || to == StageTransforming
	case StageTransformed:
		return to == StagePublishing
	case StagePublishing:
		return to == StagePublished || to == StagePublishing
	}
	return false
}

// ErrorKind classifies a stage failure for the retry policy.
type ErrorKind string

const (
	ErrorTransient ErrorKind = "transient"
	ErrorPermanent ErrorKind = "permanent"
	ErrorTimeout   ErrorKind = "timeout"
)

// Retryable reports whether the kind is eligible for backoff-and-retry.
func (k ErrorKind) Retryable() bool {
	return k != ErrorPermanent
}

// StageError is one entry in a job's ordered error history.
type StageError struct {
	Stage   Stage     `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

// Lease is a time-bounded exclusive claim on a job.
type Lease struct {
	Owner     string    `json:"owner"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the lease is still held at the given instant.
func (l *Lease) ValidAt(t time.Time) bool {
	return l != nil && l.Token != "" && l.ExpiresAt.After(t)
}

// Candidate is a discovered, not-yet-processed reference to source content.
type Candidate struct {
	Origin       string    `json:"origin"`
	Fingerprint  string    `json:"fingerprint"`
	Title        string    `json:"title,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Artifact reference keys on a Job.
const (
	ArtifactSource      = "source"
	ArtifactTransformed = "transformed"
)

// Job tracks one candidate moving through the pipeline for one channel.
type Job struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	Fingerprint string    `json:"fingerprint"`
	Candidate   Candidate `json:"candidate"`

	Stage          Stage         `json:"stage"`
	Attempts       map[Stage]int `json:"attempts,omitempty"`
	NextEligibleAt time.Time     `json:"next_eligible_at"`

	Lease          *Lease            `json:"lease,omitempty"`
	Errors         []StageError      `json:"errors,omitempty"`
	Artifacts      map[string]string `json:"artifacts,omitempty"`
	DispatchID     string            `json:"dispatch_id,omitempty"`
	DispatchTarget string            `json:"dispatch_target,omitempty"`

	ExternalVideoID string `json:"external_video_id,omitempty"`
	CancelRequested bool   `json:"cancel_requested,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttemptCount returns the attempts recorded for the given active stage.
func (j *Job) AttemptCount(stage Stage) int {
	if j.Attempts == nil {
		return 0
	}
	return j.Attempts[stage]
}

// LeaseValidAt reports whether the job holds a valid lease at the given instant.
func (j *Job) LeaseValidAt(t time.Time) bool {
	return j.Lease.ValidAt(t)
}

// Workable reports whether the job can be leased at the given instant: not
// terminal, not already leased, and past its retry-eligible time.
func (j *Job) Workable(t time.Time) bool {
	if j.Stage.Terminal() {
		return false
	}
	if j.LeaseValidAt(t) {
		return false
	}
	return !j.NextEligibleAt.After(t)
}
