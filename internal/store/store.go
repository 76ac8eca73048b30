package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/retry"
)

// Package store provides the durable job store and dedup index.

var (
	// ErrDuplicateCandidate is returned by Enqueue when the (channel,
	// fingerprint) key already references an active or published job.
	ErrDuplicateCandidate = errors.New("duplicate candidate")

	// ErrLeaseExpired is returned when a mutation carries a lease token that
	// no longer matches the job's current lease.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrNotFound is returned when the referenced job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal is returned when a mutation targets a job already in a
	// terminal stage.
	ErrTerminal = errors.New("job already terminal")
)

// LeaseRequest selects the next workable job for a channel.
type LeaseRequest struct {
	ChannelID    string
	Owner        string
	TTL          time.Duration
	HasTransform bool

	// SkipPublish defers publish-bound jobs; set by the scheduler when the
	// channel's publish window is full.
	SkipPublish bool
}

// ListFilter narrows List results.
type ListFilter struct {
	ChannelID string
	Stage     domain.Stage
	Limit     int
}

// DispatchOutcome is a remotely delivered stage result keyed by dispatch id.
type DispatchOutcome struct {
	Success         bool
	Artifacts       map[string]string
	ExternalVideoID string
	ErrorKind       domain.ErrorKind
	ErrorMessage    string
}

// Store is the durable, queryable record of every job and its state.
type Store interface {
	Close() error

	Enqueue(candidate domain.Candidate, channelID string) (*domain.Job, error)
	Lease(req LeaseRequest) (*domain.Job, error)
	Complete(jobID, leaseToken string, artifacts map[string]string, externalVideoID string) (*domain.Job, error)
	Fail(jobID, leaseToken string, kind domain.ErrorKind, message string) (*domain.Job, error)
	RequestCancel(jobID string) (*domain.Job, error)

	BindDispatch(jobID, leaseToken, dispatchID, target string) error
	ResolveDispatch(dispatchID string, outcome DispatchOutcome) (*domain.Job, bool, error)

	Get(jobID string) (*domain.Job, error)
	List(filter ListFilter) ([]*domain.Job, error)
	ListDispatched() ([]*domain.Job, error)
	CountLeased(channelID string) (int, error)

	Cursor(channelID, sourceID string) (string, error)
	SaveCursor(channelID, sourceID, cursor string) error

	Paused(channelID string) (bool, error)
	SetPaused(channelID string, paused bool) error
}

// Options controls lease and retention characteristics for concrete store
// implementations.
type Options struct {
	Retention       time.Duration
	CleanupInterval time.Duration
	Policy          *retry.Policy
}

const (
	defaultRetention       = 7 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	if opts.Policy == nil {
		opts.Policy = retry.DefaultPolicy()
	}
	return opts
}
