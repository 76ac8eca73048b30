package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/clipcast-hq/clipcast-pipeline/internal/dispatch"
	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/logger"
	"github.com/clipcast-hq/clipcast-pipeline/internal/store"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/notify"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/sources"
)

// Options configures a Scheduler.
type Options struct {
	Store      store.Store
	Channels   *channels.Registry
	Sources    sources.Registry
	Dispatcher dispatch.Dispatcher
	Notify     *notify.Fanout
	Log        logger.Logger

	Owner             string
	PollInterval      time.Duration
	DiscoveryInterval time.Duration
	LeaseTTL          time.Duration
	MaxExecutors      int64
}

const (
	defaultPollInterval      = 5 * time.Second
	defaultDiscoveryInterval = 5 * time.Minute
	defaultLeaseTTL          = 10 * time.Minute
	defaultMaxExecutors      = 4
)

// Scheduler drives the pipeline: it discovers new candidates on a fixed
// cadence and, on every poll tick, leases workable jobs across channels and
// hands them to the dispatcher under a bounded executor pool.
type Scheduler struct {
	store      store.Store
	channels   *channels.Registry
	sources    sources.Registry
	dispatcher dispatch.Dispatcher
	notify     *notify.Fanout
	log        logger.Logger

	owner             string
	pollInterval      time.Duration
	discoveryInterval time.Duration
	leaseTTL          time.Duration
	sem               *semaphore.Weighted

	mu            sync.Mutex
	nextChannel   int
	lastDiscovery time.Time

	wg sync.WaitGroup
}

// New builds a scheduler from options, applying defaults for unset cadences.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("scheduler requires a store")
	}
	if opts.Channels == nil {
		return nil, fmt.Errorf("scheduler requires a channel registry")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("scheduler requires a dispatcher")
	}
	if opts.Log == nil {
		opts.Log = &logger.NopLogger{}
	}
	if opts.Owner == "" {
		opts.Owner = "scheduler"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = defaultDiscoveryInterval
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.MaxExecutors <= 0 {
		opts.MaxExecutors = defaultMaxExecutors
	}

	return &Scheduler{
		store:             opts.Store,
		channels:          opts.Channels,
		sources:           opts.Sources,
		dispatcher:        opts.Dispatcher,
		notify:            opts.Notify,
		log:               opts.Log,
		owner:             opts.Owner,
		pollInterval:      opts.PollInterval,
		discoveryInterval: opts.DiscoveryInterval,
		leaseTTL:          opts.LeaseTTL,
		sem:               semaphore.NewWeighted(opts.MaxExecutors),
	}, nil
}

// Run executes the scheduling loop until the context is cancelled, then
// waits for in-flight executors to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.InfoObj("scheduler loop starting", "scheduler_state", map[string]any{
		"channels_count":     len(s.channels.Enabled()),
		"poll_interval":      s.pollInterval.String(),
		"discovery_interval": s.discoveryInterval.String(),
	})

	s.tick(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.InfoObj("scheduler loop exiting", "reason", ctx.Err())
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.discoveryDue() {
		if err := s.DiscoverOnce(ctx); err != nil {
			s.log.ErrorObj("discovery pass failed", "error", err)
		}
	}
	if err := s.ScheduleOnce(ctx); err != nil {
		s.log.ErrorObj("schedule pass failed", "error", err)
	}
}

func (s *Scheduler) discoveryDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastDiscovery.IsZero() && time.Since(s.lastDiscovery) < s.discoveryInterval {
		return false
	}
	s.lastDiscovery = time.Now()
	return true
}

// DiscoverOnce runs a discovery pass over every enabled channel's sources,
// enqueueing new candidates and persisting advanced cursors.
func (s *Scheduler) DiscoverOnce(ctx context.Context) error {
	if s.sources == nil {
		return nil
	}

	var errs []error
	for _, ch := range s.channels.Enabled() {
		for _, src := range ch.Sources {
			if err := s.discoverSource(ctx, ch, src); err != nil {
				errs = append(errs, fmt.Errorf("channel %s source %s: %w", ch.ID, src.ID, err))
			}
			if ctx.Err() != nil {
				return errors.Join(append(errs, ctx.Err())...)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) discoverSource(ctx context.Context, ch channels.Channel, src channels.SourceConfig) error {
	disc, err := s.sources.DiscovererFor(src)
	if err != nil {
		return err
	}

	cursor, err := s.store.Cursor(ch.ID, src.ID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	candidates, next, err := disc.Discover(ctx, src, cursor)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	enqueued, duplicates := 0, 0
	for _, cand := range candidates {
		if _, err := s.store.Enqueue(cand, ch.ID); err != nil {
			if errors.Is(err, store.ErrDuplicateCandidate) {
				duplicates++
				continue
			}
			return fmt.Errorf("enqueue %s: %w", cand.Origin, err)
		}
		enqueued++
	}

	if next != cursor {
		if err := s.store.SaveCursor(ch.ID, src.ID, next); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}

	s.log.InfoObj("discovery source completed", "discovery_result", map[string]any{
		"channel_id": ch.ID,
		"source_id":  src.ID,
		"enqueued":   enqueued,
		"duplicates": duplicates,
	})
	return nil
}

// ScheduleOnce makes one pass over the enabled channels, leasing workable
// jobs up to each channel's concurrency cap and the global executor pool.
// Channels are visited round-robin, resuming after the channel visited last
// so a busy channel cannot starve the rest.
func (s *Scheduler) ScheduleOnce(ctx context.Context) error {
	enabled := s.channels.Enabled()
	if len(enabled) == 0 {
		return nil
	}

	s.mu.Lock()
	start := s.nextChannel % len(enabled)
	s.mu.Unlock()

	var errs []error
	for i := 0; i < len(enabled); i++ {
		if ctx.Err() != nil {
			break
		}
		idx := (start + i) % len(enabled)
		ch := enabled[idx]

		s.mu.Lock()
		s.nextChannel = idx + 1
		s.mu.Unlock()

		if err := s.scheduleChannel(ctx, ch); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) scheduleChannel(ctx context.Context, ch channels.Channel) error {
	paused, err := s.store.Paused(ch.ID)
	if err != nil {
		return fmt.Errorf("paused check: %w", err)
	}
	if paused {
		return nil
	}

	leased, err := s.store.CountLeased(ch.ID)
	if err != nil {
		return fmt.Errorf("count leased: %w", err)
	}
	free := ch.Limits.MaxConcurrent - leased
	if free <= 0 {
		return nil
	}

	skipPublish, err := s.publishWindowFull(ch)
	if err != nil {
		return fmt.Errorf("publish window: %w", err)
	}

	for n := 0; n < free; n++ {
		if !s.sem.TryAcquire(1) {
			return nil
		}

		job, err := s.store.Lease(store.LeaseRequest{
			ChannelID:    ch.ID,
			Owner:        s.owner,
			TTL:          s.leaseTTL,
			HasTransform: ch.HasTransform(),
			SkipPublish:  skipPublish,
		})
		if err != nil {
			s.sem.Release(1)
			return fmt.Errorf("lease: %w", err)
		}
		if job == nil {
			s.sem.Release(1)
			return nil
		}

		s.wg.Add(1)
		go func(job *domain.Job) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.runJob(ctx, job, ch)
		}(job)
	}
	return nil
}

// publishWindowFull counts recent publishes against the channel's sliding
// window cap. The check is advisory: a pass that starts under the cap may
// finish slightly over it, which is acceptable for these quotas.
func (s *Scheduler) publishWindowFull(ch channels.Channel) (bool, error) {
	if ch.Limits.MaxPublishes <= 0 {
		return false, nil
	}

	published, err := s.store.List(store.ListFilter{
		ChannelID: ch.ID,
		Stage:     domain.StagePublished,
	})
	if err != nil {
		return false, err
	}

	windowStart := time.Now().Add(-ch.Limits.PublishWindow())
	recent := 0
	for _, job := range published {
		if job.UpdatedAt.After(windowStart) {
			recent++
		}
	}
	return recent >= ch.Limits.MaxPublishes, nil
}

func (s *Scheduler) runJob(ctx context.Context, job *domain.Job, ch channels.Channel) {
	activity, _, ok := domain.ActivityFor(job.Stage, ch.HasTransform())
	if !ok {
		s.log.WarnObj("leased job has no runnable activity", "job_state", map[string]any{
			"job_id": job.ID,
			"stage":  string(job.Stage),
		})
		return
	}

	result, err := s.dispatcher.Dispatch(ctx, activity, job, ch)
	if err != nil {
		s.recordFailure(ctx, job, ch, err)
		return
	}

	if result.Pending {
		if err := s.store.BindDispatch(job.ID, job.Lease.Token, result.DispatchID, result.Target); err != nil {
			s.log.ErrorObj("dispatch binding failed", "dispatch_error", map[string]any{
				"job_id":      job.ID,
				"dispatch_id": result.DispatchID,
				"error":       err.Error(),
			})
		}
		return
	}

	updated, err := s.store.Complete(job.ID, job.Lease.Token, result.Stage.Artifacts, result.Stage.ExternalVideoID)
	if err != nil {
		s.log.ErrorObj("stage completion failed", "completion_error", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return
	}

	s.log.InfoObj("stage completed", "stage_result", map[string]any{
		"job_id":     updated.ID,
		"channel_id": updated.ChannelID,
		"stage":      string(updated.Stage),
		"activity":   string(activity),
	})
	s.notifyTerminal(ctx, updated, ch)
}

func (s *Scheduler) recordFailure(ctx context.Context, job *domain.Job, ch channels.Channel, cause error) {
	kind := dispatch.Classify(cause)
	updated, err := s.store.Fail(job.ID, job.Lease.Token, kind, cause.Error())
	if err != nil {
		s.log.ErrorObj("stage failure recording failed", "failure_error", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return
	}

	s.log.WarnObj("stage failed", "stage_failure", map[string]any{
		"job_id":     updated.ID,
		"channel_id": updated.ChannelID,
		"stage":      string(updated.Stage),
		"kind":       string(kind),
		"error":      cause.Error(),
	})
	s.notifyTerminal(ctx, updated, ch)
}

// notifyTerminal fans out a lifecycle event when the job reaches a terminal
// stage. Notification failures are logged, never propagated: the job state
// is already durable.
func (s *Scheduler) notifyTerminal(ctx context.Context, job *domain.Job, ch channels.Channel) {
	if s.notify == nil || s.notify.Size() == 0 {
		return
	}

	var name string
	switch job.Stage {
	case domain.StagePublished:
		name = notify.EventPublished
	case domain.StageFailed:
		name = notify.EventFailed
	case domain.StageCancelled:
		name = notify.EventCancelled
	default:
		return
	}

	if _, err := s.notify.Notify(ctx, notify.NewEvent(name, ch.Name, *job)); err != nil {
		s.log.WarnObj("lifecycle notification failed", "notify_error", map[string]any{
			"job_id": job.ID,
			"event":  name,
			"error":  err.Error(),
		})
	}
}
