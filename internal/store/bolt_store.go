package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/retry"
)

const (
	jobBucket      = "jobs"
	dedupBucket    = "dedup"
	dispatchBucket = "dispatch"
	readyBucket    = "ready"
	cursorBucket   = "cursors"
	channelBucket  = "channels"

	keySep = byte(0x00)
)

// boltStore implements Store backed by BoltDB.
type boltStore struct {
	db           *bolt.DB
	policy       *retry.Policy
	retention    time.Duration
	cleanupMu    sync.Mutex
	lastCleanup  atomic.Int64
	cleanupEvery time.Duration

	now func() time.Time
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (*boltStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{jobBucket, dedupBucket, dispatchBucket, readyBucket, cursorBucket, channelBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	s := &boltStore{
		db:           db,
		policy:       opts.Policy,
		retention:    opts.Retention,
		cleanupEvery: opts.CleanupInterval,
		now:          time.Now,
	}
	s.lastCleanup.Store(time.Now().Unix())
	return s, nil
}

// Close closes the BoltDB store.
func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// scopedKey joins key parts with a NUL separator.
func scopedKey(parts ...string) []byte {
	out := make([]byte, 0, 64)
	for i, p := range parts {
		if i > 0 {
			out = append(out, keySep)
		}
		out = append(out, p...)
	}
	return out
}

// readyKey orders non-terminal jobs per channel by creation time.
func readyKey(channelID string, createdAt time.Time, jobID string) []byte {
	key := make([]byte, 0, len(channelID)+len(jobID)+10)
	key = append(key, channelID...)
	key = append(key, keySep)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt.UnixNano()))
	key = append(key, ts[:]...)
	key = append(key, keySep)
	key = append(key, jobID...)
	return key
}

func channelPrefix(channelID string) []byte {
	return append([]byte(channelID), keySep)
}

func putJob(tx *bolt.Tx, job *domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return tx.Bucket([]byte(jobBucket)).Put([]byte(job.ID), raw)
}

func getJob(tx *bolt.Tx, jobID string) (*domain.Job, error) {
	raw := tx.Bucket([]byte(jobBucket)).Get([]byte(jobID))
	if raw == nil {
		return nil, ErrNotFound
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// Enqueue creates a job for the candidate unless the dedup key is occupied.
func (s *boltStore) Enqueue(candidate domain.Candidate, channelID string) (*domain.Job, error) {
	if err := s.maybeCleanup(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &domain.Job{
		ID:             uuid.NewString(),
		ChannelID:      channelID,
		Fingerprint:    candidate.Fingerprint,
		Candidate:      candidate,
		Stage:          domain.StageDiscovered,
		NextEligibleAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		dedup := tx.Bucket([]byte(dedupBucket))
		key := scopedKey(channelID, candidate.Fingerprint)

		if existing := dedup.Get(key); existing != nil {
			prior, err := getJob(tx, string(existing))
			if err == nil && prior.Stage.OccupiesDedup() {
				return ErrDuplicateCandidate
			}
			// stale mapping to a failed/cancelled job, safe to replace
		}

		if err := dedup.Put(key, []byte(job.ID)); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(readyBucket)).Put(readyKey(channelID, job.CreatedAt, job.ID), []byte(job.ID)); err != nil {
			return err
		}
		return putJob(tx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Lease atomically selects the oldest workable job for the channel and claims it.
// Returns (nil, nil) when nothing is eligible. Cancellation requests are
// honored here: a cancel-requested job is parked in Cancelled instead of leased.
func (s *boltStore) Lease(req LeaseRequest) (*domain.Job, error) {
	now := s.now().UTC()
	var leased *domain.Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		// snapshot candidate ids first; the mutations below touch the ready
		// bucket and must not run under its cursor
		var ids []string
		cur := tx.Bucket([]byte(readyBucket)).Cursor()
		prefix := channelPrefix(req.ChannelID)
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			ids = append(ids, string(v))
		}

		for _, id := range ids {
			job, err := getJob(tx, id)
			if err != nil {
				return err
			}
			if job.Stage.Terminal() {
				// index entry outlived the job state, drop it
				if err := tx.Bucket([]byte(readyBucket)).Delete(readyKey(job.ChannelID, job.CreatedAt, job.ID)); err != nil {
					return err
				}
				continue
			}
			if job.LeaseValidAt(now) {
				continue
			}
			if job.CancelRequested {
				if err := s.markTerminal(tx, job, domain.StageCancelled, now); err != nil {
					return err
				}
				continue
			}
			if job.NextEligibleAt.After(now) {
				continue
			}

			activity, activeStage, ok := domain.ActivityFor(job.Stage, req.HasTransform)
			if !ok {
				continue
			}
			if req.SkipPublish && activity == domain.ActivityPublish {
				continue
			}

			job.Stage = activeStage
			job.Lease = &domain.Lease{
				Owner:     req.Owner,
				Token:     uuid.NewString(),
				ExpiresAt: now.Add(req.TTL),
			}
			job.UpdatedAt = now
			if err := putJob(tx, job); err != nil {
				return err
			}
			leased = job
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// guardLease validates the caller's lease token against the job's current lease.
func (s *boltStore) guardLease(job *domain.Job, token string, now time.Time) error {
	if job.Lease == nil || job.Lease.Token != token || !job.Lease.ValidAt(now) {
		return ErrLeaseExpired
	}
	return nil
}

// Complete advances the job out of its active stage under the lease token.
func (s *boltStore) Complete(jobID, leaseToken string, artifacts map[string]string, externalVideoID string) (*domain.Job, error) {
	now := s.now().UTC()
	var out *domain.Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Stage.Terminal() {
			return ErrTerminal
		}
		if err := s.guardLease(job, leaseToken, now); err != nil {
			return err
		}
		out, err = s.applySuccess(tx, job, artifacts, externalVideoID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applySuccess advances job from its active stage to the following rest stage.
// Shared by the lease-token path (Complete) and the dispatch-id path (ResolveDispatch).
func (s *boltStore) applySuccess(tx *bolt.Tx, job *domain.Job, artifacts map[string]string, externalVideoID string, now time.Time) (*domain.Job, error) {
	rest, ok := domain.RestAfter(job.Stage)
	if !ok {
		return nil, fmt.Errorf("job %s: stage %s has no completion transition", job.ID, job.Stage)
	}

	for k, v := range artifacts {
		if job.Artifacts == nil {
			job.Artifacts = map[string]string{}
		}
		job.Artifacts[k] = v
	}
	if err := s.clearDispatch(tx, job); err != nil {
		return nil, err
	}

	if rest == domain.StagePublished {
		job.ExternalVideoID = externalVideoID
		if err := s.markTerminal(tx, job, domain.StagePublished, now); err != nil {
			return nil, err
		}
		return job, nil
	}

	if job.CancelRequested {
		if err := s.markTerminal(tx, job, domain.StageCancelled, now); err != nil {
			return nil, err
		}
		return job, nil
	}

	job.Stage = rest
	job.Lease = nil
	job.NextEligibleAt = now
	job.UpdatedAt = now
	if err := putJob(tx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Fail records a stage failure under the lease token, scheduling a retry or
// marking the job Failed per the retry policy.
func (s *boltStore) Fail(jobID, leaseToken string, kind domain.ErrorKind, message string) (*domain.Job, error) {
	now := s.now().UTC()
	var out *domain.Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Stage.Terminal() {
			return ErrTerminal
		}
		if err := s.guardLease(job, leaseToken, now); err != nil {
			return err
		}
		out, err = s.applyFailure(tx, job, kind, message, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyFailure appends to error history, bumps the attempt counter, and either
// schedules the retry or settles the job in Failed.
func (s *boltStore) applyFailure(tx *bolt.Tx, job *domain.Job, kind domain.ErrorKind, message string, now time.Time) (*domain.Job, error) {
	if !job.Stage.Active() {
		return nil, fmt.Errorf("job %s: failure reported in non-active stage %s", job.ID, job.Stage)
	}
	if kind == "" {
		kind = domain.ErrorTransient
	}

	if job.Attempts == nil {
		job.Attempts = map[domain.Stage]int{}
	}
	job.Attempts[job.Stage]++
	attempt := job.Attempts[job.Stage]

	job.Errors = append(job.Errors, domain.StageError{
		Stage:   job.Stage,
		Kind:    kind,
		Message: message,
		Attempt: attempt,
		At:      now,
	})

	if err := s.clearDispatch(tx, job); err != nil {
		return nil, err
	}

	decision := s.policy.Decide(job.Stage, attempt, kind)
	if !decision.Retry {
		if err := s.markTerminal(tx, job, domain.StageFailed, now); err != nil {
			return nil, err
		}
		return job, nil
	}

	job.Lease = nil
	job.NextEligibleAt = now.Add(decision.Delay)
	job.UpdatedAt = now
	if err := putJob(tx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RequestCancel cancels the job immediately when idle, or flags it for
// cancellation at the next lease boundary when work is in flight.
func (s *boltStore) RequestCancel(jobID string) (*domain.Job, error) {
	now := s.now().UTC()
	var out *domain.Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Stage.Terminal() {
			return ErrTerminal
		}

		if job.LeaseValidAt(now) || job.DispatchID != "" {
			job.CancelRequested = true
			job.UpdatedAt = now
			out = job
			return putJob(tx, job)
		}

		if err := s.markTerminal(tx, job, domain.StageCancelled, now); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BindDispatch records the outstanding remote dispatch id on the job.
func (s *boltStore) BindDispatch(jobID, leaseToken, dispatchID, target string) error {
	now := s.now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if err := s.guardLease(job, leaseToken, now); err != nil {
			return err
		}
		if err := s.clearDispatch(tx, job); err != nil {
			return err
		}
		job.DispatchID = dispatchID
		job.DispatchTarget = target
		job.UpdatedAt = now
		if err := tx.Bucket([]byte(dispatchBucket)).Put([]byte(dispatchID), []byte(job.ID)); err != nil {
			return err
		}
		return putJob(tx, job)
	})
}

// ResolveDispatch applies a remotely delivered completion. Matching is by
// dispatch id, deliberately independent of the lease: the lease may have
// expired while the remote work ran. Duplicate deliveries are no-ops; the
// second return value reports whether the outcome was applied.
func (s *boltStore) ResolveDispatch(dispatchID string, outcome DispatchOutcome) (*domain.Job, bool, error) {
	now := s.now().UTC()
	var (
		out     *domain.Job
		applied bool
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		dispatch := tx.Bucket([]byte(dispatchBucket))
		ref := dispatch.Get([]byte(dispatchID))
		if ref == nil {
			return nil
		}
		job, err := getJob(tx, string(ref))
		if err != nil {
			return err
		}
		if job.DispatchID != dispatchID || job.Stage.Terminal() {
			// superseded by a fresh dispatch or already settled
			return dispatch.Delete([]byte(dispatchID))
		}

		if outcome.Success {
			out, err = s.applySuccess(tx, job, outcome.Artifacts, outcome.ExternalVideoID, now)
		} else {
			out, err = s.applyFailure(tx, job, outcome.ErrorKind, outcome.ErrorMessage, now)
		}
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// clearDispatch drops the job's outstanding dispatch binding, if any.
func (s *boltStore) clearDispatch(tx *bolt.Tx, job *domain.Job) error {
	if job.DispatchID == "" {
		return nil
	}
	if err := tx.Bucket([]byte(dispatchBucket)).Delete([]byte(job.DispatchID)); err != nil {
		return err
	}
	job.DispatchID = ""
	job.DispatchTarget = ""
	return nil
}

// markTerminal settles the job in a terminal stage, releasing its lease, its
// ready-index entry, and (for Failed/Cancelled) its dedup key.
func (s *boltStore) markTerminal(tx *bolt.Tx, job *domain.Job, stage domain.Stage, now time.Time) error {
	job.Stage = stage
	job.Lease = nil
	job.UpdatedAt = now
	if err := s.clearDispatch(tx, job); err != nil {
		return err
	}

	if err := tx.Bucket([]byte(readyBucket)).Delete(readyKey(job.ChannelID, job.CreatedAt, job.ID)); err != nil {
		return err
	}
	if !stage.OccupiesDedup() {
		dedup := tx.Bucket([]byte(dedupBucket))
		key := scopedKey(job.ChannelID, job.Fingerprint)
		if ref := dedup.Get(key); ref != nil && string(ref) == job.ID {
			if err := dedup.Delete(key); err != nil {
				return err
			}
		}
	}
	return putJob(tx, job)
}

// Get returns the job by id.
func (s *boltStore) Get(jobID string) (*domain.Job, error) {
	var job *domain.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		j, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListDispatched returns the jobs with an outstanding dispatch binding,
// walking the dispatch index rather than the whole job bucket. Stale index
// entries pointing at superseded or settled jobs are skipped.
func (s *boltStore) ListDispatched() ([]*domain.Job, error) {
	var out []*domain.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(dispatchBucket)).ForEach(func(dispatchID, ref []byte) error {
			job, err := getJob(tx, string(ref))
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			if job.DispatchID != string(dispatchID) || job.Stage.Terminal() {
				return nil
			}
			out = append(out, job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// List returns jobs matching the filter, oldest first.
func (s *boltStore) List(filter ListFilter) ([]*domain.Job, error) {
	var out []*domain.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(jobBucket)).ForEach(func(_, raw []byte) error {
			var job domain.Job
			if err := json.Unmarshal(raw, &job); err != nil {
				return err
			}
			if filter.ChannelID != "" && job.ChannelID != filter.ChannelID {
				return nil
			}
			if filter.Stage != "" && job.Stage != filter.Stage {
				return nil
			}
			out = append(out, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountLeased counts the channel's jobs currently holding a valid lease.
func (s *boltStore) CountLeased(channelID string) (int, error) {
	now := s.now().UTC()
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket([]byte(readyBucket)).Cursor()
		prefix := channelPrefix(channelID)
		for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			job, err := getJob(tx, string(v))
			if err != nil {
				return err
			}
			if job.LeaseValidAt(now) {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Cursor returns the persisted discovery cursor for (channel, source).
func (s *boltStore) Cursor(channelID, sourceID string) (string, error) {
	var cursor string
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket([]byte(cursorBucket)).Get(scopedKey(channelID, sourceID)); raw != nil {
			cursor = string(raw)
		}
		return nil
	})
	return cursor, err
}

// SaveCursor persists the discovery cursor for (channel, source).
func (s *boltStore) SaveCursor(channelID, sourceID, cursor string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(cursorBucket)).Put(scopedKey(channelID, sourceID), []byte(cursor))
	})
}

// Paused returns the channel's runtime pause state.
func (s *boltStore) Paused(channelID string) (bool, error) {
	var paused bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(channelBucket)).Get([]byte(channelID))
		paused = len(raw) == 1 && raw[0] == 1
		return nil
	})
	return paused, err
}

// SetPaused stores the channel's runtime pause state.
func (s *boltStore) SetPaused(channelID string, paused bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		val := []byte{0}
		if paused {
			val[0] = 1
		}
		return tx.Bucket([]byte(channelBucket)).Put([]byte(channelID), val)
	})
}

// maybeCleanup prunes terminal jobs past retention on a fixed cadence to
// avoid unbounded growth.
func (s *boltStore) maybeCleanup() error {
	now := s.now()

	last := time.Unix(s.lastCleanup.Load(), 0)
	if now.Sub(last) < s.cleanupEvery {
		return nil
	}

	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()

	last = time.Unix(s.lastCleanup.Load(), 0)
	if now.Sub(last) < s.cleanupEvery {
		return nil
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket([]byte(jobBucket))
		dedup := tx.Bucket([]byte(dedupBucket))
		cur := jobs.Cursor()

		for k, raw := cur.First(); k != nil; k, raw = cur.Next() {
			var job domain.Job
			if err := json.Unmarshal(raw, &job); err != nil {
				return err
			}
			if !job.Stage.Terminal() || now.Sub(job.UpdatedAt) < s.retention {
				continue
			}
			key := scopedKey(job.ChannelID, job.Fingerprint)
			if ref := dedup.Get(key); ref != nil && string(ref) == job.ID {
				if err := dedup.Delete(key); err != nil {
					return err
				}
			}
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		s.lastCleanup.Store(now.Unix())
	}
	return err
}
