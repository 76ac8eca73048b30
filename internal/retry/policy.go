package retry

import (
	"math/rand"
	"time"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
)

const (
	jitterFraction = 0.2
	maxShift       = 20
)

// Policy decides whether a failed stage attempt is retried and after how long.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts map[domain.Stage]int

	// rng is overridable for deterministic tests; nil uses the global source.
	rng *rand.Rand
}

// Defaults mirror the operational posture: publish failures have externally
// visible side effects, so they get fewer attempts than acquire/transform.
const (
	DefaultMaxAttemptsAcquire   = 5
	DefaultMaxAttemptsTransform = 5
	DefaultMaxAttemptsPublish   = 3
)

// NewPolicy builds a policy with the provided delays and per-stage attempt caps.
// Zero-valued fields fall back to defaults.
func NewPolicy(base, max time.Duration, attempts map[domain.Stage]int) *Policy {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max <= 0 {
		max = 30 * time.Minute
	}
	caps := map[domain.Stage]int{
		domain.StageAcquiring:    DefaultMaxAttemptsAcquire,
		domain.StageTransforming: DefaultMaxAttemptsTransform,
		domain.StagePublishing:   DefaultMaxAttemptsPublish,
	}
	for stage, n := range attempts {
		if n > 0 {
			caps[stage] = n
		}
	}
	return &Policy{BaseDelay: base, MaxDelay: max, MaxAttempts: caps}
}

// DefaultPolicy returns a policy with all defaults.
func DefaultPolicy() *Policy {
	return NewPolicy(0, 0, nil)
}

// WithRand fixes the jitter source. Test hook.
func (p *Policy) WithRand(r *rand.Rand) *Policy {
	p.rng = r
	return p
}

// MaxAttemptsFor returns the attempt cap for the given active stage.
func (p *Policy) MaxAttemptsFor(stage domain.Stage) int {
	if n, ok := p.MaxAttempts[stage]; ok && n > 0 {
		return n
	}
	return DefaultMaxAttemptsPublish
}

// Decision is the outcome of classifying a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide applies the taxonomy: permanent errors never retry; transient errors
// and timeouts retry until the stage's attempt cap, with exponential backoff
// capped at MaxDelay plus jitter up to 20% of the computed delay.
func (p *Policy) Decide(stage domain.Stage, attempts int, kind domain.ErrorKind) Decision {
	if !kind.Retryable() {
		return Decision{}
	}
	if attempts >= p.MaxAttemptsFor(stage) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.delayFor(attempts)}
}

// delayFor computes base * 2^attempts capped at MaxDelay, plus jitter.
func (p *Policy) delayFor(attempts int) time.Duration {
	shift := attempts
	if shift > maxShift {
		shift = maxShift
	}
	delay := p.BaseDelay << uint(shift)
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay + p.jitter(delay)
}

func (p *Policy) jitter(delay time.Duration) time.Duration {
	span := int64(float64(delay) * jitterFraction)
	if span <= 0 {
		return 0
	}
	if p.rng != nil {
		return time.Duration(p.rng.Int63n(span))
	}
	return time.Duration(rand.Int63n(span))
}
