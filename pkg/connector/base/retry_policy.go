package base

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff yields the waits between reconnect attempts.
type Backoff interface {
	// Next returns the wait before the next attempt and advances the sequence.
	// ok is false once the sequence is exhausted.
	Next() (wait time.Duration, ok bool)
	// Reset starts the sequence over from the minimum wait.
	Reset()
	// Max is the upper bound on any wait returned by Next.
	Max() time.Duration
}

// ReconnectPolicy is a deterministic exponential backoff: the wait starts at
// min, doubles after every call to Next and is capped at max. There is no
// jitter. With maxAttempts > 0 the sequence is exhausted after that many waits.
type ReconnectPolicy struct {
	min         time.Duration
	max         time.Duration
	maxAttempts int
	b           backoff.BackOff
}

// NewReconnectPolicy creates a new reconnect policy
func NewReconnectPolicy(min, max time.Duration, maxAttempts int) *ReconnectPolicy {
	if max < min {
		max = min
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = min
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = max
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = exp
	if maxAttempts > 0 {
		b = backoff.WithMaxRetries(exp, uint64(maxAttempts))
	}

	return &ReconnectPolicy{
		min:         min,
		max:         max,
		maxAttempts: maxAttempts,
		b:           b,
	}
}

// Next implements Backoff.
func (p *ReconnectPolicy) Next() (time.Duration, bool) {
	wait := p.b.NextBackOff()
	if wait == backoff.Stop {
		return 0, false
	}
	if wait > p.max {
		wait = p.max
	}
	return wait, true
}

// Reset implements Backoff.
func (p *ReconnectPolicy) Reset() {
	p.b.Reset()
}

// Min returns the first wait of a fresh sequence.
func (p *ReconnectPolicy) Min() time.Duration {
	return p.min
}

// Max implements Backoff.
func (p *ReconnectPolicy) Max() time.Duration {
	return p.max
}

// MaxAttempts returns the configured bound, 0 meaning unbounded.
func (p *ReconnectPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Preview returns the first n waits of a fresh sequence without touching the
// policy's own state.
func (p *ReconnectPolicy) Preview(n int) []time.Duration {
	clone := NewReconnectPolicy(p.min, p.max, p.maxAttempts)
	waits := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		wait, ok := clone.Next()
		if !ok {
			break
		}
		waits = append(waits, wait)
	}
	return waits
}
