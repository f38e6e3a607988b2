package supervisor

import "time"

// Backoff yields exponentially growing delays: base, 2*base, 4*base, ... capped at max.
// It is not safe for concurrent use; the supervisor only touches it from one goroutine at a time.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff. A max below base is raised to base.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, current: base}
}

// Next returns the delay to wait before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := b.current * 2
	if next > b.max || next <= 0 {
		next = b.max
	}
	b.current = next
	return d
}

// Peek returns the delay Next would return without advancing.
func (b *Backoff) Peek() time.Duration {
	return b.current
}

// Reset returns the sequence to base.
func (b *Backoff) Reset() {
	b.current = b.base
}
