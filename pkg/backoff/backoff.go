// Package backoff implements the destination worker's exponential backoff
// schedule, ported from the original syslog-ng exponential-backoff design
// (lib/exponential-backoff/exponential-backoff.c): a pure state machine
// over (initial, maximum, multiplier), with no knowledge of the transport
// or retry loop that consumes it.
package backoff

import (
	"fmt"
	"time"
)

// Options configures an ExponentialBackoff. All durations must be >= 0 and
// Initial <= Maximum; Multiplier must be >= 1.
type Options struct {
	Initial    time.Duration
	Maximum    time.Duration
	Multiplier float64
}

// Validate checks the invariants a destination's backoff configuration
// must satisfy before use.
func (o Options) Validate() error {
	if o.Initial < 0 {
		return fmt.Errorf("backoff: initial duration must be >= 0, got %s", o.Initial)
	}
	if o.Maximum < 0 {
		return fmt.Errorf("backoff: maximum duration must be >= 0, got %s", o.Maximum)
	}
	if o.Initial > o.Maximum {
		return fmt.Errorf("backoff: initial (%s) must be <= maximum (%s)", o.Initial, o.Maximum)
	}
	if o.Multiplier < 1 {
		return fmt.Errorf("backoff: multiplier must be >= 1, got %f", o.Multiplier)
	}
	return nil
}

// ExponentialBackoff tracks the next wait duration for one destination's
// retry loop. It is not goroutine-safe; a destination worker owns a single
// instance.
type ExponentialBackoff struct {
	opts     Options
	nextWait time.Duration
}

// New validates opts and returns a fresh backoff state, starting at 0 (the
// first retry after a clean run waits exactly opts.Initial).
func New(opts Options) (*ExponentialBackoff, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &ExponentialBackoff{opts: opts}, nil
}

// PeekNextWait returns the wait that the next GetNextWait call would
// return, without consuming it.
func (b *ExponentialBackoff) PeekNextWait() time.Duration {
	return b.nextWait
}

// GetNextWait returns the wait to sleep before the next retry and advances
// the internal state: next = clamp(current * multiplier, initial, maximum).
func (b *ExponentialBackoff) GetNextWait() time.Duration {
	wait := b.nextWait

	scaled := time.Duration(float64(wait) * b.opts.Multiplier)
	next := scaled
	if next < b.opts.Initial {
		next = b.opts.Initial
	}
	if next > b.opts.Maximum {
		next = b.opts.Maximum
	}
	b.nextWait = next

	return wait
}

// Reset returns the backoff to 0, so the next GetNextWait call waits 0 and
// the one after that waits Initial. Called after a successful delivery.
func (b *ExponentialBackoff) Reset() {
	b.nextWait = 0
}

// Options returns the configured options (for introspection/metrics).
func (b *ExponentialBackoff) Options() Options {
	return b.opts
}
