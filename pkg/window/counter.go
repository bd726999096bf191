// Package window implements the source-side backpressure primitive: a
// single-word, lock-free counter whose high bit doubles as a suspended
// flag. Ported from the window-size-counter design (original syslog-ng
// lib/window-size-counter.c): one atomic word eliminates locking on the
// hottest path in the pipeline, one increment per downstream ack.
package window

import "sync/atomic"

// counterMask keeps the top bit free for the suspend flag, following the
// original C implementation's COUNTER_MASK/SUSPEND_MASK split.
const counterMask = uint64(1)<<63 - 1
const suspendMask = ^counterMask

// Max is the largest representable counter value.
const Max = counterMask

// Counter is a source's in-flight message budget. All operations are
// lock-free; free-to-send is a single atomic load away from a strictly
// consistent suspended/available observation.
type Counter struct {
	word uint64
}

// New creates a Counter with an initial budget of n, not suspended.
func New(n uint64) *Counter {
	c := &Counter{}
	c.Set(n)
	return c
}

// Set assigns the counter value and clears the suspend bit.
func (c *Counter) Set(n uint64) {
	atomic.StoreUint64(&c.word, n&counterMask)
}

// Get returns the current counter value and whether the counter is
// suspended.
func (c *Counter) Get() (value uint64, suspended bool) {
	v := atomic.LoadUint64(&c.word)
	return v & counterMask, isSuspended(v)
}

// Sub decrements the counter by n before a message is posted, returning the
// value before the decrement. The counter must never go negative; callers
// should only Sub after confirming FreeToSend (and at most by the amount
// available), matching the C implementation's assertion-checked contract.
func (c *Counter) Sub(n uint64) (old uint64, suspended bool) {
	v := atomic.AddUint64(&c.word, ^(n - 1)) // atomic subtract
	old = (v + n) & counterMask
	return old, isSuspended(v)
}

// Add increments the counter when a downstream pipe acknowledges a
// message, returning the value before the increment.
func (c *Counter) Add(n uint64) (old uint64, suspended bool) {
	v := atomic.AddUint64(&c.word, n)
	old = (v - n) & counterMask
	return old, isSuspended(v)
}

// Suspend sets the high bit independently of the counter value, e.g. for
// cooperative shutdown.
func (c *Counter) Suspend() {
	for {
		old := atomic.LoadUint64(&c.word)
		if atomic.CompareAndSwapUint64(&c.word, old, old|suspendMask) {
			return
		}
	}
}

// Resume clears the high bit, independently of the counter value.
func (c *Counter) Resume() {
	for {
		old := atomic.LoadUint64(&c.word)
		if atomic.CompareAndSwapUint64(&c.word, old, old&^suspendMask) {
			return
		}
	}
}

// Suspended reports whether the suspend bit is set.
func (c *Counter) Suspended() bool {
	return isSuspended(atomic.LoadUint64(&c.word))
}

// FreeToSend reports counter > 0 AND !suspended, in one atomic read.
func (c *Counter) FreeToSend() bool {
	v := atomic.LoadUint64(&c.word)
	return (v&counterMask) > 0 && !isSuspended(v)
}

// isSuspended mirrors the C implementation: zero or the suspend mask fully
// set both count as suspended (a window that has never been opened behaves
// like a suspended one).
func isSuspended(v uint64) bool {
	return v == 0 || (v&suspendMask) == suspendMask
}
