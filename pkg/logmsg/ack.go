package logmsg

import "sync/atomic"

// Outcome is the terminal disposition reported to an AckRecord's callback.
type Outcome int

const (
	Processed Outcome = iota
	Suspended
	Aborted
)

// priority ranks outcomes so the aggregate reflects the worst branch:
// Aborted > Suspended > Processed.
func (o Outcome) priority() int {
	switch o {
	case Aborted:
		return 2
	case Suspended:
		return 1
	default:
		return 0
	}
}

// combine returns the higher-priority of two outcomes.
func combine(a, b Outcome) Outcome {
	if b.priority() > a.priority() {
		return b
	}
	return a
}

// AckRecord aggregates per-branch completion signals for one producer-side
// message so exactly one terminal outcome is ever reported, regardless of
// how many downstream branches the message fans out to.
//
// AddAck must be paired with exactly one Drop per logical branch; cloning a
// LogMessage transfers a reference to the same AckRecord (the counter is
// not per-clone). The callback fires exactly once, on the transition to
// zero, via a compare-and-swap so concurrent Drops from different workers
// never double-fire it.
type AckRecord struct {
	pending  int32
	outcome  int32 // Outcome, accessed atomically
	fired    int32 // 0/1 guard
	onResolve func(Outcome)
}

// NewAckRecord creates a record with one implicit pending reference — the
// producer's own — so a Source can safely call Drop after fan-out even if
// no branch ever called AddAck.
func NewAckRecord(onResolve func(Outcome)) *AckRecord {
	return &AckRecord{pending: 1, onResolve: onResolve}
}

// AddAck registers one more branch that must Drop before the record
// resolves. opts.AckNeeded == false is a no-op: branches that don't require
// acknowledgement never hold a reference.
func (a *AckRecord) AddAck(opts PathOptions) {
	if !opts.AckNeeded {
		return
	}
	atomic.AddInt32(&a.pending, 1)
}

// Drop releases one branch's reference with its outcome. When the pending
// count reaches zero, the record's callback fires exactly once with the
// aggregated (worst-of) outcome.
func (a *AckRecord) Drop(opts PathOptions, outcome Outcome) {
	if !opts.AckNeeded {
		return
	}
	a.resolveWith(outcome)
}

// Finalize is called by the producer (e.g. a Source) to release its own
// implicit reference once it has finished distributing the message to all
// branches.
func (a *AckRecord) Finalize(outcome Outcome) {
	a.resolveWith(outcome)
}

func (a *AckRecord) resolveWith(outcome Outcome) {
	for {
		old := atomic.LoadInt32(&a.outcome)
		combined := combine(Outcome(old), outcome)
		if int32(combined) == old {
			break
		}
		if atomic.CompareAndSwapInt32(&a.outcome, old, int32(combined)) {
			break
		}
	}

	if atomic.AddInt32(&a.pending, -1) != 0 {
		return
	}

	if atomic.CompareAndSwapInt32(&a.fired, 0, 1) {
		if a.onResolve != nil {
			a.onResolve(Outcome(atomic.LoadInt32(&a.outcome)))
		}
	}
}

// Pending reports the number of outstanding branch references (for tests
// and shutdown-drain bookkeeping).
func (a *AckRecord) Pending() int32 {
	return atomic.LoadInt32(&a.pending)
}

// Attach installs ar as m's ack record. Used by a Source right after
// constructing a message.
func (m *LogMessage) Attach(ar *AckRecord) { m.ack = ar }

// AckRecord returns the message's ack record, or nil if none is attached
// (internally generated messages that need no acknowledgement).
func (m *LogMessage) AckRecord() *AckRecord { return m.ack }
