package logmsg

import "sync/atomic"

// receiptMask keeps the high byte reserved, leaving a 56-bit usable range
// per the data model.
const receiptMask = (uint64(1) << 56) - 1

// ReceiptAllocator assigns monotonic, cross-restart-unique receipt IDs.
// Counter is expected to be backed by a persisted entry (see pkg/persist);
// loaded value + 1 is the next assignable ID after a restart.
type ReceiptAllocator struct {
	next uint64
}

// NewReceiptAllocator resumes numbering from lastPersisted (the value
// loaded from the persist store at startup; 0 if this source is new).
func NewReceiptAllocator(lastPersisted uint64) *ReceiptAllocator {
	return &ReceiptAllocator{next: lastPersisted}
}

// Next returns the next receipt ID, strictly greater than any ID this
// allocator has returned before (including across restarts, provided the
// caller persists the returned value periodically).
func (r *ReceiptAllocator) Next() uint64 {
	return atomic.AddUint64(&r.next, 1) & receiptMask
}

// Last returns the most recently assigned ID without allocating a new one,
// for checkpointing into the persist store.
func (r *ReceiptAllocator) Last() uint64 {
	return atomic.LoadUint64(&r.next)
}
