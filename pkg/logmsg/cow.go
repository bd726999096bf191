package logmsg

// PathOptions records per-branch acknowledgement requirements, passed to
// queue/add_ack/drop along a single branch of the pipeline graph.
type PathOptions struct {
	AckNeeded bool
}

// MakeWritable returns a LogMessage the caller may mutate in place.
//
// If msg is not write-protected and is the sole holder (refcount == 1), it
// is returned unchanged. Otherwise a clone is allocated: the clone shares
// the underlying value payload by reference count (retained, not copied),
// gets its own copy of the tag bitmap, and inherits the ack reference
// chain; the original's reference is released in favor of the clone.
//
// Per the pipeline's in-order delivery rule, out-of-order processing within
// a branch is only permitted after MakeWritable has produced a clone —
// until then, all branches observe the same immutable snapshot.
func MakeWritable(msg *LogMessage, opts PathOptions) *LogMessage {
	if !msg.IsWriteProtected() && msg.Refcount() == 1 {
		return msg
	}

	clone := &LogMessage{
		Timestamps: msg.Timestamps,
		PRI:        msg.PRI,
		Flags:      msg.Flags,
		payload:    msg.payload.retain(),
		tags:       msg.tags.clone(),
		SAddr:      msg.SAddr,
		DAddr:      msg.DAddr,
		ack:        msg.ack,
		refcount:   1,
		ReceiptID:  msg.ReceiptID,
	}

	msg.Unref()
	return clone
}
