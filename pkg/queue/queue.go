// Package queue implements the bounded FIFO queue each destination pipe
// owns: one entry per in-flight message plus the path options governing
// its acknowledgement. MemoryQueue is a pure in-process deque; Persisted
// wraps it with a pkg/persist-backed durability layer so queued-but-
// undelivered messages survive a restart, grounded on the teacher's
// pkg/dlq channel-plus-disk-file pattern but generalized to a proper
// FIFO (the DLQ only ever appends; a destination queue must also pop
// from the front and push back to the front on retry).
package queue

import (
	"context"

	"logcore/pkg/logmsg"
)

// Entry is one queued unit of work: a message and the path options that
// determine whether its eventual outcome needs to be acknowledged.
type Entry struct {
	Msg  *logmsg.LogMessage
	Opts logmsg.PathOptions

	// key is set by Persisted to the entry's on-disk location; zero
	// value for a pure MemoryQueue entry.
	key string
}

// Queue is the FIFO a destination worker drains. PushFront exists
// specifically for step 6 of the destination worker loop (§4.4): a
// Retry outcome returns the message to the head of the queue, not the
// tail, so retries don't reorder behind freshly-arriving messages.
type Queue interface {
	PushBack(e Entry) error
	PushFront(e Entry) error
	PopFront(ctx context.Context) (Entry, error)
	Len() int
	Close()
}
