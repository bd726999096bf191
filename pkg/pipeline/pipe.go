// Package pipeline implements the pipe graph from §4.6: a small explicit
// Pipe interface, an arena-indexed Pipeline owner that replaces the
// original's cyclic pipe<->driver back-references (§9 Design Notes), and a
// Multiplexer that fans one message out to N downstream branches with
// ack-reference cloning and in-order per-branch delivery.
package pipeline

import (
	"logcore/pkg/logmsg"
)

// Event is a control-plane signal delivered to a pipe via Notify. Unlike
// Queue, a Notify call carries no message and no ack obligation.
type Event int

const (
	// EventTransportEOF fires when a source's underlying transport has
	// reached end of stream.
	EventTransportEOF Event = iota
	// EventFileDeleted fires when a file-backed source or destination
	// observes its target removed from the filesystem.
	EventFileDeleted
	// EventLastMessageSent fires on a destination once its queue has
	// drained and no further messages are expected before shutdown.
	EventLastMessageSent
	// EventConfigChanged precedes a Clone call during a config reload.
	EventConfigChanged
	// EventReopenFiles asks a file-backed pipe to close and reopen its
	// target, e.g. after external log rotation.
	EventReopenFiles
)

func (e Event) String() string {
	switch e {
	case EventTransportEOF:
		return "transport_eof"
	case EventFileDeleted:
		return "file_deleted"
	case EventLastMessageSent:
		return "last_message_sent"
	case EventConfigChanged:
		return "config_changed"
	case EventReopenFiles:
		return "reopen_files"
	default:
		return "unknown"
	}
}

// Pipe is the one polymorphic interface every node in the graph
// implements — sources, destinations, filters, and the Multiplexer
// itself. It replaces the original's struct-of-function-pointers vtable
// per §9: no open-coded dispatch, just this interface.
type Pipe interface {
	// Init allocates and validates against config, subscribing to
	// whatever events the pipe needs. config is opaque to the pipeline
	// package; each Pipe implementation asserts it to its own type.
	Init(config interface{}) error

	// Deinit releases resources. Implementations that own in-flight
	// acks must drain them (see internal/runtime's shutdown sequence)
	// before returning.
	Deinit() error

	// Queue is a synchronous handoff of one message; the callee owns
	// msg's reference from this call onward. A pipe that queues msg
	// onward to further pipes must do so in the order it received its
	// own Queue calls (§5 ordering guarantees).
	Queue(msg *logmsg.LogMessage, opts logmsg.PathOptions) error

	// Notify delivers a control-plane event.
	Notify(event Event)

	// Clone materializes a fresh copy of per-branch state, used when a
	// config reload needs a new instance wired in place of this one.
	Clone() Pipe
}
