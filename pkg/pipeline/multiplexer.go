package pipeline

import (
	"logcore/pkg/errors"
	"logcore/pkg/logmsg"
)

// Branch is one downstream leg of a Multiplexer: the pipe it feeds, the
// path options governing that leg's ack accounting, and whether the pipe
// mutates the message in place (in which case it must MakeWritable
// before queuing, per §4.6's "if any branch would mutate the message, it
// must make_writable first").
type Branch struct {
	Pipe    Pipe
	Opts    logmsg.PathOptions
	Mutates bool
}

// Multiplexer fans one incoming message out to N downstream branches. It
// implements Pipe itself so it can sit anywhere a single pipe would in
// the graph (§4.6 "Fan-out").
//
// Ack accounting: the message arrives holding one implicit ack
// reference. The Multiplexer distributes that reference across all N
// branches by calling AddAck N-1 times (branch 0 inherits the reference
// already held); each branch is then responsible for eventually calling
// Drop once its own path resolves. If a branch's Queue call itself fails
// — it never got the chance to process the message at all — the
// Multiplexer drops that branch's reference immediately with Aborted so
// the aggregate ack still resolves.
type Multiplexer struct {
	Name     string
	branches []Branch
}

// NewMultiplexer creates a Multiplexer with no branches; use AddBranch to
// wire them (mirroring Pipeline.Connect's incremental graph assembly).
func NewMultiplexer(name string) *Multiplexer {
	return &Multiplexer{Name: name}
}

// AddBranch appends a downstream leg.
func (m *Multiplexer) AddBranch(b Branch) {
	m.branches = append(m.branches, b)
}

// Init is a no-op: a Multiplexer owns no resources of its own, only
// references to branch pipes that are initialized independently as
// their own arena entries in the owning Pipeline.
func (m *Multiplexer) Init(config interface{}) error { return nil }

// Deinit is a no-op for the same reason Init is.
func (m *Multiplexer) Deinit() error { return nil }

// Notify forwards event to every branch.
func (m *Multiplexer) Notify(event Event) {
	for _, b := range m.branches {
		b.Pipe.Notify(event)
	}
}

// Clone produces a fresh Multiplexer with each branch's pipe cloned in
// turn, for use when a config reload needs new per-branch state.
func (m *Multiplexer) Clone() Pipe {
	clone := &Multiplexer{Name: m.Name}
	for _, b := range m.branches {
		clone.branches = append(clone.branches, Branch{
			Pipe:    b.Pipe.Clone(),
			Opts:    b.Opts,
			Mutates: b.Mutates,
		})
	}
	return clone
}

// Queue fans msg out to every branch in the order they were added,
// preserving in-order delivery within each branch (§5: "acks within a
// branch: delivered in the order the branch sees messages" — since
// Queue is synchronous, the caller's own call order IS the branch's
// delivery order as long as it never calls Queue concurrently for the
// same branch).
func (m *Multiplexer) Queue(msg *logmsg.LogMessage, opts logmsg.PathOptions) error {
	ar := msg.AckRecord()
	n := len(m.branches)

	if n == 0 {
		if ar != nil {
			ar.Drop(opts, logmsg.Aborted)
		}
		return nil
	}

	if ar != nil {
		for i := 1; i < n; i++ {
			ar.AddAck(m.branches[i].Opts)
		}
	}

	var firstErr error
	for _, b := range m.branches {
		branchMsg := msg
		if b.Mutates {
			branchMsg = logmsg.MakeWritable(branchMsg, b.Opts)
		}
		if err := b.Pipe.Queue(branchMsg, b.Opts); err != nil {
			if ar != nil {
				ar.Drop(b.Opts, logmsg.Aborted)
			}
			if firstErr == nil {
				firstErr = errors.Transport(m.Name, "branch queue failed").Wrap(err)
			}
		}
	}
	return firstErr
}
