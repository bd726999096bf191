// Package logmsg implements the pipeline's unit of flow: LogMessage, its
// value/tag model, copy-on-write mutation, and the ack-record bookkeeping
// that gives every message exactly one terminal delivery outcome.
//
// The value payload is reference-counted and shared between a message and
// its clones; only the holder that actually mutates pays for a copy. Tags
// are copied into each clone. This mirrors the teacher's LabelsCOW (pkg/types/labels_cow.go) but
// generalized to typed values and a fixed-plus-overflow tag bitset, per the
// data model the pipeline needs for syslog records.
package logmsg

import (
	"net"
	"sync/atomic"
	"time"
)

// Flag is one bit of LogMessage.Flags.
type Flag uint32

const (
	FlagLocalOrigin Flag = 1 << iota
	FlagUTF8Validated
	FlagInternalGenerated
	FlagMark
	FlagTruncated
	FlagSyslogProtocolParsed
	FlagSimpleHostname
)

// Handle addresses one of the well-known fields without a name lookup.
type Handle int

const (
	HandleHost Handle = iota
	HandleHostFrom
	HandleProgram
	HandlePID
	HandleMessage
	HandleMessageID
	HandleSource
	handleCount
)

// Timestamp is a (seconds, microseconds, gmt-offset) triple. GMTOffset of
// -1 means "unset" per the data model.
type Timestamp struct {
	Sec       int64
	Micro     int32
	GMTOffset int32
}

// UnsetTimestamp is the zero value with the -1 sentinel offset.
var UnsetTimestamp = Timestamp{GMTOffset: -1}

// IsSet reports whether the timestamp carries a real gmt offset.
func (t Timestamp) IsSet() bool { return t.GMTOffset != -1 }

// Time converts to a time.Time in the timestamp's recorded offset.
func (t Timestamp) Time() time.Time {
	loc := time.UTC
	if t.GMTOffset != -1 {
		loc = time.FixedZone("", int(t.GMTOffset))
	}
	return time.Unix(t.Sec, int64(t.Micro)*1000).In(loc)
}

// TimestampKind indexes LogMessage.Timestamps.
type TimestampKind int

const (
	TimestampStamp TimestampKind = iota // event time, as carried on the wire
	TimestampReceived                   // ingest time
	TimestampProcessed                  // processed time
	timestampCount
)

// ValueType tags the dynamic type carried in a Value.
type ValueType int

const (
	ValueString ValueType = iota
	ValueInteger
	ValueDouble
	ValueBoolean
	ValueList
	ValueDatetime
	ValueJSON
	ValueNull
)

// Value is one entry of LogMessage's name/value payload.
type Value struct {
	Bytes []byte
	Type  ValueType
}

// payload is the reference-counted, mostly-immutable block shared between a
// message and its copy-on-write clones. Cloning bumps refs; only a write
// allocates a new payload.
type payload struct {
	refs   int32
	values map[string]Value
	wellKnown [handleCount]Value
}

func newPayload() *payload {
	return &payload{refs: 1, values: make(map[string]Value)}
}

func (p *payload) retain() *payload {
	atomic.AddInt32(&p.refs, 1)
	return p
}

func (p *payload) release() {
	atomic.AddInt32(&p.refs, -1)
}

func (p *payload) clone() *payload {
	np := &payload{refs: 1, values: make(map[string]Value, len(p.values))}
	for k, v := range p.values {
		np.values[k] = v
	}
	np.wellKnown = p.wellKnown
	return np
}

// SockAddr is an optional source/destination endpoint: IPv4/IPv6 with port,
// or a Unix socket path.
type SockAddr struct {
	IP   net.IP
	Port int
	Unix string
}

// LogMessage is the unit of flow through the pipeline.
//
// Once WriteProtected is set, no field may change without first going
// through MakeWritable, which clones the message (sharing the underlying
// payload by reference count) rather than mutating a holder another branch
// may still be reading.
type LogMessage struct {
	Timestamps [timestampCount]Timestamp
	PRI        int
	Flags      uint32

	payload *payload

	tags tagSet

	SAddr, DAddr *SockAddr

	ack *AckRecord

	refcount       int32
	writeProtected int32 // atomic bool

	ReceiptID uint64
}

// New creates a fresh, writable LogMessage with no ack record attached yet.
func New() *LogMessage {
	return &LogMessage{
		payload:    newPayload(),
		refcount:   1,
		Timestamps: [timestampCount]Timestamp{UnsetTimestamp, UnsetTimestamp, UnsetTimestamp},
	}
}

// SetFlag / HasFlag / ClearFlag operate on the Flags bitset.
func (m *LogMessage) SetFlag(f Flag)   { m.Flags |= uint32(f) }
func (m *LogMessage) HasFlag(f Flag) bool { return m.Flags&uint32(f) != 0 }
func (m *LogMessage) ClearFlag(f Flag) { m.Flags &^= uint32(f) }

// Get returns a named value.
func (m *LogMessage) Get(name string) (Value, bool) {
	v, ok := m.payload.values[name]
	return v, ok
}

// GetHandle returns a well-known value by handle.
func (m *LogMessage) GetHandle(h Handle) (Value, bool) {
	v := m.payload.wellKnown[h]
	return v, v.Bytes != nil || v.Type != ValueString
}

// Set stores a named value. The caller must hold a writable message
// (IsWriteProtected() == false); see MakeWritable. If the payload block is
// still shared with a clone, it is copied now (lazy copy-on-write).
func (m *LogMessage) Set(name string, v Value) {
	m.ensurePayloadOwned()
	m.payload.values[name] = v
}

// SetHandle stores a well-known value by handle. Same writability
// requirement as Set.
func (m *LogMessage) SetHandle(h Handle, v Value) {
	m.ensurePayloadOwned()
	m.payload.wellKnown[h] = v
}

// ensurePayloadOwned clones the payload block if it is still shared with
// another LogMessage (refs > 1), so the mutation that follows is not
// observed by that other holder.
func (m *LogMessage) ensurePayloadOwned() {
	if atomic.LoadInt32(&m.payload.refs) <= 1 {
		return
	}
	old := m.payload
	m.payload = old.clone()
	old.release()
}

// IsWriteProtected reports whether the message has been published
// downstream and must be cloned before any mutation.
func (m *LogMessage) IsWriteProtected() bool {
	return atomic.LoadInt32(&m.writeProtected) != 0
}

// WriteProtect marks the message immutable. Called before the first
// multiplexer fan-out.
func (m *LogMessage) WriteProtect() {
	atomic.StoreInt32(&m.writeProtected, 1)
}

// Ref increments the message's refcount, used when a pipe hands the same
// message to more than one downstream without cloning (e.g. a filter that
// forwards unchanged).
func (m *LogMessage) Ref() *LogMessage {
	atomic.AddInt32(&m.refcount, 1)
	return m
}

// Unref decrements the refcount and releases the message's payload
// reference once it reaches zero; the ack record is not consulted. Go's GC
// does the actual reclamation, but callers must still stop touching m after
// this returns.
func (m *LogMessage) Unref() {
	if atomic.AddInt32(&m.refcount, -1) == 0 {
		m.payload.release()
	}
}

// Refcount reports the current reference count (for tests and invariants).
func (m *LogMessage) Refcount() int32 {
	return atomic.LoadInt32(&m.refcount)
}
