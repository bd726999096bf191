package destination

import (
	"bytes"
	"encoding/gob"

	"github.com/rs/xid"

	"logcore/pkg/logmsg"
	"logcore/pkg/queue"
)

// wireEntry is the durable wire form of a queue.Entry: just the
// well-known handles plus the bits a replayed message needs. A replayed
// entry has no producer still waiting on its original AckRecord (that
// process is gone), so the ack chain itself is not serialized — Decode
// attaches none, and Destination.finish already treats a nil AckRecord
// as "no ack owed".
//
// CorrelationID is distinct from ReceiptID: the receipt counter is a
// plain per-source monotonic uint64 (§4.3), while CorrelationID is a
// globally unique identifier stamped at persist time so a single entry
// can be traced across a crash/restart cycle in logs independent of
// which source originally allocated its receipt.
type wireEntry struct {
	PRI           int
	ReceiptID     uint64
	AckNeeded     bool
	CorrelationID string

	Host, Program, PID, MessageID, Message string
}

// GobCodec is the queue.Codec a persisted Destination uses by default.
// encoding/gob is the standard library's own wire format; no pack
// dependency offers a lighter-weight struct serializer, and this isn't
// a wire-protocol boundary with an external system, just this process's
// own on-disk durability layer.
type GobCodec struct{}

func (GobCodec) Encode(e queue.Entry) ([]byte, error) {
	w := wireEntry{PRI: e.Msg.PRI, ReceiptID: e.Msg.ReceiptID, AckNeeded: e.Opts.AckNeeded, CorrelationID: xid.New().String()}
	if v, ok := e.Msg.GetHandle(logmsg.HandleHost); ok {
		w.Host = string(v.Bytes)
	}
	if v, ok := e.Msg.GetHandle(logmsg.HandleProgram); ok {
		w.Program = string(v.Bytes)
	}
	if v, ok := e.Msg.GetHandle(logmsg.HandlePID); ok {
		w.PID = string(v.Bytes)
	}
	if v, ok := e.Msg.GetHandle(logmsg.HandleMessageID); ok {
		w.MessageID = string(v.Bytes)
	}
	if v, ok := e.Msg.GetHandle(logmsg.HandleMessage); ok {
		w.Message = string(v.Bytes)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Decode(data []byte) (queue.Entry, error) {
	var w wireEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return queue.Entry{}, err
	}

	msg := logmsg.New()
	msg.PRI = w.PRI
	msg.ReceiptID = w.ReceiptID
	if w.Host != "" {
		msg.SetHandle(logmsg.HandleHost, logmsg.Value{Bytes: []byte(w.Host), Type: logmsg.ValueString})
	}
	if w.Program != "" {
		msg.SetHandle(logmsg.HandleProgram, logmsg.Value{Bytes: []byte(w.Program), Type: logmsg.ValueString})
	}
	if w.PID != "" {
		msg.SetHandle(logmsg.HandlePID, logmsg.Value{Bytes: []byte(w.PID), Type: logmsg.ValueString})
	}
	if w.MessageID != "" {
		msg.SetHandle(logmsg.HandleMessageID, logmsg.Value{Bytes: []byte(w.MessageID), Type: logmsg.ValueString})
	}
	msg.SetHandle(logmsg.HandleMessage, logmsg.Value{Bytes: []byte(w.Message), Type: logmsg.ValueString})
	msg.WriteProtect()

	return queue.Entry{Msg: msg, Opts: logmsg.PathOptions{AckNeeded: w.AckNeeded}}, nil
}
