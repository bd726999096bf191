package destination

import "logcore/pkg/logmsg"

// RawMessageFormatter renders a LogMessage as its MSG field alone,
// trailing newline appended. Concrete template/parser modules (CSV,
// JSON, patterndb rewrite) are out of scope per §1; this is the one
// concrete Formatter the core ships so a Destination always has
// something real to format through, matching internal/rfc's role as
// the one concrete parser pair for an otherwise pluggable slot.
type RawMessageFormatter struct{}

func (RawMessageFormatter) Format(msg *logmsg.LogMessage) ([]byte, error) {
	v, _ := msg.GetHandle(logmsg.HandleMessage)
	out := make([]byte, 0, len(v.Bytes)+1)
	out = append(out, v.Bytes...)
	out = append(out, '\n')
	return out, nil
}
