package rfc

import (
	"time"

	"logcore/pkg/logmsg"
)

// Parse extracts PRI (if present) and dispatches the remaining bytes to
// the RFC 3164 or RFC 5424 body parser by the gastrolog ingester's
// version-number heuristic, writing the result into msg. now is the
// wall-clock time used to resolve RFC 3164's missing year.
//
// A message with no recognizable PRI is assigned the default
// facility/severity (13, 5) per RFC 3164 section 4.1.3, same as most
// relays that receive an unprefixed line.
func Parse(data []byte, msg *logmsg.LogMessage, now time.Time) error {
	const defaultPRI = 13*8 + 5

	pri, rest, ok := ParsePRI(data)
	if !ok {
		pri, rest = defaultPRI, data
	}
	msg.PRI = pri

	if looksLikeRFC5424(rest) {
		return ParseRFC5424(rest, msg)
	}
	return ParseRFC3164(rest, msg, now)
}
