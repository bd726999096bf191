package rfc

import (
	"time"

	"logcore/pkg/logmsg"
)

const rfc3164TimestampLen = 15 // "Jan  2 15:04:05" / "Jan 02 15:04:05"

// ParseRFC3164 parses a BSD syslog body ("MMM DD HH:MM:SS HOSTNAME TAG[PID]: MSG",
// PRI already stripped) into msg. RFC 3164 timestamps carry no year or zone;
// the current year is assumed and a year rollover is corrected the same way
// the pack's syslog ingesters do: if the result would land in the future,
// it actually belongs to last year.
func ParseRFC3164(data []byte, msg *logmsg.LogMessage, now time.Time) error {
	if len(data) < rfc3164TimestampLen {
		return newParseError("rfc.ParseRFC3164", "message shorter than a BSD timestamp")
	}

	if ts, ok := parseRFC3164Timestamp(string(data[:rfc3164TimestampLen]), now); ok {
		msg.Timestamps[logmsg.TimestampStamp] = goTimeToTimestamp(ts)
	}

	pos := rfc3164TimestampLen
	for pos < len(data) && data[pos] == ' ' {
		pos++
	}

	start := pos
	for pos < len(data) && data[pos] != ' ' && data[pos] != ':' {
		pos++
	}
	if pos > start {
		hostname := data[start:pos]
		if len(hostname) <= 64 {
			msg.SetHandle(logmsg.HandleHost, logmsg.Value{Bytes: append([]byte(nil), hostname...), Type: logmsg.ValueString})
		}
	}

	for pos < len(data) && data[pos] == ' ' {
		pos++
	}

	start = pos
	for pos < len(data) && data[pos] != ':' && data[pos] != '[' && data[pos] != ' ' {
		pos++
	}
	if pos > start {
		program := data[start:pos]
		if len(program) <= 64 {
			msg.SetHandle(logmsg.HandleProgram, logmsg.Value{Bytes: append([]byte(nil), program...), Type: logmsg.ValueString})
		}
	}

	if pos < len(data) && data[pos] == '[' {
		pos++
		pidStart := pos
		for pos < len(data) && data[pos] != ']' {
			pos++
		}
		if pos > pidStart && pos < len(data) {
			pid := data[pidStart:pos]
			if len(pid) <= 16 {
				msg.SetHandle(logmsg.HandlePID, logmsg.Value{Bytes: append([]byte(nil), pid...), Type: logmsg.ValueString})
			}
		}
		pos++ // skip ']'
	}

	if pos < len(data) && data[pos] == ':' {
		pos++
	}
	for pos < len(data) && data[pos] == ' ' {
		pos++
	}

	msg.SetHandle(logmsg.HandleMessage, logmsg.Value{Bytes: append([]byte(nil), data[pos:]...), Type: logmsg.ValueString})
	msg.SetFlag(logmsg.FlagSyslogProtocolParsed)
	return nil
}

func parseRFC3164Timestamp(s string, now time.Time) (time.Time, bool) {
	for _, layout := range []string{"Jan  2 15:04:05", "Jan 02 15:04:05"} {
		ts, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		ts = time.Date(now.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, now.Location())
		if ts.After(now.Add(24 * time.Hour)) {
			ts = ts.AddDate(-1, 0, 0)
		}
		return ts, true
	}
	return time.Time{}, false
}

func goTimeToTimestamp(t time.Time) logmsg.Timestamp {
	_, offset := t.Zone()
	return logmsg.Timestamp{
		Sec:       t.Unix(),
		Micro:     int32(t.Nanosecond() / 1000),
		GMTOffset: int32(offset),
	}
}
