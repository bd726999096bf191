package rfc

import (
	"encoding/json"
	"time"

	"logcore/pkg/logmsg"
)

// utf8BOM is the three-byte UTF-8 byte order mark RFC 5424 section 6.4
// permits at the start of MSG.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SDParam is one PARAM-NAME="PARAM-VALUE" pair inside an SD-ELEMENT.
type SDParam struct {
	Name  string
	Value string
}

// SDElement is one "[SD-ID PARAM...]" structured-data group.
type SDElement struct {
	ID     string
	Params []SDParam
}

// ParseRFC5424 parses an IETF syslog body ("VERSION TIMESTAMP HOSTNAME
// APP-NAME PROCID MSGID STRUCTURED-DATA MSG", PRI already stripped) into
// msg. The gastrolog ingester this is grounded on deliberately skips
// STRUCTURED-DATA ("to avoid the injection issue"); this parses it fully,
// since a genuine RFC 5424 reader has to.
func ParseRFC5424(data []byte, msg *logmsg.LogMessage) error {
	fields := splitFields(data, 7)
	if len(fields) < 1 {
		return newParseError("rfc.ParseRFC5424", "empty message body")
	}

	if len(fields) > 1 && string(fields[1]) != "-" {
		if ts, ok := parseRFC5424Timestamp(string(fields[1])); ok {
			msg.Timestamps[logmsg.TimestampStamp] = goTimeToTimestamp(ts)
		}
	}

	setFieldIfPresent(msg, logmsg.HandleHost, fields, 2, 64)
	setFieldIfPresent(msg, logmsg.HandleProgram, fields, 3, 64)
	setFieldIfPresent(msg, logmsg.HandlePID, fields, 4, 16)
	setFieldIfPresent(msg, logmsg.HandleMessageID, fields, 5, 64)

	var tail []byte
	if len(fields) > 6 {
		tail = fields[6]
	}

	sd, rest, err := parseStructuredData(tail)
	if err != nil {
		return err
	}
	if len(sd) > 0 {
		encoded, err := json.Marshal(sd)
		if err != nil {
			return newParseError("rfc.ParseRFC5424", "encode structured data")
		}
		msg.Set("structured_data", logmsg.Value{Bytes: encoded, Type: logmsg.ValueJSON})
	}

	rest = stripUTF8BOM(rest)
	msg.SetHandle(logmsg.HandleMessage, logmsg.Value{Bytes: append([]byte(nil), rest...), Type: logmsg.ValueString})
	msg.SetFlag(logmsg.FlagUTF8Validated)
	msg.SetFlag(logmsg.FlagSyslogProtocolParsed)
	return nil
}

func setFieldIfPresent(msg *logmsg.LogMessage, h logmsg.Handle, fields [][]byte, idx, maxLen int) {
	if len(fields) <= idx {
		return
	}
	f := fields[idx]
	if len(f) == 1 && f[0] == '-' {
		return
	}
	if len(f) > maxLen {
		return
	}
	msg.SetHandle(h, logmsg.Value{Bytes: append([]byte(nil), f...), Type: logmsg.ValueString})
}

func parseRFC5424Timestamp(s string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

func stripUTF8BOM(msg []byte) []byte {
	if len(msg) >= 3 && msg[0] == utf8BOM[0] && msg[1] == utf8BOM[1] && msg[2] == utf8BOM[2] {
		return msg[3:]
	}
	return msg
}

// parseStructuredData parses the leading run of "[SD-ID PARAM="VAL" ...]"
// groups from data, honoring backslash-escaping of '"', ']' and '\' inside
// PARAM-VALUE per RFC 5424 section 6.3.3. rest is the remainder after the
// groups and the single space separating STRUCTURED-DATA from MSG; for a
// nil "-" marker it is what follows the "-" and its single space; if data
// is empty or does not start with '[' or '-', rest is the whole of data.
func parseStructuredData(data []byte) ([]SDElement, []byte, error) {
	if len(data) == 0 {
		return nil, data, nil
	}
	if data[0] == '-' {
		rest := data[1:]
		if len(rest) > 0 && rest[0] == ' ' {
			rest = rest[1:]
		}
		return nil, rest, nil
	}
	if data[0] != '[' {
		return nil, data, nil
	}

	var elements []SDElement
	pos := 0
	for pos < len(data) && data[pos] == '[' {
		elem, next, err := parseSDElement(data, pos)
		if err != nil {
			return nil, data, err
		}
		elements = append(elements, elem)
		pos = next
	}

	if pos < len(data) && data[pos] == ' ' {
		pos++
	}
	return elements, data[pos:], nil
}

// parseSDElement parses a single "[...]" group starting at data[start],
// returning the element and the index just past its closing ']'.
func parseSDElement(data []byte, start int) (SDElement, int, error) {
	if data[start] != '[' {
		return SDElement{}, start, newParseError("rfc.parseSDElement", "expected '['")
	}
	pos := start + 1

	idStart := pos
	for pos < len(data) && data[pos] != ' ' && data[pos] != ']' {
		pos++
	}
	elem := SDElement{ID: string(data[idStart:pos])}

	for pos < len(data) && data[pos] != ']' {
		for pos < len(data) && data[pos] == ' ' {
			pos++
		}
		if pos >= len(data) || data[pos] == ']' {
			break
		}

		nameStart := pos
		for pos < len(data) && data[pos] != '=' {
			pos++
		}
		if pos >= len(data) {
			return SDElement{}, start, newParseError("rfc.parseSDElement", "unterminated param name")
		}
		name := string(data[nameStart:pos])
		pos++ // skip '='

		if pos >= len(data) || data[pos] != '"' {
			return SDElement{}, start, newParseError("rfc.parseSDElement", "param value must be quoted")
		}
		pos++ // skip opening quote

		var value []byte
		for pos < len(data) && data[pos] != '"' {
			if data[pos] == '\\' && pos+1 < len(data) {
				pos++
			}
			value = append(value, data[pos])
			pos++
		}
		if pos >= len(data) {
			return SDElement{}, start, newParseError("rfc.parseSDElement", "unterminated param value")
		}
		pos++ // skip closing quote

		elem.Params = append(elem.Params, SDParam{Name: name, Value: string(value)})
	}

	if pos >= len(data) || data[pos] != ']' {
		return SDElement{}, start, newParseError("rfc.parseSDElement", "unterminated structured data element")
	}
	pos++ // skip ']'

	return elem, pos, nil
}

// splitFields splits data into up to n space-delimited fields, the last of
// which absorbs the remainder of data unsplit. Matches the gastrolog
// ingester's splitFields exactly.
func splitFields(data []byte, n int) [][]byte {
	var fields [][]byte
	pos := 0
	for len(fields) < n && pos < len(data) {
		for pos < len(data) && data[pos] == ' ' {
			pos++
		}
		if pos >= len(data) {
			break
		}

		start := pos
		if len(fields) == n-1 {
			fields = append(fields, data[start:])
			break
		}
		for pos < len(data) && data[pos] != ' ' {
			pos++
		}
		fields = append(fields, data[start:pos])
	}
	return fields
}
