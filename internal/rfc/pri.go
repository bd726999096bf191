// Package rfc implements the two syslog message-body formats a source
// parser must understand: RFC 3164 (BSD) and RFC 5424 (structured),
// following the byte-scanning style the pack's syslog ingesters use
// (grounded on other_examples' gastrolog syslog ingester) but extended
// with RFC 5424 structured-data parsing, which that example deliberately
// skips.
package rfc

import (
	"strconv"

	"logcore/pkg/errors"
)

// ParsePRI extracts the "<PRI>" prefix's integer value, returning the
// remaining bytes after the closing '>'. ok is false if data does not
// start with a well-formed PRI prefix, in which case rest == data.
func ParsePRI(data []byte) (pri int, rest []byte, ok bool) {
	if len(data) < 3 || data[0] != '<' {
		return 0, data, false
	}

	end := 1
	for end < len(data) && end < 5 && data[end] != '>' {
		end++
	}
	if end >= len(data) || data[end] != '>' {
		return 0, data, false
	}

	n, err := strconv.Atoi(string(data[1:end]))
	if err != nil || n < 0 || n > 191 {
		return 0, data, false
	}
	return n, data[end+1:], true
}

// Facility and Severity decompose a PRI value per RFC 5424 section 6.2.1.
func Facility(pri int) int { return pri / 8 }
func Severity(pri int) int { return pri % 8 }

// looksLikeRFC5424 detects the "VERSION SP" prefix that distinguishes
// RFC 5424 from RFC 3164 once the PRI has been stripped, matching the
// heuristic used throughout the pack's syslog parsers.
func looksLikeRFC5424(data []byte) bool {
	return len(data) > 2 && data[0] >= '1' && data[0] <= '9' && data[1] == ' '
}

func newParseError(source, detail string) error {
	return errors.Parse(source, detail)
}
