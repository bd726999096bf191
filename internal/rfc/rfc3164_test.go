package rfc

import (
	"testing"
	"time"

	"logcore/pkg/logmsg"
)

func mustGetHandle(t *testing.T, msg *logmsg.LogMessage, h logmsg.Handle) string {
	t.Helper()
	v, ok := msg.GetHandle(h)
	if !ok {
		t.Fatalf("handle %d not set", h)
	}
	return string(v.Bytes)
}

func TestParseRFC3164Standard(t *testing.T) {
	now := time.Date(2023, time.October, 12, 0, 0, 0, 0, time.UTC)
	body := []byte("Oct 11 22:14:15 mymachine su: 'su root' failed for lonvick on /dev/pts/8")

	msg := logmsg.New()
	if err := ParseRFC3164(body, msg, now); err != nil {
		t.Fatalf("ParseRFC3164: %v", err)
	}

	if got := mustGetHandle(t, msg, logmsg.HandleHost); got != "mymachine" {
		t.Fatalf("host: want %q got %q", "mymachine", got)
	}
	if got := mustGetHandle(t, msg, logmsg.HandleProgram); got != "su" {
		t.Fatalf("program: want %q got %q", "su", got)
	}
	if got := mustGetHandle(t, msg, logmsg.HandleMessage); got != "'su root' failed for lonvick on /dev/pts/8" {
		t.Fatalf("message: got %q", got)
	}
	if !msg.HasFlag(logmsg.FlagSyslogProtocolParsed) {
		t.Fatalf("expected FlagSyslogProtocolParsed to be set")
	}

	ts := msg.Timestamps[logmsg.TimestampStamp]
	if ts.Time().Month() != time.October || ts.Time().Day() != 11 {
		t.Fatalf("unexpected parsed timestamp: %v", ts.Time())
	}
}

func TestParseRFC3164WithPID(t *testing.T) {
	now := time.Date(2023, time.August, 24, 0, 0, 0, 0, time.UTC)
	body := []byte("Aug 24 05:34:00 dfvb sshd[12345]: Did not receive identification string")

	msg := logmsg.New()
	if err := ParseRFC3164(body, msg, now); err != nil {
		t.Fatalf("ParseRFC3164: %v", err)
	}

	if got := mustGetHandle(t, msg, logmsg.HandleProgram); got != "sshd" {
		t.Fatalf("program: want %q got %q", "sshd", got)
	}
	if got := mustGetHandle(t, msg, logmsg.HandlePID); got != "12345" {
		t.Fatalf("pid: want %q got %q", "12345", got)
	}
}

func TestParseRFC3164YearRollover(t *testing.T) {
	// now is Jan 2; a Dec 31 timestamp must roll back to the previous year.
	now := time.Date(2024, time.January, 2, 12, 0, 0, 0, time.UTC)
	body := []byte("Dec 31 23:59:59 host app: message")

	msg := logmsg.New()
	if err := ParseRFC3164(body, msg, now); err != nil {
		t.Fatalf("ParseRFC3164: %v", err)
	}

	ts := msg.Timestamps[logmsg.TimestampStamp].Time()
	if ts.Year() != 2023 {
		t.Fatalf("expected year rollback to 2023, got %d", ts.Year())
	}
}

func TestParseRFC3164TooShortIsError(t *testing.T) {
	msg := logmsg.New()
	if err := ParseRFC3164([]byte("short"), msg, time.Now().UTC()); err == nil {
		t.Fatalf("expected an error for a body shorter than a BSD timestamp")
	}
}
