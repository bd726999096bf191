package rfc

import (
	"testing"
	"time"

	"logcore/pkg/logmsg"
)

func TestParsePRIRoundTrip(t *testing.T) {
	pri, rest, ok := ParsePRI([]byte("<34>Oct 11 22:14:15 mymachine su: message"))
	if !ok {
		t.Fatalf("expected a well-formed PRI prefix to parse")
	}
	if pri != 34 {
		t.Fatalf("pri: want 34 got %d", pri)
	}
	if Facility(pri) != 4 || Severity(pri) != 2 {
		t.Fatalf("facility/severity: want 4/2 got %d/%d", Facility(pri), Severity(pri))
	}
	if string(rest) != "Oct 11 22:14:15 mymachine su: message" {
		t.Fatalf("unexpected rest: %q", rest)
	}
}

func TestParsePRIRejectsOutOfRange(t *testing.T) {
	if _, _, ok := ParsePRI([]byte("<999>rest")); ok {
		t.Fatalf("expected PRI > 191 to be rejected")
	}
}

func TestParsePRIAbsentReturnsOriginalData(t *testing.T) {
	data := []byte("Oct 11 22:14:15 mymachine su: message")
	pri, rest, ok := ParsePRI(data)
	if ok || pri != 0 {
		t.Fatalf("expected no PRI to be detected")
	}
	if string(rest) != string(data) {
		t.Fatalf("expected rest to equal the original data")
	}
}

func TestParseDispatchesRFC3164(t *testing.T) {
	now := time.Date(2023, time.October, 12, 0, 0, 0, 0, time.UTC)
	msg := logmsg.New()
	err := Parse([]byte("<34>Oct 11 22:14:15 mymachine su: failed"), msg, now)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.PRI != 34 {
		t.Fatalf("pri: want 34 got %d", msg.PRI)
	}
	if got := mustGetHandle(t, msg, logmsg.HandleHost); got != "mymachine" {
		t.Fatalf("host: want %q got %q", "mymachine", got)
	}
}

func TestParseDispatchesRFC5424(t *testing.T) {
	msg := logmsg.New()
	err := Parse([]byte("<132>1 2006-10-29T01:59:59.156+01:00 mymachine evntslog 3535 ID47 - message"),
		msg, time.Now().UTC())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.PRI != 132 {
		t.Fatalf("pri: want 132 got %d", msg.PRI)
	}
	if got := mustGetHandle(t, msg, logmsg.HandleMessageID); got != "ID47" {
		t.Fatalf("msgid: want %q got %q", "ID47", got)
	}
}

func TestParseDefaultsPRIWhenAbsent(t *testing.T) {
	msg := logmsg.New()
	err := Parse([]byte("Oct 11 22:14:15 mymachine su: failed"), msg, time.Date(2023, time.October, 12, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.PRI != 13*8+5 {
		t.Fatalf("expected default pri 109, got %d", msg.PRI)
	}
}
