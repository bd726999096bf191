package source

import (
	"bytes"
	"context"
	"testing"
	"time"

	"logcore/pkg/logmsg"
	"logcore/pkg/pipeline"
)

// nopTransport wraps a bytes.Reader with a no-op Close so it satisfies
// Transport without a real socket.
type nopTransport struct {
	*bytes.Reader
}

func (nopTransport) Close() error { return nil }

func newTransport(data string) Transport {
	return nopTransport{bytes.NewReader([]byte(data))}
}

// recordingDownstream is a fake Pipe that captures every queued message
// and immediately resolves its ack as Processed, simulating a downstream
// that accepted and delivered the message synchronously.
type recordingDownstream struct {
	queued []*logmsg.LogMessage
	events []pipeline.Event
}

func (d *recordingDownstream) Init(interface{}) error { return nil }
func (d *recordingDownstream) Deinit() error           { return nil }
func (d *recordingDownstream) Notify(e pipeline.Event) { d.events = append(d.events, e) }
func (d *recordingDownstream) Clone() pipeline.Pipe     { return &recordingDownstream{} }
func (d *recordingDownstream) Queue(msg *logmsg.LogMessage, opts logmsg.PathOptions) error {
	d.queued = append(d.queued, msg)
	if ar := msg.AckRecord(); ar != nil {
		ar.Drop(opts, logmsg.Processed)
	}
	return nil
}

func TestSourceParsesFramedRFC3164AndForwards(t *testing.T) {
	body := "<34>Aug 24 05:34:00 myhost su: 'su root' failed"
	frame := "47 " + body
	downstream := &recordingDownstream{}

	s := &Source{}
	cfg := &Config{
		Name:       "test-source",
		Transport:  newTransport(frame),
		Downstream: downstream,
		AckNeeded:  true,
		TagTable:   logmsg.NewTagTable(),
		Receipts:   logmsg.NewReceiptAllocator(0),
	}
	if err := s.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := s.Pump(context.Background()); err != nil {
		t.Fatalf("Pump: %v", err)
	}

	if len(downstream.queued) != 1 {
		t.Fatalf("expected exactly one message forwarded, got %d", len(downstream.queued))
	}
	msg := downstream.queued[0]
	host, _ := msg.GetHandle(logmsg.HandleHost)
	if string(host.Bytes) != "myhost" {
		t.Fatalf("expected host %q, got %q", "myhost", host.Bytes)
	}
	if msg.ReceiptID == 0 {
		t.Fatalf("expected a receipt ID to have been assigned")
	}

	if len(downstream.events) != 1 || downstream.events[0] != pipeline.EventTransportEOF {
		t.Fatalf("expected a single TransportEOF notification, got %v", downstream.events)
	}
}

func TestSourceTagsMalformedMessageButStillForwards(t *testing.T) {
	// Shorter than a BSD timestamp (15 bytes), so ParseRFC3164 rejects
	// it outright rather than attempting a best-effort field scan.
	body := "short"
	frame := "5 " + body
	downstream := &recordingDownstream{}

	s := &Source{}
	cfg := &Config{
		Name:       "test-source",
		Transport:  newTransport(frame),
		Downstream: downstream,
		TagTable:   logmsg.NewTagTable(),
	}
	if err := s.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Pump(context.Background()); err != nil {
		t.Fatalf("Pump: %v", err)
	}

	if len(downstream.queued) != 1 {
		t.Fatalf("expected the malformed message to still be forwarded, got %d", len(downstream.queued))
	}
	msg := downstream.queued[0]
	invalidID := cfg.TagTable.Intern(".classifier.invalid")
	if !msg.Tags().Has(invalidID) {
		t.Fatalf("expected the malformed message to carry the .classifier.invalid tag")
	}
}

func TestSourceAppliesProxyAuxDataToMessages(t *testing.T) {
	preface := "PROXY TCP4 1.1.1.1 2.2.2.2 3333 4444\r\n"
	frame := "11 hello world"
	downstream := &recordingDownstream{}

	s := &Source{}
	cfg := &Config{
		Name:       "test-source",
		Transport:  newTransport(preface + frame),
		Downstream: downstream,
		ProxyMode:  true,
		TagTable:   logmsg.NewTagTable(),
	}
	if err := s.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Pump(context.Background()); err != nil {
		t.Fatalf("Pump: %v", err)
	}

	if len(downstream.queued) != 1 {
		t.Fatalf("expected one message, got %d", len(downstream.queued))
	}
	msg := downstream.queued[0]
	wantAux := map[string]string{
		"PROXIED_SRCIP":      "1.1.1.1",
		"PROXIED_DSTIP":      "2.2.2.2",
		"PROXIED_SRCPORT":    "3333",
		"PROXIED_DSTPORT":    "4444",
		"PROXIED_IP_VERSION": "4",
	}
	for k, want := range wantAux {
		v, ok := msg.Get(k)
		if !ok {
			t.Fatalf("expected aux field %q to be set", k)
		}
		if string(v.Bytes) != want {
			t.Fatalf("aux field %q: want %q got %q", k, want, v.Bytes)
		}
	}
}

func TestSourceStopsReadingWhenWindowIsClosed(t *testing.T) {
	downstream := &blockingDownstream{}
	frame := "11 hello world" + "11 hello world"

	s := &Source{}
	cfg := &Config{
		Name:       "test-source",
		Transport:  newTransport(frame),
		Downstream: downstream,
		WindowSize: 1,
		AckNeeded:  true,
		TagTable:   logmsg.NewTagTable(),
	}
	if err := s.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Pump(ctx) }()

	// Give the pump a chance to consume the window's single slot and
	// then stall on the second message.
	waitUntil(t, func() bool { return len(downstream.queued()) == 1 })
	if s.Window().FreeToSend() {
		t.Fatalf("expected the window to be exhausted after one in-flight message")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Pump: %v", err)
	}
}

// blockingDownstream accepts a message but never acks it, holding the
// window closed until the test cancels the pump.
type blockingDownstream struct {
	msg []*logmsg.LogMessage
}

func (d *blockingDownstream) Init(interface{}) error { return nil }
func (d *blockingDownstream) Deinit() error           { return nil }
func (d *blockingDownstream) Notify(pipeline.Event)   {}
func (d *blockingDownstream) Clone() pipeline.Pipe     { return &blockingDownstream{} }
func (d *blockingDownstream) Queue(msg *logmsg.LogMessage, opts logmsg.PathOptions) error {
	d.msg = append(d.msg, msg)
	return nil
}
func (d *blockingDownstream) queued() []*logmsg.LogMessage { return d.msg }

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition never became true")
	}
}
