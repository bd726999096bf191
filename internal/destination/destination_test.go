package destination

import (
	"context"
	"errors"
	"testing"
	"time"

	"logcore/pkg/backoff"
	"logcore/pkg/circuit"
	"logcore/pkg/logmsg"
	"logcore/pkg/queue"
)

type fakeTransport struct {
	results      []DeliveryResult
	errs         []error
	calls        int
	closed       bool
	reconnectErr error
}

func (f *fakeTransport) Deliver(ctx context.Context, payload []byte) (DeliveryResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return DeliveryResult{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return DeliveryResult{Outcome: OutcomeSuccess}, nil
}

func (f *fakeTransport) Reconnect(ctx context.Context) error { return f.reconnectErr }
func (f *fakeTransport) Close() error                         { f.closed = true; return nil }

func newTestMessage(text string) (*logmsg.LogMessage, chan logmsg.Outcome) {
	resolved := make(chan logmsg.Outcome, 1)
	ar := logmsg.NewAckRecord(func(o logmsg.Outcome) { resolved <- o })
	msg := logmsg.New()
	msg.SetHandle(logmsg.HandleMessage, logmsg.Value{Bytes: []byte(text), Type: logmsg.ValueString})
	msg.ReceiptID = 1
	msg.Attach(ar)
	return msg, resolved
}

func testBackoffOptions() backoff.Options {
	return backoff.Options{Initial: time.Millisecond, Maximum: 5 * time.Millisecond, Multiplier: 2}
}

func newTestDestination(t *testing.T, transport Transport, maxRetryWindow time.Duration) (*Destination, queue.Queue) {
	t.Helper()
	q := queue.NewMemoryQueue(0)
	d := &Destination{}
	cfg := &Config{
		Name:           "test-dest",
		Transport:      transport,
		Formatter:      RawMessageFormatter{},
		Queue:          q,
		Backoff:        testBackoffOptions(),
		Breaker:        circuit.BreakerConfig{FailureThreshold: 100},
		MaxRetryWindow: maxRetryWindow,
	}
	if err := d.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d, q
}

func TestDestinationDeliversAndAcksProcessedOnSuccess(t *testing.T) {
	transport := &fakeTransport{}
	d, q := newTestDestination(t, transport, 0)

	msg, resolved := newTestMessage("hello")
	if err := d.Queue(msg, logmsg.PathOptions{AckNeeded: true}); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	q.Close()

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case o := <-resolved:
		if o != logmsg.Processed {
			t.Fatalf("expected Processed, got %v", o)
		}
	default:
		t.Fatalf("expected the ack to have resolved")
	}
	if transport.calls != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", transport.calls)
	}
}

func TestDestinationRetriesThenSucceeds(t *testing.T) {
	transport := &fakeTransport{results: []DeliveryResult{{Outcome: OutcomeRetry}, {Outcome: OutcomeRetry}, {Outcome: OutcomeSuccess}}}
	d, q := newTestDestination(t, transport, 0)

	msg, resolved := newTestMessage("hello")
	d.Queue(msg, logmsg.PathOptions{AckNeeded: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case o := <-resolved:
		if o != logmsg.Processed {
			t.Fatalf("expected Processed after retries, got %v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ack never resolved")
	}
	if transport.calls != 3 {
		t.Fatalf("expected 3 delivery attempts, got %d", transport.calls)
	}

	q.Close()
	cancel()
	<-done
}

func TestDestinationDropAcksProcessedWithoutRetry(t *testing.T) {
	transport := &fakeTransport{results: []DeliveryResult{{Outcome: OutcomeDrop}}}
	d, q := newTestDestination(t, transport, 0)

	msg, resolved := newTestMessage("hello")
	d.Queue(msg, logmsg.PathOptions{AckNeeded: true})
	q.Close()

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case o := <-resolved:
		if o != logmsg.Processed {
			t.Fatalf("expected Processed for an intentional drop, got %v", o)
		}
	default:
		t.Fatalf("expected the ack to have resolved")
	}
	if transport.calls != 1 {
		t.Fatalf("expected exactly one attempt for a drop, got %d", transport.calls)
	}
}

func TestDestinationDisconnectReconnectsAndRetries(t *testing.T) {
	transport := &fakeTransport{results: []DeliveryResult{{Outcome: OutcomeDisconnect}, {Outcome: OutcomeSuccess}}}
	d, q := newTestDestination(t, transport, 0)

	msg, resolved := newTestMessage("hello")
	d.Queue(msg, logmsg.PathOptions{AckNeeded: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case o := <-resolved:
		if o != logmsg.Processed {
			t.Fatalf("expected Processed after reconnect, got %v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ack never resolved")
	}
	if !transport.closed {
		t.Fatalf("expected the transport to have been closed on disconnect")
	}

	q.Close()
	<-done
}

func TestDestinationHTTPStatusTableResolvesOutcomes(t *testing.T) {
	transport := &fakeTransport{results: []DeliveryResult{{StatusCode: 503}, {StatusCode: 200}}}
	d, q := newTestDestination(t, transport, 0)

	msg, resolved := newTestMessage("hello")
	d.Queue(msg, logmsg.PathOptions{AckNeeded: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case o := <-resolved:
		if o != logmsg.Processed {
			t.Fatalf("expected Processed, got %v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ack never resolved")
	}
	if transport.calls != 2 {
		t.Fatalf("expected a 503 retry followed by a 200 success, got %d calls", transport.calls)
	}

	q.Close()
	<-done
}

func TestDestinationDeliveryTimeoutAbortsWithSuspended(t *testing.T) {
	transport := &fakeTransport{results: []DeliveryResult{
		{Outcome: OutcomeRetry}, {Outcome: OutcomeRetry}, {Outcome: OutcomeRetry},
		{Outcome: OutcomeRetry}, {Outcome: OutcomeRetry}, {Outcome: OutcomeRetry},
	}}
	d, q := newTestDestination(t, transport, 5*time.Millisecond)

	msg, resolved := newTestMessage("hello")
	d.Queue(msg, logmsg.PathOptions{AckNeeded: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case o := <-resolved:
		if o != logmsg.Suspended {
			t.Fatalf("expected Suspended once the retry window elapsed, got %v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ack never resolved")
	}

	q.Close()
	<-done
}

func TestDestinationFormatErrorAbortsMessage(t *testing.T) {
	q := queue.NewMemoryQueue(0)
	d := &Destination{}
	cfg := &Config{
		Name:      "test-dest",
		Transport: &fakeTransport{},
		Formatter: failingFormatter{},
		Queue:     q,
		Backoff:   testBackoffOptions(),
		Breaker:   circuit.BreakerConfig{FailureThreshold: 100},
	}
	if err := d.Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}

	msg, resolved := newTestMessage("hello")
	d.Queue(msg, logmsg.PathOptions{AckNeeded: true})
	q.Close()

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case o := <-resolved:
		if o != logmsg.Aborted {
			t.Fatalf("expected Aborted on a format failure, got %v", o)
		}
	default:
		t.Fatalf("expected the ack to have resolved")
	}
}

type failingFormatter struct{}

func (failingFormatter) Format(msg *logmsg.LogMessage) ([]byte, error) {
	return nil, errors.New("template error")
}
