// Package destination implements the Destination pipe (§4.4, module
// 10): a bounded queue (pkg/queue) drained by one worker loop per
// destination that formats, delivers, and acks/retries each message,
// backed by pkg/backoff for the wait schedule and pkg/circuit so a
// persistently failing destination stops hammering its transport on
// every single message.
package destination

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"logcore/internal/metrics"
	"logcore/pkg/backoff"
	"logcore/pkg/circuit"
	"logcore/pkg/errors"
	"logcore/pkg/logmsg"
	"logcore/pkg/pipeline"
	"logcore/pkg/queue"
)

// Outcome is the result of one delivery attempt, per §4.4 step 3.
type Outcome int

const (
	// OutcomeSuccess: the transport accepted the payload; ack Processed.
	OutcomeSuccess Outcome = iota
	// OutcomeRetry: transient failure; requeue at the head and back off.
	OutcomeRetry
	// OutcomeDrop: the transport intentionally discarded the payload
	// (e.g. a filtered status code); ack Processed, since this was the
	// intended disposition, not a failure.
	OutcomeDrop
	// OutcomeDisconnect: the connection itself is gone; tear down and
	// reconnect before the next attempt, same backoff schedule.
	OutcomeDisconnect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeDrop:
		return "drop"
	case OutcomeDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// DeliveryResult is what a Transport reports for one attempt.
type DeliveryResult struct {
	Outcome Outcome
	// StatusCode is set by HTTP-style transports so ResolveHTTPStatus
	// can be applied uniformly; zero for transports with no status
	// code concept.
	StatusCode int
}

// Transport is the egress connection a Destination delivers formatted
// payloads over. Concrete drivers (TCP/TLS/UDP/Unix/file/HTTP/gRPC) are
// out of scope per §1 — this is the contract a driver must satisfy.
type Transport interface {
	Deliver(ctx context.Context, payload []byte) (DeliveryResult, error)
	Reconnect(ctx context.Context) error
	Close() error
}

// Formatter renders a LogMessage into the bytes a Transport sends.
// Pluggable template/parser modules are out of scope per §1; this
// interface is the boundary a concrete template engine would implement.
type Formatter interface {
	Format(msg *logmsg.LogMessage) ([]byte, error)
}

// Config configures one Destination pipe instance.
type Config struct {
	Name      string
	Transport Transport
	Formatter Formatter
	Queue     queue.Queue

	Backoff        backoff.Options
	Breaker        circuit.BreakerConfig
	MaxRetryWindow time.Duration // 0 disables the DeliveryTimeout check

	Logger *logrus.Logger
}

// Destination is the egress Pipe. Queue is a synchronous, fast handoff
// into the bounded FIFO; Run is the worker loop that actually drains it,
// spawned by internal/runtime as one task per destination (§5: "each
// pipe is owned by exactly one worker").
type Destination struct {
	cfg     *Config
	backoff *backoff.ExponentialBackoff
	breaker *circuit.Breaker
	logger  *logrus.Logger

	// retryStart tracks, per in-flight message (keyed by ReceiptID),
	// when the first delivery attempt happened, so DeliveryTimeout can
	// be enforced across repeated head-of-queue retries of the same
	// message. Safe without a lock: only the worker goroutine touches
	// it, per §5's no-preemption, one-worker-per-pipe model.
	retryStart map[uint64]time.Time
}

func (d *Destination) Init(config interface{}) error {
	cfg, ok := config.(*Config)
	if !ok {
		return errors.Config("destination.Init", fmt.Sprintf("unexpected config type %T", config))
	}
	if cfg.Transport == nil {
		return errors.Config("destination.Init", "transport is required")
	}
	if cfg.Formatter == nil {
		return errors.Config("destination.Init", "formatter is required")
	}
	if cfg.Queue == nil {
		return errors.Config("destination.Init", "queue is required")
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return errors.Config("destination.Init", "invalid backoff options").Wrap(err)
	}

	b, err := backoff.New(cfg.Backoff)
	if err != nil {
		return errors.Config("destination.Init", "backoff.New").Wrap(err)
	}

	d.cfg = cfg
	d.backoff = b
	d.logger = cfg.Logger
	if d.logger == nil {
		d.logger = logrus.StandardLogger()
	}
	d.breaker = circuit.NewBreaker(cfg.Breaker, d.logger)
	d.breaker.SetStateChangeCallback(func(from, to circuit.State) {
		metrics.CircuitBreakerState.WithLabelValues(d.name()).Set(float64(to))
	})
	d.retryStart = make(map[uint64]time.Time)
	return nil
}

func (d *Destination) Deinit() error {
	d.cfg.Queue.Close()
	return d.cfg.Transport.Close()
}

// Queue admits msg into the destination's bounded FIFO. This is the
// synchronous handoff §4.6 requires; actual delivery happens later on
// Run's worker loop.
func (d *Destination) Queue(msg *logmsg.LogMessage, opts logmsg.PathOptions) error {
	return d.cfg.Queue.PushBack(queue.Entry{Msg: msg, Opts: opts})
}

// Notify handles the control-plane events relevant to a Destination.
func (d *Destination) Notify(event pipeline.Event) {
	switch event {
	case pipeline.EventConfigChanged:
		d.logger.WithField("destination", d.name()).Info("destination notified of config change")
	}
}

// Clone returns an uninitialized Destination for a config reload.
func (d *Destination) Clone() pipeline.Pipe {
	return &Destination{}
}

func (d *Destination) name() string {
	if d.cfg == nil {
		return "destination"
	}
	return d.cfg.Name
}

// Run drains the destination's queue until ctx is cancelled, implementing
// §4.4's seven-step worker loop. FIFO is preserved per destination: a
// Retry pushes the same entry back to the head (via pkg/queue.PushFront)
// before the loop pops again, so it is retried before any entry queued
// behind it, and — for a Persisted queue — its durable copy survives a
// crash mid-retry.
func (d *Destination) Run(ctx context.Context) error {
	for {
		entry, err := d.cfg.Queue.PopFront(ctx)
		if err != nil {
			if ctx.Err() != nil || err == io.EOF {
				return nil // cooperative shutdown: ctx cancelled, or the queue drained and closed
			}
			return err
		}

		if d.deliveryTimedOut(entry) {
			d.finish(entry, logmsg.Suspended)
			continue
		}

		if done, retryErr := d.attempt(ctx, entry); retryErr != nil {
			return retryErr
		} else if !done {
			// Retry or Disconnect: already requeued at the head.
			continue
		}
	}
}

// attempt performs one delivery attempt and drives it to a terminal
// disposition for this pop (success/drop -> ack and forget; retry/
// disconnect -> requeue at the head and back off). It returns done=true
// once the entry has reached a terminal ack outcome, and a non-nil error
// only when the entry could not be pushed back to the queue's head. A ctx
// cancellation during the backoff wait returns done=false with no error.
func (d *Destination) attempt(ctx context.Context, entry queue.Entry) (done bool, err error) {
	formatted, ferr := d.cfg.Formatter.Format(entry.Msg)
	if ferr != nil {
		d.logger.WithFields(logrus.Fields{
			"destination": d.name(),
			"error_kind":  "ParseError",
			"detail":      ferr.Error(),
		}).Warn("format failed, dropping message")
		d.finish(entry, logmsg.Aborted)
		return true, nil
	}

	result := d.deliver(ctx, formatted)
	metrics.RecordDeliveryAttempt(d.name(), result.Outcome.String())

	switch result.Outcome {
	case OutcomeSuccess:
		d.backoff.Reset()
		d.finish(entry, logmsg.Processed)
		return true, nil

	case OutcomeDrop:
		d.backoff.Reset()
		d.finish(entry, logmsg.Processed)
		return true, nil

	case OutcomeDisconnect:
		if cerr := d.cfg.Transport.Close(); cerr != nil {
			d.logger.WithField("destination", d.name()).WithError(cerr).Warn("transport close failed during disconnect handling")
		}
		if rerr := d.cfg.Transport.Reconnect(ctx); rerr != nil {
			d.logger.WithFields(logrus.Fields{
				"destination": d.name(),
				"error_kind":  "TransportError",
				"detail":      rerr.Error(),
			}).Warn("reconnect failed")
		}
		return d.requeueAndWait(ctx, entry)

	default: // OutcomeRetry
		return d.requeueAndWait(ctx, entry)
	}
}

func (d *Destination) requeueAndWait(ctx context.Context, entry queue.Entry) (bool, error) {
	if err := d.cfg.Queue.PushFront(entry); err != nil {
		return false, err
	}
	wait := d.backoff.GetNextWait()
	metrics.RecordBackoffWait(d.name(), wait)
	select {
	case <-ctx.Done():
		return false, nil
	case <-time.After(wait):
	}
	return false, nil
}

// deliver runs one Transport.Deliver call under the circuit breaker.
// The breaker sees a non-nil error for both a transport-level failure
// and a Retry/Disconnect outcome, so a destination that keeps failing
// trips open and stops being hammered; an open or half-open-exhausted
// breaker surfaces as a synthetic Retry outcome.
func (d *Destination) deliver(ctx context.Context, payload []byte) DeliveryResult {
	var result DeliveryResult
	var deliverErr error

	breakerErr := d.breaker.Execute(func() error {
		result, deliverErr = d.cfg.Transport.Deliver(ctx, payload)
		if deliverErr != nil {
			return deliverErr
		}
		if result.StatusCode != 0 {
			result.Outcome = ResolveHTTPStatus(result.StatusCode)
		}
		if result.Outcome == OutcomeRetry || result.Outcome == OutcomeDisconnect {
			return fmt.Errorf("delivery outcome %s", result.Outcome)
		}
		return nil
	})

	if breakerErr != nil && deliverErr == nil && result.Outcome == OutcomeSuccess {
		// The breaker itself rejected the call (open/half-open limit);
		// the transport was never invoked.
		return DeliveryResult{Outcome: OutcomeRetry}
	}
	if deliverErr != nil {
		d.logger.WithFields(logrus.Fields{
			"destination": d.name(),
			"error_kind":  "TransportError",
			"detail":      deliverErr.Error(),
		}).Warn("delivery attempt failed")
		return DeliveryResult{Outcome: OutcomeRetry}
	}
	return result
}

func (d *Destination) deliveryTimedOut(entry queue.Entry) bool {
	if d.cfg.MaxRetryWindow <= 0 {
		return false
	}
	id := entry.Msg.ReceiptID
	start, ok := d.retryStart[id]
	if !ok {
		d.retryStart[id] = time.Now()
		return false
	}
	return time.Since(start) > d.cfg.MaxRetryWindow
}

// finish acks entry with outcome and clears its DeliveryTimeout tracking
// entry, if any.
func (d *Destination) finish(entry queue.Entry, outcome logmsg.Outcome) {
	delete(d.retryStart, entry.Msg.ReceiptID)
	metrics.RecordAckOutcome(ackOutcomeLabel(outcome))
	if outcome == logmsg.Suspended || outcome == logmsg.Aborted {
		d.logger.WithFields(logrus.Fields{
			"destination": d.name(),
			"receipt_id":  entry.Msg.ReceiptID,
			"dlq_id":      xid.New().String(),
		}).Warn("message dead-lettered")
	}
	if ar := entry.Msg.AckRecord(); ar != nil {
		ar.Drop(entry.Opts, outcome)
	}
}

func ackOutcomeLabel(o logmsg.Outcome) string {
	switch o {
	case logmsg.Processed:
		return "processed"
	case logmsg.Suspended:
		return "suspended"
	case logmsg.Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}
