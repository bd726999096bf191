// Package source implements the Source pipe (§4.6, module 9): the
// ingress half of the pipeline graph. A Source owns a Transport, runs
// the octet-counted framed reader (pkg/logproto) and, optionally, a
// PROXY protocol preface parser over it, enforces source-side
// backpressure with a window counter (pkg/window), and constructs
// LogMessages from the parsed bytes (internal/rfc) plus any PROXY
// auxiliary data before handing each one to its downstream pipe.
package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"logcore/internal/metrics"
	"logcore/internal/rfc"
	"logcore/pkg/errors"
	"logcore/pkg/logmsg"
	"logcore/pkg/logproto"
	"logcore/pkg/pipeline"
	"logcore/pkg/window"
)

// Transport is the byte-stream connection a Source reads frames from.
// Concrete drivers (TCP, TLS, UDS, file-tail) are out of scope per §1 —
// this is the contract a driver must satisfy to plug into a Source.
type Transport interface {
	io.Reader
	io.Closer
}

// Config configures one Source pipe instance.
type Config struct {
	Name       string
	Transport  Transport
	Downstream pipeline.Pipe

	// WindowSize is the initial number of in-flight, unacknowledged
	// messages this source permits before it stops reading. Defaults
	// to 100 if zero.
	WindowSize uint64

	Framed    logproto.Options
	ProxyMode bool
	AckNeeded bool

	TagTable *logmsg.TagTable
	Receipts *logmsg.ReceiptAllocator
	Logger   *logrus.Logger
}

const defaultWindowSize = 100

// windowPollInterval is the suspension-point interval Pump sleeps for
// while the window is closed. This is a cooperative poll, not a signal:
// the real wakeup is the ack callback's window.Add, which Pump observes
// on its next FreeToSend check within this interval.
const windowPollInterval = 10 * time.Millisecond

// Source is the ingress Pipe. Its Queue method always returns an error:
// a Source is always a root of the pipeline graph and never receives
// inbound messages from an upstream pipe.
type Source struct {
	cfg *Config

	reader *logproto.FramedReader
	win    *window.Counter
	br     *bufio.Reader

	proxyOnce sync.Once
	proxyInfo *logproto.ProxyInfo
	proxyErr  error

	invalidTagID int
	logger       *logrus.Logger
}

func (s *Source) Init(config interface{}) error {
	cfg, ok := config.(*Config)
	if !ok {
		return errors.Config("source.Init", fmt.Sprintf("unexpected config type %T", config))
	}
	if cfg.Transport == nil {
		return errors.Config("source.Init", "transport is required")
	}
	if cfg.Downstream == nil {
		return errors.Config("source.Init", "downstream pipe is required")
	}

	s.cfg = cfg
	s.reader = logproto.NewFramedReader(cfg.Framed)

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = defaultWindowSize
	}
	s.win = window.New(windowSize)
	s.br = bufio.NewReader(cfg.Transport)

	s.logger = cfg.Logger
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}

	s.invalidTagID = -1
	if cfg.TagTable != nil {
		s.invalidTagID = cfg.TagTable.Intern(".classifier.invalid")
	}

	return nil
}

func (s *Source) Deinit() error {
	return s.cfg.Transport.Close()
}

// Queue always fails: nothing upstream of a Source should ever call it.
func (s *Source) Queue(msg *logmsg.LogMessage, opts logmsg.PathOptions) error {
	return errors.Config(s.name(), "source pipes do not accept inbound queue calls")
}

// Notify handles the control-plane events relevant to a Source; anything
// else is logged and ignored.
func (s *Source) Notify(event pipeline.Event) {
	switch event {
	case pipeline.EventReopenFiles, pipeline.EventFileDeleted:
		s.logger.WithFields(logrus.Fields{"source": s.name(), "event": event.String()}).Info("source received control event")
	}
}

// Clone returns an uninitialized Source; the caller must Init it with
// fresh config (and therefore a fresh Transport) before use.
func (s *Source) Clone() pipeline.Pipe {
	return &Source{}
}

func (s *Source) name() string {
	if s.cfg == nil {
		return "source"
	}
	return s.cfg.Name
}

// Window exposes the source's backpressure counter for metrics/tests.
func (s *Source) Window() *window.Counter { return s.win }

// Pump runs the source's read loop until ctx is cancelled or the
// transport signals end of stream. It is the "task" internal/runtime
// spawns per source, one goroutine per pipe, per §9's guidance to map
// the original's cooperative-callback model onto the target language's
// own task/channel primitives.
func (s *Source) Pump(ctx context.Context) error {
	if s.cfg.ProxyMode {
		s.proxyOnce.Do(func() {
			s.proxyInfo, s.proxyErr = logproto.ParseProxyHeader(s.br)
		})
		if s.proxyErr != nil {
			return errors.Transport(s.name(), "proxy header").Wrap(s.proxyErr)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !s.win.FreeToSend() {
			metrics.RecordWindowSuspended(s.name())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(windowPollInterval):
				continue
			}
		}
		metrics.RecordWindowResumed(s.name())

		frame, err := s.reader.ReadFrame(s.br)
		if err == io.EOF {
			s.cfg.Downstream.Notify(pipeline.EventTransportEOF)
			return nil
		}
		if err != nil {
			return errors.Transport(s.name(), "read frame").Wrap(err)
		}

		s.dispatch(frame)
	}
}

// dispatch parses one frame into a LogMessage, applies PROXY aux data,
// allocates a receipt ID and ack record, and hands the message to the
// downstream pipe.
func (s *Source) dispatch(frame []byte) {
	msg := logmsg.New()
	now := time.Now()
	msg.Timestamps[logmsg.TimestampReceived] = logmsg.Timestamp{
		Sec:       now.Unix(),
		Micro:     int32(now.Nanosecond() / 1000),
		GMTOffset: 0,
	}

	if err := rfc.Parse(frame, msg, now); err != nil {
		msg.SetHandle(logmsg.HandleMessage, logmsg.Value{Bytes: frame, Type: logmsg.ValueString})
		if s.invalidTagID >= 0 {
			msg.Tags().Set(s.invalidTagID)
		}
		metrics.RecordParseError(s.name())
		s.logger.WithFields(logrus.Fields{
			"source":          s.name(),
			"error_kind":      "ParseError",
			"detail":          err.Error(),
			"bytes_processed": len(frame),
		}).Warn("malformed message forwarded to default pipeline")
	}

	if s.proxyInfo != nil {
		for k, v := range s.proxyInfo.AuxFields() {
			msg.Set(k, logmsg.Value{Bytes: []byte(v), Type: logmsg.ValueString})
		}
	}
	msg.SetHandle(logmsg.HandleSource, logmsg.Value{Bytes: []byte(s.name()), Type: logmsg.ValueString})

	if s.cfg.Receipts != nil {
		msg.ReceiptID = s.cfg.Receipts.Next()
	}

	s.win.Sub(1)
	opts := logmsg.PathOptions{AckNeeded: s.cfg.AckNeeded}
	ar := logmsg.NewAckRecord(func(outcome logmsg.Outcome) {
		s.win.Add(1)
		metrics.RecordAckOutcome(ackOutcomeLabel(outcome))
	})
	msg.Attach(ar)
	msg.WriteProtect()

	// The downstream leg holds its own reference, dropped by whichever pipe
	// finishes the message; Finalize releases the source's implicit one.
	ar.AddAck(opts)
	if err := s.cfg.Downstream.Queue(msg, opts); err != nil {
		s.logger.WithFields(logrus.Fields{
			"source":     s.name(),
			"error_kind": "TransportError",
			"detail":     err.Error(),
		}).Warn("downstream queue failed")
		ar.Drop(opts, logmsg.Aborted)
		ar.Finalize(logmsg.Aborted)
		return
	}
	ar.Finalize(logmsg.Processed)
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
