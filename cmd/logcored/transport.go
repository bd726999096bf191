package main

import (
	"bufio"
	"context"
	"os"

	"logcore/internal/destination"
)

// stdinTransport wraps the process's stdin as a source.Transport. Real
// network/file transport drivers (TCP/TLS/UDP/Unix/file-tail) are out of
// scope per §1 — this is the one concrete Transport the daemon ships so
// it has something real to read through by default, the same role
// destination.RawMessageFormatter plays for Formatter.
type stdinTransport struct {
	f *os.File
}

func (t stdinTransport) Read(p []byte) (int, error) { return t.f.Read(p) }
func (t stdinTransport) Close() error                { return nil } // never close the process's stdin

// stdoutTransport wraps the process's stdout as a destination.Transport,
// always reporting OutcomeSuccess: standard output has no notion of a
// retryable failure or a disconnect to reconnect from.
type stdoutTransport struct {
	w *bufio.Writer
}

func newStdoutTransport() *stdoutTransport {
	return &stdoutTransport{w: bufio.NewWriter(os.Stdout)}
}

func (t *stdoutTransport) Deliver(ctx context.Context, payload []byte) (destination.DeliveryResult, error) {
	if _, err := t.w.Write(payload); err != nil {
		return destination.DeliveryResult{Outcome: destination.OutcomeRetry}, err
	}
	if err := t.w.Flush(); err != nil {
		return destination.DeliveryResult{Outcome: destination.OutcomeRetry}, err
	}
	return destination.DeliveryResult{Outcome: destination.OutcomeSuccess}, nil
}

func (t *stdoutTransport) Reconnect(ctx context.Context) error { return nil }
func (t *stdoutTransport) Close() error                         { return t.w.Flush() }
