// Package errors implements the pipeline's error taxonomy: a small set of
// conceptual error kinds that every component reports through, so recovery
// policy (retry locally, surface to the supervisor, or fail startup) can be
// decided by kind rather than by inspecting error strings.
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Kind is one of the error taxonomy entries from the pipeline's error
// handling design: which component boundary an error crossed and, by
// implication, who is responsible for recovering from it.
type Kind string

const (
	KindParse          Kind = "parse"           // message format invalid; classify and forward
	KindTransport      Kind = "transport"       // source/destination I/O failed
	KindBackpressure   Kind = "backpressure"    // window closed, source suspended
	KindQueueFull      Kind = "queue_full"      // destination queue at capacity
	KindPersist        Kind = "persist"         // persist store corruption or write failure
	KindConfig         Kind = "config"          // invalid pipeline configuration
	KindDeliveryTimeout Kind = "delivery_timeout" // retry window exceeded, message aborted
)

// Severity controls whether an error is handled locally or surfaced to the
// supervisor for a reconfigure/shutdown decision.
type Severity string

const (
	SeverityFatal     Severity = "fatal"     // unable to make progress; supervisor must act
	SeverityRecoverable Severity = "recoverable" // handled at the component boundary
)

// PipelineError is the standardized error value every component returns.
// It carries the structured fields the internal message bus logs on every
// surfaced error: {source, error_kind, detail, fd?, bytes_processed?}.
type PipelineError struct {
	Kind      Kind                   `json:"error_kind"`
	Source    string                 `json:"source"`
	Detail    string                 `json:"detail"`
	Severity  Severity               `json:"severity"`
	Cause     error                  `json:"-"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Stack     string                 `json:"-"`
}

// New creates a PipelineError of the given kind, attributed to source
// (typically a pipe name), with severity inferred from the kind.
func New(kind Kind, source, detail string) *PipelineError {
	_, file, line, _ := runtime.Caller(1)

	return &PipelineError{
		Kind:      kind,
		Source:    source,
		Detail:    detail,
		Severity:  defaultSeverity(kind),
		Metadata:  make(map[string]interface{}),
		Timestamp: time.Now(),
		Stack:     fmt.Sprintf("%s:%d", file, line),
	}
}

func defaultSeverity(kind Kind) Severity {
	switch kind {
	case KindPersist, KindConfig:
		return SeverityFatal
	default:
		return SeverityRecoverable
	}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Source, e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Source, e.Kind, e.Detail)
}

// Unwrap allows errors.Is/As to see through to Cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Wrap attaches the underlying cause.
func (e *PipelineError) Wrap(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// WithMetadata attaches a structured field, e.g. "fd" or "bytes_processed".
func (e *PipelineError) WithMetadata(key string, value interface{}) *PipelineError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithSeverity overrides the inferred severity, e.g. a mid-run PersistError
// on a single entry write is recoverable even though persist errors default
// to fatal at startup.
func (e *PipelineError) WithSeverity(s Severity) *PipelineError {
	e.Severity = s
	return e
}

// IsFatal reports whether the error should surface to the supervisor.
func (e *PipelineError) IsFatal() bool {
	return e.Severity == SeverityFatal
}

// ToFields converts the error into the structured field set the internal
// message bus logs: {source, error_kind, detail, fd?, bytes_processed?}.
func (e *PipelineError) ToFields() map[string]interface{} {
	fields := map[string]interface{}{
		"source":     e.Source,
		"error_kind": string(e.Kind),
		"detail":     e.Detail,
		"severity":   string(e.Severity),
		"timestamp":  e.Timestamp,
	}
	if e.Cause != nil {
		fields["cause"] = e.Cause.Error()
	}
	for k, v := range e.Metadata {
		fields[k] = v
	}
	return fields
}

// Convenience constructors, one per taxonomy entry.

func Parse(source, detail string) *PipelineError {
	return New(KindParse, source, detail)
}

func Transport(source, detail string) *PipelineError {
	return New(KindTransport, source, detail)
}

func Backpressure(source, detail string) *PipelineError {
	return New(KindBackpressure, source, detail)
}

func QueueFull(source, detail string) *PipelineError {
	return New(KindQueueFull, source, detail)
}

// Persist creates a PersistError. Mid-run entry-level failures should call
// WithSeverity(SeverityRecoverable) since only startup corruption is fatal.
func Persist(source, detail string) *PipelineError {
	return New(KindPersist, source, detail)
}

func Config(source, detail string) *PipelineError {
	return New(KindConfig, source, detail)
}

func DeliveryTimeout(source, detail string) *PipelineError {
	return New(KindDeliveryTimeout, source, detail)
}

// As reports whether err is a *PipelineError, returning it if so.
func As(err error) (*PipelineError, bool) {
	pe, ok := err.(*PipelineError)
	return pe, ok
}
