// Package logproto implements the RFC 6587 octet-counted framing protocol
// a source uses on a byte-stream transport: each record is prefixed by its
// length in ASCII decimal followed by one space. Ported state-for-state
// from original_source/lib/logproto/logproto-framed-server.c's seven-state
// machine, adapted to Go's blocking io.Reader instead of the original's
// readiness-driven may_read/EAGAIN loop.
package logproto

import (
	"bytes"
	"fmt"
	"io"

	"logcore/pkg/errors"
)

// state names mirror LPFSS_* in the original implementation.
type state int

const (
	stateFrameRead state = iota
	stateFrameExtract
	stateMessageRead
	stateMessageExtract
	stateTrimMessageRead
	stateTrimMessage
	stateConsumeTrimmed
)

// maxFrameLenDigits bounds the ASCII length prefix, matching the original
// MAX_FRAME_LEN_DIGITS.
const maxFrameLenDigits = 10

// Options configures a FramedReader's buffer sizing and oversized-frame
// policy.
type Options struct {
	InitBufferSize    int  // default 4096 matches the original init_buffer_size
	MaxMsgSize        int  // frames longer than this are an error, or trimmed
	TrimLargeMessages bool // if true, oversized frames are trimmed to fit instead of rejected
}

func (o Options) withDefaults() Options {
	if o.InitBufferSize <= 0 {
		o.InitBufferSize = 4096
	}
	if o.MaxMsgSize <= 0 {
		o.MaxMsgSize = o.InitBufferSize
	}
	return o
}

// FramedReader pulls octet-counted frames out of a byte stream. It is not
// safe for concurrent use; one instance belongs to one source connection.
type FramedReader struct {
	opts Options

	buffer              []byte
	bufferPos, bufferEnd int
	frameLen            int

	// halfMessageInBuffer mirrors the original's flag: it is set when a
	// read returns zero bytes without an error and when a trimmed chunk is
	// emitted, and cleared when a whole frame is emitted or the trimmed
	// remainder is being consumed. The reader itself never acts on it;
	// HalfMessageInBuffer exposes it.
	halfMessageInBuffer bool

	state state
}

// NewFramedReader creates a FramedReader with opts, applying defaults for
// any zero field.
func NewFramedReader(opts Options) *FramedReader {
	opts = opts.withDefaults()
	return &FramedReader{
		opts:  opts,
		state: stateFrameRead,
	}
}

func (f *FramedReader) ensureBuffer() {
	if f.buffer != nil {
		return
	}
	f.buffer = make([]byte, f.opts.InitBufferSize)
}

// fetchData reads more bytes from r into the tail of the buffer. It
// reports io.EOF when the transport is cleanly closed, and any other
// error as a TransportError.
func (f *FramedReader) fetchData(r io.Reader) (int, error) {
	if f.bufferPos == f.bufferEnd {
		f.bufferPos, f.bufferEnd = 0, 0
	}

	n, err := r.Read(f.buffer[f.bufferEnd:])
	if n > 0 {
		f.bufferEnd += n
	}
	if err != nil {
		if err == io.EOF {
			return n, io.EOF
		}
		return n, errors.Transport("logproto.FramedReader", "read framed data").Wrap(err)
	}
	if n == 0 {
		f.halfMessageInBuffer = true
	}
	return n, nil
}

// extractFrameLength scans from bufferPos for an ASCII decimal length
// prefix terminated by a single space. It mirrors
// log_proto_framed_server_extract_frame_length exactly, including the
// MAX_FRAME_LEN_DIGITS cutoff.
func (f *FramedReader) extractFrameLength() (needMoreData bool, err error) {
	f.frameLen = 0
	for i := f.bufferPos; i < f.bufferEnd; i++ {
		c := f.buffer[i]
		switch {
		case c >= '0' && c <= '9' && i-f.bufferPos < maxFrameLenDigits:
			f.frameLen = f.frameLen*10 + int(c-'0')
		case c == ' ':
			f.bufferPos = i + 1
			return false, nil
		default:
			return false, errors.Parse("logproto.FramedReader",
				fmt.Sprintf("invalid frame header: %q", f.buffer[f.bufferPos:i]))
		}
	}
	return true, nil
}

// adjustBufferIfNeeded compacts the buffer toward offset 0 when the tail
// space remaining is less than minSpace, matching
// _adjust_buffer_if_needed exactly: the buffer never grows past its
// configured size, which is what makes the trim path reachable at all.
func (f *FramedReader) adjustBufferIfNeeded(minSpace int) {
	if len(f.buffer)-f.bufferPos < minSpace {
		copy(f.buffer, f.buffer[f.bufferPos:f.bufferEnd])
		f.bufferEnd -= f.bufferPos
		f.bufferPos = 0
	}
}

// ReadFrame extracts the next complete frame from r, running the state
// machine until a message is ready, the transport returns EOF, or an
// unrecoverable framing error occurs. The returned slice is only valid
// until the next call to ReadFrame (it aliases the internal buffer).
func (f *FramedReader) ReadFrame(r io.Reader) ([]byte, error) {
	f.ensureBuffer()

	for {
		switch f.state {
		case stateFrameRead:
			if _, err := f.fetchData(r); err != nil {
				return nil, err
			}
			f.state = stateFrameExtract

		case stateFrameExtract:
			needMore, err := f.extractFrameLength()
			if err != nil {
				return nil, err
			}
			if needMore {
				f.state = stateFrameRead
				f.adjustBufferIfNeeded(maxFrameLenDigits)
				continue
			}
			f.state = stateMessageExtract
			if f.frameLen > f.opts.MaxMsgSize {
				if !f.opts.TrimLargeMessages {
					return nil, errors.Parse("logproto.FramedReader",
						fmt.Sprintf("frame length %d exceeds max message size %d", f.frameLen, f.opts.MaxMsgSize))
				}
				f.state = stateTrimMessageRead
			}
			f.adjustBufferIfNeeded(f.frameLen)

		case stateMessageExtract:
			if f.bufferEnd-f.bufferPos >= f.frameLen {
				msg := f.buffer[f.bufferPos : f.bufferPos+f.frameLen]
				f.bufferPos += f.frameLen
				f.state = stateFrameExtract
				f.halfMessageInBuffer = false
				return msg, nil
			}
			f.state = stateMessageRead

		case stateMessageRead:
			if _, err := f.fetchData(r); err != nil {
				return nil, err
			}
			f.state = stateMessageExtract

		case stateTrimMessageRead:
			if _, err := f.fetchData(r); err != nil {
				return nil, err
			}
			f.state = stateTrimMessage

		case stateTrimMessage:
			if f.bufferEnd == len(f.buffer) {
				msg := f.buffer[f.bufferPos:f.bufferEnd]
				f.frameLen -= len(msg)
				f.state = stateConsumeTrimmed
				f.halfMessageInBuffer = true
				f.bufferPos, f.bufferEnd = 0, 0
				return msg, nil
			}
			f.state = stateTrimMessageRead

		case stateConsumeTrimmed:
			done, err := f.consumeTrimmedPart(r)
			if err != nil {
				return nil, err
			}
			if !done {
				continue
			}
			f.state = stateFrameExtract
			if f.bufferPos != f.bufferEnd || f.bufferEnd == len(f.buffer) {
				continue
			}
			f.state = stateFrameRead
		}
	}
}

// consumeTrimmedPart discards the remainder of a frame too large for the
// configured buffer, one bufferful at a time, matching
// _consume_trimmed_part.
func (f *FramedReader) consumeTrimmedPart(r io.Reader) (bool, error) {
	f.halfMessageInBuffer = false

	for {
		if _, err := f.fetchData(r); err != nil {
			return false, err
		}
		if f.bufferEnd >= f.frameLen {
			f.bufferPos += f.frameLen
			return true, nil
		}
		f.frameLen -= f.bufferEnd
		f.bufferEnd = 0
	}
}

// HalfMessageInBuffer reports the half-message flag described on the
// field. It is not a general test for buffered bytes of an unfinished
// frame: bytes of the next frame left in the buffer after a ReadFrame do
// not set it.
func (f *FramedReader) HalfMessageInBuffer() bool {
	return f.halfMessageInBuffer
}

// EncodeFrame writes msg to w with the RFC 6587 octet-count prefix, for
// destinations that speak framed syslog outbound.
func EncodeFrame(w io.Writer, msg []byte) error {
	var header bytes.Buffer
	fmt.Fprintf(&header, "%d ", len(msg))
	if _, err := w.Write(header.Bytes()); err != nil {
		return errors.Transport("logproto.EncodeFrame", "write frame header").Wrap(err)
	}
	if _, err := w.Write(msg); err != nil {
		return errors.Transport("logproto.EncodeFrame", "write frame body").Wrap(err)
	}
	return nil
}
