package logproto

import (
	"bytes"
	"io"
	"testing"
	"time"

	"golang.org/x/net/nettest"
)

func TestReadFrameSingleMessage(t *testing.T) {
	r := bytes.NewReader([]byte("5 hello6 world!"))
	fr := NewFramedReader(Options{InitBufferSize: 64, MaxMsgSize: 64})

	msg, err := fr.ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", msg)
	}

	msg2, err := fr.ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame (2nd): %v", err)
	}
	if string(msg2) != "world!" {
		t.Fatalf("expected %q, got %q", "world!", msg2)
	}
}

// chunkedReader delivers the underlying bytes a few at a time, exercising
// the FrameRead/MessageRead re-entry states instead of satisfying every
// read in one shot.
type chunkedReader struct {
	data []byte
	pos  int
	step int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	n := c.step
	if n > len(p) {
		n = len(p)
	}
	if c.pos+n > len(c.data) {
		n = len(c.data) - c.pos
	}
	copy(p, c.data[c.pos:c.pos+n])
	c.pos += n
	return n, nil
}

func TestReadFrameAcrossPartialReads(t *testing.T) {
	r := &chunkedReader{data: []byte("13 hello, world!"), step: 3}
	fr := NewFramedReader(Options{InitBufferSize: 64, MaxMsgSize: 64})

	msg, err := fr.ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(msg) != "hello, world!" {
		t.Fatalf("expected %q, got %q", "hello, world!", msg)
	}
}

func TestReadFrameRejectsOversizedWithoutTrim(t *testing.T) {
	r := bytes.NewReader([]byte("100 short"))
	fr := NewFramedReader(Options{InitBufferSize: 64, MaxMsgSize: 16, TrimLargeMessages: false})

	if _, err := fr.ReadFrame(r); err == nil {
		t.Fatalf("expected an error for a frame exceeding max message size")
	}
}

func TestReadFrameInvalidHeaderByte(t *testing.T) {
	r := bytes.NewReader([]byte("12x hello"))
	fr := NewFramedReader(Options{InitBufferSize: 64, MaxMsgSize: 64})

	if _, err := fr.ReadFrame(r); err == nil {
		t.Fatalf("expected an error for a non-digit, non-space byte in the header")
	}
}

func TestReadFrameTrimsOversizedAndRecoversNextFrame(t *testing.T) {
	// A 40-byte frame with a 16-byte buffer is trimmed: the caller only
	// ever sees a truncated chunk, the remainder of the oversized frame
	// is discarded, and parsing resumes cleanly at the next frame.
	oversized := bytes.Repeat([]byte("a"), 40)
	var input bytes.Buffer
	input.WriteString("40 ")
	input.Write(oversized)
	input.WriteString("5 next!")

	fr := NewFramedReader(Options{InitBufferSize: 16, MaxMsgSize: 16, TrimLargeMessages: true})

	truncated, err := fr.ReadFrame(&input)
	if err != nil {
		t.Fatalf("ReadFrame on oversized frame: %v", err)
	}
	if len(truncated) == 0 || len(truncated) > 40 {
		t.Fatalf("expected a non-empty truncated chunk, got %d bytes", len(truncated))
	}
	for _, b := range truncated {
		if b != 'a' {
			t.Fatalf("truncated chunk should only contain the oversized frame's payload byte, got %q", truncated)
		}
	}

	next, err := fr.ReadFrame(&input)
	if err != nil {
		t.Fatalf("ReadFrame after trim recovery: %v", err)
	}
	if string(next) != "next!" {
		t.Fatalf("expected recovery to parse the next frame %q, got %q", "next!", next)
	}
}

func TestEncodeFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, []byte("payload")); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	fr := NewFramedReader(Options{InitBufferSize: 64, MaxMsgSize: 64})
	msg, err := fr.ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame on encoded output: %v", err)
	}
	if string(msg) != "payload" {
		t.Fatalf("expected %q, got %q", "payload", msg)
	}
}

// TestReadFrameOverLoopbackPipe exercises ReadFrame over a real
// connection-shaped io.Reader (nettest.Pipe, an in-memory net.Conn pair)
// rather than a hand-rolled chunkedReader, with the writer side trickling
// bytes across several small writes the way a slow socket would.
func TestReadFrameOverLoopbackPipe(t *testing.T) {
	client, server, err := nettest.Pipe()
	if err != nil {
		t.Fatalf("nettest.Pipe: %v", err)
	}
	defer client.Close()
	defer server.Close()

	go func() {
		frame := []byte("13 hello, world!")
		for i := 0; i < len(frame); i += 4 {
			end := i + 4
			if end > len(frame) {
				end = len(frame)
			}
			client.Write(frame[i:end])
			time.Sleep(time.Millisecond)
		}
	}()

	fr := NewFramedReader(Options{InitBufferSize: 64, MaxMsgSize: 64})
	msg, err := fr.ReadFrame(server)
	if err != nil {
		t.Fatalf("ReadFrame over loopback pipe: %v", err)
	}
	if string(msg) != "hello, world!" {
		t.Fatalf("expected %q, got %q", "hello, world!", msg)
	}
}

func TestReadFrameEOFMidStream(t *testing.T) {
	r := bytes.NewReader([]byte("10 short"))
	fr := NewFramedReader(Options{InitBufferSize: 64, MaxMsgSize: 64})

	if _, err := fr.ReadFrame(r); err == nil {
		t.Fatalf("expected an EOF-related error when the stream ends mid-frame")
	}
}
