package device

import (
	"bytes"
	"errors"
	"testing"
)

// buildWireFrame returns header + payload + terminator as the device would
// send it.
func buildWireFrame(payload []byte) []byte {
	frame := make([]byte, 0, headerLen+len(payload)+2)
	frame = append(frame, []byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7}...)
	frame = append(frame, payload...)
	frame = append(frame, termFirst, termSecond)
	return frame
}

func TestAssemblerCompletesSingleChunk(t *testing.T) {
	payload := []byte("still-image-data")
	a := NewAssembler(1 << 20)

	frame, err := a.Feed(buildWireFrame(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a complete frame")
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload = %q, want %q", frame.Payload, payload)
	}
	if len(frame.Header) != headerLen {
		t.Errorf("header length = %d, want %d", len(frame.Header), headerLen)
	}
	if a.Buffered() != 0 {
		t.Errorf("buffer not reset: %d bytes left", a.Buffered())
	}
}

func TestAssemblerChunkBoundaryIndependence(t *testing.T) {
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	wire := buildWireFrame(payload)

	whole := NewAssembler(1 << 20)
	wholeFrame, err := whole.Feed(wire)
	if err != nil || wholeFrame == nil {
		t.Fatalf("whole feed: frame=%v err=%v", wholeFrame, err)
	}

	bytewise := NewAssembler(1 << 20)
	var bytewiseFrame *Frame
	for i, b := range wire {
		frame, err := bytewise.Feed([]byte{b})
		if err != nil {
			t.Fatalf("byte %d: unexpected error: %v", i, err)
		}
		if frame != nil {
			if i != len(wire)-1 {
				t.Fatalf("frame completed early at byte %d of %d", i, len(wire))
			}
			bytewiseFrame = frame
		}
	}
	if bytewiseFrame == nil {
		t.Fatal("byte-at-a-time feed never completed")
	}
	if !bytes.Equal(wholeFrame.Payload, bytewiseFrame.Payload) {
		t.Error("byte-at-a-time payload differs from single-chunk payload")
	}
	if !bytes.Equal(wholeFrame.Header, bytewiseFrame.Header) {
		t.Error("byte-at-a-time header differs from single-chunk header")
	}
}

func TestAssemblerTerminatorStraddlesChunks(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	wire := buildWireFrame(payload)

	a := NewAssembler(1 << 20)
	// Split exactly between the two terminator bytes.
	frame, err := a.Feed(wire[:len(wire)-1])
	if err != nil || frame != nil {
		t.Fatalf("first chunk: frame=%v err=%v, want incomplete", frame, err)
	}
	frame, err = a.Feed(wire[len(wire)-1:])
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}
	if frame == nil || !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("frame = %v, want payload %v", frame, payload)
	}
}

func TestAssemblerPayloadTrailingFFBeforeTerminator(t *testing.T) {
	payload := []byte{0x01, 0x02, 0xFF}
	a := NewAssembler(1 << 20)
	frame, err := a.Feed(buildWireFrame(payload))
	if err != nil || frame == nil {
		t.Fatalf("frame=%v err=%v", frame, err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload = % X, want % X", frame.Payload, payload)
	}
}

// A coincidental terminator sequence inside the payload ends the frame
// early. The protocol has no escaping, so this is inherent to the framing;
// the assembler must report the premature boundary rather than guess.
func TestAssemblerPrematureTerminatorInPayload(t *testing.T) {
	payload := []byte{1, 2, 3, termFirst, termSecond, 6, 7, 8}
	a := NewAssembler(1 << 20)

	frame, err := a.Feed(buildWireFrame(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a (truncated) frame")
	}
	if want := payload[:3]; !bytes.Equal(frame.Payload, want) {
		t.Errorf("payload = % X, want truncation at embedded terminator % X", frame.Payload, want)
	}
	if a.Buffered() != 0 {
		t.Errorf("bytes after premature terminator not discarded: %d buffered", a.Buffered())
	}
}

func TestAssemblerOversizeWithoutTerminator(t *testing.T) {
	const maxSize = 64
	a := NewAssembler(maxSize)

	var corrupt *CorruptionError
	fed := 0
	for i := 0; i < maxSize+8; i++ {
		_, err := a.Feed([]byte{0x42})
		fed++
		if err != nil {
			if !errors.As(err, &corrupt) {
				t.Fatalf("error type = %T, want *CorruptionError", err)
			}
			break
		}
	}
	if corrupt == nil {
		t.Fatalf("no corruption after %d bytes with maxSize %d", fed, maxSize)
	}
	if corrupt.Reason != ReasonOversize {
		t.Errorf("reason = %q, want %q", corrupt.Reason, ReasonOversize)
	}
	if fed != maxSize+1 {
		t.Errorf("corruption after %d bytes, want %d", fed, maxSize+1)
	}
	if a.Buffered() != 0 {
		t.Errorf("buffer not emptied after corruption: %d bytes", a.Buffered())
	}

	// The assembler must be reusable after a corrupt frame.
	payload := []byte("recovered")
	frame, err := a.Feed(buildWireFrame(payload))
	if err != nil || frame == nil || !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("assembler unusable after corruption: frame=%v err=%v", frame, err)
	}
}

func TestAssemblerTerminatorInsideHeader(t *testing.T) {
	a := NewAssembler(1 << 20)
	frame, err := a.Feed([]byte{0xA0, 0xA1, 0xA2, termFirst, termSecond})
	if frame != nil {
		t.Fatalf("got frame %v, want corruption", frame)
	}
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		t.Fatalf("error type = %T, want *CorruptionError", err)
	}
	if corrupt.Reason != ReasonShortFrame {
		t.Errorf("reason = %q, want %q", corrupt.Reason, ReasonShortFrame)
	}
	if a.Buffered() != 0 {
		t.Errorf("buffer not emptied: %d bytes", a.Buffered())
	}
}

func TestAssemblerTerminatorRightAfterHeader(t *testing.T) {
	a := NewAssembler(1 << 20)
	wire := buildWireFrame(nil)
	frame, err := a.Feed(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a complete frame with an empty payload")
	}
	if len(frame.Payload) != 0 {
		t.Errorf("payload length = %d, want 0", len(frame.Payload))
	}
}

func TestAssemblerDiscardsBytesAfterTerminator(t *testing.T) {
	a := NewAssembler(1 << 20)
	wire := append(buildWireFrame([]byte("payload")), 0xDE, 0xAD, 0xBE, 0xEF)
	frame, err := a.Feed(wire)
	if err != nil || frame == nil {
		t.Fatalf("frame=%v err=%v", frame, err)
	}
	if a.Buffered() != 0 {
		t.Errorf("trailing bytes kept: %d buffered, want 0", a.Buffered())
	}
}

// The terminator scan runs before the size check, so a final oversized chunk
// that carries the terminator still completes the frame.
func TestAssemblerTerminatorInOversizedChunk(t *testing.T) {
	const maxSize = 32
	a := NewAssembler(maxSize)
	payload := make([]byte, maxSize)
	frame, err := a.Feed(buildWireFrame(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame == nil || len(frame.Payload) != maxSize {
		t.Fatalf("frame = %v, want %d-byte payload", frame, maxSize)
	}
}
