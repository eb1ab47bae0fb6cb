package device

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func pipeSession(t *testing.T, maxFrameSize int) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	sess := newSession(server, maxFrameSize, nil)
	t.Cleanup(func() {
		sess.Close()
		_ = client.Close()
	})
	return sess, client
}

func TestSessionSendCommandWritesWire(t *testing.T) {
	sess, client := pipeSession(t, 1<<20)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2)
		if _, err := io.ReadFull(client, buf); err != nil {
			got <- nil
			return
		}
		got <- buf
	}()

	if err := sess.SendCommand(SetResolution(0x18)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case wire := <-got:
		if !bytes.Equal(wire, []byte{0x01, 0x18}) {
			t.Errorf("wire = % X, want 01 18", wire)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("device never received the command")
	}
}

func TestSessionStopIsNoop(t *testing.T) {
	sess, _ := pipeSession(t, 1<<20)
	// No reader on the other end: a real write would block a pipe forever,
	// so a prompt nil return proves nothing hit the wire.
	done := make(chan error, 1)
	go func() { done <- sess.SendCommand(Stop()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stop attempted a wire write")
	}
}

func TestSessionReadFrameAcrossChunks(t *testing.T) {
	sess, client := pipeSession(t, 1<<20)
	payload := []byte("chunked-frame-payload")
	wire := buildWireFrame(payload)

	go func() {
		for i := 0; i < len(wire); i += 7 {
			end := i + 7
			if end > len(wire) {
				end = len(wire)
			}
			if _, err := client.Write(wire[i:end]); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	frame, err := sess.ReadFrame(time.Now().Add(2 * time.Second))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload = %q, want %q", frame.Payload, payload)
	}
}

func TestSessionReadFrameConnectionClosed(t *testing.T) {
	sess, client := pipeSession(t, 1<<20)

	go func() {
		_, _ = client.Write(buildWireFrame([]byte("partial"))[:12])
		_ = client.Close()
	}()

	_, err := sess.ReadFrame(time.Now().Add(2 * time.Second))
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v (%T), want *ConnectionError", err, err)
	}
}

func TestSessionReadFrameTimeout(t *testing.T) {
	sess, _ := pipeSession(t, 1<<20)

	_, err := sess.ReadFrame(time.Now().Add(50 * time.Millisecond))
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v (%T), want *TimeoutError", err, err)
	}
}

func TestSessionCorruptFrameThenRecovery(t *testing.T) {
	sess, client := pipeSession(t, 32)

	go func() {
		junk := make([]byte, 64) // no terminator, over the 32-byte bound
		for i := range junk {
			junk[i] = 0x42
		}
		_, _ = client.Write(junk)
	}()

	_, err := sess.ReadFrame(time.Now().Add(2 * time.Second))
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		t.Fatalf("error = %v (%T), want *CorruptionError", err, err)
	}

	// The same session must deliver a clean frame afterwards.
	payload := []byte("ok")
	go func() {
		_, _ = client.Write(buildWireFrame(payload))
	}()
	frame, err := sess.ReadFrame(time.Now().Add(2 * time.Second))
	if err != nil {
		t.Fatalf("read after corruption: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload = %q, want %q", frame.Payload, payload)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	sess, _ := pipeSession(t, 1<<20)
	sess.Close()
	sess.Close()
	if !sess.Closed() {
		t.Fatal("session not marked closed")
	}
	err := sess.SendCommand(Capture())
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("send after close = %v, want ErrSessionClosed", err)
	}
}
