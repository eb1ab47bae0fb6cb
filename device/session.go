package device

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Session owns exactly one device connection. It is created when a camera
// completes the TCP handshake against the listener and destroyed on socket
// failure or explicit Close. The session has no goroutines of its own:
// commands are written from the caller, and ReadFrame is the single consuming
// loop for inbound bytes, so chunks reach the assembler strictly in arrival
// order.
type Session struct {
	conn      net.Conn
	asm       *Assembler
	writeMu   sync.Mutex
	readBuf   []byte
	remote    string
	openedAt  time.Time
	closed    atomic.Bool
	closeOnce sync.Once
	onClose   func(*Session)
}

// commandWriteTimeout bounds SendCommand. Commands are one or two bytes, so a
// write that cannot flush within this window means the peer's receive buffer
// is wedged, not that the network is slow.
const commandWriteTimeout = 5 * time.Second

func newSession(conn net.Conn, maxFrameSize int, onClose func(*Session)) *Session {
	return &Session{
		conn:     conn,
		asm:      NewAssembler(maxFrameSize),
		readBuf:  make([]byte, 4096),
		remote:   conn.RemoteAddr().String(),
		openedAt: time.Now().UTC(),
		onClose:  onClose,
	}
}

// SendCommand encodes and writes cmd. The firmware sends no acknowledgment,
// so a nil return means only that the bytes reached the socket. No-op
// commands return nil without touching the connection.
func (s *Session) SendCommand(cmd Command) error {
	wire := cmd.Encode()
	if len(wire) == 0 {
		return nil
	}
	if s.closed.Load() {
		return &WriteError{Command: cmd.String(), Err: ErrSessionClosed}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(commandWriteTimeout))
	if _, err := s.conn.Write(wire); err != nil {
		return &WriteError{Command: cmd.String(), Err: err}
	}
	return nil
}

// ReadFrame consumes socket bytes until a frame assembles, the deadline
// passes, or the connection fails. It must not be called concurrently; the
// coordinator is its only caller. Error paths discard any partial frame so
// the next capture starts clean.
func (s *Session) ReadFrame(deadline time.Time) (*Frame, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		s.asm.Reset()
		return nil, &ConnectionError{Op: "read", Err: err}
	}
	start := time.Now()
	for {
		n, err := s.conn.Read(s.readBuf)
		if n > 0 {
			frame, ferr := s.asm.Feed(s.readBuf[:n])
			if ferr != nil {
				return nil, ferr
			}
			if frame != nil {
				return frame, nil
			}
		}
		if err != nil {
			s.asm.Reset()
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, &TimeoutError{Phase: "receive", After: time.Since(start).Round(time.Millisecond)}
			}
			return nil, &ConnectionError{Op: "read", Err: err}
		}
	}
}

// Close tears the connection down unconditionally and discards any partially
// assembled frame. Safe to call multiple times and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.conn.Close()
		s.asm.Reset()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool { return s.closed.Load() }

// RemoteAddr returns the device's address as seen at accept time.
func (s *Session) RemoteAddr() string { return s.remote }

// ConnectedAt returns when the device completed its handshake.
func (s *Session) ConnectedAt() time.Time { return s.openedAt }
