package device

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"camgate/internal/ratelimit"
)

// Listener accepts camera connections and owns zero or one live Session. The
// gateway drives a single device: while a session is live, additional inbound
// connections are closed immediately at accept time.
type Listener struct {
	ln           net.Listener
	maxFrameSize int

	mu      sync.Mutex
	current *Session
	notify  func(event, addr string)

	sessionCh chan *Session
	shutdown  chan struct{}
	closeOnce sync.Once

	connects atomic.Uint64
	rejects  ratelimit.Counter
}

// Listen binds addr and starts the accept loop. maxFrameSize bounds frame
// assembly for every session this listener creates.
func Listen(addr string, maxFrameSize int) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "listen " + addr, Err: err}
	}
	l := &Listener{
		ln:           ln,
		maxFrameSize: maxFrameSize,
		sessionCh:    make(chan *Session, 1),
		shutdown:     make(chan struct{}),
		rejects:      ratelimit.NewCounter(5 * time.Second),
	}
	go l.acceptLoop()
	return l, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// SetNotify installs an observer for session lifecycle events. event is
// "connected", "rejected", or "closed"; addr is the remote address. The
// callback runs on the accept loop and must not block.
func (l *Listener) SetNotify(fn func(event, addr string)) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

func (l *Listener) notifyEvent(event, addr string) {
	l.mu.Lock()
	fn := l.notify
	l.mu.Unlock()
	if fn != nil {
		fn(event, addr)
	}
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Device: accept error: %v", err)
			continue
		}

		l.connects.Add(1)
		l.mu.Lock()
		if l.current != nil && !l.current.Closed() {
			l.mu.Unlock()
			if total, allow := l.rejects.Inc(); allow {
				log.Printf("Device: rejecting %s, a device session is already active (%d rejected so far)", conn.RemoteAddr(), total)
			}
			l.notifyEvent("rejected", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(2 * time.Minute)
		}
		sess := newSession(conn, l.maxFrameSize, l.sessionClosed)
		l.current = sess
		l.mu.Unlock()

		log.Printf("Device: connected from %s", sess.RemoteAddr())
		l.notifyEvent("connected", sess.RemoteAddr())
		// Hand the session to a waiting Await if there is one; Current()
		// covers pickup otherwise.
		select {
		case l.sessionCh <- sess:
		default:
		}
	}
}

func (l *Listener) sessionClosed(s *Session) {
	l.mu.Lock()
	if l.current == s {
		l.current = nil
	}
	l.mu.Unlock()
	log.Printf("Device: session %s closed", s.RemoteAddr())
	l.notifyEvent("closed", s.RemoteAddr())
}

// Current returns the live session, or nil when no device is connected.
func (l *Listener) Current() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil && l.current.Closed() {
		l.current = nil
	}
	return l.current
}

// Await blocks until a device session is available, ctx ends, or the
// listener shuts down.
func (l *Listener) Await(ctx context.Context) (*Session, error) {
	for {
		if s := l.Current(); s != nil {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return nil, &ConnectionError{Op: "await device", Err: ctx.Err()}
		case <-l.shutdown:
			return nil, &ConnectionError{Op: "await device", Err: ErrListenerClosed}
		case s := <-l.sessionCh:
			if s.Closed() {
				continue
			}
			return s, nil
		}
	}
}

// Connects returns the number of accepted TCP connections, rejected included.
func (l *Listener) Connects() uint64 { return l.connects.Load() }

// Rejects returns the number of connections refused under the single-session
// policy.
func (l *Listener) Rejects() uint64 { return l.rejects.Total() }

// Close stops accepting and tears down the live session, if any.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		close(l.shutdown)
		_ = l.ln.Close()
		if s := l.Current(); s != nil {
			s.Close()
		}
	})
}
