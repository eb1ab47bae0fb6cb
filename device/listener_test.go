package device

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func startListener(t *testing.T) *Listener {
	t.Helper()
	l, err := Listen("127.0.0.1:0", 1<<20)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func dialDevice(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", l.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestListenerDeliversSession(t *testing.T) {
	l := startListener(t)
	dialDevice(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := l.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if sess == nil {
		t.Fatal("nil session")
	}
	if cur := l.Current(); cur != sess {
		t.Errorf("Current() = %v, want the awaited session", cur)
	}
}

func TestListenerRejectsSecondConnection(t *testing.T) {
	l := startListener(t)
	dialDevice(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.Await(ctx); err != nil {
		t.Fatalf("await first device: %v", err)
	}

	second := dialDevice(t, l)
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatal("second connection was not closed")
	}
	if got := l.Rejects(); got != 1 {
		t.Errorf("rejects = %d, want 1", got)
	}
}

func TestListenerAcceptsAfterSessionCloses(t *testing.T) {
	l := startListener(t)
	dialDevice(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, err := l.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	first.Close()

	dialDevice(t, l)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	second, err := l.Await(ctx2)
	if err != nil {
		t.Fatalf("await after close: %v", err)
	}
	if second == first {
		t.Error("Await returned the closed session")
	}
}

func TestListenerAwaitHonorsContext(t *testing.T) {
	l := startListener(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.Await(ctx)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v (%T), want *ConnectionError", err, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want wrapped DeadlineExceeded", err)
	}
}

func TestListenerCloseUnblocksAwait(t *testing.T) {
	l := startListener(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Await(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	l.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrListenerClosed) {
			t.Fatalf("await after close = %v, want ErrListenerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not unblock on Close")
	}
}
