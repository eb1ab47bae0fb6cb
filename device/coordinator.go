package device

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"camgate/capture"
)

// State is the coordinator's position in the capture cycle.
type State int32

const (
	StateIdle State = iota
	StateResolutionSent
	StateCaptureSent
	StateReceiving
	StateFrameComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolutionSent:
		return "resolution-sent"
	case StateCaptureSent:
		return "capture-sent"
	case StateReceiving:
		return "receiving"
	case StateFrameComplete:
		return "frame-complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Classifier receives a completed frame payload. Any non-nil error counts as
// an inference failure on the capture record.
type Classifier interface {
	Classify(ctx context.Context, payload []byte) (capture.Prediction, error)
}

// Settings carry the per-capture protocol knobs.
type Settings struct {
	// Selector is the resolution byte sent ahead of every capture.
	Selector byte
	// SettleDelay is the pause between the resolution command and the
	// capture command; the sensor needs the gap to reconfigure.
	SettleDelay time.Duration
	// ReceiveTimeout bounds how long the device may take to deliver a
	// complete frame once the capture command is out.
	ReceiveTimeout time.Duration
	// AwaitDevice bounds how long a capture waits for a device to connect
	// before failing. Zero waits as long as the caller's context allows.
	AwaitDevice time.Duration
	// OnFrame, when set, observes the raw payload of every completed frame
	// before classification results are attached to the record.
	OnFrame func(rec *capture.Record, payload []byte)
}

// Coordinator runs the capture cycle: await device, set resolution, settle,
// request capture, assemble the frame, classify. One capture is in flight at
// a time; concurrent requests are rejected with ErrBusy.
type Coordinator struct {
	listener   *Listener
	classifier Classifier
	settings   Settings

	inFlight  atomic.Bool
	state     atomic.Int32
	startedAt atomic.Int64 // unix nanos of the in-flight capture, 0 when idle
}

// NewCoordinator wires the coordinator to its listener and classifier. The
// classifier may be nil, in which case completed frames are recorded without
// a label.
func NewCoordinator(l *Listener, c Classifier, s Settings) *Coordinator {
	if s.SettleDelay <= 0 {
		s.SettleDelay = 500 * time.Millisecond
	}
	if s.ReceiveTimeout <= 0 {
		s.ReceiveTimeout = 20 * time.Second
	}
	return &Coordinator{listener: l, classifier: c, settings: s}
}

// State returns the coordinator's current position in the cycle.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// StartedAt returns the start time of the in-flight capture, zero when idle.
func (c *Coordinator) StartedAt() time.Time {
	ns := c.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Coordinator) setState(s State) { c.state.Store(int32(s)) }

// Capture runs one full cycle and always returns a terminal record unless
// the request was rejected outright (ErrBusy, nil record). The returned
// error, when non-nil, is the typed failure also reflected on the record.
func (c *Coordinator) Capture(ctx context.Context) (*capture.Record, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.inFlight.Store(false)
	defer c.setState(StateIdle)
	defer c.startedAt.Store(0)

	rec := &capture.Record{ID: capture.NewID(), StartedAt: time.Now().UTC()}
	c.startedAt.Store(rec.StartedAt.UnixNano())

	sess, err := c.awaitSession(ctx)
	if err != nil {
		return c.fail(rec, capture.FailureConnection, err)
	}
	rec.Device = sess.RemoteAddr()

	c.setState(StateResolutionSent)
	if err := sess.SendCommand(SetResolution(c.settings.Selector)); err != nil {
		return c.fail(rec, capture.FailureWrite, err)
	}
	if err := c.settle(ctx); err != nil {
		return c.fail(rec, capture.FailureConnection, err)
	}

	c.setState(StateCaptureSent)
	if err := sess.SendCommand(Capture()); err != nil {
		return c.fail(rec, capture.FailureWrite, err)
	}

	c.setState(StateReceiving)
	deadline := time.Now().Add(c.settings.ReceiveTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	frame, err := sess.ReadFrame(deadline)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			// The socket is gone or poisoned; the next capture gets a
			// fresh session.
			sess.Close()
		}
		return c.fail(rec, failureKind(err), err)
	}

	c.setState(StateFrameComplete)
	rec.FrameBytes = len(frame.Payload)
	rec.PayloadHash = xxh3.Hash(frame.Payload)
	if c.settings.OnFrame != nil {
		c.settings.OnFrame(rec, frame.Payload)
	}

	if c.classifier != nil {
		start := time.Now()
		pred, cerr := c.classifier.Classify(ctx, frame.Payload)
		rec.InferTime = time.Since(start)
		if cerr != nil {
			return c.fail(rec, capture.FailureInference, cerr)
		}
		rec.Label = pred.Label
		rec.RawLabel = pred.RawLabel
		rec.ClassID = pred.ClassID
		rec.Confidence = pred.Confidence
		rec.CacheHit = pred.Cached
	}

	rec.Outcome = capture.OutcomeComplete
	rec.Duration = time.Since(rec.StartedAt)
	return rec, nil
}

func (c *Coordinator) awaitSession(ctx context.Context) (*Session, error) {
	if c.settings.AwaitDevice > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.AwaitDevice)
		defer cancel()
	}
	return c.listener.Await(ctx)
}

func (c *Coordinator) settle(ctx context.Context) error {
	if c.settings.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.settings.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return &ConnectionError{Op: "settle", Err: ctx.Err()}
	case <-t.C:
		return nil
	}
}

func (c *Coordinator) fail(rec *capture.Record, kind capture.FailureKind, err error) (*capture.Record, error) {
	c.setState(StateFailed)
	rec.Outcome = capture.OutcomeFailed
	rec.Failure = kind
	rec.Error = err.Error()
	rec.Duration = time.Since(rec.StartedAt)
	log.Printf("Capture %s failed (%s): %v", rec.ID, kind, err)
	return rec, err
}

// failureKind maps a device error to its record classification.
func failureKind(err error) capture.FailureKind {
	var (
		writeErr   *WriteError
		corruptErr *CorruptionError
		timeoutErr *TimeoutError
	)
	switch {
	case errors.As(err, &writeErr):
		return capture.FailureWrite
	case errors.As(err, &corruptErr):
		return capture.FailureCorrupt
	case errors.As(err, &timeoutErr):
		return capture.FailureTimeout
	default:
		return capture.FailureConnection
	}
}
