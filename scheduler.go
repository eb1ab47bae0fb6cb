package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"camgate/capture"
	"camgate/device"
)

const schedulerCaptureTimeout = 2 * time.Minute

// captureScheduler triggers automatic captures on a fixed cadence. Ticks that
// land while another capture is in flight are skipped, not queued.
type captureScheduler struct {
	enabled  bool
	interval time.Duration
	timeout  time.Duration
	trigger  func(ctx context.Context) (*capture.Record, error)
	logger   *log.Logger
	wg       sync.WaitGroup
}

func newCaptureScheduler(enabled bool, interval time.Duration, trigger func(ctx context.Context) (*capture.Record, error), logger *log.Logger) *captureScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &captureScheduler{
		enabled:  enabled,
		interval: interval,
		timeout:  schedulerCaptureTimeout,
		trigger:  trigger,
		logger:   logger,
	}
}

func (s *captureScheduler) Start(ctx context.Context) {
	if s == nil || !s.enabled || s.trigger == nil {
		return
	}
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *captureScheduler) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func (s *captureScheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logf("Scheduler: automatic capture every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.captureOnce(ctx)
		}
	}
}

func (s *captureScheduler) captureOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec, err := s.trigger(runCtx)
	switch {
	case errors.Is(err, device.ErrBusy):
		s.logf("Scheduler: tick skipped, a capture is already in flight")
	case err != nil:
		// The capture path logs its own failures; keep the cadence quiet.
	case rec != nil:
		s.logf("Scheduler: capture %s complete (%d bytes)", rec.ID, rec.FrameBytes)
	}
}

func (s *captureScheduler) logf(format string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
