// Package capture defines the record type shared across the pipeline. The
// coordinator produces one Record per attempt; the archive, event publisher,
// ring buffer, stats tracker and admin API consume it.
package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a capture attempt ended.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeFailed   Outcome = "failed"
)

// FailureKind names the terminal failure class of a capture attempt.
// Empty on success.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureConnection FailureKind = "connection"
	FailureWrite      FailureKind = "write"
	FailureCorrupt    FailureKind = "corrupt"
	FailureTimeout    FailureKind = "timeout"
	FailureInference  FailureKind = "inference"
)

// Prediction is the classification of one frame payload.
type Prediction struct {
	Label      string  `json:"label"`
	RawLabel   string  `json:"raw_label,omitempty"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Cached     bool    `json:"cached,omitempty"`
}

// Record is one finished capture attempt.
type Record struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Outcome     Outcome       `json:"outcome"`
	Failure     FailureKind   `json:"failure,omitempty"`
	Error       string        `json:"error,omitempty"`
	Device      string        `json:"device,omitempty"`
	FrameBytes  int           `json:"frame_bytes"`
	PayloadHash uint64        `json:"payload_hash,omitempty"`
	Label       string        `json:"label,omitempty"`
	RawLabel    string        `json:"raw_label,omitempty"`
	ClassID     int           `json:"class_id"`
	Confidence  float64       `json:"confidence"`
	CacheHit    bool          `json:"cache_hit,omitempty"`
	InferTime   time.Duration `json:"infer_time,omitempty"`
}

// NewID returns a unique capture identifier.
func NewID() string {
	return uuid.NewString()
}

// Complete reports whether the attempt produced a classified frame.
func (r *Record) Complete() bool {
	return r != nil && r.Outcome == OutcomeComplete
}

// Summary renders a single display line for dashboards and logs.
func (r *Record) Summary() string {
	if r == nil {
		return ""
	}
	ts := r.StartedAt.UTC().Format("15:04:05")
	if r.Outcome == OutcomeComplete {
		label := r.Label
		if label == "" {
			label = "(unclassified)"
		}
		hit := ""
		if r.CacheHit {
			hit = " cached"
		}
		return fmt.Sprintf("%s %s %d bytes -> %s %.0f%%%s", ts, shortID(r.ID), r.FrameBytes, label, r.Confidence*100, hit)
	}
	reason := string(r.Failure)
	if reason == "" {
		reason = "failed"
	}
	return fmt.Sprintf("%s %s FAILED (%s) %s", ts, shortID(r.ID), reason, r.Error)
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
