package main

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerMetricsOnce sync.Once

	captureOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camgate",
			Subsystem: "capture",
			Name:      "outcomes_total",
			Help:      "Captures by terminal outcome.",
		},
		[]string{"outcome"},
	)
	captureFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camgate",
			Subsystem: "capture",
			Name:      "failures_total",
			Help:      "Failed captures by failure kind.",
		},
		[]string{"kind"},
	)
	captureDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camgate",
			Subsystem: "capture",
			Name:      "duration_seconds",
			Help:      "Capture duration from trigger to terminal outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"outcome"},
	)
	captureFrameBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "camgate",
			Subsystem: "capture",
			Name:      "frame_bytes_total",
			Help:      "Total frame payload bytes received from the device.",
		},
	)
	deviceEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camgate",
			Subsystem: "device",
			Name:      "events_total",
			Help:      "Device session events (connect, disconnect, reject).",
		},
		[]string{"event"},
	)
	inferenceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camgate",
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Classification lookups by result (ok, cached, error).",
		},
		[]string{"result"},
	)
	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camgate",
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Classification lookup duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	queueDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camgate",
			Subsystem: "queue",
			Name:      "drops_total",
			Help:      "Records dropped because a bounded queue was full.",
		},
		[]string{"queue"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func registerMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(
			captureOutcomes,
			captureFailures,
			captureDuration,
			captureFrameBytes,
			deviceEvents,
			inferenceRequests,
			inferenceDuration,
			queueDrops,
			httpRequests,
			httpDuration,
		)
	})
}

func recordCaptureMetrics(outcome, failure string, frameBytes int, duration time.Duration) {
	registerMetrics()
	captureOutcomes.WithLabelValues(outcome).Inc()
	if failure != "" {
		captureFailures.WithLabelValues(failure).Inc()
	}
	if frameBytes > 0 {
		captureFrameBytes.Add(float64(frameBytes))
	}
	captureDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func recordDeviceEvent(event string) {
	registerMetrics()
	deviceEvents.WithLabelValues(event).Inc()
}

func recordInferenceMetrics(result string, duration time.Duration) {
	registerMetrics()
	inferenceRequests.WithLabelValues(result).Inc()
	inferenceDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func recordQueueDrop(queue string) {
	registerMetrics()
	queueDrops.WithLabelValues(queue).Inc()
}

func recordHTTPRequest(method, path string, status int, duration time.Duration) {
	registerMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
