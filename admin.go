package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camgate/archive"
	"camgate/buffer"
	"camgate/capture"
	"camgate/config"
	"camgate/device"
	"camgate/events"
	"camgate/stats"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultCapturesLimit = 20
	maxCapturesLimit     = 500
)

// adminServer exposes the HTTP control surface: trigger captures, inspect
// status, list recent captures, and scrape metrics.
type adminServer struct {
	cfg       *config.Config
	trigger   func(ctx context.Context) (*capture.Record, error)
	coord     *device.Coordinator
	listener  *device.Listener
	tracker   *stats.Tracker
	ring      *buffer.RingBuffer
	history   *archive.Writer
	publisher *events.Publisher
	startedAt time.Time
	server    *http.Server
}

func newAdminServer(cfg *config.Config, trigger func(ctx context.Context) (*capture.Record, error), coord *device.Coordinator, listener *device.Listener, tracker *stats.Tracker, ring *buffer.RingBuffer, history *archive.Writer, publisher *events.Publisher) *adminServer {
	return &adminServer{
		cfg:       cfg,
		trigger:   trigger,
		coord:     coord,
		listener:  listener,
		tracker:   tracker,
		ring:      ring,
		history:   history,
		publisher: publisher,
		startedAt: time.Now().UTC(),
	}
}

// Start binds the admin listener and serves in the background. Bind errors
// surface synchronously so startup can abort.
func (a *adminServer) Start() error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Admin.BindAddress, a.cfg.Admin.HTTPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen on %s: %w", addr, err)
	}
	a.server = &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Admin: server error: %v", err)
		}
	}()
	log.Printf("Admin: listening on http://%s", addr)
	return nil
}

func (a *adminServer) Stop(ctx context.Context) error {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func (a *adminServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)
	r.HandleFunc("/health", a.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/v1/capture", a.handleCapture).Methods("POST")
	r.HandleFunc("/api/v1/status", a.handleStatus).Methods("GET")
	r.HandleFunc("/api/v1/captures", a.handleCaptures).Methods("GET")
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		recordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Admin: response marshal failed: %v", err)
		return
	}
	_, _ = w.Write(data)
}

func (a *adminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": a.cfg.Server.Name,
		"uptime":  time.Since(a.startedAt).Truncate(time.Second).String(),
	})
}

// handleCapture triggers one capture and maps the terminal outcome onto an
// HTTP status. A rejected request (another capture in flight) is 409; failed
// captures return the record with a status matching the failure kind.
func (a *adminServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	rec, err := a.trigger(r.Context())
	if err != nil {
		if errors.Is(err, device.ErrBusy) || rec == nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, failureStatus(rec.Failure), rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func failureStatus(kind capture.FailureKind) int {
	switch kind {
	case capture.FailureConnection:
		return http.StatusServiceUnavailable
	case capture.FailureWrite:
		return http.StatusBadGateway
	case capture.FailureCorrupt:
		return http.StatusUnprocessableEntity
	case capture.FailureTimeout:
		return http.StatusGatewayTimeout
	case capture.FailureInference:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type deviceStatus struct {
	Connected bool   `json:"connected"`
	Addr      string `json:"addr,omitempty"`
	Connects  uint64 `json:"connects"`
	Rejects   uint64 `json:"rejects"`
}

type adminStatus struct {
	Server           string            `json:"server"`
	NodeID           string            `json:"node_id"`
	Uptime           string            `json:"uptime"`
	State            string            `json:"state"`
	CaptureStartedAt string            `json:"capture_started_at,omitempty"`
	Device           deviceStatus      `json:"device"`
	Outcomes         map[string]uint64 `json:"outcomes"`
	Failures         map[string]uint64 `json:"failures"`
	Labels           map[string]uint64 `json:"labels"`
	FrameBytes       uint64            `json:"frame_bytes"`
	CacheHits        uint64            `json:"cache_hits"`
	CacheMisses      uint64            `json:"cache_misses"`
	RingCount        int               `json:"ring_count"`
	ArchiveDrops     uint64            `json:"archive_drops,omitempty"`
	EventsPublished  uint64            `json:"events_published,omitempty"`
	EventDrops       uint64            `json:"event_drops,omitempty"`
	MQTTConnected    bool              `json:"mqtt_connected,omitempty"`
}

func (a *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := adminStatus{
		Server: a.cfg.Server.Name,
		NodeID: a.cfg.Server.NodeID,
		Uptime: time.Since(a.startedAt).Truncate(time.Second).String(),
	}
	if a.coord != nil {
		st.State = a.coord.State().String()
		if started := a.coord.StartedAt(); !started.IsZero() {
			st.CaptureStartedAt = started.UTC().Format(time.RFC3339)
		}
	}
	if a.listener != nil {
		if sess := a.listener.Current(); sess != nil {
			st.Device.Connected = true
			st.Device.Addr = sess.RemoteAddr()
		}
		st.Device.Connects = a.listener.Connects()
		st.Device.Rejects = a.listener.Rejects()
	}
	if a.tracker != nil {
		st.Outcomes = a.tracker.GetOutcomeCounts()
		st.Failures = a.tracker.GetFailureCounts()
		st.Labels = a.tracker.GetLabelCounts()
		st.FrameBytes = a.tracker.FrameBytes()
		st.CacheHits = a.tracker.CacheHits()
		st.CacheMisses = a.tracker.CacheMisses()
	}
	if a.ring != nil {
		st.RingCount = a.ring.GetCount()
	}
	if a.history != nil {
		st.ArchiveDrops = a.history.Drops()
	}
	if a.publisher != nil {
		st.EventsPublished = a.publisher.Published()
		st.EventDrops = a.publisher.Drops()
		st.MQTTConnected = a.publisher.IsConnected()
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCaptures lists recent captures, newest first. The in-memory ring
// serves unfiltered requests it can satisfy; outcome/failure filters and
// deeper windows fall through to the SQLite archive when available.
func (a *adminServer) handleCaptures(w http.ResponseWriter, r *http.Request) {
	limit := defaultCapturesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid limit %q", raw)})
			return
		}
		limit = parsed
	}
	if limit > maxCapturesLimit {
		limit = maxCapturesLimit
	}

	outcome := strings.TrimSpace(r.URL.Query().Get("outcome"))
	failure := strings.TrimSpace(r.URL.Query().Get("failure"))
	var match func(*capture.Record) bool
	if outcome != "" || failure != "" {
		match = func(rec *capture.Record) bool {
			if outcome != "" && string(rec.Outcome) != outcome {
				return false
			}
			if failure != "" && string(rec.Failure) != failure {
				return false
			}
			return true
		}
	}

	var (
		records []*capture.Record
		err     error
	)
	switch {
	case a.history != nil && match != nil:
		records, err = a.history.RecentFiltered(limit, match)
	case a.history != nil && (a.ring == nil || limit > a.ring.GetCount()):
		records, err = a.history.Recent(limit)
	case a.ring != nil && match != nil:
		records = filterRecent(a.ring.GetRecent(a.ring.GetCount()), match, limit)
	case a.ring != nil:
		records = a.ring.GetRecent(limit)
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []*capture.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(records),
		"captures": records,
	})
}

func filterRecent(records []*capture.Record, match func(*capture.Record) bool, limit int) []*capture.Record {
	out := make([]*capture.Record, 0, limit)
	for _, rec := range records {
		if !match(rec) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out
}
