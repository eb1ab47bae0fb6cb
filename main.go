// Program camgate runs the camera capture gateway: it accepts the sensor's
// inbound connection, drives the capture handshake (resolution select,
// settle, capture request, frame assembly), classifies completed frames over
// HTTP, and fans finished records out to the archive, MQTT, the in-memory
// ring, and the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	pprof "runtime/pprof"
	"strings"
	"syscall"
	"time"

	"camgate/archive"
	"camgate/buffer"
	"camgate/capture"
	"camgate/config"
	"camgate/device"
	"camgate/events"
	"camgate/framestore"
	"camgate/inference"
	"camgate/stats"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	defaultConfigPath = "data/config"
	envConfigPath     = "CAMGATE_CONFIG_PATH"

	// statsInterval paces the console statistics refresh. The same snapshot
	// lands in the daily log file as a single line per tick.
	statsInterval = 30 * time.Second

	adminStopTimeout = 5 * time.Second
)

// Version is stamped by the build; "dev" outside release builds.
var Version = "dev"

// uiSurface is the console abstraction shared by the tview dashboard and the
// plain ANSI renderer. main talks to whichever variant the config selected
// and falls back to line logging when neither can run.
type uiSurface interface {
	WaitReady()
	Stop()
	SetStats(lines []string)
	AppendCapture(line string)
	AppendInference(line string)
	AppendDevice(line string)
	AppendSystem(line string)
	SystemWriter() io.Writer
}

// Purpose: Detect whether stdout is an interactive terminal.
// Key aspects: Gates dashboard/ANSI rendering.
// Upstream: main UI selection.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Purpose: Load configuration from env/default locations.
// Key aspects: Tries env override first, then the default config dir.
// Upstream: main startup.
// Downstream: config.Load and os.ErrNotExist checks.
func loadGatewayConfig() (*config.Config, string, error) {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, defaultConfigPath)

	var lastErr error
	for _, path := range candidates {
		if path == "" {
			continue
		}
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				lastErr = err
				continue
			}
			return nil, path, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	return nil, "", fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

// Purpose: Pick the console surface the config asks for.
// Key aspects: auto resolves to tview on a terminal, headless otherwise.
// Upstream: main startup.
// Downstream: newDashboard and newANSIConsole.
func selectUISurface(uiCfg config.UIConfig, renderAllowed bool) uiSurface {
	switch strings.ToLower(strings.TrimSpace(uiCfg.Mode)) {
	case "headless":
		log.Printf("UI disabled (mode=headless)")
	case "auto":
		if renderAllowed {
			return newDashboard(uiCfg, true)
		}
		log.Printf("UI disabled (no interactive console)")
	case "tview":
		if !renderAllowed {
			log.Printf("UI disabled (tview requires an interactive console)")
		} else {
			return newDashboard(uiCfg, true)
		}
	case "ansi":
		if !renderAllowed {
			log.Printf("UI disabled (ansi renderer requires an interactive console)")
		} else {
			return newANSIConsole(uiCfg, renderAllowed)
		}
	default:
		log.Printf("UI mode %q not recognized; defaulting to headless", uiCfg.Mode)
	}
	return nil
}

// Purpose: Program entrypoint; wires the capture pipeline end to end.
// Key aspects: Initializes listener/inference/consumers and manages
// graceful shutdown on SIGINT/SIGTERM.
// Upstream: OS process start.
// Downstream: Startup helpers, goroutines, and network services.
func main() {
	// Load configuration
	cfg, configSource, err := loadGatewayConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	log.Printf("Loaded configuration from %s", configSource)

	ui := selectUISurface(cfg.UI, isStdoutTTY())
	if ui != nil {
		ui.WaitReady()
		defer ui.Stop()
		ui.SetStats([]string{"Initializing..."})
	}

	// All log output flows through the fanout: console (UI system pane or
	// stdout) plus the optional daily file. The fanout stamps timestamps, so
	// the default logger prefixes come off.
	var console io.Writer = os.Stdout
	if ui != nil {
		console = ui.SystemWriter()
	}
	fanout, logErr := setupLogging(cfg.Logging, console)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Warning: file logging disabled: %v", logErr)
	} else if cfg.Logging.Enabled {
		log.Printf("Logging to %s (retention %d days)", cfg.Logging.Dir, cfg.Logging.RetentionDays)
	}

	log.Printf("Camera Gateway v%s starting...", Version)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Print the configuration (stdout only when not using the dashboard)
	if ui == nil {
		cfg.Print()
	} else {
		log.Printf("Configuration loaded for %s (%s)", cfg.Server.Name, cfg.Server.NodeID)
	}

	// Device listener: the camera dials in, the gateway never dials out.
	listener, err := device.Listen(cfg.Device.ListenAddress, cfg.Capture.MaxFrameBytes())
	if err != nil {
		log.Fatalf("Error starting device listener: %v", err)
	}
	defer listener.Close()
	listener.SetNotify(makeDeviceReporter(ui))

	// Inference client with optional on-disk cache and label normalization.
	var classifier device.Classifier
	var inferCache *inference.Cache
	if cfg.Inference.Enabled {
		if cfg.Inference.Cache.Enabled {
			ttl := time.Duration(cfg.Inference.Cache.TTLHours) * time.Hour
			if c, cerr := inference.OpenCache(cfg.Inference.Cache.Path, ttl); cerr != nil {
				log.Printf("Warning: inference cache disabled due to init error: %v", cerr)
			} else {
				inferCache = c
				defer inferCache.Close()
			}
		}
		var labels *inference.LabelSet
		if len(cfg.Inference.Labels.Canonical) > 0 {
			labels = inference.NewLabelSet(cfg.Inference.Labels.Canonical, cfg.Inference.Labels.MaxEditDistance)
			log.Printf("Inference: normalizing onto %d canonical labels", labels.Len())
		}
		client, cerr := inference.NewClient(inference.Options{
			URL:     cfg.Inference.URL,
			APIKey:  cfg.Inference.APIKey,
			Model:   cfg.Inference.Model,
			Timeout: time.Duration(cfg.Inference.TimeoutSeconds) * time.Second,
			Cache:   inferCache,
			Labels:  labels,
		})
		if cerr != nil {
			log.Fatalf("Error configuring inference client: %v", cerr)
		}
		classifier = client
		log.Printf("Inference: %s (model %s)", cfg.Inference.URL, cfg.Inference.Model)
	} else {
		log.Printf("Inference disabled; completed frames are recorded without labels")
	}

	// Optional raw frame dumps for offline inspection.
	var frames *framestore.Store
	if cfg.Capture.DumpFrames {
		if store, ferr := framestore.NewStore(cfg.Capture.FramesDir, cfg.Capture.DumpMaxFiles); ferr != nil {
			log.Printf("Warning: frame dumps disabled due to init error: %v", ferr)
		} else {
			frames = store
			log.Printf("Dumping raw frames to %s (keeping latest %d)", frames.Dir(), cfg.Capture.DumpMaxFiles)
		}
	}

	settings := device.Settings{
		Selector:       byte(cfg.Capture.ResolutionSelector),
		SettleDelay:    time.Duration(cfg.Capture.SettleDelayMS) * time.Millisecond,
		ReceiveTimeout: time.Duration(cfg.Capture.ReceiveTimeoutSecs) * time.Second,
		AwaitDevice:    time.Duration(cfg.Capture.AwaitDeviceSecs) * time.Second,
	}
	if frames != nil {
		store := frames
		settings.OnFrame = func(rec *capture.Record, payload []byte) {
			if err := store.Save(rec, payload); err != nil {
				log.Printf("Warning: frame dump failed: %v", err)
			}
		}
	}
	coordinator := device.NewCoordinator(listener, classifier, settings)

	statsTracker := stats.NewTracker()
	ringBuffer := buffer.NewRingBuffer(cfg.Capture.RingSize)
	health := newCaptureHealth(defaultFailStreak, log.Default())

	// Start the capture archive (SQLite, batched writes)
	var archiveWriter *archive.Writer
	if cfg.Archive.Enabled {
		if w, aerr := archive.NewWriter(cfg.Archive); aerr != nil {
			log.Printf("Warning: capture archive disabled due to init error: %v", aerr)
		} else {
			archiveWriter = w
			archiveWriter.Start()
			log.Printf("Archiving captures to %s (retention %dd complete / %dd failed)",
				cfg.Archive.DBPath, cfg.Archive.RetentionDays, cfg.Archive.RetentionFailedDays)
			defer archiveWriter.Stop()
		}
	}

	// Start the MQTT event publisher
	var publisher *events.Publisher
	if cfg.MQTT.Enabled {
		publisher = events.NewPublisher(cfg.MQTT)
		if perr := publisher.Connect(); perr != nil {
			log.Printf("Warning: event publishing disabled: %v", perr)
			publisher = nil
		}
	}
	if publisher != nil {
		defer publisher.Stop()
	}

	// runCapture is the single entry point for captures, manual and
	// scheduled alike: one coordinator cycle, then fan the terminal record
	// out to every consumer.
	runCapture := func(captureCtx context.Context) (*capture.Record, error) {
		rec, rerr := coordinator.Capture(captureCtx)
		if rec != nil {
			finalizeCapture(rec, statsTracker, ringBuffer, archiveWriter, publisher, health, ui)
		}
		return rec, rerr
	}

	admin := newAdminServer(cfg, runCapture, coordinator, listener, statsTracker, ringBuffer, archiveWriter, publisher)
	if err := admin.Start(); err != nil {
		log.Fatalf("Error starting admin interface: %v", err)
	}

	scheduler := newCaptureScheduler(cfg.Scheduler.Enabled,
		time.Duration(cfg.Scheduler.IntervalSeconds)*time.Second, runCapture, log.Default())
	scheduler.Start(ctx)

	// Health transitions are logged only on change; idle means no capture
	// finished within three scheduler intervals.
	idleAfter := defaultIdleExpected
	if cfg.Scheduler.Enabled {
		idleAfter = 3 * time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	}
	sources := []healthSource{
		deviceHealthSource("device", listener),
		captureHealthSource("capture", health),
	}
	if archiveWriter != nil {
		sources = append(sources, archiveHealthSource("archive", archiveWriter))
	}
	if publisher != nil {
		sources = append(sources, publisherHealthSource("mqtt", publisher))
	}
	startHealthMonitor(ctx, idleAfter, sources)

	go displayGatewayStats(statsInterval, statsTracker, listener, coordinator, ringBuffer,
		archiveWriter, publisher, inferCache, frames, health, ui, fanout)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Println("---")
	log.Printf("Camera Gateway v%s running", Version)
	log.Printf("Waiting for the camera to dial in on %s...", listener.Addr())
	log.Printf("Admin interface on http://%s:%d", cfg.Admin.BindAddress, cfg.Admin.HTTPPort)
	if cfg.Scheduler.Enabled {
		log.Printf("Automatic capture every %d seconds", cfg.Scheduler.IntervalSeconds)
	}
	log.Println("Architecture: Device -> Coordinator -> Archive / MQTT / Ring -> Admin API")
	log.Printf("Statistics will be displayed every %.0f seconds...", statsInterval.Seconds())
	log.Println("---")
	maybeStartHeapLogger()
	maybeStartDiagServer()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down gracefully...")

	// Stop the capture sources first: no new cycles once the context ends.
	cancel()
	scheduler.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), adminStopTimeout)
	if err := admin.Stop(stopCtx); err != nil {
		log.Printf("Warning: admin shutdown: %v", err)
	}
	stopCancel()

	listener.Close()

	log.Println("Gateway stopped")
}

// Purpose: Fan a finished capture record out to every consumer.
// Key aspects: Consumers are optional; counters always update.
// Upstream: runCapture (admin trigger and scheduler ticks).
// Downstream: stats.Tracker, buffer.RingBuffer, archive.Writer,
// events.Publisher, UI panes, Prometheus counters.
func finalizeCapture(rec *capture.Record, tracker *stats.Tracker, ring *buffer.RingBuffer, history *archive.Writer, publisher *events.Publisher, health *captureHealth, ui uiSurface) {
	classified := rec.Label != ""
	if tracker != nil {
		tracker.RecordCapture(string(rec.Outcome), string(rec.Failure), rec.Label, rec.FrameBytes, rec.CacheHit, classified)
	}
	if ring != nil {
		ring.Add(rec)
	}
	if history != nil && !history.Enqueue(rec) {
		recordQueueDrop("archive")
	}
	if publisher != nil && !publisher.Publish(rec) {
		recordQueueDrop("events")
	}
	health.RecordOutcome(rec)
	recordCaptureMetrics(string(rec.Outcome), string(rec.Failure), rec.FrameBytes, rec.Duration)
	switch {
	case rec.Failure == capture.FailureInference:
		recordInferenceMetrics("error", rec.InferTime)
	case rec.CacheHit:
		recordInferenceMetrics("cached", rec.InferTime)
	case rec.Complete():
		recordInferenceMetrics("ok", rec.InferTime)
	}

	line := rec.Summary()
	if ui != nil {
		ui.AppendCapture(line)
		if inferLine := formatInferenceResult(rec); inferLine != "" {
			ui.AppendInference(inferLine)
		}
	} else {
		log.Printf("Capture %s", line)
	}
}

// Purpose: Build the listener lifecycle observer.
// Key aspects: Returns a closure that updates metrics and the device pane.
// Upstream: main wiring for listener.SetNotify.
// Downstream: recordDeviceEvent and ui.AppendDevice.
func makeDeviceReporter(ui uiSurface) func(event, addr string) {
	return func(event, addr string) {
		recordDeviceEvent(event)
		if ui != nil {
			ui.AppendDevice(fmt.Sprintf("%s %s", addr, event))
		}
	}
}

// Purpose: Render the inference pane line for a finished record.
// Key aspects: Empty when the capture never reached classification.
// Upstream: finalizeCapture.
// Downstream: string formatting only.
func formatInferenceResult(rec *capture.Record) string {
	if rec.Failure == capture.FailureInference {
		return fmt.Sprintf("%s inference failed: %s", shortRecordID(rec.ID), rec.Error)
	}
	if rec.Label == "" {
		return ""
	}
	src := ""
	if rec.CacheHit {
		src = " (cached)"
	}
	return fmt.Sprintf("%s -> %s %.0f%%%s in %s", shortRecordID(rec.ID), rec.Label, rec.Confidence*100, src, rec.InferTime.Round(time.Millisecond))
}

func shortRecordID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// Purpose: Periodically refresh the stats pane (or log lines headless).
// Key aspects: Rates are derived by diffing totals between ticks; the
// snapshot also lands file-only in the daily log.
// Upstream: main (dedicated goroutine).
// Downstream: stats.Tracker snapshots, format helpers, dash.SetStats.
func displayGatewayStats(interval time.Duration, tracker *stats.Tracker, listener *device.Listener, coordinator *device.Coordinator, ring *buffer.RingBuffer, history *archive.Writer, publisher *events.Publisher, cache *inference.Cache, frames *framestore.Store, health *captureHealth, dash uiSurface, fanout *logFanout) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var gcWin gcPauseWindow
	var prevTotal uint64
	for range ticker.C {
		total := tracker.GetTotal()
		delta := total - prevTotal
		prevTotal = total

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		gcP99, gcMax, gcCount, _ := gcWin.snapshot(&mem)

		lines := make([]string, 0, 9)
		lines = append(lines, fmt.Sprintf("%s   %s", formatUptimeLine(tracker.GetUptime()), formatMemoryLine(&mem, ring, gcP99, gcMax, gcCount))) // 1
		lines = append(lines, formatDeviceLine(listener, coordinator))                                                                            // 2
		lines = append(lines, health.StatusLine())                                                                                                // 3
		lines = append(lines, tracker.SnapshotLines()...)                                                                                         // 4-6
		lines = append(lines, formatInferenceLine(cache))                                                                                         // 7
		lines = append(lines, formatPipelineLine(total, delta, history, publisher, frames))                                                       // 8

		if dash != nil {
			dash.SetStats(lines)
		} else {
			for _, line := range lines {
				log.Print(line)
			}
			log.Print("") // spacer between stats and status/messages
		}
		if fanout != nil {
			fanout.WriteFileOnlyLine("Stats: "+strings.Join(lines, " | "), time.Now())
		}
	}
}

// Purpose: Format the device status line for the stats pane.
// Key aspects: Shows the live session or the listen address, plus the
// coordinator cycle state and accept/reject counters.
// Upstream: displayGatewayStats.
// Downstream: device.Listener accessors.
func formatDeviceLine(listener *device.Listener, coordinator *device.Coordinator) string {
	state := "idle"
	if coordinator != nil {
		state = coordinator.State().String()
	}
	if listener == nil {
		return fmt.Sprintf("Device: (listener down) / state %s", state)
	}
	if sess := listener.Current(); sess != nil {
		return fmt.Sprintf("Device: %s connected / state %s / %d connects / %d rejected",
			sess.RemoteAddr(), state, listener.Connects(), listener.Rejects())
	}
	return fmt.Sprintf("Device: waiting on %s / state %s / %d connects / %d rejected",
		listener.Addr(), state, listener.Connects(), listener.Rejects())
}

// Purpose: Format the inference cache line for the stats pane.
// Key aspects: Hit rate over the lifetime of the cache.
// Upstream: displayGatewayStats.
// Downstream: inference.Cache counters.
func formatInferenceLine(cache *inference.Cache) string {
	if cache == nil {
		return "Inference cache: (disabled)"
	}
	hits := cache.Hits()
	misses := cache.Misses()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) * 100 / float64(hits+misses)
	}
	return fmt.Sprintf("Inference cache: %s hits / %s misses (%.0f%%)",
		humanize.Comma(int64(hits)), humanize.Comma(int64(misses)), rate)
}

// Purpose: Format the pipeline totals line for the stats pane.
// Key aspects: Per-consumer counts with drop counters where they apply.
// Upstream: displayGatewayStats.
// Downstream: archive.Writer, events.Publisher, framestore.Store counters.
func formatPipelineLine(total, delta uint64, history *archive.Writer, publisher *events.Publisher, frames *framestore.Store) string {
	parts := []string{fmt.Sprintf("Captures: %s total (+%d)", humanize.Comma(int64(total)), delta)}
	if history != nil {
		if count, err := history.Count(); err == nil {
			parts = append(parts, fmt.Sprintf("archive %s (drops %d)", humanize.Comma(count), history.Drops()))
		} else {
			parts = append(parts, fmt.Sprintf("archive count failed: %v", err))
		}
	}
	if publisher != nil {
		parts = append(parts, fmt.Sprintf("mqtt %s (drops %d)", humanize.Comma(int64(publisher.Published())), publisher.Drops()))
	}
	if frames != nil {
		parts = append(parts, fmt.Sprintf("frames %d", frames.Count()))
	}
	return strings.Join(parts, " / ")
}

// Purpose: Format the memory line for the stats pane.
// Key aspects: Process allocation, ring buffer estimate, and GC pauses
// observed since the previous tick.
// Upstream: displayGatewayStats.
// Downstream: buffer.RingBuffer.GetSizeKB.
func formatMemoryLine(mem *runtime.MemStats, ring *buffer.RingBuffer, gcP99, gcMax time.Duration, gcCount int) string {
	ringMB := 0.0
	if ring != nil {
		ringMB = float64(ring.GetSizeKB()) / 1024.0
	}
	line := fmt.Sprintf("Memory MB: %.1f exec / %.1f ring", bytesToMB(mem.Alloc), ringMB)
	if gcCount > 0 {
		line += fmt.Sprintf(" / GC p99 %s max %s (%d)", gcP99, gcMax, gcCount)
	}
	return line
}

// Purpose: Format a human-readable uptime line.
// Key aspects: Uses hours/minutes formatting.
// Upstream: displayGatewayStats.
// Downstream: time.Duration math.
func formatUptimeLine(uptime time.Duration) string {
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	return fmt.Sprintf("Uptime: %02d:%02d", hours, minutes)
}

// Purpose: Convert bytes to megabytes (MB).
// Key aspects: Uses base-2 MB.
// Upstream: formatMemoryLine and maybeStartHeapLogger.
// Downstream: float math.
func bytesToMB(b uint64) float64 {
	return float64(b) / (1024.0 * 1024.0)
}

// maybeStartHeapLogger starts periodic heap logging when
// CAMGATE_HEAP_LOG_INTERVAL is set (e.g., "60s"). Defaults to disabled when
// the variable is empty or invalid.
// Purpose: Optionally start a periodic heap profile logger.
// Key aspects: Controlled by environment variables.
// Upstream: main startup.
// Downstream: runtime.ReadMemStats and time.NewTicker.
func maybeStartHeapLogger() {
	intervalStr := strings.TrimSpace(os.Getenv("CAMGATE_HEAP_LOG_INTERVAL"))
	if intervalStr == "" {
		return
	}
	interval, err := time.ParseDuration(intervalStr)
	if err != nil || interval <= 0 {
		log.Printf("Heap logger disabled (invalid CAMGATE_HEAP_LOG_INTERVAL=%q)", intervalStr)
		return
	}
	ticker := time.NewTicker(interval)
	// Purpose: Emit periodic heap stats to the log.
	// Key aspects: Runs on ticker cadence until process exit.
	// Upstream: maybeStartHeapLogger.
	// Downstream: runtime.ReadMemStats and log.Printf.
	go func() {
		log.Printf("Heap logger enabled (every %s)", interval)
		for range ticker.C {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			log.Printf("Heap: alloc=%.1f MB sys=%.1f MB objects=%d gc=%d next_gc=%.1f MB",
				bytesToMB(m.HeapAlloc),
				bytesToMB(m.Sys),
				m.HeapObjects,
				m.NumGC,
				bytesToMB(m.NextGC))
		}
	}()
}

// maybeStartDiagServer exposes /debug/pprof/* and /debug/heapdump when
// CAMGATE_PPROF_ADDR is set (example: CAMGATE_PPROF_ADDR=localhost:6061).
// Default is off.
// Purpose: Optionally start the pprof/diagnostic HTTP server.
// Key aspects: Reads env vars and starts http server in background.
// Upstream: main startup.
// Downstream: http.ListenAndServe and net/http/pprof.
func maybeStartDiagServer() {
	addr := strings.TrimSpace(os.Getenv("CAMGATE_PPROF_ADDR"))
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	// Purpose: Serve a heap dump endpoint that writes a pprof file to disk.
	// Key aspects: Creates diagnostics dir, forces GC, and writes heap profile.
	// Upstream: HTTP /debug/heapdump request.
	// Downstream: os.MkdirAll, os.Create, pprof.WriteHeapProfile.
	mux.HandleFunc("/debug/heapdump", func(w http.ResponseWriter, r *http.Request) {
		ts := time.Now().UTC().Format("2006-01-02T15-04-05Z")
		dir := filepath.Join("data", "diagnostics")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			http.Error(w, fmt.Sprintf("mkdir diagnostics: %v", err), http.StatusInternalServerError)
			return
		}
		path := filepath.Join(dir, fmt.Sprintf("heap-%s.pprof", ts))
		f, err := os.Create(path)
		if err != nil {
			http.Error(w, fmt.Sprintf("create heap dump: %v", err), http.StatusInternalServerError)
			return
		}
		defer f.Close()
		runtime.GC() // collect latest data
		if err := pprof.WriteHeapProfile(f); err != nil {
			http.Error(w, fmt.Sprintf("write heap profile: %v", err), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "heap profile written to %s\n", path)
	})
	mux.Handle("/debug/pprof/", http.HandlerFunc(httppprof.Index))
	mux.Handle("/debug/pprof/cmdline", http.HandlerFunc(httppprof.Cmdline))
	mux.Handle("/debug/pprof/profile", http.HandlerFunc(httppprof.Profile))
	mux.Handle("/debug/pprof/symbol", http.HandlerFunc(httppprof.Symbol))
	mux.Handle("/debug/pprof/trace", http.HandlerFunc(httppprof.Trace))

	// Purpose: Run the diagnostics HTTP server.
	// Key aspects: Logs startup and reports server errors.
	// Upstream: maybeStartDiagServer.
	// Downstream: http.ListenAndServe.
	go func() {
		log.Printf("Diagnostics server listening on %s (pprof + /debug/heapdump)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Diagnostics server error: %v", err)
		}
	}()
}
