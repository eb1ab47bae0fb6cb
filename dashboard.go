package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"camgate/config"
)

// dashboard renders the console layout when a compatible terminal is
// available. It shows stats plus three scrolling panes (capture outcomes,
// inference results, device session events) and one system log pane.
type dashboard struct {
	app          *tview.Application
	statsView    *tview.TextView
	captureView  *tview.TextView
	inferView    *tview.TextView
	deviceView   *tview.TextView
	systemView   *tview.TextView
	captureLines []string
	inferLines   []string
	deviceLines  []string
	systemLines  []string
	captureMax   int
	inferMax     int
	deviceMax    int
	systemMax    int
	paneMu       sync.Mutex
	statsMu      sync.Mutex
	events       chan paneEvent
	quit         chan struct{}
	stopOnce     sync.Once
	closed       atomic.Bool
	ready        chan struct{}
}

type paneType int

const (
	paneCapture paneType = iota
	paneInference
	paneDevice
	paneSystem
)

type paneEvent struct {
	pane paneType
	line string
}

func paneHeight(lines int) int {
	if lines < 1 {
		return 1
	}
	return lines
}

func newDashboard(uiCfg config.UIConfig, enable bool) *dashboard {
	if !enable {
		return nil
	}

	makePane := func(title string) *tview.TextView {
		tv := tview.NewTextView().
			SetDynamicColors(true).
			SetWrap(false)
		if title != "" {
			tv.SetTitle(title).SetTitleAlign(tview.AlignLeft)
		}
		return tv
	}

	stats := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	stats.SetTextColor(tcell.ColorYellow)
	capturePane := makePane("Captures")
	inferPane := makePane("Inference")
	devicePane := makePane("Device")
	systemPane := makePane("System")
	systemPane.SetTextColor(tcell.ColorYellow)

	statsRows := paneHeight(uiCfg.PaneLines.Stats)
	captureRows := paneHeight(uiCfg.PaneLines.Captures)
	inferRows := paneHeight(uiCfg.PaneLines.Inference)
	deviceRows := paneHeight(uiCfg.PaneLines.Device)
	systemRows := paneHeight(uiCfg.PaneLines.System)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(stats, statsRows, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(capturePane, captureRows, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(inferPane, inferRows, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(devicePane, deviceRows, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(systemPane, systemRows, 0, false)

	app := tview.NewApplication().SetRoot(layout, true).EnableMouse(false)
	ready := make(chan struct{})
	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(ready) })
		return false
	})
	d := &dashboard{
		app:         app,
		statsView:   stats,
		captureView: capturePane,
		inferView:   inferPane,
		deviceView:  devicePane,
		systemView:  systemPane,
		captureMax:  captureRows,
		inferMax:    inferRows,
		deviceMax:   deviceRows,
		systemMax:   systemRows,
		events:      make(chan paneEvent, 256),
		quit:        make(chan struct{}),
		ready:       ready,
	}

	// Dedicated flusher so the hot path can drop instead of blocking when the UI lags.
	go d.runEventLoop()

	go func() {
		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
		}
	}()

	return d
}

func (d *dashboard) Stop() {
	if d == nil || d.app == nil {
		return
	}
	d.closed.Store(true)
	d.stopOnce.Do(func() { close(d.quit) })
	d.app.Stop()
}

func (d *dashboard) WaitReady() {
	if d == nil || d.ready == nil {
		return
	}
	<-d.ready
}

func (d *dashboard) SetStats(lines []string) {
	if d == nil || d.closed.Load() {
		return
	}
	d.statsMu.Lock()
	text := strings.Join(lines, "\n")
	d.statsMu.Unlock()
	d.app.QueueUpdateDraw(func() {
		d.statsView.SetText(text)
	})
}

func (d *dashboard) AppendCapture(line string) {
	d.enqueue(paneCapture, line)
}

func (d *dashboard) AppendInference(line string) {
	d.enqueue(paneInference, line)
}

func (d *dashboard) AppendDevice(line string) {
	d.enqueue(paneDevice, line)
}

func (d *dashboard) AppendSystem(line string) {
	d.enqueue(paneSystem, line)
}

func (d *dashboard) enqueue(p paneType, line string) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.events <- paneEvent{pane: p, line: line}:
	default:
		// Drop on saturation to keep the hot path non-blocking.
	}
}

func (d *dashboard) SystemWriter() io.Writer {
	if d == nil {
		return nil
	}
	return &paneWriter{view: d.systemView, app: d.app}
}

type paneWriter struct {
	view *tview.TextView
	app  *tview.Application
}

func (w *paneWriter) Write(p []byte) (int, error) {
	if w == nil || w.view == nil {
		return len(p), nil
	}
	text := string(p)
	if w.app == nil {
		fmt.Fprint(w.view, text)
		return len(p), nil
	}
	w.app.QueueUpdateDraw(func() {
		fmt.Fprint(w.view, text)
		w.view.ScrollToEnd()
	})
	return len(p), nil
}

func (d *dashboard) runEventLoop() {
	if d == nil {
		return
	}
	for {
		select {
		case ev := <-d.events:
			d.appendLine(ev.pane, ev.line)
		case <-d.quit:
			return
		}
	}
}

func (d *dashboard) appendLine(p paneType, line string) {
	if d == nil || d.closed.Load() {
		return
	}
	tsLine := time.Now().Format("2006/01/02 15:04:05 ") + line

	d.paneMu.Lock()
	buf := d.getPaneBuffer(p)
	view := d.getPaneView(p)
	limit := d.getPaneLimit(p)
	*buf = append(*buf, tsLine)
	if len(*buf) > limit {
		*buf = (*buf)[len(*buf)-limit:]
	}
	text := strings.Join(*buf, "\n")
	d.paneMu.Unlock()

	if view == nil || d.app == nil {
		return
	}
	d.app.QueueUpdateDraw(func() {
		view.SetText(text)
		view.ScrollToEnd()
	})
}

func (d *dashboard) getPaneBuffer(p paneType) *[]string {
	switch p {
	case paneCapture:
		return &d.captureLines
	case paneInference:
		return &d.inferLines
	case paneDevice:
		return &d.deviceLines
	default:
		return &d.systemLines
	}
}

func (d *dashboard) getPaneView(p paneType) *tview.TextView {
	switch p {
	case paneCapture:
		return d.captureView
	case paneInference:
		return d.inferView
	case paneDevice:
		return d.deviceView
	default:
		return d.systemView
	}
}

func (d *dashboard) getPaneLimit(p paneType) int {
	switch p {
	case paneCapture:
		return d.captureMax
	case paneInference:
		return d.inferMax
	case paneDevice:
		return d.deviceMax
	default:
		return d.systemMax
	}
}
