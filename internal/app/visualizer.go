// ABOUTME: Main visualizer application orchestration
// ABOUTME: Coordinates the stream client, artwork, renderer, history, UI and outputs
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Resonate-Protocol/resonate-vis/internal/config"
	"github.com/Resonate-Protocol/resonate-vis/internal/discovery"
	"github.com/Resonate-Protocol/resonate-vis/internal/metrics"
	"github.com/Resonate-Protocol/resonate-vis/internal/publish"
	"github.com/Resonate-Protocol/resonate-vis/internal/ui"
	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"github.com/Resonate-Protocol/resonate-vis/pkg/artwork"
	"github.com/Resonate-Protocol/resonate-vis/pkg/history"
	"github.com/Resonate-Protocol/resonate-vis/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-vis/pkg/render"
)

const statusInterval = 500 * time.Millisecond

// UI is the terminal front end as seen by the app
type UI interface {
	Send(msg tea.Msg)
	VisualSize() (cols, rows int)
}

// Visualizer represents the main application
type Visualizer struct {
	config   *config.Config
	ui       UI
	controls *ui.Controls

	buffer    *analysis.Buffer
	client    *protocol.Client
	fetcher   *artwork.Fetcher
	assets    *artwork.Manager
	scheduler *render.Scheduler
	history   *history.Watcher
	publisher *publish.Publisher
	metrics   *prometheus.Registry

	historyCh chan int
	publishCh chan analysis.Track
	unsub     func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates the application. frontend and controls are nil when the TUI
// is disabled, in which case frames go to an offscreen canvas.
func New(cfg *config.Config, frontend UI, controls *ui.Controls) (*Visualizer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	v := &Visualizer{
		config:    cfg,
		ui:        frontend,
		controls:  controls,
		buffer:    analysis.NewBuffer(),
		historyCh: make(chan int, 1),
		publishCh: make(chan analysis.Track, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	fetcher, err := artwork.NewFetcher(cfg.Artwork.CacheDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create artwork fetcher: %w", err)
	}
	v.fetcher = fetcher

	v.assets = artwork.NewManager(artwork.ManagerConfig{
		Source:      fetcher,
		Uploader:    artwork.RGBAUploader{MaxSize: cfg.Artwork.MaxTextureSize},
		Concurrency: int64(cfg.Artwork.Concurrency),
	})

	v.scheduler = render.NewScheduler(v.renderConfig())

	if cfg.History.Enabled {
		v.history = history.NewWatcher(history.NewClient(cfg.History.URL), func(entries []history.Entry) {
			v.send(ui.HistoryMsg{Entries: entries})
		})
	}

	if cfg.MQTT.Broker != "" {
		v.publisher = publish.New(publish.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		})
	}

	return v, nil
}

// renderConfig picks the surface: the TUI's text panel when there is one,
// otherwise an offscreen canvas with optional PNG snapshots
func (v *Visualizer) renderConfig() render.Config {
	rc := render.Config{
		Buffer: v.buffer,
		Assets: v.assets,
		FPS:    v.config.Render.FPS,
	}

	if v.ui != nil {
		cols, rows := v.ui.VisualSize()
		rc.Surface = render.NewTextSurface(cols, rows, func(view string) {
			v.ui.Send(ui.FrameMsg{View: view})
		})
		rc.DisplaySize = v.ui.VisualSize
		return rc
	}

	var sink render.PresentFunc
	if v.config.Render.Snapshot != "" {
		sink = render.PNGSink(v.config.Render.Snapshot, v.config.Render.SnapshotInterval)
	}
	rc.Surface = render.NewCanvas(v.config.Render.Width, v.config.Render.Height, sink)
	return rc
}

// Start resolves the server, starts every component and begins connecting
func (v *Visualizer) Start() error {
	addr, err := v.resolveServer()
	if err != nil {
		return err
	}

	v.client = protocol.NewClient(protocol.Config{
		ServerAddr:     addr,
		ReconnectDelay: v.config.Server.ReconnectDelay,
		ConnectTimeout: v.config.Server.ConnectTimeout,
		OnStateChange:  v.onStateChange,
	}, v.buffer)

	reg, err := metrics.NewRegistry(metrics.Sources{
		Stream:  v.client,
		Artwork: v.assets,
		Render:  v.scheduler,
	})
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	v.metrics = reg

	if err := v.scheduler.Start(v.initialVisualizer()); err != nil {
		return fmt.Errorf("failed to start visualizer: %w", err)
	}

	if v.history != nil {
		v.spawn(func() { v.history.Run(v.ctx, v.historyCh) })
		// Show what was playing before we connected
		v.offerHistory(0)
	}

	if v.publisher != nil {
		if err := v.publisher.Connect(v.ctx); err != nil {
			log.Printf("MQTT disabled: %v", err)
			v.publisher = nil
		} else {
			v.spawn(func() { v.publisher.Run(v.ctx, v.publishCh) })
		}
	}

	tracks, unsub := v.client.Subscribe()
	v.unsub = unsub
	v.spawn(func() { v.consumeTracks(tracks) })

	if addr := v.config.Metrics.Addr; addr != "" {
		v.spawn(func() {
			if err := metrics.Serve(v.ctx, addr, v.metrics); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		})
	}

	if v.ui != nil {
		v.spawn(v.statusLoop)
	}
	if v.controls != nil {
		v.spawn(v.handleControls)
	}

	v.client.Connect()
	return nil
}

// resolveServer returns the configured address or browses mDNS for one
func (v *Visualizer) resolveServer() (string, error) {
	if v.config.Server.Addr != "" {
		return v.config.Server.Addr, nil
	}

	log.Printf("Starting server discovery...")
	disc := discovery.NewManager(discovery.Config{Timeout: v.config.Server.DiscoveryTimeout})
	defer disc.Stop()

	server, err := disc.Discover(v.ctx)
	if err != nil {
		return "", fmt.Errorf("server discovery failed: %w", err)
	}
	log.Printf("Discovered server at %s", server.URL())
	return server.URL(), nil
}

// initialVisualizer returns the configured backend or the surface default
func (v *Visualizer) initialVisualizer() string {
	if name := v.config.Render.Visualizer; name != "" {
		return name
	}
	if v.scheduler.Surface().Kind() == render.KindText {
		return "spectrum"
	}
	return "bars"
}

// consumeTracks fans each track change out to the interested components
func (v *Visualizer) consumeTracks(tracks <-chan analysis.Track) {
	for t := range tracks {
		log.Printf("Now playing: %s - %s (source: %s, enrichment v%d)",
			t.Artist, t.Title, sourceLabel(t.Source), t.EnrichmentVersion)

		v.assets.Update(t)
		v.send(ui.TrackMsg{Track: t})

		if v.history != nil {
			v.offerHistory(t.HistoryVersion)
		}
		if v.publisher != nil {
			offer(v.publishCh, t)
		}
		if v.config.Render.Auto {
			v.followPreferred(t)
		}
	}
}

// followPreferred switches to the track's preferred backend when it suits
// the surface
func (v *Visualizer) followPreferred(t analysis.Track) {
	name := t.PreferredVisualizer
	if name == "" || name == v.scheduler.Active() {
		return
	}
	if !v.scheduler.Registry().Compatible(name, v.scheduler.Surface().Kind()) {
		return
	}
	if err := v.scheduler.Switch(name); err != nil && !errors.Is(err, render.ErrStopped) {
		log.Printf("Failed to switch to preferred visualizer %s: %v", name, err)
	}
}

// NextVisualizer cycles to the next backend for the surface
func (v *Visualizer) NextVisualizer() error {
	kind := v.scheduler.Surface().Kind()
	next := v.scheduler.Registry().Next(v.scheduler.Active(), kind)
	if next == "" {
		return fmt.Errorf("no %s visualizers registered", kind)
	}
	return v.scheduler.Switch(next)
}

// handleControls processes key actions from the TUI
func (v *Visualizer) handleControls() {
	for {
		select {
		case action := <-v.controls.Actions:
			switch action {
			case ui.ActionNextVisualizer:
				if err := v.NextVisualizer(); err != nil && !errors.Is(err, render.ErrStopped) {
					log.Printf("Visualizer switch failed: %v", err)
				}
			case ui.ActionReconnect:
				log.Printf("Manual reconnect requested")
				v.client.Connect()
			case ui.ActionQuit:
				return
			}
		case <-v.ctx.Done():
			return
		}
	}
}

func (v *Visualizer) onStateChange(s protocol.State) {
	log.Printf("Stream %s", s)
	v.send(ui.StatusMsg{State: s, Server: v.client.URL(), Visualizer: v.scheduler.Active()})
}

// statusLoop periodically updates the TUI with counters
func (v *Visualizer) statusLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := v.DebugStats()
			v.send(ui.StatusMsg{
				State:      v.client.State(),
				Server:     v.client.URL(),
				Visualizer: v.scheduler.Active(),
				Stats:      &stats,
			})
		case <-v.ctx.Done():
			return
		}
	}
}

// DebugStats collects the counters shown in the debug panel
func (v *Visualizer) DebugStats() ui.DebugStats {
	cs := v.client.Stats()
	rs := v.scheduler.Stats()
	as := v.assets.Stats()
	return ui.DebugStats{
		Frames:       cs.Frames,
		Malformed:    cs.Malformed,
		TrackChanges: cs.TrackChanges,
		Reconnects:   cs.PendingReconnects,
		Rendered:     rs.Frames,
		RenderErrors: rs.Errors,
		AssetsActive: as.Active,
		AssetsStale:  as.Stale,
		AssetsQueued: as.Pending,
	}
}

// Metrics returns the registry exported on the metrics endpoint
func (v *Visualizer) Metrics() *prometheus.Registry {
	return v.metrics
}

// Client returns the stream client; nil before Start
func (v *Visualizer) Client() *protocol.Client {
	return v.client
}

// Scheduler returns the render scheduler
func (v *Visualizer) Scheduler() *render.Scheduler {
	return v.scheduler
}

// Assets returns the artwork manager
func (v *Visualizer) Assets() *artwork.Manager {
	return v.assets
}

// Stop shuts every component down. Safe to call repeatedly.
func (v *Visualizer) Stop() {
	v.once.Do(func() {
		v.cancel()

		v.scheduler.Stop()
		if v.client != nil {
			v.client.Close()
		}
		if v.unsub != nil {
			v.unsub()
		}
		v.wg.Wait()

		v.assets.Dispose()
		if v.publisher != nil {
			v.publisher.Disconnect()
		}
	})
}

func (v *Visualizer) spawn(fn func()) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		fn()
	}()
}

func (v *Visualizer) send(msg tea.Msg) {
	if v.ui != nil {
		v.ui.Send(msg)
	}
}

func (v *Visualizer) offerHistory(version int) {
	offer(v.historyCh, version)
}

// offer replaces whatever is waiting in a one-slot channel, so the reader
// always sees the latest value
func offer[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func sourceLabel(s analysis.DetectionSource) string {
	if s == analysis.SourceUnknown {
		return "unknown"
	}
	return string(s)
}
