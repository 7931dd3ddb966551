// ABOUTME: Prometheus metrics for the stream client, artwork manager and renderer
// ABOUTME: Collectors read each component's Stats() at scrape time
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Resonate-Protocol/resonate-vis/pkg/artwork"
	"github.com/Resonate-Protocol/resonate-vis/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-vis/pkg/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resonate_vis"

// StreamSource is the stream client as seen by the collectors
type StreamSource interface {
	Stats() protocol.ClientStats
	State() protocol.State
}

// ArtworkSource is the artwork manager as seen by the collectors
type ArtworkSource interface {
	Stats() artwork.ManagerStats
}

// RenderSource is the render scheduler as seen by the collectors
type RenderSource interface {
	Stats() render.Stats
}

// Sources are the components to export; nil ones are skipped
type Sources struct {
	Stream  StreamSource
	Artwork ArtworkSource
	Render  RenderSource
}

// NewRegistry creates a registry with collectors for every source
func NewRegistry(src Sources) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := Register(reg, src); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds collectors for every non-nil source to reg
func Register(reg prometheus.Registerer, src Sources) error {
	var collectors []prometheus.Collector

	if s := src.Stream; s != nil {
		collectors = append(collectors,
			counter("stream", "connection_attempts_total", "Connection attempts to the analysis stream.",
				func() uint64 { return s.Stats().Attempts }),
			counter("stream", "connects_total", "Successful connections to the analysis stream.",
				func() uint64 { return s.Stats().Connects }),
			counter("stream", "disconnects_total", "Transport closes and errors.",
				func() uint64 { return s.Stats().Disconnects }),
			counter("stream", "frames_total", "Analysis frames written to the signal buffer.",
				func() uint64 { return s.Stats().Frames }),
			counter("stream", "malformed_frames_total", "Frames dropped because they failed to parse.",
				func() uint64 { return s.Stats().Malformed }),
			counter("stream", "track_changes_total", "Track-change notifications emitted.",
				func() uint64 { return s.Stats().TrackChanges }),
			gauge("stream", "pending_reconnects", "Scheduled reconnect attempts.",
				func() float64 { return float64(s.Stats().PendingReconnects) }),
			gauge("stream", "connected", "1 while the analysis stream is connected.",
				func() float64 {
					if s.State() == protocol.Connected {
						return 1
					}
					return 0
				}),
		)
	}

	if a := src.Artwork; a != nil {
		collectors = append(collectors,
			counter("artwork", "loads_total", "Image loads started.",
				func() uint64 { return a.Stats().Loads }),
			counter("artwork", "failures_total", "Image loads skipped after a fetch, decode or upload error.",
				func() uint64 { return a.Stats().Failures }),
			counter("artwork", "destroyed_total", "Assets destroyed.",
				func() uint64 { return a.Stats().Destroyed }),
			gauge("artwork", "cached", "Assets in the cache.",
				func() float64 { return float64(a.Stats().Cached) }),
			gauge("artwork", "active", "Assets held by the current track.",
				func() float64 { return float64(a.Stats().Active) }),
			gauge("artwork", "stale", "Assets awaiting deferred destruction.",
				func() float64 { return float64(a.Stats().Stale) }),
			gauge("artwork", "pending", "Image loads in flight.",
				func() float64 { return float64(a.Stats().Pending) }),
		)
	}

	if r := src.Render; r != nil {
		collectors = append(collectors,
			counter("render", "frames_total", "Frames rendered and presented.",
				func() uint64 { return r.Stats().Frames }),
			counter("render", "errors_total", "Frames that failed to resize, render or present.",
				func() uint64 { return r.Stats().Errors }),
			counter("render", "resizes_total", "Surface resizes.",
				func() uint64 { return r.Stats().Resizes }),
			counter("render", "switches_total", "Visualizer backend switches.",
				func() uint64 { return r.Stats().Switches }),
		)
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

func counter(subsystem, name, help string, fn func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) })
}

func gauge(subsystem, name, help string, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
