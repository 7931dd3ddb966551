// ABOUTME: Free-running render loop for visualizer backends
// ABOUTME: Samples the signal buffer and current artwork every tick
package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"github.com/Resonate-Protocol/resonate-vis/pkg/artwork"
)

// DefaultFPS is the default refresh rate
const DefaultFPS = 60

// ErrStopped is returned by Start and Switch once the scheduler is stopped
var ErrStopped = errors.New("scheduler stopped")

// AssetSource provides the artwork visible for the current track
type AssetSource interface {
	Assets() *artwork.Assets
}

// Config holds scheduler configuration
type Config struct {
	Surface Surface
	Buffer  *analysis.Buffer
	Assets  AssetSource // optional

	// DisplaySize reports the current output size; it is queried every
	// tick. Nil keeps the surface at its current size.
	DisplaySize func() (width, height int)

	FPS      int       // defaults to DefaultFPS
	Registry *Registry // defaults to DefaultRegistry()
}

// Stats tracks render loop metrics
type Stats struct {
	Frames   uint64
	Errors   uint64
	Resizes  uint64
	Switches uint64
}

// handle is one running loop
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler drives the active backend at a fixed rate. Exactly one
// backend exists at a time; switching stops the loop and releases the
// outgoing backend before the incoming one is created.
type Scheduler struct {
	config Config

	mu      sync.Mutex
	name    string
	backend Backend
	handle  *handle
	stopped bool

	frames   atomic.Uint64
	errors   atomic.Uint64
	resizes  atomic.Uint64
	switches atomic.Uint64
}

// NewScheduler creates a scheduler; nothing runs until Start
func NewScheduler(config Config) *Scheduler {
	if config.FPS <= 0 {
		config.FPS = DefaultFPS
	}
	if config.Registry == nil {
		config.Registry = DefaultRegistry()
	}
	if config.Buffer == nil {
		config.Buffer = analysis.NewBuffer()
	}
	return &Scheduler{config: config}
}

// Start runs the named backend, replacing any running one
func (s *Scheduler) Start(name string) error {
	return s.Switch(name)
}

// Switch replaces the running backend. On error the previous backend is
// already released and nothing runs.
func (s *Scheduler) Switch(name string) error {
	if s.config.Surface == nil {
		return fmt.Errorf("no surface configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	prev := s.name
	s.stopLocked()

	backend, err := s.config.Registry.New(name, s.config.Surface)
	if err != nil {
		return err
	}

	s.name = name
	s.backend = backend
	if prev != "" {
		s.switches.Add(1)
		log.Printf("Visualizer: %s -> %s", prev, name)
	} else {
		log.Printf("Visualizer: %s", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	s.handle = h

	go s.loop(ctx, h, backend)
	return nil
}

// Stop halts the loop and releases the backend. The scheduler cannot be
// restarted afterwards. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stopLocked()
}

// stopLocked cancels the loop, waits for the in-flight frame and then
// releases the backend
func (s *Scheduler) stopLocked() {
	if s.handle != nil {
		s.handle.cancel()
		<-s.handle.done
		s.handle = nil
	}
	if s.backend != nil {
		s.backend.Release()
		s.backend = nil
	}
	s.name = ""
}

// Active returns the running backend name, or "" when stopped
func (s *Scheduler) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Surface returns the surface the scheduler renders into
func (s *Scheduler) Surface() Surface {
	return s.config.Surface
}

// Registry returns the backend registry
func (s *Scheduler) Registry() *Registry {
	return s.config.Registry
}

// Stats returns render loop metrics
func (s *Scheduler) Stats() Stats {
	return Stats{
		Frames:   s.frames.Load(),
		Errors:   s.errors.Load(),
		Resizes:  s.resizes.Load(),
		Switches: s.switches.Load(),
	}
}

func (s *Scheduler) loop(ctx context.Context, h *handle, backend Backend) {
	defer close(h.done)

	ticker := time.NewTicker(time.Second / time.Duration(s.config.FPS))
	defer ticker.Stop()

	start := time.Now()
	var tick uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			s.renderFrame(backend, tick, time.Since(start))
		}
	}
}

// renderFrame runs one cycle: resize, sample, render, present
func (s *Scheduler) renderFrame(backend Backend, tick uint64, elapsed time.Duration) {
	surface := s.config.Surface

	if s.config.DisplaySize != nil {
		w, h := s.config.DisplaySize()
		cw, ch := surface.Size()
		if w > 0 && h > 0 && (w != cw || h != ch) {
			if err := surface.Resize(w, h); err != nil {
				s.fail("resize", err)
				return
			}
			s.resizes.Add(1)
		}
	}

	in := Input{
		Frame:   s.config.Buffer.Load(),
		Tick:    tick,
		Elapsed: elapsed,
	}
	if s.config.Assets != nil {
		in.Assets = s.config.Assets.Assets()
	}
	if in.Assets == nil {
		in.Assets = &artwork.Assets{}
	}

	if err := backend.Render(in); err != nil {
		s.fail("render", err)
		return
	}
	if err := surface.Present(); err != nil {
		s.fail("present", err)
		return
	}
	s.frames.Add(1)
}

func (s *Scheduler) fail(stage string, err error) {
	n := s.errors.Add(1)
	logEvery(n, 100, "Render %s failed (%d total): %v", stage, n, err)
}

// logEvery logs the first occurrence and then every nth
func logEvery(n uint64, every uint64, format string, args ...interface{}) {
	if n == 1 || n%every == 0 {
		log.Printf(format, args...)
	}
}
