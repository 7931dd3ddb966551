// ABOUTME: Visualizer backend interface and registry
// ABOUTME: Backends are created per surface and released before a switch
package render

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"github.com/Resonate-Protocol/resonate-vis/pkg/artwork"
)

var (
	// ErrUnknownBackend is returned for a name that is not registered
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrIncompatibleSurface is returned when a backend cannot draw on a surface
	ErrIncompatibleSurface = errors.New("backend incompatible with surface")
)

// Input is everything a backend sees for one frame
type Input struct {
	Frame   *analysis.Frame  // nil until the first frame arrives
	Assets  *artwork.Assets  // never nil
	Tick    uint64
	Elapsed time.Duration // since the backend started
}

// Backend draws frames onto the surface it was created for. Render is
// only ever called from one goroutine, and never after Release.
type Backend interface {
	Render(in Input) error
	Release()
}

// Factory builds a backend bound to a surface
type Factory func(s Surface) (Backend, error)

type registration struct {
	kind    SurfaceKind
	factory Factory
}

// Registry maps backend names to factories
type Registry struct {
	mu       sync.RWMutex
	backends map[string]registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]registration)}
}

// Register adds a backend. Registering a name twice replaces it.
func (r *Registry) Register(name string, kind SurfaceKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = registration{kind: kind, factory: factory}
}

// New creates the named backend for s
func (r *Registry) New(name string, s Surface) (Backend, error) {
	r.mu.RLock()
	reg, ok := r.backends[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	if reg.kind != s.Kind() {
		return nil, fmt.Errorf("%w: %q draws on %s, surface is %s", ErrIncompatibleSurface, name, reg.kind, s.Kind())
	}
	return reg.factory(s)
}

// Compatible reports whether name exists and can draw on kind
func (r *Registry) Compatible(name string, kind SurfaceKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.backends[name]
	return ok && reg.kind == kind
}

// Names lists the backends for kind in sorted order
func (r *Registry) Names(kind SurfaceKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, reg := range r.backends {
		if reg.kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Next returns the backend after current for kind, wrapping around
func (r *Registry) Next(current string, kind SurfaceKind) string {
	names := r.Names(kind)
	if len(names) == 0 {
		return ""
	}
	for i, name := range names {
		if name == current {
			return names[(i+1)%len(names)]
		}
	}
	return names[0]
}

// DefaultRegistry returns a registry with the built-in backends
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("bars", KindCanvas, newBars)
	r.Register("waveform", KindCanvas, newWaveform)
	r.Register("radial", KindCanvas, newRadial)
	r.Register("spectrum", KindText, newSpectrum)
	r.Register("scope", KindText, newScope)
	return r
}
