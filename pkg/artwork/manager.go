// ABOUTME: Track artwork manager with shared cache and deferred disposal
// ABOUTME: Loads a track's images asynchronously and destroys them one generation late
package artwork

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"golang.org/x/sync/semaphore"
)

const (
	// MaxArtistImages bounds how many artist images are loaded per track
	MaxArtistImages = 10

	// DefaultConcurrency bounds simultaneous fetch+decode operations
	DefaultConcurrency = 4
)

// Asset is a decoded image and its texture, cached by reference
type Asset struct {
	Ref     string
	Image   image.Image
	Format  string
	Texture Texture
}

// Assets is the set of assets visible for the current track. Snapshots
// are immutable; a new one is published whenever the set changes.
type Assets struct {
	Key       analysis.Key
	AlbumArt  *Asset
	Artists   []*Asset // in reference order, loaded ones only
	Thumbnail *Asset
}

// All returns every asset in the set
func (a *Assets) All() []*Asset {
	if a == nil {
		return nil
	}
	var all []*Asset
	if a.AlbumArt != nil {
		all = append(all, a.AlbumArt)
	}
	all = append(all, a.Artists...)
	if a.Thumbnail != nil {
		all = append(all, a.Thumbnail)
	}
	return all
}

// Len returns the number of assets in the set
func (a *Assets) Len() int {
	return len(a.All())
}

// ManagerConfig configures a Manager
type ManagerConfig struct {
	Source      Source
	Uploader    Uploader // defaults to RGBAUploader
	Concurrency int64    // defaults to DefaultConcurrency

	// OnChange is called after a new snapshot is published, either from
	// Update or from the manager goroutine when a load completes
	OnChange func(*Assets)
}

// ManagerStats contains load and lifecycle counters
type ManagerStats struct {
	Loads     uint64
	Failures  uint64
	Destroyed uint64
	Cached    int
	Active    int
	Stale     int
	Pending   int
}

// entry is a cache slot; refs counts the generations holding it
type entry struct {
	asset *Asset
	refs  int
}

// loadResult is the outcome of one fetch+decode
type loadResult struct {
	ref    string
	img    image.Image
	format string
	err    error
}

// wanted is the reference list of the current track, by role
type wanted struct {
	album   string
	artists []string
	thumb   string
}

func (w wanted) contains(ref string) bool {
	if ref == "" {
		return false
	}
	if ref == w.album || ref == w.thumb {
		return true
	}
	for _, r := range w.artists {
		if r == ref {
			return true
		}
	}
	return false
}

func (w wanted) refs() []string {
	var refs []string
	if w.album != "" {
		refs = append(refs, w.album)
	}
	refs = append(refs, w.artists...)
	if w.thumb != "" {
		refs = append(refs, w.thumb)
	}
	return refs
}

// Manager owns every decoded asset. The active set belongs to the current
// track; the stale set holds the previous generation until the next
// identity change, when it is destroyed.
type Manager struct {
	source   Source
	uploader Uploader
	sem      *semaphore.Weighted
	onChange func(*Assets)

	mu      sync.Mutex
	key     analysis.Key
	hasKey  bool
	want    wanted
	cache   map[string]*entry
	active  map[string]bool
	stale   []string // one hold per element
	pending map[string]bool
	closed  bool

	snapshot atomic.Pointer[Assets]
	results  chan loadResult

	loads     atomic.Uint64
	failures  atomic.Uint64
	destroyed atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	done     chan struct{}
	disposal sync.Once
}

// NewManager creates a manager and starts its completion loop
func NewManager(config ManagerConfig) *Manager {
	if config.Uploader == nil {
		config.Uploader = RGBAUploader{}
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		source:   config.Source,
		uploader: config.Uploader,
		sem:      semaphore.NewWeighted(config.Concurrency),
		onChange: config.OnChange,
		cache:    make(map[string]*entry),
		active:   make(map[string]bool),
		pending:  make(map[string]bool),
		results:  make(chan loadResult),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.snapshot.Store(&Assets{})

	go m.run()
	return m
}

// Update points the manager at a track. A new identity moves the active
// set to stale and destroys the previous stale generation. The same
// identity re-evaluates the references and loads only new ones.
func (m *Manager) Update(track analysis.Track) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	key := track.Key()
	want := wantedFor(track)
	if !m.hasKey || key != m.key {
		m.rotateLocked(m.holdCachedLocked(want))
		m.key = key
		m.hasKey = true
	}

	m.want = want

	// References dropped by enrichment leave the active set
	for ref := range m.active {
		if !m.want.contains(ref) {
			delete(m.active, ref)
			m.stale = append(m.stale, ref)
		}
	}

	for _, ref := range m.want.refs() {
		if m.active[ref] {
			continue
		}
		if e, ok := m.cache[ref]; ok {
			e.refs++
			m.active[ref] = true
			continue
		}
		if !m.pending[ref] {
			m.pending[ref] = true
			m.startLoad(ref)
		}
	}

	snap := m.publishLocked()
	m.mu.Unlock()

	m.notify(snap)
}

// holdCachedLocked takes a hold on every cached asset in want, so an
// asset the incoming track reuses survives the stale release
func (m *Manager) holdCachedLocked(want wanted) map[string]bool {
	held := make(map[string]bool)
	for _, ref := range want.refs() {
		if e, ok := m.cache[ref]; ok && !held[ref] {
			e.refs++
			held[ref] = true
		}
	}
	return held
}

// rotateLocked destroys the previous stale generation, stales the active
// set and makes next the new active set
func (m *Manager) rotateLocked(next map[string]bool) {
	for _, ref := range m.stale {
		m.releaseLocked(ref)
	}
	m.stale = m.stale[:0]

	for ref := range m.active {
		m.stale = append(m.stale, ref)
	}
	m.active = next
}

// releaseLocked drops one hold on ref, destroying it at zero
func (m *Manager) releaseLocked(ref string) {
	e, ok := m.cache[ref]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(m.cache, ref)
	if e.asset.Texture != nil {
		e.asset.Texture.Destroy()
	}
	m.destroyed.Add(1)
}

// wantedFor lists a track's image references, artist images bounded
func wantedFor(track analysis.Track) wanted {
	var w wanted
	if track.AlbumArtRef != nil {
		w.album = *track.AlbumArtRef
	}
	if track.ThumbnailRef != nil && *track.ThumbnailRef != w.album {
		w.thumb = *track.ThumbnailRef
	}

	seen := map[string]bool{w.album: true, w.thumb: true}
	for _, ref := range track.ArtistImageRefs {
		if len(w.artists) == MaxArtistImages {
			break
		}
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		w.artists = append(w.artists, ref)
	}
	return w
}

// startLoad fetches and decodes ref in the background; the result is
// delivered to the run loop
func (m *Manager) startLoad(ref string) {
	m.loads.Add(1)
	m.workers.Add(1)

	go func() {
		defer m.workers.Done()

		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			return
		}
		res := m.load(ref)
		m.sem.Release(1)

		select {
		case m.results <- res:
		case <-m.ctx.Done():
		}
	}()
}

func (m *Manager) load(ref string) loadResult {
	if m.source == nil {
		return loadResult{ref: ref, err: fmt.Errorf("no image source configured")}
	}

	data, err := m.source.Fetch(m.ctx, ref)
	if err != nil {
		return loadResult{ref: ref, err: err}
	}

	img, format, err := Decode(data)
	if err != nil {
		return loadResult{ref: ref, err: err}
	}
	return loadResult{ref: ref, img: img, format: format}
}

// run applies load results until disposal
func (m *Manager) run() {
	defer close(m.done)

	for {
		select {
		case res := <-m.results:
			m.apply(res)
		case <-m.ctx.Done():
			return
		}
	}
}

// apply registers a completed load. A completion the current track no
// longer references is cached under the stale generation so a later track
// can reuse it, but it is not exposed.
func (m *Manager) apply(res loadResult) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.pending, res.ref)

	if res.err != nil {
		m.mu.Unlock()
		m.failures.Add(1)
		log.Printf("Skipping image %s: %v", shortRef(res.ref), res.err)
		return
	}

	tex, err := m.uploader.Upload(res.img)
	if err != nil {
		m.mu.Unlock()
		m.failures.Add(1)
		log.Printf("Skipping image %s: upload failed: %v", shortRef(res.ref), err)
		return
	}

	e := &entry{
		asset: &Asset{Ref: res.ref, Image: res.img, Format: res.format, Texture: tex},
		refs:  1,
	}
	m.cache[res.ref] = e

	if !m.want.contains(res.ref) {
		m.stale = append(m.stale, res.ref)
		m.mu.Unlock()
		return
	}

	m.active[res.ref] = true
	snap := m.publishLocked()
	m.mu.Unlock()

	m.notify(snap)
}

// publishLocked builds and stores a snapshot of the active set
func (m *Manager) publishLocked() *Assets {
	snap := &Assets{Key: m.key}

	lookup := func(ref string) *Asset {
		if ref == "" || !m.active[ref] {
			return nil
		}
		return m.cache[ref].asset
	}

	snap.AlbumArt = lookup(m.want.album)
	for _, ref := range m.want.artists {
		if a := lookup(ref); a != nil {
			snap.Artists = append(snap.Artists, a)
		}
	}
	snap.Thumbnail = lookup(m.want.thumb)

	m.snapshot.Store(snap)
	return snap
}

func (m *Manager) notify(snap *Assets) {
	if m.onChange != nil {
		m.onChange(snap)
	}
}

// Assets returns the current track's loaded assets. Never nil.
func (m *Manager) Assets() *Assets {
	return m.snapshot.Load()
}

// Textures returns the textures of every asset visible for the current track
func (m *Manager) Textures() []Texture {
	var out []Texture
	for _, a := range m.Assets().All() {
		if a.Texture != nil {
			out = append(out, a.Texture)
		}
	}
	return out
}

// Stats returns load and lifecycle counters
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ManagerStats{
		Loads:     m.loads.Load(),
		Failures:  m.failures.Load(),
		Destroyed: m.destroyed.Load(),
		Cached:    len(m.cache),
		Active:    len(m.active),
		Stale:     len(m.stale),
		Pending:   len(m.pending),
	}
}

// Dispose destroys every asset in the active and stale sets and the cache.
// In-flight loads are abandoned. Safe to call more than once.
func (m *Manager) Dispose() {
	m.disposal.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.cancel()
		m.workers.Wait()
		<-m.done

		m.mu.Lock()
		for ref, e := range m.cache {
			if e.asset.Texture != nil {
				e.asset.Texture.Destroy()
			}
			m.destroyed.Add(1)
			delete(m.cache, ref)
		}
		m.active = make(map[string]bool)
		m.stale = nil
		m.pending = make(map[string]bool)
		m.snapshot.Store(&Assets{})
		m.mu.Unlock()

		log.Printf("Artwork manager disposed")
	})
}

func shortRef(ref string) string {
	if len(ref) > 64 {
		return ref[:64] + "..."
	}
	return ref
}
