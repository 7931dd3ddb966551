// ABOUTME: Version-driven history refresh
// ABOUTME: Refetches the play history only when the backend's counter changes
package history

import (
	"context"
	"log"
	"sync"
)

// Fetcher returns the current history
type Fetcher interface {
	Recent(ctx context.Context) ([]Entry, error)
}

// Watcher caches the history list and refetches it when the history
// version carried on track metadata changes
type Watcher struct {
	fetcher  Fetcher
	onUpdate func([]Entry)

	mu      sync.Mutex
	version int
	fetched bool
	entries []Entry
	fetches int
}

// NewWatcher creates a watcher; onUpdate may be nil
func NewWatcher(fetcher Fetcher, onUpdate func([]Entry)) *Watcher {
	return &Watcher{fetcher: fetcher, onUpdate: onUpdate}
}

// Observe refetches if version differs from the last fetched version. The
// first call always fetches. A failed fetch keeps the previous list and is
// retried on the next call. Reports whether the list was refreshed.
func (w *Watcher) Observe(ctx context.Context, version int) (bool, error) {
	w.mu.Lock()
	if w.fetched && version == w.version {
		w.mu.Unlock()
		return false, nil
	}
	w.mu.Unlock()

	entries, err := w.fetcher.Recent(ctx)
	if err != nil {
		log.Printf("History refresh failed: %v", err)
		return false, err
	}

	w.mu.Lock()
	w.version = version
	w.fetched = true
	w.entries = entries
	w.fetches++
	w.mu.Unlock()

	if w.onUpdate != nil {
		w.onUpdate(entries)
	}
	return true, nil
}

// Run observes versions until ctx is done or versions is closed
func (w *Watcher) Run(ctx context.Context, versions <-chan int) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-versions:
			if !ok {
				return
			}
			w.Observe(ctx, v)
		}
	}
}

// Entries returns the cached history
func (w *Watcher) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entry(nil), w.entries...)
}

// Fetches returns how many successful fetches have happened
func (w *Watcher) Fetches() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fetches
}
