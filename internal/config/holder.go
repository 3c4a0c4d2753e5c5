package config

import (
	"sync"
	"sync/atomic"
)

// Snapshot is one immutable, versioned view of the settings.
type Snapshot struct {
	Version uint64
	Config  *Config
}

// Holder publishes settings snapshots to concurrent readers.
// Readers never block; writers are serialized and replace the whole snapshot.
type Holder struct {
	path string

	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
}

// NewHolder wraps cfg as version 1. If path is non-empty, updates are persisted there.
func NewHolder(path string, cfg *Config) *Holder {
	h := &Holder{path: path}
	h.cur.Store(&Snapshot{Version: 1, Config: cfg.Clone()})
	return h
}

// Current returns the active settings. Callers must not mutate the result.
func (h *Holder) Current() *Config {
	return h.cur.Load().Config
}

// Snapshot returns the active settings together with their version.
func (h *Holder) Snapshot() Snapshot {
	return *h.cur.Load()
}

// Update applies fn to a copy of the current settings, validates it, persists it,
// and publishes it as the next version. On any error the current snapshot is kept.
func (h *Holder) Update(fn func(*Config) error) (Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.cur.Load()
	next := prev.Config.Clone()
	if err := fn(next); err != nil {
		return *prev, err
	}
	next.normalize()
	if err := next.Validate(); err != nil {
		return *prev, err
	}
	if h.path != "" {
		if err := Save(h.path, next); err != nil {
			return *prev, err
		}
	}

	snap := &Snapshot{Version: prev.Version + 1, Config: next}
	h.cur.Store(snap)
	return *snap, nil
}

// Replace publishes cfg as the next version without persisting it. Used when
// another process has already saved the file.
func (h *Holder) Replace(cfg *Config) (Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := cfg.Clone()
	next.normalize()
	if err := next.Validate(); err != nil {
		return *h.cur.Load(), err
	}
	snap := &Snapshot{Version: h.cur.Load().Version + 1, Config: next}
	h.cur.Store(snap)
	return *snap, nil
}

// Path returns the file updates are persisted to ("" for none).
func (h *Holder) Path() string {
	return h.path
}
