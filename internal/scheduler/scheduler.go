// Package scheduler drives periodic screen captures through the
// self-capture, exclusion and similarity checks into storage.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/eidon/internal/capture"
	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/exclusion"
	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/ocr"
	"github.com/hpungsan/eidon/internal/similarity"
)

// State is the scheduler's capture state.
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
	StateIdle   State = "idle"
	StateError  State = "error"
)

// Status is the externally visible capture status.
type Status struct {
	State        State      `json:"status"`
	LastCapture  *time.Time `json:"last_capture,omitempty"`
	CaptureCount int        `json:"capture_count"`
	Error        string     `json:"error,omitempty"`
	Backend      string     `json:"backend"`
}

// Store persists kept frames.
type Store interface {
	Put(ctx context.Context, e *entry.Entry, blob []byte) (string, error)
}

// Indexer receives kept entries for semantic indexing.
type Indexer interface {
	IndexEntry(ctx context.Context, e *entry.Entry) error
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Capturer capture.Capturer
	Idle     capture.IdleDetector // may be nil
	Rules    *exclusion.Registry
	Filter   *similarity.Filter
	OCR      ocr.Extractor
	Store    Store
	Index    Indexer // may be nil
	Self     capture.SelfFilter
	Config   *config.Holder
	Log      *logger.Logger

	// CaptureCount and LastCapture seed the status from persisted data.
	CaptureCount int
	LastCapture  time.Time
}

// Scheduler owns the capture state machine.
type Scheduler struct {
	d   Deps
	now func() time.Time

	// captureMu admits at most one capture in flight.
	captureMu sync.Mutex

	// mu guards the fields below.
	mu           sync.Mutex
	state        State
	lastErr      string
	lastCapture  time.Time
	captureCount int
	lastKept     *similarity.Fingerprint

	wake chan struct{}
	wg   sync.WaitGroup

	subsMu sync.Mutex
	subs   map[int]chan Status
	nextID int
}

// New creates a scheduler. It starts Active when capture_on_startup is set,
// otherwise Paused.
func New(d Deps) *Scheduler {
	if d.Log == nil {
		d.Log = logger.Discard()
	}
	if d.Filter == nil {
		d.Filter = similarity.NewFilter(nil)
	}
	if d.OCR == nil {
		d.OCR = ocr.Noop{}
	}
	if d.Rules == nil {
		d.Rules = exclusion.NewRegistry()
	}
	s := &Scheduler{
		d:            d,
		now:          time.Now,
		state:        StatePaused,
		captureCount: d.CaptureCount,
		lastCapture:  d.LastCapture,
		wake:         make(chan struct{}, 1),
		subs:         make(map[int]chan Status),
	}
	if d.Config.Current().Capture.CaptureOnStartup {
		s.state = StateActive
	}
	return s
}

// Status returns the current status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Scheduler) statusLocked() Status {
	st := Status{
		State:        s.state,
		CaptureCount: s.captureCount,
		Error:        s.lastErr,
		Backend:      s.d.Capturer.Name(),
	}
	if !s.lastCapture.IsZero() {
		t := s.lastCapture
		st.LastCapture = &t
	}
	return st
}

// SetActive moves the scheduler to Active (or Paused). Repeating the same
// request is a no-op. Activating from Error clears the error and retries.
func (s *Scheduler) SetActive(active bool) Status {
	s.mu.Lock()
	prev := s.state
	switch {
	case active && (s.state == StatePaused || s.state == StateError):
		s.state = StateActive
		s.lastErr = ""
	case !active && s.state != StatePaused:
		s.state = StatePaused
		s.lastErr = ""
	}
	st := s.statusLocked()
	s.mu.Unlock()

	if st.State != prev {
		s.d.Log.Info("capture %s -> %s", prev, st.State)
		s.publish(st)
		s.Wake()
	}
	return st
}

// Wake makes the run loop re-read the interval, e.g. after a settings change.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the capture loop until ctx is cancelled. Ticks that arrive while
// a capture is still in flight are dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.interval())
		case <-timer.C:
			timer.Reset(s.interval())
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.tick(ctx)
			}()
		}
	}
}

func (s *Scheduler) interval() time.Duration {
	secs := s.d.Config.Current().Capture.IntervalSeconds
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// tick runs one scheduled attempt.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.captureMu.TryLock() {
		s.d.Log.Info("capture tick dropped: previous capture still running")
		return
	}
	defer s.captureMu.Unlock()

	s.updateIdle(ctx)

	s.mu.Lock()
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return
	}

	res, err := s.attempt(ctx)
	if err != nil {
		s.d.Log.Error("capture: %v", err)
		return
	}
	if res.Outcome != OutcomeKept {
		s.d.Log.Info("capture %s%s", res.Outcome, res.detail())
	}
}

// updateIdle applies the Active <-> Idle transitions.
func (s *Scheduler) updateIdle(ctx context.Context) {
	settings := s.d.Config.Current().Capture
	if s.d.Idle == nil {
		return
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateActive && state != StateIdle {
		return
	}

	idle, err := s.d.Idle.IdleFor(ctx)
	if err != nil {
		s.d.Log.Warning("idle detection: %v", err)
		return
	}
	threshold := time.Duration(settings.IdleThresholdSeconds) * time.Second
	isIdle := settings.PauseWhenIdle && idle >= threshold

	s.mu.Lock()
	changed := false
	switch {
	case s.state == StateActive && isIdle:
		s.state = StateIdle
		changed = true
	case s.state == StateIdle && !isIdle:
		s.state = StateActive
		changed = true
	}
	st := s.statusLocked()
	s.mu.Unlock()

	if changed {
		s.d.Log.Info("capture %s", st.State)
		s.publish(st)
	}
}

// CaptureNow takes one capture immediately, bypassing the interval but not
// the self-capture, exclusion or similarity checks. It waits for an
// in-flight scheduled capture to finish first.
func (s *Scheduler) CaptureNow(ctx context.Context) (Result, error) {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()
	return s.attempt(ctx)
}
