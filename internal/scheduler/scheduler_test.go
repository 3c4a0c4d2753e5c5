package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/eidon/internal/capture"
	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/exclusion"
)

// gradient returns a PNG whose brightness rises (or falls) left to right.
func gradient(t *testing.T, rising bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 90, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 90; x++ {
			v := uint8(x * 2)
			if !rising {
				v = uint8(178 - x*2)
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeCapturer struct {
	mu     sync.Mutex
	frames []*capture.Frame
	err    error
	calls  int
	block  chan struct{}
}

func (f *fakeCapturer) Name() string    { return "fake" }
func (f *fakeCapturer) Available() bool { return true }

func (f *fakeCapturer) Capture(ctx context.Context) (*capture.Frame, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.frames) == 0 {
		return nil, fmt.Errorf("no frames queued")
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	return fr, nil
}

func (f *fakeCapturer) queue(img []byte, app string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, &capture.Frame{
		Image:     img,
		Timestamp: time.Now(),
		Window:    capture.Window{AppName: app, Title: app + " window"},
	})
}

func (f *fakeCapturer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	entries []*entry.Entry
	err     error
}

func (s *fakeStore) Put(ctx context.Context, e *entry.Entry, blob []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	e.ID = fmt.Sprintf("E%d", len(s.entries)+1)
	s.entries = append(s.entries, e)
	return e.ID, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type fakeIdle struct {
	mu  sync.Mutex
	dur time.Duration
}

func (f *fakeIdle) IdleFor(ctx context.Context) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dur, nil
}

type fixture struct {
	s     *Scheduler
	cap   *fakeCapturer
	store *fakeStore
	idle  *fakeIdle
	rules *exclusion.Registry
}

func setup(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{
		cap:   &fakeCapturer{},
		store: &fakeStore{},
		idle:  &fakeIdle{},
		rules: exclusion.NewRegistry(),
	}
	f.s = New(Deps{
		Capturer: f.cap,
		Idle:     f.idle,
		Rules:    f.rules,
		Store:    f.store,
		Self:     capture.SelfFilter{AppNames: []string{"Eidon"}},
		Config:   config.NewHolder("", cfg),
	})
	return f
}

func TestNew_StartState(t *testing.T) {
	f := setup(t, nil)
	assert.Equal(t, StateActive, f.s.Status().State)

	f = setup(t, func(c *config.Config) { c.Capture.CaptureOnStartup = false })
	assert.Equal(t, StatePaused, f.s.Status().State)
}

func TestSetActive_Idempotent(t *testing.T) {
	f := setup(t, nil)
	events, cancel := f.s.Subscribe()
	defer cancel()

	f.s.SetActive(false)
	f.s.SetActive(false)
	f.s.SetActive(true)
	f.s.SetActive(true)

	var got []State
	for len(events) > 0 {
		got = append(got, (<-events).State)
	}
	assert.Equal(t, []State{StatePaused, StateActive}, got)
}

func TestToggle_ConcurrentDoubleInvocation(t *testing.T) {
	f := setup(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.s.SetActive(false)
		}()
	}
	wg.Wait()
	assert.Equal(t, StatePaused, f.s.Status().State)
}

func TestCaptureNow_KeepsAndSkipsDuplicates(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	up, down := gradient(t, true), gradient(t, false)

	f.cap.queue(up, "Editor")
	f.cap.queue(up, "Editor")
	f.cap.queue(down, "Editor")

	res, err := f.s.CaptureNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeKept, res.Outcome)
	assert.Equal(t, "E1", res.EntryID)
	assert.Nil(t, res.Similarity)

	res, err = f.s.CaptureNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	require.NotNil(t, res.Similarity)
	assert.Equal(t, 1.0, *res.Similarity)

	res, err = f.s.CaptureNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeKept, res.Outcome)

	st := f.s.Status()
	assert.Equal(t, 2, st.CaptureCount)
	assert.NotNil(t, st.LastCapture)
	assert.Equal(t, 2, f.store.count())
}

func TestCaptureNow_SkipSimilarDisabled(t *testing.T) {
	f := setup(t, func(c *config.Config) { c.Capture.SkipSimilarScreens = false })
	up := gradient(t, true)
	f.cap.queue(up, "Editor")
	f.cap.queue(up, "Editor")

	for i := 0; i < 2; i++ {
		res, err := f.s.CaptureNow(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeKept, res.Outcome)
	}
}

func TestCaptureNow_SelfCaptureDoesNotUpdateLastKept(t *testing.T) {
	f := setup(t, nil)
	up := gradient(t, true)
	f.cap.queue(up, "Eidon")
	f.cap.queue(up, "Editor")

	res, err := f.s.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSelf, res.Outcome)

	// Same pixels from another app are still the first kept frame.
	res, err = f.s.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeKept, res.Outcome)
}

func TestCaptureNow_SelfCaptureAllowedWhenDisabled(t *testing.T) {
	f := setup(t, func(c *config.Config) { c.Capture.PreventSelfCapture = false })
	f.cap.queue(gradient(t, true), "Eidon")

	res, err := f.s.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeKept, res.Outcome)
}

func TestCaptureNow_Excluded(t *testing.T) {
	f := setup(t, nil)
	rule, err := exclusion.NewRule(exclusion.KindApplication, "1Password", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, f.rules.Replace([]exclusion.Rule{*rule}))

	f.cap.queue(gradient(t, true), "1Password")
	res, err := f.s.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExcluded, res.Outcome)
	assert.Equal(t, rule.ID, res.RuleID)
	assert.Zero(t, f.store.count())
}

func TestCaptureNow_StorageFull(t *testing.T) {
	f := setup(t, nil)
	f.store.err = errors.NewStorageFull(10, 20)
	up := gradient(t, true)
	f.cap.queue(up, "Editor")
	f.cap.queue(up, "Editor")

	res, err := f.s.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeStorageFull, res.Outcome)
	assert.Equal(t, StateActive, f.s.Status().State)

	// The rejected frame did not become the comparison baseline.
	f.store.err = nil
	res, err = f.s.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeKept, res.Outcome)
}

func TestCaptureFailure_MovesToErrorAndRetries(t *testing.T) {
	f := setup(t, nil)
	f.cap.err = fmt.Errorf("permission denied")

	_, err := f.s.CaptureNow(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCaptureFailed))

	st := f.s.Status()
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Error, "permission denied")

	st = f.s.SetActive(true)
	assert.Equal(t, StateActive, st.State)
	assert.Empty(t, st.Error)
}

func TestTick_IdleTransitions(t *testing.T) {
	f := setup(t, func(c *config.Config) { c.Capture.IdleThresholdSeconds = 60 })
	f.idle.dur = 5 * time.Minute
	f.cap.queue(gradient(t, true), "Editor")

	f.s.tick(context.Background())
	assert.Equal(t, StateIdle, f.s.Status().State)
	assert.Zero(t, f.cap.callCount())

	f.idle.mu.Lock()
	f.idle.dur = 0
	f.idle.mu.Unlock()
	f.s.tick(context.Background())
	assert.Equal(t, StateActive, f.s.Status().State)
	assert.Equal(t, 1, f.store.count())
}

func TestTick_IdleIgnoredWhenPauseWhenIdleOff(t *testing.T) {
	f := setup(t, func(c *config.Config) {
		c.Capture.PauseWhenIdle = false
		c.Capture.IdleThresholdSeconds = 60
	})
	f.idle.dur = time.Hour
	f.cap.queue(gradient(t, true), "Editor")

	f.s.tick(context.Background())
	assert.Equal(t, StateActive, f.s.Status().State)
	assert.Equal(t, 1, f.store.count())
}

func TestTick_PausedDoesNotCapture(t *testing.T) {
	f := setup(t, nil)
	f.s.SetActive(false)
	f.s.tick(context.Background())
	assert.Zero(t, f.cap.callCount())
}

func TestTick_DroppedWhileCaptureInFlight(t *testing.T) {
	f := setup(t, nil)
	f.cap.block = make(chan struct{})
	f.cap.queue(gradient(t, true), "Editor")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.s.CaptureNow(context.Background())
	}()

	// Wait until the manual capture holds the lock.
	require.Eventually(t, func() bool {
		if f.s.captureMu.TryLock() {
			f.s.captureMu.Unlock()
			return false
		}
		return true
	}, time.Second, time.Millisecond)

	f.s.tick(context.Background())
	close(f.cap.block)
	<-done

	assert.Equal(t, 1, f.cap.callCount())
	assert.Equal(t, 1, f.store.count())
}

func TestRun_CapturesOnInterval(t *testing.T) {
	f := setup(t, func(c *config.Config) { c.Capture.IntervalSeconds = 1 })
	f.cap.queue(gradient(t, true), "Editor")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	require.Eventually(t, func() bool { return f.store.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
