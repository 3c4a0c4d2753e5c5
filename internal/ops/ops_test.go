package ops

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/exclusion"
	"github.com/hpungsan/eidon/internal/scheduler"
	"github.com/hpungsan/eidon/internal/search"
	"github.com/hpungsan/eidon/internal/storage"
)

// fakeCapture records calls made through CaptureController.
type fakeCapture struct {
	status   scheduler.Status
	captures int
}

func (f *fakeCapture) Status(ctx context.Context) (scheduler.Status, error) {
	return f.status, nil
}

func (f *fakeCapture) SetActive(ctx context.Context, active bool) (scheduler.Status, error) {
	if active {
		f.status.State = scheduler.StateActive
	} else {
		f.status.State = scheduler.StatePaused
	}
	return f.status, nil
}

func (f *fakeCapture) CaptureNow(ctx context.Context) (scheduler.Result, error) {
	f.captures++
	f.status.CaptureCount++
	return scheduler.Result{Outcome: scheduler.OutcomeKept, EntryID: "01TESTCAPTURE"}, nil
}

func newServices(t *testing.T, mutate func(*config.Config)) *Services {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Init(dir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = config.ProviderNone
	if mutate != nil {
		mutate(cfg)
	}
	holder := config.NewHolder(filepath.Join(dir, "config.json"), cfg)

	return &Services{
		DB:      database,
		BaseDir: dir,
		Config:  holder,
		Rules:   exclusion.NewRegistry(),
		Storage: storage.NewManager(database, dir, holder, nil),
		Index:   search.NewIndex(database, holder, nil, nil),
		Capture: &fakeCapture{status: scheduler.Status{State: scheduler.StatePaused}},
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 8)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func putEntry(t *testing.T, svc *Services, at time.Time, app, title, text string) *entry.Entry {
	t.Helper()
	e := &entry.Entry{Timestamp: at, AppName: app, WindowTitle: title, ExtractedText: text}
	_, err := svc.Storage.Put(context.Background(), e, testPNG(t))
	require.NoError(t, err)
	return e
}

func revision(t *testing.T, svc *Services) string {
	t.Helper()
	v, _, err := db.GetMeta(context.Background(), svc.DB, db.MetaRevision)
	require.NoError(t, err)
	return v
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
