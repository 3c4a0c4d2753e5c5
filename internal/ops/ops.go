package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/exclusion"
	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/scheduler"
	"github.com/hpungsan/eidon/internal/search"
	"github.com/hpungsan/eidon/internal/storage"
)

// Limits
const (
	DefaultTimelineLimit = 2000
	MaxSearchLimit       = 500
	DefaultArchiveLimit  = 100
)

// CaptureController is the capture scheduler as seen by the operations.
// In the daemon it is the scheduler itself; elsewhere it is an HTTP client.
type CaptureController interface {
	Status(ctx context.Context) (scheduler.Status, error)
	SetActive(ctx context.Context, active bool) (scheduler.Status, error)
	CaptureNow(ctx context.Context) (scheduler.Result, error)
}

// Services bundles what the operations need.
type Services struct {
	DB      *sql.DB
	BaseDir string
	Config  *config.Holder
	Rules   *exclusion.Registry
	Storage *storage.Manager
	Index   *search.Index
	Capture CaptureController // nil when no daemon is reachable
	Log     *logger.Logger

	// OnSettingsChanged runs after a settings update is published.
	OnSettingsChanged func(config.Snapshot)
}

// LocalCapture adapts an in-process scheduler to CaptureController.
type LocalCapture struct {
	S *scheduler.Scheduler
}

// Status implements CaptureController.
func (l LocalCapture) Status(ctx context.Context) (scheduler.Status, error) {
	return l.S.Status(), nil
}

// SetActive implements CaptureController.
func (l LocalCapture) SetActive(ctx context.Context, active bool) (scheduler.Status, error) {
	return l.S.SetActive(active), nil
}

// CaptureNow implements CaptureController.
func (l LocalCapture) CaptureNow(ctx context.Context) (scheduler.Result, error) {
	return l.S.CaptureNow(ctx)
}

// log returns the services logger or a discarding one.
func (s *Services) log() *logger.Logger {
	if s.Log == nil {
		return logger.Discard()
	}
	return s.Log
}

// bumpRevision records that rules or settings changed. Failure only delays
// pickup by a running daemon, so it is logged, not returned.
func (s *Services) bumpRevision(ctx context.Context) {
	if err := db.BumpRevision(ctx, s.DB); err != nil {
		s.log().Warning("bump revision: %v", err)
	}
}
