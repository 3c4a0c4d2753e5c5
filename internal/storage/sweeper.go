package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// MaintenanceResult combines one retention and one archival pass.
type MaintenanceResult struct {
	Retention SweepResult `json:"retention"`
	Archival  SweepResult `json:"archival"`
}

// Summary is a one-line description for logs and the UI.
func (r MaintenanceResult) Summary() string {
	freed := max(r.Retention.FreedBytes+r.Archival.FreedBytes, 0)
	return fmt.Sprintf("deleted %d, archived %d, freed %s",
		r.Retention.Deleted+r.Archival.Deleted, r.Archival.Archived, humanize.IBytes(uint64(freed)))
}

// Maintain runs the retention sweep, then the archival sweep.
// Retention goes first so expiring entries are not archived only to be deleted.
func (m *Manager) Maintain(ctx context.Context, now time.Time) (MaintenanceResult, error) {
	var res MaintenanceResult
	var err error
	if res.Retention, err = m.RunRetentionSweep(ctx, now); err != nil {
		return res, err
	}
	if res.Archival, err = m.RunArchivalSweep(ctx, now); err != nil {
		return res, err
	}
	return res, nil
}

// Sweeper runs Maintain on its own timer, independent of capture.
type Sweeper struct {
	m    *Manager
	wake chan struct{}
}

// NewSweeper creates a Sweeper for m.
func NewSweeper(m *Manager) *Sweeper {
	return &Sweeper{m: m, wake: make(chan struct{}, 1)}
}

// Wake makes the sweeper re-read its interval.
func (s *Sweeper) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sweeper) interval() time.Duration {
	mins := s.m.cfg.Current().Storage.SweepIntervalMinutes
	if mins < 1 {
		mins = 1
	}
	return time.Duration(mins) * time.Minute
}

// Run sweeps once at start and then every sweep_interval_minutes until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep(ctx)

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
			s.sweep(ctx)
			timer.Reset(s.interval())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.m.Maintain(ctx, s.m.now())
	if err != nil {
		if ctx.Err() == nil {
			s.m.log.Warning("storage sweep: %v", err)
		}
		return
	}
	if res.Retention.Deleted > 0 || res.Archival.Archived > 0 {
		s.m.log.Info("storage sweep: deleted %d, archived %d (%d new archives)",
			res.Retention.Deleted, res.Archival.Archived, res.Archival.ArchivesCreated)
	}
}
