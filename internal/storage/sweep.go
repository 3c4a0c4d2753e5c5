package storage

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
)

const day = 24 * time.Hour

// SweepResult reports what a sweep changed.
type SweepResult struct {
	Deleted         int   `json:"deleted"`
	Archived        int   `json:"archived"`
	ArchivesCreated int   `json:"archives_created"`
	ArchivesDeleted int   `json:"archives_deleted"`
	FreedBytes      int64 `json:"freed_bytes"`
}

// lockMaintenance claims the maintenance slot or returns Conflict.
func (m *Manager) lockMaintenance() error {
	if !m.maintMu.TryLock() {
		return errors.NewConflict("storage maintenance already running")
	}
	return nil
}

// RunRetentionSweep deletes every entry captured more than
// retention_period_days before now. A zero retention keeps everything.
// Each entry is removed in its own transaction, so an interrupted sweep
// can simply be run again.
func (m *Manager) RunRetentionSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	days := m.cfg.Current().Storage.RetentionPeriodDays
	if days <= 0 {
		return res, nil
	}
	if err := m.lockMaintenance(); err != nil {
		return res, err
	}
	defer m.maintMu.Unlock()

	cutoff := now.Add(-time.Duration(days) * day)
	for {
		batch, err := db.ListEntriesBefore(ctx, m.db, "", cutoff, sweepBatch)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			return res, nil
		}
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			removed, archiveDeleted, err := m.removeEntry(ctx, batch[i].ID)
			if errors.Is(err, errors.ErrNotFound) {
				// Deleted by the user since the batch was read.
				continue
			}
			if err != nil {
				return res, err
			}
			res.Deleted++
			res.FreedBytes += removed.SizeBytes + removed.MetaBytes
			if archiveDeleted {
				res.ArchivesDeleted++
			}
		}
	}
}

// RunArchivalSweep moves every hot entry captured more than
// archive_older_than_days before now into the archive for its month,
// compressing the blob when compression_level > 0.
func (m *Manager) RunArchivalSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	settings := m.cfg.Current().Storage
	if err := m.lockMaintenance(); err != nil {
		return res, err
	}
	defer m.maintMu.Unlock()

	cutoff := now.Add(-time.Duration(settings.ArchiveOlderThanDays) * day)
	for {
		batch, err := db.ListEntriesBefore(ctx, m.db, entry.TierHot, cutoff, sweepBatch)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			return res, nil
		}
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			e := &batch[i]
			moved, created, err := m.archiveEntry(ctx, e, settings.CompressionLevel)
			if errors.Is(err, errors.ErrFileNotFound) {
				// The blob is gone; drop the row so the sweep can make progress.
				m.log.Warning("archive %s: blob missing, removing entry", e.ID)
				_, _, err := m.removeEntry(ctx, e.ID)
				if errors.Is(err, errors.ErrNotFound) {
					continue
				}
				if err != nil {
					return res, err
				}
				res.Deleted++
				continue
			}
			if err != nil {
				return res, err
			}
			if !moved {
				continue
			}
			res.Archived++
			if created {
				res.ArchivesCreated++
			}
		}
	}
}

// archiveEntry moves one hot entry into its period archive. The row is
// re-read inside the transaction; moved is false when the entry was deleted
// or is no longer hot.
func (m *Manager) archiveEntry(ctx context.Context, e *entry.Entry, level int) (moved, created bool, err error) {
	data, err := m.blobs.Read(e.ScreenshotRef)
	if os.IsNotExist(err) {
		return false, false, errors.NewFileNotFound(e.ScreenshotRef)
	}
	if err != nil {
		return false, false, errors.NewInternal(err)
	}
	compressed := level > 0
	if compressed {
		if data, err = compress(data, level); err != nil {
			return false, false, errors.NewInternal(err)
		}
	}

	period := entry.Period(e.Timestamp)
	coldRef := ColdRef(e.ID, period, compressed)
	size, err := m.blobs.Write(coldRef, data)
	if err != nil {
		return false, false, errors.NewInternal(err)
	}

	var hotRef, curRef string
	m.writeMu.Lock()
	err = db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		cur, err := db.GetEntry(ctx, tx, e.ID)
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		curRef = cur.ScreenshotRef
		if cur.IsCold() || cur.ScreenshotRef != e.ScreenshotRef {
			return nil
		}

		a, err := db.GetArchiveByPeriod(ctx, tx, period)
		if errors.Is(err, errors.ErrNotFound) {
			a = &entry.Archive{
				ID:        entry.NewID(m.now()),
				Period:    period,
				CreatedAt: m.now().UTC(),
			}
			if err := db.InsertArchive(ctx, tx, a); err != nil {
				return err
			}
			created = true
		} else if err != nil {
			return err
		}

		if err := db.MoveToArchive(ctx, tx, cur.ID, a.ID, coldRef, size, compressed); err != nil {
			return err
		}
		if err := db.AdjustArchive(ctx, tx, a.ID, size, 1); err != nil {
			return err
		}
		if err := db.AdjustUsage(ctx, tx, db.Usage{HotBytes: -cur.SizeBytes, ColdBytes: size}); err != nil {
			return err
		}
		hotRef = cur.ScreenshotRef
		return db.RefreshArchiveCompressed(ctx, tx, a.ID)
	})
	m.writeMu.Unlock()

	if err != nil || hotRef == "" {
		if coldRef != curRef {
			_ = m.blobs.Remove(coldRef)
		}
		return false, false, err
	}
	if rmErr := m.blobs.Remove(hotRef); rmErr != nil {
		m.log.Warning("remove hot blob %s: %v", hotRef, rmErr)
	}
	return true, created, nil
}
