package storage

import (
	"context"
	"database/sql"
	"os"

	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
)

// defaultCompressLevel is used by Compress when cold compression is disabled.
const defaultCompressLevel = 3

// DeleteArchiveResult reports what DeleteArchive removed.
type DeleteArchiveResult struct {
	ArchiveID  string `json:"archive_id"`
	Period     string `json:"period"`
	Entries    int    `json:"entries"`
	FreedBytes int64  `json:"freed_bytes"`
}

// DeleteArchive permanently removes an archive and all of its entries.
func (m *Manager) DeleteArchive(ctx context.Context, id string) (DeleteArchiveResult, error) {
	res := DeleteArchiveResult{ArchiveID: id}
	if err := m.lockMaintenance(); err != nil {
		return res, err
	}
	defer m.maintMu.Unlock()

	var members []entry.Entry
	m.writeMu.Lock()
	err := db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		a, err := db.GetArchive(ctx, tx, id)
		if err != nil {
			return err
		}
		res.Period = a.Period

		members, err = db.ListArchiveEntries(ctx, tx, id, false)
		if err != nil {
			return err
		}
		var delta db.Usage
		for i := range members {
			e := &members[i]
			if err := db.DeleteEntryRow(ctx, tx, e.ID); err != nil {
				return err
			}
			delta.ColdBytes -= e.SizeBytes
			delta.DBBytes -= e.MetaBytes
			delta.CaptureCount--
			res.FreedBytes += e.SizeBytes + e.MetaBytes
		}
		if err := db.AdjustUsage(ctx, tx, delta); err != nil {
			return err
		}
		return db.DeleteArchiveRow(ctx, tx, id)
	})
	m.writeMu.Unlock()
	if err != nil {
		return DeleteArchiveResult{ArchiveID: id}, err
	}

	res.Entries = len(members)
	for i := range members {
		if rmErr := m.blobs.Remove(members[i].ScreenshotRef); rmErr != nil {
			m.log.Warning("remove blob %s: %v", members[i].ScreenshotRef, rmErr)
		}
	}
	return res, nil
}

// CompressResult reports what Compress changed.
type CompressResult struct {
	ArchiveID   string `json:"archive_id"`
	Compressed  int    `json:"compressed"`
	SavedBytes  int64  `json:"saved_bytes"`
	AlreadyDone bool   `json:"already_done"`
}

// Compress zstd-compresses every uncompressed member of an archive in place.
// It is idempotent: an already compressed archive is left untouched.
func (m *Manager) Compress(ctx context.Context, id string) (CompressResult, error) {
	res := CompressResult{ArchiveID: id}
	if err := m.lockMaintenance(); err != nil {
		return res, err
	}
	defer m.maintMu.Unlock()

	if _, err := db.GetArchive(ctx, m.db, id); err != nil {
		return res, err
	}
	pending, err := db.ListArchiveEntries(ctx, m.db, id, true)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		res.AlreadyDone = true
		return res, m.refreshCompressed(ctx, id)
	}

	level := m.cfg.Current().Storage.CompressionLevel
	if level <= 0 {
		level = defaultCompressLevel
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		saved, done, err := m.compressEntry(ctx, &pending[i], level)
		if err != nil {
			return res, err
		}
		if !done {
			continue
		}
		res.Compressed++
		res.SavedBytes += saved
	}
	return res, m.refreshCompressed(ctx, id)
}

func (m *Manager) refreshCompressed(ctx context.Context, archiveID string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return db.RefreshArchiveCompressed(ctx, m.db, archiveID)
}

// compressEntry rewrites one cold blob as zstd and returns the bytes saved.
// Size deltas come from the row as read inside the transaction; an entry
// deleted or already compressed in the meantime is left alone.
func (m *Manager) compressEntry(ctx context.Context, e *entry.Entry, level int) (saved int64, done bool, err error) {
	data, err := m.blobs.Read(e.ScreenshotRef)
	if err != nil {
		if os.IsNotExist(err) {
			if _, gerr := db.GetEntry(ctx, m.db, e.ID); errors.Is(gerr, errors.ErrNotFound) {
				return 0, false, nil
			}
		}
		return 0, false, errors.NewInternal(err)
	}
	packed, err := compress(data, level)
	if err != nil {
		return 0, false, errors.NewInternal(err)
	}

	newRef := ColdRef(e.ID, entry.Period(e.Timestamp), true)
	size, err := m.blobs.Write(newRef, packed)
	if err != nil {
		return 0, false, errors.NewInternal(err)
	}

	var oldRef, curRef string
	var delta int64
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
		if !cur.IsCold() || cur.Compressed || cur.ScreenshotRef != e.ScreenshotRef {
			return nil
		}
		delta = size - cur.SizeBytes
		if err := db.SetEntryBlob(ctx, tx, cur.ID, newRef, size, true); err != nil {
			return err
		}
		if err := db.AdjustArchive(ctx, tx, cur.ArchiveID, delta, 0); err != nil {
			return err
		}
		oldRef = cur.ScreenshotRef
		return db.AdjustUsage(ctx, tx, db.Usage{ColdBytes: delta})
	})
	m.writeMu.Unlock()

	if err != nil || oldRef == "" {
		if newRef != e.ScreenshotRef && newRef != curRef {
			_ = m.blobs.Remove(newRef)
		}
		return 0, false, err
	}
	if newRef != oldRef {
		if rmErr := m.blobs.Remove(oldRef); rmErr != nil {
			m.log.Warning("remove blob %s: %v", oldRef, rmErr)
		}
	}
	return -delta, true, nil
}
