// Package storage persists capture blobs and metadata and runs the
// hot/cold tiering, retention and compression lifecycle.
package storage

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"time"

	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/logger"
)

// sweepBatch is how many entries a sweep loads per query.
const sweepBatch = 200

// Manager owns the blob store and the entry/archive metadata.
//
// Every mutation commits its metadata change and usage counter update in a
// single transaction. Blob files are written before the commit and removed
// after it, so an interrupted step can only leave an orphan file behind,
// never a row without its blob. Reconcile removes such orphans.
type Manager struct {
	db    *sql.DB
	blobs *Blobs
	cfg   *config.Holder
	log   *logger.Logger

	// now is replaceable for tests.
	now func() time.Time

	// writeMu serializes metadata writers so quota checks see committed usage.
	writeMu sync.Mutex

	// maintMu allows one sweep or archive operation at a time.
	maintMu sync.Mutex
}

// NewManager creates a Manager storing blobs under dataDir.
func NewManager(database *sql.DB, dataDir string, cfg *config.Holder, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		db:    database,
		blobs: NewBlobs(dataDir),
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Blobs exposes the underlying blob store.
func (m *Manager) Blobs() *Blobs {
	return m.blobs
}

// Put persists blob to the hot tier and records e. It assigns e.ID (when
// empty), ScreenshotRef, Tier, SizeBytes and MetaBytes.
//
// Returns StorageFull if the projected usage would exceed the configured
// maximum. Nothing is written in that case.
func (m *Manager) Put(ctx context.Context, e *entry.Entry, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", errors.NewInvalidRequest("screenshot is empty")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.ID == "" {
		e.ID = entry.NewID(e.Timestamp)
	}
	e.AppName = entry.Normalize(e.AppName)
	e.WindowTitle = entry.Normalize(e.WindowTitle)
	e.URL = entry.Normalize(e.URL)
	e.Tier = entry.TierHot
	e.ArchiveID = ""
	e.Compressed = false
	e.ScreenshotRef = HotRef(e.ID, e.Timestamp)
	e.SizeBytes = int64(len(blob))
	e.MetaBytes = entry.EstimateMetaBytes(e)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	usage, err := db.GetUsage(ctx, m.db)
	if err != nil {
		return "", err
	}
	limit := m.cfg.Current().Storage.MaxStorageSizeBytes
	projected := usage.Used() + e.SizeBytes + e.MetaBytes
	if limit > 0 && projected > limit {
		return "", errors.NewStorageFull(limit, projected)
	}

	if _, err := m.blobs.Write(e.ScreenshotRef, blob); err != nil {
		return "", errors.NewInternal(err)
	}

	err = db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		if err := db.InsertEntry(ctx, tx, e); err != nil {
			return err
		}
		return db.AdjustUsage(ctx, tx, db.Usage{
			HotBytes:     e.SizeBytes,
			DBBytes:      e.MetaBytes,
			CaptureCount: 1,
		})
	})
	if err != nil {
		_ = m.blobs.Remove(e.ScreenshotRef)
		return "", err
	}
	return e.ID, nil
}

// Get returns an entry's metadata.
func (m *Manager) Get(ctx context.Context, id string) (*entry.Entry, error) {
	return db.GetEntry(ctx, m.db, id)
}

// OpenBlob returns the original image bytes for an entry, decompressing cold blobs.
func (m *Manager) OpenBlob(ctx context.Context, id string) ([]byte, *entry.Entry, error) {
	e, err := db.GetEntry(ctx, m.db, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := m.blobs.Read(e.ScreenshotRef)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, e, errors.NewFileNotFound(e.ScreenshotRef)
		}
		return nil, e, errors.NewInternal(err)
	}
	return data, e, nil
}

// DeleteEntry permanently removes one entry and its blob.
func (m *Manager) DeleteEntry(ctx context.Context, id string) error {
	_, _, err := m.removeEntry(ctx, id)
	return err
}

// removeEntry deletes an entry in one transaction, keeping its archive and the
// usage counters consistent, then removes the blob. The row is read inside
// the transaction, so a concurrent sweep or compression that moved the entry
// is accounted for. It returns the removed row and whether the containing
// archive was deleted because it became empty.
func (m *Manager) removeEntry(ctx context.Context, id string) (removed *entry.Entry, archiveDeleted bool, err error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	err = db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		e, err := db.GetEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := db.DeleteEntryRow(ctx, tx, e.ID); err != nil {
			return err
		}
		delta := db.Usage{DBBytes: -e.MetaBytes, CaptureCount: -1}
		if e.IsCold() {
			delta.ColdBytes = -e.SizeBytes
		} else {
			delta.HotBytes = -e.SizeBytes
		}
		if err := db.AdjustUsage(ctx, tx, delta); err != nil {
			return err
		}
		removed = e
		if !e.IsCold() {
			return nil
		}

		if err := db.AdjustArchive(ctx, tx, e.ArchiveID, -e.SizeBytes, -1); err != nil {
			return err
		}
		a, err := db.GetArchive(ctx, tx, e.ArchiveID)
		if err != nil {
			return err
		}
		if a.CaptureCount <= 0 {
			archiveDeleted = true
			return db.DeleteArchiveRow(ctx, tx, a.ID)
		}
		return db.RefreshArchiveCompressed(ctx, tx, a.ID)
	})
	if err != nil {
		return nil, false, err
	}

	if rmErr := m.blobs.Remove(removed.ScreenshotRef); rmErr != nil {
		m.log.Warning("remove blob %s: %v", removed.ScreenshotRef, rmErr)
	}
	return removed, archiveDeleted, nil
}

// Stats summarizes storage usage.
type Stats struct {
	MaxBytes     int64
	UsedBytes    int64
	HotBytes     int64
	ColdBytes    int64
	DBBytes      int64
	CaptureCount int
	ArchiveCount int
	Oldest       time.Time
	Newest       time.Time
}

// Stats returns the usage counters and corpus bounds from one snapshot.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return s, errors.NewInternal(err)
	}
	defer tx.Rollback()

	u, err := db.GetUsage(ctx, tx)
	if err != nil {
		return s, err
	}
	archives, err := db.ListArchives(ctx, tx)
	if err != nil {
		return s, err
	}
	oldest, newest, err := db.EntryBounds(ctx, tx)
	if err != nil {
		return s, err
	}

	s = Stats{
		MaxBytes:     m.cfg.Current().Storage.MaxStorageSizeBytes,
		UsedBytes:    u.Used(),
		HotBytes:     u.HotBytes,
		ColdBytes:    u.ColdBytes,
		DBBytes:      u.DBBytes,
		CaptureCount: u.CaptureCount,
		ArchiveCount: len(archives),
		Oldest:       oldest,
		Newest:       newest,
	}
	return s, nil
}

// ListArchives returns all archives, newest period first.
func (m *Manager) ListArchives(ctx context.Context) ([]entry.Archive, error) {
	return db.ListArchives(ctx, m.db)
}
