package storage

import (
	"context"
	"database/sql"
	"io/fs"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/db"
)

// orphanGrace protects blobs written by an in-flight Put from being reaped.
const orphanGrace = 5 * time.Minute

// ReconcileResult reports what Reconcile repaired.
type ReconcileResult struct {
	OrphansRemoved   int   `json:"orphans_removed"`
	OrphanBytes      int64 `json:"orphan_bytes"`
	CountersRepaired bool  `json:"counters_repaired"`
}

// Reconcile removes blob files no entry references and rebuilds the usage
// counters from the entries table when they have drifted.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	if err := m.lockMaintenance(); err != nil {
		return res, err
	}
	defer m.maintMu.Unlock()

	refs, err := db.ListScreenshotRefs(ctx, m.db)
	if err != nil {
		return res, err
	}
	cutoff := m.now().Add(-orphanGrace)

	var orphans []string
	err = m.blobs.Walk(func(ref string, info fs.FileInfo) error {
		if refs[ref] || info.ModTime().After(cutoff) {
			return nil
		}
		// Temp files from an interrupted Write are orphans too.
		if strings.HasSuffix(ref, ".png") || IsCompressedRef(ref) || strings.Contains(ref, "/.blob-") {
			orphans = append(orphans, ref)
			res.OrphanBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	for _, ref := range orphans {
		if err := m.blobs.Remove(ref); err != nil {
			m.log.Warning("remove orphan %s: %v", ref, err)
			continue
		}
		res.OrphansRemoved++
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	err = db.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		totals, err := db.SumEntries(ctx, tx)
		if err != nil {
			return err
		}
		want := db.Usage{
			HotBytes:     totals.HotBytes,
			ColdBytes:    totals.ColdBytes,
			DBBytes:      totals.MetaBytes,
			CaptureCount: totals.Count,
		}
		have, err := db.GetUsage(ctx, tx)
		if err != nil {
			return err
		}
		if have == want {
			return nil
		}
		res.CountersRepaired = true
		return db.ResetUsage(ctx, tx, want)
	})
	if err != nil {
		return res, err
	}
	if res.OrphansRemoved > 0 || res.CountersRepaired {
		m.log.Info("reconcile: removed %d orphan blobs, counters repaired=%t", res.OrphansRemoved, res.CountersRepaired)
	}
	return res, nil
}
