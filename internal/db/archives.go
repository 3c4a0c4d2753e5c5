package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
)

const archiveColumns = `id, period, size_bytes, capture_count, compressed, created_at`

// InsertArchive stores a new, empty archive.
func InsertArchive(ctx context.Context, q Querier, a *entry.Archive) error {
	_, err := q.ExecContext(ctx, `INSERT INTO archives (`+archiveColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Period, a.SizeBytes, a.CaptureCount, a.Compressed, toMillis(a.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("archive already exists for period " + a.Period)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetArchive retrieves an archive by id.
func GetArchive(ctx context.Context, q Querier, id string) (*entry.Archive, error) {
	row := q.QueryRowContext(ctx, `SELECT `+archiveColumns+` FROM archives WHERE id = ?`, id)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("archive", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// GetArchiveByPeriod retrieves the archive for a "YYYY-MM" period.
func GetArchiveByPeriod(ctx context.Context, q Querier, period string) (*entry.Archive, error) {
	row := q.QueryRowContext(ctx, `SELECT `+archiveColumns+` FROM archives WHERE period = ?`, period)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("archive", period)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return a, nil
}

// ListArchives returns all archives, newest period first.
func ListArchives(ctx context.Context, q Querier) ([]entry.Archive, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+archiveColumns+` FROM archives ORDER BY period DESC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []entry.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// AdjustArchive adds deltas to an archive's aggregates.
func AdjustArchive(ctx context.Context, q Querier, id string, sizeDelta int64, countDelta int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE archives
		SET size_bytes = size_bytes + ?, capture_count = capture_count + ?
		WHERE id = ?
	`, sizeDelta, countDelta, id)
	return expectOne(result, err, "archive", id)
}

// RefreshArchiveCompressed sets compressed iff the archive has members and all are compressed.
func RefreshArchiveCompressed(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `
		UPDATE archives
		SET compressed = (
			capture_count > 0 AND NOT EXISTS (
				SELECT 1 FROM entries WHERE archive_id = archives.id AND compressed = 0
			)
		)
		WHERE id = ?
	`, id)
	return expectOne(result, err, "archive", id)
}

// DeleteArchiveRow removes an archive row. Members must already be gone.
func DeleteArchiveRow(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM archives WHERE id = ?`, id)
	return expectOne(result, err, "archive", id)
}

// scanArchive scans a single row into an Archive struct.
func scanArchive(row rowScanner) (*entry.Archive, error) {
	var (
		a         entry.Archive
		createdAt int64
	)
	if err := row.Scan(&a.ID, &a.Period, &a.SizeBytes, &a.CaptureCount, &a.Compressed, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}
