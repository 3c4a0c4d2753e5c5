package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
)

const entryColumns = `
	id, captured_at, app_name, window_title, url, extracted_text,
	screenshot_ref, tier, size_bytes, meta_bytes, archive_id, compressed,
	width, height, fingerprint`

// Filters narrows entry queries. Zero values mean "no constraint".
type Filters struct {
	// From and To are inclusive bounds on capture time
	From time.Time
	To   time.Time

	// Apps restricts to these exact app names
	Apps []string
}

// where renders the filter as a SQL fragment (starting with " AND") over alias.
func (f Filters) where(alias string) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	if !f.From.IsZero() {
		sb.WriteString(" AND " + alias + ".captured_at >= ?")
		args = append(args, toMillis(f.From))
	}
	if !f.To.IsZero() {
		sb.WriteString(" AND " + alias + ".captured_at <= ?")
		args = append(args, toMillis(f.To))
	}
	if len(f.Apps) > 0 {
		sb.WriteString(" AND " + alias + ".app_name IN (" + placeholders(len(f.Apps)) + ")")
		for _, a := range f.Apps {
			args = append(args, a)
		}
	}
	return sb.String(), args
}

// InsertEntry stores a new entry row.
func InsertEntry(ctx context.Context, q Querier, e *entry.Entry) error {
	query := `INSERT INTO entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		e.ID, toMillis(e.Timestamp), e.AppName, e.WindowTitle, e.URL, e.ExtractedText,
		e.ScreenshotRef, string(e.Tier), e.SizeBytes, e.MetaBytes, toNullString(e.ArchiveID), e.Compressed,
		e.Width, e.Height, int64(e.Fingerprint),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("entry already exists: " + e.ID)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetEntry retrieves an entry by its ULID.
func GetEntry(ctx context.Context, q Querier, id string) (*entry.Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("entry", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return e, nil
}

// GetEntries retrieves the entries with the given ids. Missing ids are skipped.
func GetEntries(ctx context.Context, q Querier, ids []string) (map[string]entry.Entry, error) {
	out := make(map[string]entry.Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	list, err := queryEntries(ctx, q, `SELECT `+entryColumns+` FROM entries WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		out[e.ID] = e
	}
	return out, nil
}

// DeleteEntryRow removes an entry row (its embedding cascades).
func DeleteEntryRow(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("entry", id)
	}
	return nil
}

// ListEntries returns entries matching f in chronological order (id breaks ties).
// limit <= 0 means no limit.
func ListEntries(ctx context.Context, q Querier, f Filters, limit int) ([]entry.Entry, error) {
	where, args := f.where("e")
	query := `SELECT ` + prefixed("e", entryColumns) + ` FROM entries e WHERE 1=1` + where +
		` ORDER BY e.captured_at ASC, e.id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return queryEntries(ctx, q, query, args...)
}

// ListEntriesBefore returns up to limit entries captured strictly before cutoff,
// oldest first. An empty tier matches both tiers.
func ListEntriesBefore(ctx context.Context, q Querier, tier entry.Tier, cutoff time.Time, limit int) ([]entry.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE captured_at < ?`
	args := []any{toMillis(cutoff)}
	if tier != "" {
		query += " AND tier = ?"
		args = append(args, string(tier))
	}
	query += " ORDER BY captured_at ASC, id ASC LIMIT ?"
	args = append(args, limit)
	return queryEntries(ctx, q, query, args...)
}

// ListArchiveEntries returns the members of an archive. With onlyUncompressed,
// already-compressed members are skipped.
func ListArchiveEntries(ctx context.Context, q Querier, archiveID string, onlyUncompressed bool) ([]entry.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE archive_id = ?`
	if onlyUncompressed {
		query += " AND compressed = 0"
	}
	query += " ORDER BY captured_at ASC, id ASC"
	return queryEntries(ctx, q, query, archiveID)
}

// MoveToArchive marks an entry cold and records its new blob location.
func MoveToArchive(ctx context.Context, q Querier, id, archiveID, ref string, size int64, compressed bool) error {
	result, err := q.ExecContext(ctx, `
		UPDATE entries
		SET tier = 'cold', archive_id = ?, screenshot_ref = ?, size_bytes = ?, compressed = ?
		WHERE id = ? AND tier = 'hot'
	`, archiveID, ref, size, compressed, id)
	return expectOne(result, err, "entry", id)
}

// SetEntryBlob updates a cold entry's blob after (re)compression.
func SetEntryBlob(ctx context.Context, q Querier, id, ref string, size int64, compressed bool) error {
	result, err := q.ExecContext(ctx, `
		UPDATE entries SET screenshot_ref = ?, size_bytes = ?, compressed = ?
		WHERE id = ?
	`, ref, size, compressed, id)
	return expectOne(result, err, "entry", id)
}

// ListScreenshotRefs returns every blob path referenced by an entry.
func ListScreenshotRefs(ctx context.Context, q Querier) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT screenshot_ref FROM entries`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, errors.NewInternal(err)
		}
		refs[ref] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return refs, nil
}

// EntryBounds returns the oldest and newest capture times (zero when empty).
func EntryBounds(ctx context.Context, q Querier) (oldest, newest time.Time, err error) {
	var lo, hi sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MIN(captured_at), MAX(captured_at) FROM entries`).Scan(&lo, &hi); err != nil {
		return time.Time{}, time.Time{}, errors.NewInternal(err)
	}
	if lo.Valid {
		oldest = fromMillis(lo.Int64)
	}
	if hi.Valid {
		newest = fromMillis(hi.Int64)
	}
	return oldest, newest, nil
}

// TierTotals sums entries per tier. Used to cross-check the usage counters.
type TierTotals struct {
	HotBytes  int64
	ColdBytes int64
	MetaBytes int64
	Count     int
}

// SumEntries aggregates sizes straight from the entries table.
func SumEntries(ctx context.Context, q Querier) (TierTotals, error) {
	var t TierTotals
	err := q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN tier = 'hot' THEN size_bytes ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN tier = 'cold' THEN size_bytes ELSE 0 END), 0),
			COALESCE(SUM(meta_bytes), 0),
			COUNT(*)
		FROM entries
	`).Scan(&t.HotBytes, &t.ColdBytes, &t.MetaBytes, &t.Count)
	if err != nil {
		return t, errors.NewInternal(err)
	}
	return t, nil
}

// ListAppNames returns distinct app names, most recently seen first.
func ListAppNames(ctx context.Context, q Querier, limit int) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT app_name FROM entries
		WHERE app_name != ''
		GROUP BY app_name
		ORDER BY MAX(captured_at) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var apps []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, errors.NewInternal(err)
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return apps, nil
}

func queryEntries(ctx context.Context, q Querier, query string, args ...any) ([]entry.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry scans a single row into an Entry struct.
func scanEntry(row rowScanner) (*entry.Entry, error) {
	var (
		e           entry.Entry
		capturedAt  int64
		tier        string
		archiveID   sql.NullString
		fingerprint int64
	)

	err := row.Scan(
		&e.ID, &capturedAt, &e.AppName, &e.WindowTitle, &e.URL, &e.ExtractedText,
		&e.ScreenshotRef, &tier, &e.SizeBytes, &e.MetaBytes, &archiveID, &e.Compressed,
		&e.Width, &e.Height, &fingerprint,
	)
	if err != nil {
		return nil, err
	}

	e.Timestamp = fromMillis(capturedAt)
	e.Tier = entry.Tier(tier)
	e.ArchiveID = archiveID.String
	e.Fingerprint = uint64(fingerprint)
	return &e, nil
}
