package db

import (
	"context"

	"github.com/hpungsan/eidon/internal/errors"
)

// Usage is the persisted storage accounting. Used = Hot + Cold + DB always.
type Usage struct {
	HotBytes     int64
	ColdBytes    int64
	DBBytes      int64
	CaptureCount int
}

// Used returns the total accounted bytes.
func (u Usage) Used() int64 {
	return u.HotBytes + u.ColdBytes + u.DBBytes
}

// GetUsage reads the usage counters.
func GetUsage(ctx context.Context, q Querier) (Usage, error) {
	var u Usage
	err := q.QueryRowContext(ctx, `
		SELECT hot_bytes, cold_bytes, db_bytes, capture_count FROM storage_usage WHERE id = 1
	`).Scan(&u.HotBytes, &u.ColdBytes, &u.DBBytes, &u.CaptureCount)
	if err != nil {
		return u, errors.NewInternal(err)
	}
	return u, nil
}

// AdjustUsage adds delta to the counters. Call it in the same transaction as
// the metadata change it accounts for.
func AdjustUsage(ctx context.Context, q Querier, delta Usage) error {
	result, err := q.ExecContext(ctx, `
		UPDATE storage_usage
		SET hot_bytes = hot_bytes + ?, cold_bytes = cold_bytes + ?,
			db_bytes = db_bytes + ?, capture_count = capture_count + ?
		WHERE id = 1
	`, delta.HotBytes, delta.ColdBytes, delta.DBBytes, delta.CaptureCount)
	return expectOne(result, err, "storage_usage", "1")
}

// ResetUsage overwrites the counters, used when rebuilding them from the entries table.
func ResetUsage(ctx context.Context, q Querier, u Usage) error {
	result, err := q.ExecContext(ctx, `
		UPDATE storage_usage
		SET hot_bytes = ?, cold_bytes = ?, db_bytes = ?, capture_count = ?
		WHERE id = 1
	`, u.HotBytes, u.ColdBytes, u.DBBytes, u.CaptureCount)
	return expectOne(result, err, "storage_usage", "1")
}
