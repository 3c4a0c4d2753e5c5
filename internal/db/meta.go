package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/eidon/internal/errors"
)

// Meta keys.
const (
	MetaDefaultRulesSeeded = "default_rules_seeded"

	// MetaRevision changes whenever rules or settings are edited, so a running
	// daemon can notice edits made by another process.
	MetaRevision = "revision"
)

// GetMeta returns the value for key and whether it was set.
func GetMeta(ctx context.Context, q Querier, key string) (string, bool, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewInternal(err)
	}
	return v, true, nil
}

// SetMeta upserts key.
func SetMeta(ctx context.Context, q Querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// BumpRevision increments the shared revision counter.
func BumpRevision(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
	`, MetaRevision)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
