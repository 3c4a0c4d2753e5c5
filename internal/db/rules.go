package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/exclusion"
)

// InsertRule stores an exclusion rule. A duplicate (kind, value) is a CONFLICT.
func InsertRule(ctx context.Context, q Querier, r *exclusion.Rule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO rules (id, kind, value, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, string(r.Kind), r.Value, r.Description, toMillis(r.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("rule already exists: " + string(r.Kind) + " " + r.Value)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetRule retrieves a rule by id.
func GetRule(ctx context.Context, q Querier, id string) (*exclusion.Rule, error) {
	row := q.QueryRowContext(ctx, `SELECT id, kind, value, description, created_at FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("rule", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListRules returns all rules in creation order.
func ListRules(ctx context.Context, q Querier) ([]exclusion.Rule, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, kind, value, description, created_at FROM rules ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []exclusion.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// DeleteRule removes a rule by id.
func DeleteRule(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	return expectOne(result, err, "rule", id)
}

func scanRule(row rowScanner) (*exclusion.Rule, error) {
	var (
		r         exclusion.Rule
		kind      string
		createdAt int64
	)
	if err := row.Scan(&r.ID, &kind, &r.Value, &r.Description, &createdAt); err != nil {
		return nil, err
	}
	r.Kind = exclusion.Kind(kind)
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}
