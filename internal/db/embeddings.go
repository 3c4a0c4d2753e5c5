package db

import (
	"context"

	"github.com/hpungsan/eidon/internal/embedding"
	"github.com/hpungsan/eidon/internal/errors"
)

// StoredVector is an entry's embedding.
type StoredVector struct {
	EntryID string
	Vector  embedding.Vector
}

// PutEmbedding upserts the embedding for an entry.
func PutEmbedding(ctx context.Context, q Querier, entryID, model string, v embedding.Vector) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO embeddings (entry_id, model, dims, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET model = excluded.model, dims = excluded.dims, vector = excluded.vector
	`, entryID, model, len(v), embedding.Encode(v))
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListEmbeddings returns embeddings produced by model for entries matching f.
func ListEmbeddings(ctx context.Context, q Querier, model string, f Filters) ([]StoredVector, error) {
	where, args := f.where("e")
	query := `
		SELECT v.entry_id, v.vector
		FROM embeddings v
		JOIN entries e ON e.id = v.entry_id
		WHERE v.model = ?` + where
	rows, err := q.QueryContext(ctx, query, append([]any{model}, args...)...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []StoredVector
	for rows.Next() {
		var (
			sv   StoredVector
			blob []byte
		)
		if err := rows.Scan(&sv.EntryID, &blob); err != nil {
			return nil, errors.NewInternal(err)
		}
		v, err := embedding.Decode(blob)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		sv.Vector = v
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// ListUnembedded returns ids of entries with text but no embedding for model, oldest first.
func ListUnembedded(ctx context.Context, q Querier, model string, limit int) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.id FROM entries e
		LEFT JOIN embeddings v ON v.entry_id = e.id AND v.model = ?
		WHERE v.entry_id IS NULL AND (e.extracted_text != '' OR e.window_title != '')
		ORDER BY e.captured_at ASC
		LIMIT ?
	`, model, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}
