package db

import (
	"context"
	"strings"

	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
)

// MaxSearchQueryChars bounds the raw query text accepted by full-text search.
const MaxSearchQueryChars = 1000

// Highlight markers emitted by snippet(); callers escape content and convert them to <b>.
const (
	SnippetOpen  = "[[[B]]]"
	SnippetClose = "[[[/B]]]"
)

// FTSHit is a full-text candidate with its highlighted context.
type FTSHit struct {
	Entry   entry.Entry
	Snippet string
	// BM25 is SQLite's rank (lower is better)
	BM25 float64
}

// FTSOrder selects which candidates survive the limit.
type FTSOrder int

const (
	OrderRank FTSOrder = iota
	OrderNewest
	OrderOldest
)

func (o FTSOrder) clause() string {
	switch o {
	case OrderNewest:
		return "e.captured_at DESC, e.id ASC"
	case OrderOldest:
		return "e.captured_at ASC, e.id ASC"
	default:
		return "bm25(entries_fts) ASC, e.id ASC"
	}
}

// BuildMatchQuery turns tokens into an FTS5 query matching any word that
// starts with one of them. Each token is quoted so FTS5 operators in user
// input are inert.
func BuildMatchQuery(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"*`)
	}
	return strings.Join(quoted, " OR ")
}

// SearchFullText returns up to limit entries matching any token prefix,
// ordered by order.
func SearchFullText(ctx context.Context, q Querier, tokens []string, f Filters, order FTSOrder, limit int) ([]FTSHit, error) {
	match := BuildMatchQuery(tokens)
	if match == "" {
		return nil, nil
	}

	where, args := f.where("e")
	query := `
		SELECT ` + prefixed("e", entryColumns) + `,
			snippet(entries_fts, -1, '` + SnippetOpen + `', '` + SnippetClose + `', '...', 24),
			bm25(entries_fts)
		FROM entries_fts
		JOIN entries e ON e.rowid = entries_fts.rowid
		WHERE entries_fts MATCH ?` + where + `
		ORDER BY ` + order.clause() + `
		LIMIT ?`

	args = append([]any{match}, args...)
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		e, err := scanEntry(multiScanner{rows: rows, extra: []any{&h.Snippet, &h.BM25}})
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		h.Entry = *e
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return hits, nil
}

// multiScanner appends extra destinations after the entry columns.
type multiScanner struct {
	rows  rowScanner
	extra []any
}

func (m multiScanner) Scan(dest ...any) error {
	return m.rows.Scan(append(dest, m.extra...)...)
}
