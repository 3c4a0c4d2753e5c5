// Package search answers keyword, semantic and hybrid queries over captured entries.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/embedding"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/logger"
)

// Sort modes.
const (
	SortRelevance = "relevance"
	SortNewest    = "newest"
	SortOldest    = "oldest"
)

// Keyword score weights. They sum to 1.
const (
	coverageWeight = 0.7
	densityWeight  = 0.15
	metadataWeight = 0.15
)

const (
	// minCandidates is the least number of full-text candidates fetched per query.
	minCandidates = 200
	// snippetWindow is the raw text window used for semantic-only snippets.
	snippetWindow = 240
)

// Query is one search request.
type Query struct {
	Text string

	// Method is keyword, semantic or hybrid. Empty uses the configured method.
	Method string

	// Filters restricts the date range (inclusive) and app names.
	Filters db.Filters

	// Sort is relevance (default), newest or oldest.
	Sort string

	// Limit caps the result count. <= 0 uses search.max_results.
	Limit int
}

// Result is a ranked match. Score is in [0,1].
type Result struct {
	Entry         entry.Entry
	Score         float64
	KeywordScore  float64
	SemanticScore float64
	MatchedTerms  []string

	// Snippet is the raw text window with db.SnippetOpen/Close markers.
	Snippet string
}

// Response carries the ranked results and the method that produced them.
type Response struct {
	Results []Result
	Method  string

	// Warning is set when a hybrid query fell back to keyword matching.
	Warning string
}

// Index is the search entry point. It is safe for concurrent use.
type Index struct {
	db  *sql.DB
	cfg *config.Holder
	log *logger.Logger

	embedder atomic.Pointer[embedderBox]
}

type embedderBox struct {
	e embedding.Embedder
}

// NewIndex creates an Index. embedder may be nil when semantic search is not configured.
func NewIndex(database *sql.DB, cfg *config.Holder, embedder embedding.Embedder, log *logger.Logger) *Index {
	if log == nil {
		log = logger.Discard()
	}
	ix := &Index{db: database, cfg: cfg, log: log}
	ix.SetEmbedder(embedder)
	return ix
}

// SetEmbedder swaps the embedding backend, e.g. after a settings change.
func (ix *Index) SetEmbedder(e embedding.Embedder) {
	ix.embedder.Store(&embedderBox{e: e})
}

// Embedder returns the active embedding backend or nil.
func (ix *Index) Embedder() embedding.Embedder {
	return ix.embedder.Load().e
}

// IndexEntry stores the embedding for a freshly kept entry. The full-text
// index is maintained by the database itself. Without an embedder it is a no-op.
func (ix *Index) IndexEntry(ctx context.Context, e *entry.Entry) error {
	emb := ix.Embedder()
	if emb == nil {
		return nil
	}
	text := embeddingText(e)
	if text == "" {
		return nil
	}
	v, err := emb.Embed(ctx, text)
	if err != nil {
		return errors.NewIndexUnavailable(err.Error())
	}
	return db.PutEmbedding(ctx, ix.db, e.ID, emb.Model(), v)
}

// Backfill embeds up to limit entries that have no vector for the current model.
func (ix *Index) Backfill(ctx context.Context, limit int) (int, error) {
	emb := ix.Embedder()
	if emb == nil {
		return 0, nil
	}
	ids, err := db.ListUnembedded(ctx, ix.db, emb.Model(), limit)
	if err != nil {
		return 0, err
	}
	entries, err := db.GetEntries(ctx, ix.db, ids)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		e, ok := entries[id]
		if !ok {
			continue
		}
		if err := ix.IndexEntry(ctx, &e); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// embeddingText is the text embedded for an entry.
func embeddingText(e *entry.Entry) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{e.WindowTitle, e.AppName, e.ExtractedText} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Query runs q and returns ranked results.
//
// Semantic queries without a configured embedder fail with IndexUnavailable.
// Hybrid queries degrade to keyword matching instead.
func (ix *Index) Query(ctx context.Context, q Query) (*Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	if utf8.RuneCountInString(text) > db.MaxSearchQueryChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query exceeds maximum length of %d characters", db.MaxSearchQueryChars))
	}

	settings := ix.cfg.Current().Search
	method := q.Method
	if method == "" {
		method = settings.Method
	}
	sortMode := q.Sort
	if sortMode == "" {
		sortMode = SortRelevance
	}
	switch sortMode {
	case SortRelevance, SortNewest, SortOldest:
	default:
		return nil, errors.NewInvalidRequest("sort must be one of: relevance, newest, oldest")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = settings.MaxResults
	}
	if !q.Filters.From.IsZero() && !q.Filters.To.IsZero() && q.Filters.To.Before(q.Filters.From) {
		return nil, errors.NewInvalidRequest("date range end is before its start")
	}

	resp := &Response{Method: method}
	emb := ix.Embedder()

	// The query vector comes from a remote service; compute it before the snapshot.
	var qvec embedding.Vector
	switch method {
	case config.MethodKeyword:
	case config.MethodSemantic:
		if emb == nil {
			return nil, errors.NewIndexUnavailable("semantic search is not configured")
		}
		v, err := emb.Embed(ctx, text)
		if err != nil {
			return nil, errors.NewIndexUnavailable(err.Error())
		}
		qvec = v
	case config.MethodHybrid:
		if emb == nil {
			resp.Method = config.MethodKeyword
			break
		}
		v, err := emb.Embed(ctx, text)
		if err != nil {
			ix.log.Warning("search: embedding failed, using keyword only: %v", err)
			resp.Method = config.MethodKeyword
			resp.Warning = "semantic index unavailable; showing keyword matches"
			break
		}
		qvec = v
	default:
		return nil, errors.NewInvalidRequest("method must be one of: keyword, semantic, hybrid")
	}

	terms := entry.Tokenize(text)

	// One read transaction so no entry is observed mid-archival.
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	scored := make(map[string]*Result)

	if resp.Method != config.MethodSemantic {
		if err := ix.keyword(ctx, tx, terms, q.Filters, sortMode, limit, scored); err != nil {
			return nil, err
		}
	}
	if qvec != nil {
		if err := ix.semantic(ctx, tx, emb.Model(), qvec, q.Filters, settings.MinSemanticScore, scored); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(scored))
	w := settings.HybridKeywordWeight
	for _, r := range scored {
		switch resp.Method {
		case config.MethodKeyword:
			r.Score = r.KeywordScore
		case config.MethodSemantic:
			r.Score = r.SemanticScore
		default:
			r.Score = w*r.KeywordScore + (1-w)*r.SemanticScore
		}
		if r.Snippet == "" {
			r.Snippet = markTerms(r.Entry.ExtractedText, r.MatchedTerms, snippetWindow)
		}
		results = append(results, *r)
	}

	Rank(results, sortMode)
	if len(results) > limit {
		results = results[:limit]
	}
	resp.Results = results
	return resp, nil
}

// keyword scores full-text candidates by term coverage, density and metadata hits.
// Candidates are cut in sort order, so a date sort sees the newest (or oldest)
// matches rather than the best BM25 ones.
func (ix *Index) keyword(ctx context.Context, q db.Querier, terms []string, f db.Filters, sortMode string, limit int, into map[string]*Result) error {
	if len(terms) == 0 {
		return nil
	}
	order := db.OrderRank
	switch sortMode {
	case SortNewest:
		order = db.OrderNewest
	case SortOldest:
		order = db.OrderOldest
	}
	hits, err := db.SearchFullText(ctx, q, terms, f, order, max(limit*5, minCandidates))
	if err != nil {
		return err
	}
	for _, h := range hits {
		score, matched := KeywordScore(&h.Entry, terms)
		if len(matched) == 0 {
			continue
		}
		into[h.Entry.ID] = &Result{
			Entry:        h.Entry,
			KeywordScore: score,
			MatchedTerms: matched,
			Snippet:      h.Snippet,
		}
	}
	return nil
}

// semantic scores every embedded entry in range by cosine similarity.
func (ix *Index) semantic(ctx context.Context, q db.Querier, model string, qvec embedding.Vector, f db.Filters, minScore float64, into map[string]*Result) error {
	vectors, err := db.ListEmbeddings(ctx, q, model, f)
	if err != nil {
		return err
	}

	var missing []string
	for _, sv := range vectors {
		s := embedding.CosineSimilarity(qvec, sv.Vector)
		if s < 0 {
			s = 0
		}
		if s < minScore {
			continue
		}
		if r, ok := into[sv.EntryID]; ok {
			r.SemanticScore = s
			continue
		}
		into[sv.EntryID] = &Result{SemanticScore: s}
		missing = append(missing, sv.EntryID)
	}
	if len(missing) == 0 {
		return nil
	}

	entries, err := db.GetEntries(ctx, q, missing)
	if err != nil {
		return err
	}
	for _, id := range missing {
		e, ok := entries[id]
		if !ok {
			delete(into, id)
			continue
		}
		into[id].Entry = e
	}
	return nil
}

// KeywordScore scores e against lowercase query terms and returns the terms it contains.
func KeywordScore(e *entry.Entry, terms []string) (float64, []string) {
	if len(terms) == 0 {
		return 0, nil
	}
	text := strings.ToLower(e.ExtractedText)
	meta := strings.ToLower(e.AppName + "\n" + e.WindowTitle + "\n" + e.URL)

	var (
		matched     []string
		occurrences int
		metaHit     bool
	)
	for _, t := range terms {
		inText := strings.Count(text, t)
		inMeta := strings.Contains(meta, t)
		if inText == 0 && !inMeta {
			continue
		}
		matched = append(matched, t)
		occurrences += inText
		if inMeta {
			metaHit = true
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	coverage := float64(len(matched)) / float64(len(terms))
	density := float64(occurrences) / float64(occurrences+3)
	score := coverageWeight*coverage + densityWeight*density
	if metaHit {
		score += metadataWeight
	}
	return min(score, 1), matched
}

// Rank orders results in place. Ties are broken by entry id so the order is stable.
func Rank(results []Result, mode string) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		switch mode {
		case SortNewest:
			if !a.Entry.Timestamp.Equal(b.Entry.Timestamp) {
				return a.Entry.Timestamp.After(b.Entry.Timestamp)
			}
		case SortOldest:
			if !a.Entry.Timestamp.Equal(b.Entry.Timestamp) {
				return a.Entry.Timestamp.Before(b.Entry.Timestamp)
			}
		default:
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		}
		return a.Entry.ID < b.Entry.ID
	})
}

// DayRange returns inclusive filter bounds covering the calendar days from..to in loc.
func DayRange(from, to time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	var start, end time.Time
	if !from.IsZero() {
		f := from.In(loc)
		start = time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc)
	}
	if !to.IsZero() {
		t := to.In(loc)
		end = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).Add(24*time.Hour - time.Millisecond)
	}
	return start, end
}
