package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/search"
)

// searchTextChars caps the text returned per result when include_text is on.
const searchTextChars = 600

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query  string   // required
	Method string   // keyword, semantic, hybrid; default from settings
	Sort   string   // relevance (default), newest, oldest
	From   string   // optional YYYY-MM-DD, inclusive
	To     string   // optional YYYY-MM-DD, inclusive
	Apps   []string // optional app-name filter
	Limit  int      // default: search.max_results

	// Location interprets From and To. Nil means the local time zone.
	Location *time.Location
}

// SearchResultItem is one ranked match. Which fields are filled follows the
// include_* search settings.
type SearchResultItem struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	AppName       string    `json:"app_name,omitempty"`
	WindowTitle   string    `json:"window_title,omitempty"`
	URL           string    `json:"url,omitempty"`
	Text          string    `json:"text,omitempty"`
	ScreenshotURL string    `json:"screenshot_url,omitempty"`
	MatchScore    float64   `json:"match_score"`
	MatchedTerms  []string  `json:"matched_terms,omitempty"`

	// Snippet is HTML-safe: captured text is escaped; only <b>...</b>
	// highlight tags are present.
	Snippet string `json:"snippet,omitempty"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Items  []SearchResultItem `json:"items"`
	Method string             `json:"method"`
	Sort   string             `json:"sort"`

	// Error is set when the index could not answer; Items is then empty.
	Error string `json:"error,omitempty"`

	// Warning is set when hybrid search fell back to keyword matching.
	Warning string `json:"warning,omitempty"`
}

// Search runs a query against the index. An unavailable index yields an
// empty result with Error set rather than a failure.
func Search(ctx context.Context, svc *Services, input SearchInput) (*SearchOutput, error) {
	loc := input.Location
	if loc == nil {
		loc = time.Local
	}

	var from, to time.Time
	if s := strings.TrimSpace(input.From); s != "" {
		t, err := time.ParseInLocation(DateLayout, s, loc)
		if err != nil {
			return nil, errors.NewInvalidRequest("from must be YYYY-MM-DD")
		}
		from = t
	}
	if s := strings.TrimSpace(input.To); s != "" {
		t, err := time.ParseInLocation(DateLayout, s, loc)
		if err != nil {
			return nil, errors.NewInvalidRequest("to must be YYYY-MM-DD")
		}
		to = t
	}
	from, to = search.DayRange(from, to, loc)

	limit := input.Limit
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	settings := svc.Config.Current().Search
	sortMode := strings.ToLower(strings.TrimSpace(input.Sort))
	if sortMode == "" {
		sortMode = search.SortRelevance
	}

	resp, err := svc.Index.Query(ctx, search.Query{
		Text:    input.Query,
		Method:  strings.ToLower(strings.TrimSpace(input.Method)),
		Filters: db.Filters{From: from, To: to, Apps: cleanApps(input.Apps)},
		Sort:    sortMode,
		Limit:   limit,
	})
	if errors.Is(err, errors.ErrIndexUnavailable) {
		method := input.Method
		if method == "" {
			method = settings.Method
		}
		svc.log().Warning("search: %v", err)
		return &SearchOutput{
			Items:  []SearchResultItem{},
			Method: method,
			Sort:   sortMode,
			Error:  err.Error(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	items := make([]SearchResultItem, len(resp.Results))
	for i, r := range resp.Results {
		item := SearchResultItem{
			ID:           r.Entry.ID,
			Timestamp:    r.Entry.Timestamp.In(loc),
			MatchScore:   r.Score,
			MatchedTerms: r.MatchedTerms,
			Snippet:      search.HighlightHTML(r.Snippet, search.MaxSnippetChars),
		}
		if settings.IncludeMetadata {
			item.AppName = r.Entry.AppName
			item.WindowTitle = r.Entry.WindowTitle
			item.URL = r.Entry.URL
		}
		if settings.IncludeText {
			item.Text = truncateRunes(r.Entry.ExtractedText, searchTextChars)
		}
		if settings.IncludeScreenshots {
			item.ScreenshotURL = ScreenshotURL(r.Entry.ID)
		}
		items[i] = item
	}

	return &SearchOutput{
		Items:   items,
		Method:  resp.Method,
		Sort:    sortMode,
		Warning: resp.Warning,
	}, nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
