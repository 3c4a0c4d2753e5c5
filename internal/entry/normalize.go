package entry

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// PeriodLayout formats an archive period ("YYYY-MM").
const PeriodLayout = "2006-01"

// rowOverheadBytes approximates the fixed per-row cost of an entry in the database
// (ids, timestamps, counters and index entries).
const rowOverheadBytes = 256

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims and collapses internal whitespace to single spaces.
// Case is kept: app names are matched case-sensitively.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// Tokenize splits text into lowercased word tokens (letters and digits),
// deduplicated in first-seen order.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// Period returns the archive period a timestamp belongs to, in UTC.
func Period(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// ValidPeriod reports whether p is a well-formed "YYYY-MM" period.
func ValidPeriod(p string) bool {
	_, err := time.Parse(PeriodLayout, p)
	return err == nil
}

// EstimateMetaBytes estimates the database footprint of an entry's metadata row.
func EstimateMetaBytes(e *Entry) int64 {
	n := len(e.ID) + len(e.AppName) + len(e.WindowTitle) + len(e.URL) + len(e.ScreenshotRef)
	// Text is stored once in the row and once in the full-text index
	n += 2 * len(e.ExtractedText)
	return int64(n + rowOverheadBytes)
}
