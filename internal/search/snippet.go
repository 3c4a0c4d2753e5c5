package search

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/eidon/internal/db"
)

// MaxSnippetChars bounds the HTML snippet returned with each result.
const MaxSnippetChars = 300

// HighlightHTML escapes a marker-delimited snippet and converts the markers
// to <b> tags, then truncates it to maxChars.
func HighlightHTML(raw string, maxChars int) string {
	return truncateSnippet(escapeSnippetHTML(raw), maxChars)
}

// markTerms wraps the first occurrence of each term in text with highlight
// markers and returns a window around the first match.
func markTerms(text string, terms []string, window int) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	first := -1
	type span struct{ start, end int }
	var spans []span
	for _, t := range terms {
		i := strings.Index(lower, t)
		if i < 0 {
			continue
		}
		spans = append(spans, span{i, i + len(t)})
		if first < 0 || i < first {
			first = i
		}
	}
	if first < 0 {
		return trimWindow(text, 0, window)
	}

	var b strings.Builder
	last := 0
	for i := 0; i < len(text); {
		opened := false
		for _, s := range spans {
			if s.start == i && i >= last {
				b.WriteString(db.SnippetOpen)
				b.WriteString(text[s.start:s.end])
				b.WriteString(db.SnippetClose)
				i = s.end
				last = s.end
				opened = true
				break
			}
		}
		if !opened {
			b.WriteByte(text[i])
			i++
		}
	}
	marked := b.String()
	// Re-find the first marker in the marked text to center the window.
	return trimWindow(marked, strings.Index(marked, db.SnippetOpen), window)
}

// trimWindow returns up to window bytes of s starting a little before at,
// with "..." where text was cut.
func trimWindow(s string, at, window int) string {
	start := at - window/4
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(s[start]) {
		start--
	}
	// Do not start inside a marker.
	if i := strings.LastIndex(s[:start], "[[["); i >= 0 && !strings.Contains(s[i:start], "]]]") {
		start = i
	}
	out := s[start:]
	prefix := ""
	if start > 0 {
		prefix = "..."
	}
	if len(out) <= window {
		return prefix + out
	}
	end := window
	for end > 0 && !utf8.RuneStart(out[end]) {
		end--
	}
	out = out[:end]
	if i := strings.LastIndex(out, "[[["); i >= 0 && i > strings.LastIndex(out, "]]]") {
		out = out[:i]
	}
	if strings.Count(out, db.SnippetOpen) > strings.Count(out, db.SnippetClose) {
		out += db.SnippetClose
	}
	return prefix + out + "..."
}

// truncateSnippet truncates a snippet to approximately maxChars while:
// 1. Preserving valid UTF-8 (never splits multi-byte runes)
// 2. Preserving markup integrity (closes any open <b> tags)
// 3. Preferring word boundaries when possible
func truncateSnippet(s string, maxChars int) string {
	if maxChars <= 0 {
		return "..."
	}

	if len(s) <= maxChars {
		return s
	}

	truncateAt := maxChars
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	if truncateAt == 0 {
		return "..."
	}

	truncated := s[:truncateAt]

	// Only <b> and </b> tags are present; user content may contain entities.
	if lastLT := strings.LastIndex(truncated, "<"); lastLT != -1 && !strings.Contains(truncated[lastLT:], ">") {
		truncated = truncated[:lastLT]
	}
	if lastAmp := strings.LastIndex(truncated, "&"); lastAmp != -1 && !strings.Contains(truncated[lastAmp:], ";") {
		truncated = truncated[:lastAmp]
	}

	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > truncateAt/2 {
		truncated = truncated[:lastSpace]
	}

	unclosed := strings.Count(truncated, "<b>") - strings.Count(truncated, "</b>")
	for range unclosed {
		truncated += "</b>"
	}

	return truncated + "..."
}

// escapeSnippetHTML escapes captured screen text while preserving the
// highlight markers, which become <b> tags. OCR output is untrusted.
func escapeSnippetHTML(s string) string {
	const (
		openPlaceholder  = "\x00EIDON_B_OPEN\x00"
		closePlaceholder = "\x00EIDON_B_CLOSE\x00"
	)

	s = strings.ReplaceAll(s, db.SnippetOpen, openPlaceholder)
	s = strings.ReplaceAll(s, db.SnippetClose, closePlaceholder)
	s = html.EscapeString(s)
	s = strings.ReplaceAll(s, openPlaceholder, "<b>")
	s = strings.ReplaceAll(s, closePlaceholder, "</b>")
	return s
}
