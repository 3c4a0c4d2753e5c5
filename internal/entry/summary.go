package entry

import "time"

// previewChars caps the text preview carried by a Summary.
const previewChars = 280

// Summary is an entry without its full extracted text.
// Used for timeline and listing responses.
type Summary struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	AppName     string    `json:"app_name"`
	WindowTitle string    `json:"window_title"`
	URL         string    `json:"url,omitempty"`
	TextPreview string    `json:"text_preview,omitempty"`
	Tier        Tier      `json:"tier"`
	SizeBytes   int64     `json:"size_bytes"`
	ArchiveID   string    `json:"archive_id,omitempty"`
}

// ToSummary converts an Entry to a Summary, truncating the text to a preview.
func (e *Entry) ToSummary() Summary {
	return Summary{
		ID:          e.ID,
		Timestamp:   e.Timestamp,
		AppName:     e.AppName,
		WindowTitle: e.WindowTitle,
		URL:         e.URL,
		TextPreview: Preview(e.ExtractedText, previewChars),
		Tier:        e.Tier,
		SizeBytes:   e.SizeBytes,
		ArchiveID:   e.ArchiveID,
	}
}

// Preview collapses whitespace and truncates s to at most max runes, adding "..." when cut.
func Preview(s string, max int) string {
	s = whitespaceRegex.ReplaceAllString(s, " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
