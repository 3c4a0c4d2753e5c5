package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
)

// Timeline granularities.
const (
	GranularityDay  = "day"
	GranularityHour = "hour"
)

// timelinePreviewChars caps the text carried by each timeline entry.
const timelinePreviewChars = 200

// DateLayout is the accepted date format for timeline and search filters.
const DateLayout = "2006-01-02"

// TimelineInput contains parameters for the Timeline operation.
type TimelineInput struct {
	// Date is YYYY-MM-DD in Location. Empty means today.
	Date string

	// Granularity is "day" (hourly buckets) or "hour" (15-minute buckets).
	Granularity string

	// Hour selects the hour for the "hour" granularity (0-23). Nil means the current hour.
	Hour *int

	Apps []string

	// Location interprets Date. Nil means the local time zone.
	Location *time.Location

	// Limit caps the entries read. Default: 2000.
	Limit int
}

// Screenshot is a nested reference to one stored frame.
type Screenshot struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Timestamp time.Time  `json:"timestamp"`
	Tier      entry.Tier `json:"tier"`
}

// TimelineEntry groups consecutive captures of the same window.
type TimelineEntry struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	AppName     string       `json:"app_name"`
	WindowTitle string       `json:"window_title"`
	URL         string       `json:"url,omitempty"`
	TextPreview string       `json:"text_preview,omitempty"`
	Screenshots []Screenshot `json:"screenshots"`
}

// TimelineBucket is one time slot with at least one capture.
type TimelineBucket struct {
	Start   time.Time       `json:"start"`
	End     time.Time       `json:"end"`
	Entries []TimelineEntry `json:"entries"`
}

// TimelineOutput contains the result of the Timeline operation.
type TimelineOutput struct {
	Granularity string           `json:"granularity"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	Buckets     []TimelineBucket `json:"buckets"`
	Captures    int              `json:"captures"`
	Truncated   bool             `json:"truncated"`
}

// ScreenshotURL is the HTTP path serving an entry's image.
func ScreenshotURL(id string) string {
	return "/screenshots/" + id
}

// Timeline returns the captures of one day or one hour, grouped into time
// buckets and, within a bucket, into runs of the same app and window.
func Timeline(ctx context.Context, svc *Services, input TimelineInput) (*TimelineOutput, error) {
	loc := input.Location
	if loc == nil {
		loc = time.Local
	}
	granularity := strings.ToLower(strings.TrimSpace(input.Granularity))
	if granularity == "" {
		granularity = GranularityDay
	}

	day := time.Now().In(loc)
	if input.Date != "" {
		d, err := time.ParseInLocation(DateLayout, input.Date, loc)
		if err != nil {
			return nil, errors.NewInvalidRequest("date must be YYYY-MM-DD")
		}
		day = d
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

	var from, to time.Time
	var bucket time.Duration
	switch granularity {
	case GranularityDay:
		from, to = dayStart, dayStart.AddDate(0, 0, 1)
		bucket = time.Hour
	case GranularityHour:
		hour := time.Now().In(loc).Hour()
		if input.Hour != nil {
			hour = *input.Hour
		}
		if hour < 0 || hour > 23 {
			return nil, errors.NewInvalidRequest("hour must be between 0 and 23")
		}
		from = time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), hour, 0, 0, 0, loc)
		to = from.Add(time.Hour)
		bucket = 15 * time.Minute
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("granularity must be %q or %q", GranularityDay, GranularityHour))
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}

	filters := db.Filters{From: from, To: to.Add(-time.Millisecond), Apps: cleanApps(input.Apps)}
	entries, err := db.ListEntries(ctx, svc.DB, filters, limit+1)
	if err != nil {
		return nil, err
	}
	out := &TimelineOutput{
		Granularity: granularity,
		From:        from,
		To:          to,
		Buckets:     []TimelineBucket{},
	}
	if len(entries) > limit {
		entries = entries[:limit]
		out.Truncated = true
	}
	out.Captures = len(entries)
	out.Buckets = groupTimeline(entries, from, bucket, loc)
	return out, nil
}

// groupTimeline buckets chronologically sorted entries.
func groupTimeline(entries []entry.Entry, from time.Time, size time.Duration, loc *time.Location) []TimelineBucket {
	buckets := []TimelineBucket{}
	for i := range entries {
		e := &entries[i]
		idx := int(e.Timestamp.Sub(from) / size)
		start := from.Add(time.Duration(idx) * size).In(loc)

		if n := len(buckets); n == 0 || !buckets[n-1].Start.Equal(start) {
			buckets = append(buckets, TimelineBucket{Start: start, End: start.Add(size), Entries: []TimelineEntry{}})
		}
		b := &buckets[len(buckets)-1]

		shot := Screenshot{ID: e.ID, URL: ScreenshotURL(e.ID), Timestamp: e.Timestamp.In(loc), Tier: e.Tier}
		if n := len(b.Entries); n > 0 {
			last := &b.Entries[n-1]
			if last.AppName == e.AppName && last.WindowTitle == e.WindowTitle {
				last.Screenshots = append(last.Screenshots, shot)
				if last.TextPreview == "" {
					last.TextPreview = entry.Preview(e.ExtractedText, timelinePreviewChars)
				}
				continue
			}
		}
		b.Entries = append(b.Entries, TimelineEntry{
			ID:          e.ID,
			Timestamp:   e.Timestamp.In(loc),
			AppName:     e.AppName,
			WindowTitle: e.WindowTitle,
			URL:         e.URL,
			TextPreview: entry.Preview(e.ExtractedText, timelinePreviewChars),
			Screenshots: []Screenshot{shot},
		})
	}
	return buckets
}

// cleanApps trims app names and drops empty ones.
func cleanApps(apps []string) []string {
	var out []string
	for _, a := range apps {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
