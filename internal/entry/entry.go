package entry

import "time"

// Tier says where an entry's screenshot blob lives.
type Tier string

const (
	TierHot  Tier = "hot"
	TierCold Tier = "cold"
)

// Entry is one kept capture.
type Entry struct {
	// ID is a ULID; its time component is the capture time, so IDs sort chronologically
	ID string

	// Timestamp is when the frame was captured
	Timestamp time.Time

	AppName     string
	WindowTitle string

	// URL is empty when the foreground window is not a browser
	URL string

	// ExtractedText is the OCR output (empty when OCR is disabled or found nothing)
	ExtractedText string

	// ScreenshotRef is the blob path relative to the data root
	ScreenshotRef string

	Tier Tier

	// SizeBytes is the on-disk size of the blob (after compression when compressed)
	SizeBytes int64

	// MetaBytes is this row's contribution to the database size counter
	MetaBytes int64

	// ArchiveID is set iff Tier == TierCold
	ArchiveID string

	// Compressed is true when the cold blob is zstd-compressed
	Compressed bool

	Width  int
	Height int

	// Fingerprint is the 64-bit perceptual hash used by the similarity filter
	Fingerprint uint64
}

// Archive groups the cold entries of one calendar month (UTC).
// SizeBytes and CaptureCount always equal the sums over member entries.
type Archive struct {
	ID           string
	Period       string
	SizeBytes    int64
	CaptureCount int
	Compressed   bool
	CreatedAt    time.Time
}

// IsCold reports whether the entry has been moved to an archive.
func (e *Entry) IsCold() bool {
	return e.Tier == TierCold
}

// Age returns how long ago the entry was captured relative to now.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}
