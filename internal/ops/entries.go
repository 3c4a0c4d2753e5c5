package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
)

// EntryOutput is the full record of one capture.
type EntryOutput struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	AppName       string     `json:"app_name"`
	WindowTitle   string     `json:"window_title"`
	URL           string     `json:"url,omitempty"`
	ExtractedText string     `json:"extracted_text"`
	ScreenshotURL string     `json:"screenshot_url"`
	Tier          entry.Tier `json:"tier"`
	SizeBytes     int64      `json:"size_bytes"`
	ArchiveID     string     `json:"archive_id,omitempty"`
	Compressed    bool       `json:"compressed"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
}

// DeleteEntryOutput contains the result of the DeleteEntry operation.
type DeleteEntryOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// GetEntry returns one capture by id.
func GetEntry(ctx context.Context, svc *Services, id string) (*EntryOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	e, err := svc.Storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EntryOutput{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		AppName:       e.AppName,
		WindowTitle:   e.WindowTitle,
		URL:           e.URL,
		ExtractedText: e.ExtractedText,
		ScreenshotURL: ScreenshotURL(e.ID),
		Tier:          e.Tier,
		SizeBytes:     e.SizeBytes,
		ArchiveID:     e.ArchiveID,
		Compressed:    e.Compressed,
		Width:         e.Width,
		Height:        e.Height,
	}, nil
}

// GetScreenshot returns the decoded PNG bytes of a capture.
func GetScreenshot(ctx context.Context, svc *Services, id string) ([]byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	data, _, err := svc.Storage.OpenBlob(ctx, id)
	return data, err
}

// DeleteEntry removes one capture and its screenshot.
func DeleteEntry(ctx context.Context, svc *Services, id string) (*DeleteEntryOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if err := svc.Storage.DeleteEntry(ctx, id); err != nil {
		return nil, err
	}
	return &DeleteEntryOutput{Deleted: true, ID: id}, nil
}
