package ops

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/storage"
)

// StorageStatsOutput reports space usage against the configured limit.
type StorageStatsOutput struct {
	MaxBytes     int64      `json:"max_bytes"`
	UsedBytes    int64      `json:"used_bytes"`
	HotBytes     int64      `json:"hot_bytes"`
	ColdBytes    int64      `json:"cold_bytes"`
	DBBytes      int64      `json:"db_bytes"`
	UsedPercent  float64    `json:"used_percent"`
	Used         string     `json:"used"`
	Max          string     `json:"max"`
	CaptureCount int        `json:"capture_count"`
	ArchiveCount int        `json:"archive_count"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
}

// ArchiveSummary describes one monthly archive.
type ArchiveSummary struct {
	ID           string    `json:"id"`
	Period       string    `json:"period"`
	SizeBytes    int64     `json:"size_bytes"`
	Size         string    `json:"size"`
	CaptureCount int       `json:"capture_count"`
	Compressed   bool      `json:"compressed"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListArchivesInput contains parameters for the ListArchives operation.
type ListArchivesInput struct {
	Limit int // default: 100
}

// ListArchivesOutput contains the result of the ListArchives operation.
type ListArchivesOutput struct {
	Archives []ArchiveSummary `json:"archives"`
	Total    int              `json:"total"`
}

// StorageStats returns the usage counters.
func StorageStats(ctx context.Context, svc *Services) (*StorageStatsOutput, error) {
	st, err := svc.Storage.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &StorageStatsOutput{
		MaxBytes:     st.MaxBytes,
		UsedBytes:    st.UsedBytes,
		HotBytes:     st.HotBytes,
		ColdBytes:    st.ColdBytes,
		DBBytes:      st.DBBytes,
		Used:         humanize.IBytes(uint64(max(st.UsedBytes, 0))),
		Max:          humanize.IBytes(uint64(max(st.MaxBytes, 0))),
		CaptureCount: st.CaptureCount,
		ArchiveCount: st.ArchiveCount,
	}
	if st.MaxBytes > 0 {
		out.UsedPercent = float64(st.UsedBytes) * 100 / float64(st.MaxBytes)
	}
	if !st.Oldest.IsZero() {
		oldest, newest := st.Oldest, st.Newest
		out.Oldest, out.Newest = &oldest, &newest
	}
	return out, nil
}

// ListArchives returns archives newest period first.
func ListArchives(ctx context.Context, svc *Services, input ListArchivesInput) (*ListArchivesOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultArchiveLimit
	}
	archives, err := svc.Storage.ListArchives(ctx)
	if err != nil {
		return nil, err
	}
	out := &ListArchivesOutput{Archives: []ArchiveSummary{}, Total: len(archives)}
	for _, a := range archives {
		if len(out.Archives) >= limit {
			break
		}
		out.Archives = append(out.Archives, ArchiveSummary{
			ID:           a.ID,
			Period:       a.Period,
			SizeBytes:    a.SizeBytes,
			Size:         humanize.IBytes(uint64(max(a.SizeBytes, 0))),
			CaptureCount: a.CaptureCount,
			Compressed:   a.Compressed,
			CreatedAt:    a.CreatedAt,
		})
	}
	return out, nil
}

// RunCleanup runs the retention and archival sweeps now.
func RunCleanup(ctx context.Context, svc *Services) (*storage.MaintenanceResult, error) {
	res, err := svc.Storage.Maintain(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	svc.log().Info("cleanup: %s", res.Summary())
	return &res, nil
}

// CompressArchive compresses every member blob of an archive.
func CompressArchive(ctx context.Context, svc *Services, id string) (*storage.CompressResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	res, err := svc.Storage.Compress(ctx, id)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteArchive removes an archive together with its entries.
func DeleteArchive(ctx context.Context, svc *Services, id string) (*storage.DeleteArchiveResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	res, err := svc.Storage.DeleteArchive(ctx, id)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
