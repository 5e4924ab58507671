package linksync

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// Report is a snapshot of the site and queue used by the report command.
type Report struct {
	Pages           int    `json:"pages"`
	Posts           int    `json:"posts"`
	TotalCategories int    `json:"total_categories"`
	TotalQueue      int    `json:"total_queue_batch"`
	OnQueue         int    `json:"on_queue"`
	SyncDone        int    `json:"sync_done"`
	Failed          int    `json:"failed"`
	Ignored         int    `json:"ignored"`
	ContentSize     string `json:"content_size"`
}

// Report counts site content and summarizes the queue.
func (s *SyncService) Report(ctx context.Context) (*Report, error) {
	counts, err := s.CountSite(ctx)
	if err != nil {
		return nil, err
	}
	qc, err := s.queue.Counts(ctx)
	if err != nil {
		return nil, storageErr("counting queue", err)
	}

	return &Report{
		Pages:           counts.Pages,
		Posts:           counts.Posts,
		TotalCategories: counts.Categories,
		TotalQueue:      qc.Total,
		OnQueue:         qc.Pending,
		SyncDone:        qc.Synced,
		Failed:          qc.Failed,
		Ignored:         qc.Ignored,
		ContentSize:     FormatSize(qc.ContentSize),
	}, nil
}

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// FormatSize renders a byte count as "<n> (<unit>)" rounded to two decimals,
// e.g. "512 (B)" or "1.5 (KB)".
func FormatSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d (B)", bytes)
	}

	v := float64(bytes)
	unit := ""
	for _, u := range sizeUnits {
		v /= 1024
		unit = u
		if v < 1024 {
			break
		}
	}
	rounded := math.Round(v*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " (" + unit + ")"
}
