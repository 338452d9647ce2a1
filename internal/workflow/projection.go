package workflow

import "github.com/omnilingual-asr/transcriber/internal/models"

// Project partitions entries by state. Processing entries belong to no
// bucket and are only counted.
func Project(entries []models.FileEntry) models.Buckets {
	b := models.Buckets{
		ToBeProcessed: []string{},
		Processed:     []string{},
		Flagged:       []string{},
		Failed:        []string{},
	}

	for _, e := range entries {
		switch e.Status.State {
		case models.StatePending:
			b.ToBeProcessed = append(b.ToBeProcessed, e.ID)
		case models.StateCompleted:
			b.Processed = append(b.Processed, e.ID)
		case models.StateFlagged:
			b.Flagged = append(b.Flagged, e.ID)
		case models.StateFailed:
			b.Failed = append(b.Failed, e.ID)
		case models.StateProcessing:
			b.Counts.Processing++
		}
	}

	b.Counts.Total = len(entries)
	b.Counts.ToBeProcessed = len(b.ToBeProcessed)
	b.Counts.Processed = len(b.Processed)
	b.Counts.Flagged = len(b.Flagged)
	b.Counts.Failed = len(b.Failed)
	return b
}
