package workflow

import (
	"testing"

	"github.com/omnilingual-asr/transcriber/internal/models"
)

func entry(id string, state models.FileState) models.FileEntry {
	return models.FileEntry{ID: id, Status: models.FileStatus{State: state}}
}

func TestProject(t *testing.T) {
	t.Run("partitions by state", func(t *testing.T) {
		b := Project([]models.FileEntry{
			entry("p", models.StatePending),
			entry("c", models.StateCompleted),
			entry("f", models.StateFlagged),
			entry("x", models.StateFailed),
			entry("w", models.StateProcessing),
		})

		if len(b.ToBeProcessed) != 1 || b.ToBeProcessed[0] != "p" {
			t.Errorf("toBeProcessed: %v", b.ToBeProcessed)
		}
		if len(b.Processed) != 1 || b.Processed[0] != "c" {
			t.Errorf("processed: %v", b.Processed)
		}
		if len(b.Flagged) != 1 || b.Flagged[0] != "f" {
			t.Errorf("flagged: %v", b.Flagged)
		}
		if len(b.Failed) != 1 || b.Failed[0] != "x" {
			t.Errorf("failed: %v", b.Failed)
		}
		if b.Counts.Processing != 1 || b.Counts.Total != 5 {
			t.Errorf("counts: %+v", b.Counts)
		}
	})

	t.Run("processing belongs to no bucket", func(t *testing.T) {
		b := Project([]models.FileEntry{entry("w", models.StateProcessing)})
		n := len(b.ToBeProcessed) + len(b.Processed) + len(b.Flagged) + len(b.Failed)
		if n != 0 {
			t.Errorf("expected empty buckets, got %+v", b)
		}
	})

	t.Run("empty input gives empty non-nil buckets", func(t *testing.T) {
		b := Project(nil)
		if b.ToBeProcessed == nil || b.Processed == nil || b.Flagged == nil || b.Failed == nil {
			t.Error("expected non-nil bucket slices")
		}
	})
}
