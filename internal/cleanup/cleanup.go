// Package cleanup removes completed downloads whose retention has expired:
// both the file on disk and the persisted record.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mediaforge/media_downloader/internal/download"
	"github.com/mediaforge/media_downloader/internal/logctx"
	"github.com/mediaforge/media_downloader/internal/storage"
)

// DeleteExpired drops completed records older than keepFor and deletes
// their files. The locker is the orchestrator's persistence section; the
// sweep's load/filter/save must not interleave with a terminating transfer.
func DeleteExpired(ctx context.Context, store download.RecordStore, keepFor time.Duration, lock sync.Locker) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	if lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}

	records, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load records for cleanup: %w", err)
	}

	kept := records[:0]
	removed := 0

	for _, rec := range records {
		if rec.Status != storage.StatusCompleted || now.Sub(rec.CompletedAt) <= keepFor {
			kept = append(kept, rec)

			continue
		}

		if rec.FilePath != "" {
			if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired file", "file_path", rec.FilePath, "err", err)

				kept = append(kept, rec)

				continue
			}
		}

		logger.Info("deleted expired download", "download_id", rec.ID, "file_path", rec.FilePath)

		removed++
	}

	if removed == 0 {
		return nil
	}

	if err := store.SaveAll(ctx, kept); err != nil {
		return fmt.Errorf("failed to save records after cleanup: %w", err)
	}

	return nil
}
