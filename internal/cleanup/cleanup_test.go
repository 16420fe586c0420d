package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mediaforge/media_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	records []storage.DownloadRecord
}

func (s *memoryStore) LoadAll(ctx context.Context) ([]storage.DownloadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.DownloadRecord, len(s.records))
	copy(out, s.records)

	return out, nil
}

func (s *memoryStore) SaveAll(ctx context.Context, records []storage.DownloadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make([]storage.DownloadRecord, len(records))
	copy(s.records, records)

	return nil
}

func record(id string, status storage.Status, completedAt time.Time, filePath string) storage.DownloadRecord {
	return storage.DownloadRecord{
		ID:          id,
		UserID:      "u1",
		Status:      status,
		CompletedAt: completedAt,
		FilePath:    filePath,
	}
}

func TestDeleteExpired(t *testing.T) {
	dir := t.TempDir()

	expiredFile := filepath.Join(dir, "expired.mkv")
	require.NoError(t, os.WriteFile(expiredFile, []byte("old"), 0644))

	freshFile := filepath.Join(dir, "fresh.mkv")
	require.NoError(t, os.WriteFile(freshFile, []byte("new"), 0644))

	now := time.Now()
	store := &memoryStore{records: []storage.DownloadRecord{
		record("expired", storage.StatusCompleted, now.Add(-48*time.Hour), expiredFile),
		record("fresh", storage.StatusCompleted, now.Add(-time.Hour), freshFile),
		record("failed-old", storage.StatusFailed, now.Add(-48*time.Hour), ""),
	}}

	var lock sync.Mutex

	require.NoError(t, DeleteExpired(context.Background(), store, 24*time.Hour, &lock))

	assert.NoFileExists(t, expiredFile)
	assert.FileExists(t, freshFile)

	records, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2, "only the expired completed record is dropped")

	for _, rec := range records {
		assert.NotEqual(t, "expired", rec.ID)
	}
}

func TestDeleteExpired_MissingFileStillDropsRecord(t *testing.T) {
	store := &memoryStore{records: []storage.DownloadRecord{
		record("gone", storage.StatusCompleted, time.Now().Add(-48*time.Hour), "/nonexistent/gone.mkv"),
	}}

	require.NoError(t, DeleteExpired(context.Background(), store, 24*time.Hour, nil))

	records, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteExpired_NothingToDo(t *testing.T) {
	store := &memoryStore{records: []storage.DownloadRecord{
		record("fresh", storage.StatusCompleted, time.Now(), ""),
	}}

	require.NoError(t, DeleteExpired(context.Background(), store, 24*time.Hour, nil))

	records, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
