// Package download implements the download manager core: the transfer
// engine, the progress monitor and the orchestrator tying them to the
// registry and the record store.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/media_downloader/internal/logctx"
	"github.com/mediaforge/media_downloader/internal/registry"
	"github.com/mediaforge/media_downloader/internal/storage"
	"github.com/mediaforge/media_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const dirPerm = 0755

// MediaSource is the result of resolving a source identifier: a byte source
// (exactly one of Path or URL set), its size if known, and descriptive
// metadata copied onto the record at creation time.
type MediaSource struct {
	Path     string
	URL      string
	Size     int64
	Title    string
	Year     int
	ItemType storage.ItemType
}

// Locator returns the byte-source locator, preferring the remote URL.
func (s *MediaSource) Locator() string {
	if s.URL != "" {
		return s.URL
	}

	return s.Path
}

// MediaLocator resolves a source identifier to a media source. Unknown ids
// resolve to storage.ErrNotFound.
type MediaLocator interface {
	Resolve(ctx context.Context, sourceID string) (*MediaSource, error)
}

// RecordStore is the durable list of terminal download records. Load and
// replace-all semantics; callers serialize read-modify-write sequences.
type RecordStore interface {
	LoadAll(ctx context.Context) ([]storage.DownloadRecord, error)
	SaveAll(ctx context.Context, records []storage.DownloadRecord) error
}

// StartReceipt is returned to the caller immediately on Start; the caller
// never blocks on transfer completion.
type StartReceipt struct {
	ID     string         `json:"id"`
	Status storage.Status `json:"status"`
}

// ListResult merges the registry snapshot with persisted completed records
// at read time.
type ListResult struct {
	Active    []storage.DownloadRecord `json:"active"`
	Completed []storage.DownloadRecord `json:"completed"`
}

// Downloader orchestrates downloads: it validates requests, creates registry
// entries, launches detached transfer and monitor pairs, and persists
// terminal records.
type Downloader struct {
	baseCtx     context.Context
	registry    *registry.Registry
	store       RecordStore
	locator     MediaLocator
	engine      *Engine
	monitor     *Monitor
	telemetry   *telemetry.Telemetry
	downloadDir string

	// persistMu serializes the store's load/replace cycle so that two
	// transfers terminating at once cannot clobber each other's update.
	persistMu sync.Mutex

	OnDownloadFinished chan storage.DownloadRecord
	OnDownloadFailed   chan storage.DownloadRecord
}

// NewDownloader builds the orchestrator. baseCtx bounds every spawned
// transfer's lifetime: it should be the server lifetime context, not a
// request context.
func NewDownloader(
	baseCtx context.Context,
	reg *registry.Registry,
	store RecordStore,
	locator MediaLocator,
	engine *Engine,
	monitor *Monitor,
	tel *telemetry.Telemetry,
	downloadDir string,
) *Downloader {
	return &Downloader{
		baseCtx:            baseCtx,
		registry:           reg,
		store:              store,
		locator:            locator,
		engine:             engine,
		monitor:            monitor,
		telemetry:          tel,
		downloadDir:        downloadDir,
		OnDownloadFinished: make(chan storage.DownloadRecord, 16),
		OnDownloadFailed:   make(chan storage.DownloadRecord, 16),
	}
}

// Close releases the event channels.
func (dl *Downloader) Close() {
	close(dl.OnDownloadFinished)
	close(dl.OnDownloadFailed)
}

// Start validates the request, resolves the source and launches a detached
// transfer. It returns the new download's id immediately.
func (dl *Downloader) Start(ctx context.Context, sourceID, userID, username string) (*StartReceipt, error) {
	logger := logctx.LoggerFromContext(ctx)

	if userID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "must not be empty"}
	}

	src, err := dl.locator.Resolve(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source %q: %w", sourceID, err)
	}

	if src.Locator() == "" {
		return nil, &ValidationError{Field: "sourceId", Reason: "media item has no usable source"}
	}

	id := uuid.New().String()

	d := storage.NewActiveDownload(storage.DownloadRecord{
		ID:        id,
		UserID:    userID,
		Username:  username,
		SourceID:  sourceID,
		Title:     src.Title,
		Year:      src.Year,
		ItemType:  src.ItemType,
		Status:    storage.StatusActive,
		TotalSize: src.Size,
		StartedAt: time.Now(),
	})

	if err := dl.registry.Put(id, d); err != nil {
		return nil, fmt.Errorf("failed to register download: %w", err)
	}

	logger.Info("download started",
		"download_id", id,
		"source_id", sourceID,
		"user_id", userID,
		"title", src.Title)

	// The transfer outlives the originating request; only server shutdown
	// reaches it.
	taskCtx := logctx.WithLogger(dl.baseCtx, logger)

	go dl.runTransfer(taskCtx, d, src)

	return &StartReceipt{ID: id, Status: storage.StatusActive}, nil
}

// runTransfer is the detached task: engine and monitor run concurrently, and
// the terminal outcome is persisted exactly once. Panics are recorded as
// failures and never escape the task boundary.
func (dl *Downloader) runTransfer(ctx context.Context, d *storage.ActiveDownload, src *MediaSource) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", d.ID())

	defer func() {
		if r := recover(); r != nil {
			logger.Error("transfer task panic", "panic", r, "stack", string(debug.Stack()))

			d.Fail(fmt.Sprintf("internal error: %v", r))
			dl.registry.Remove(d.ID())

			if err := dl.persist(ctx, d.Snapshot()); err != nil {
				logger.Error("failed to persist record after panic", "err", err)
			}
		}
	}()

	rec := d.Snapshot()

	destDir := filepath.Join(dl.downloadDir, rec.UserID)
	if err := os.MkdirAll(destDir, dirPerm); err != nil {
		dl.finishFailed(ctx, d, fmt.Sprintf("failed to create download directory: %v", err))

		return
	}

	destPath := destinationPath(destDir, rec.Title, src.Locator(), rec.ID)

	err := dl.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		wg, runCtx := errgroup.WithContext(ctx)

		monCtx, stopMonitor := context.WithCancel(runCtx)

		wg.Go(func() error {
			dl.monitor.Watch(monCtx, d, destPath)

			return nil
		})

		wg.Go(func() error {
			defer stopMonitor()

			_, err := dl.engine.Run(runCtx, src.Locator(), destPath, d, dl.registry.Has)

			return err
		})

		return wg.Wait()
	})

	switch {
	case errors.Is(err, ErrCancelled):
		// Cancel already deregistered and persisted the record; the engine
		// has cleaned up its partial file.
		logger.Info("download cancelled")
	case err != nil:
		logger.Error("download failed", "err", err)
		dl.finishFailed(ctx, d, err.Error())
	default:
		dl.finishCompleted(ctx, d, destPath)
	}
}

func (dl *Downloader) finishCompleted(ctx context.Context, d *storage.ActiveDownload, destPath string) {
	logger := logctx.LoggerFromContext(ctx)

	d.Complete(destPath)
	dl.registry.Remove(d.ID())

	rec := d.Snapshot()

	if err := dl.persist(ctx, rec); err != nil {
		logger.Error("failed to persist completed record", "download_id", rec.ID, "err", err)
	}

	logger.Info("download completed", "download_id", rec.ID, "file_path", rec.FilePath)

	dl.emit(dl.OnDownloadFinished, rec)
}

func (dl *Downloader) finishFailed(ctx context.Context, d *storage.ActiveDownload, msg string) {
	logger := logctx.LoggerFromContext(ctx)

	d.Fail(msg)
	dl.registry.Remove(d.ID())

	rec := d.Snapshot()

	if err := dl.persist(ctx, rec); err != nil {
		logger.Error("failed to persist failed record", "download_id", rec.ID, "err", err)
	}

	dl.emit(dl.OnDownloadFailed, rec)
}

// emit publishes an event without ever blocking a termination step.
func (dl *Downloader) emit(ch chan storage.DownloadRecord, rec storage.DownloadRecord) {
	select {
	case ch <- rec:
	default:
	}
}

// PersistLocker exposes the single-writer persistence section so other
// store writers (the retention sweep) can serialize against terminating
// transfers.
func (dl *Downloader) PersistLocker() sync.Locker {
	return &dl.persistMu
}

// persist appends or replaces the record in the store under the single
// writer section: any prior record with the same id is dropped first.
func (dl *Downloader) persist(ctx context.Context, rec storage.DownloadRecord) error {
	dl.persistMu.Lock()
	defer dl.persistMu.Unlock()

	records, err := dl.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	kept := records[:0]

	for _, r := range records {
		if r.ID != rec.ID {
			kept = append(kept, r)
		}
	}

	kept = append(kept, rec)

	if err := dl.store.SaveAll(ctx, kept); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}

	return nil
}

// Get returns the download with the given id: the live registry copy while
// active, the persisted snapshot once terminal.
func (dl *Downloader) Get(ctx context.Context, id string) (storage.DownloadRecord, error) {
	if d, ok := dl.registry.Get(id); ok {
		return d.Snapshot(), nil
	}

	records, err := dl.store.LoadAll(ctx)
	if err != nil {
		return storage.DownloadRecord{}, fmt.Errorf("failed to load records: %w", err)
	}

	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}

	return storage.DownloadRecord{}, storage.ErrNotFound
}

// List merges active downloads from the registry with persisted completed
// records, optionally filtered by owner.
func (dl *Downloader) List(ctx context.Context, userID string) (*ListResult, error) {
	result := &ListResult{
		Active:    []storage.DownloadRecord{},
		Completed: []storage.DownloadRecord{},
	}

	active := dl.registry.List(func(d *storage.ActiveDownload) bool {
		return userID == "" || d.UserID() == userID
	})

	for _, d := range active {
		result.Active = append(result.Active, d.Snapshot())
	}

	records, err := dl.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	for _, r := range records {
		if r.Status != storage.StatusCompleted {
			continue
		}

		if userID != "" && r.UserID != userID {
			continue
		}

		result.Completed = append(result.Completed, r)
	}

	return result, nil
}

// Cancel deregisters an active download and persists it as cancelled. The
// in-flight transfer observes the removal on its next chunk boundary and
// deletes its own partial file. A second Cancel for the same id reports
// storage.ErrNotFound.
func (dl *Downloader) Cancel(ctx context.Context, id string) error {
	logger := logctx.LoggerFromContext(ctx)

	d, ok := dl.registry.Get(id)
	if !ok {
		return storage.ErrNotFound
	}

	// Remove arbitrates concurrent cancels: only one caller wins.
	if !dl.registry.Remove(id) {
		return storage.ErrNotFound
	}

	d.MarkCancelled()
	dl.telemetry.RecordCancellation()

	if err := dl.persist(ctx, d.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist cancelled record: %w", err)
	}

	logger.Info("download cancelled", "download_id", id)

	return nil
}

// StreamPath returns the on-disk path of a finished download, or
// storage.ErrNotFound when no terminal record with an existing file exists.
func (dl *Downloader) StreamPath(ctx context.Context, id string) (string, error) {
	records, err := dl.store.LoadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load records: %w", err)
	}

	for _, r := range records {
		if r.ID != id || r.FilePath == "" {
			continue
		}

		if _, err := os.Stat(r.FilePath); err != nil {
			return "", storage.ErrNotFound
		}

		return r.FilePath, nil
	}

	return "", storage.ErrNotFound
}
