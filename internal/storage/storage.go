package storage

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no record exists for a given download ID.
var ErrNotFound = errors.New("download record not found")

// Status describes where a download is in its lifecycle. Transitions are
// forward-only: an active download moves to exactly one terminal status and
// never leaves it.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is one of the terminal outcomes.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ItemType is the kind of media a record refers to.
type ItemType string

const (
	ItemTypeMovie  ItemType = "movie"
	ItemTypeSeries ItemType = "series"
)

// DownloadRecord describes one transfer: its identity, source, destination
// and status. While active the authoritative copy lives in the registry;
// once terminal it is persisted exactly once in the record store.
type DownloadRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	SourceID    string    `json:"sourceId"`
	Title       string    `json:"title"`
	Year        int       `json:"year,omitempty"`
	ItemType    ItemType  `json:"itemType"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	TotalSize   int64     `json:"totalSize"`
	FilePath    string    `json:"filePath,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ActiveDownload is the shared, mutable in-flight copy of a record. The
// transfer engine, the progress monitor and reader endpoints all touch it
// concurrently, so every access goes through the lock.
type ActiveDownload struct {
	mu  sync.RWMutex
	rec DownloadRecord
}

// NewActiveDownload wraps an initial record. The record is expected to carry
// StatusActive and its immutable identity fields already set.
func NewActiveDownload(rec DownloadRecord) *ActiveDownload {
	return &ActiveDownload{rec: rec}
}

// Snapshot returns a copy of the current record state.
func (a *ActiveDownload) Snapshot() DownloadRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.rec
}

// ID returns the immutable download id.
func (a *ActiveDownload) ID() string {
	return a.rec.ID
}

// UserID returns the immutable owner id.
func (a *ActiveDownload) UserID() string {
	return a.rec.UserID
}

// Status returns the current status.
func (a *ActiveDownload) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.rec.Status
}

// TotalSize returns the currently known total size in bytes, 0 if unknown.
func (a *ActiveDownload) TotalSize() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.rec.TotalSize
}

// SetTotalSize records the total size once known. It also corrects an
// earlier estimate when the observed size differs.
func (a *ActiveDownload) SetTotalSize(size int64) {
	if size <= 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.rec.TotalSize = size
}

// SetProgress updates the advisory progress percentage. Progress never
// decreases while a download is active.
func (a *ActiveDownload) SetProgress(pct int) {
	if pct < 0 {
		pct = 0
	}

	if pct > 100 {
		pct = 100
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rec.Status != StatusActive || pct <= a.rec.Progress {
		return
	}

	a.rec.Progress = pct
}

// Complete marks the download completed with its final path. Progress is
// forced to 100. No-op if the download already reached a terminal status.
func (a *ActiveDownload) Complete(filePath string) {
	a.terminate(StatusCompleted, func(rec *DownloadRecord) {
		rec.FilePath = filePath
		rec.Progress = 100
	})
}

// Fail marks the download failed with the given error message.
func (a *ActiveDownload) Fail(msg string) {
	a.terminate(StatusFailed, func(rec *DownloadRecord) {
		rec.Error = msg
	})
}

// MarkCancelled marks the download cancelled.
func (a *ActiveDownload) MarkCancelled() {
	a.terminate(StatusCancelled, nil)
}

func (a *ActiveDownload) terminate(status Status, apply func(*DownloadRecord)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rec.Status.IsTerminal() {
		return
	}

	a.rec.Status = status
	a.rec.CompletedAt = time.Now()

	if apply != nil {
		apply(&a.rec)
	}
}
