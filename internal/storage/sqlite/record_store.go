package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediaforge/media_downloader/internal/storage"
)

// RecordStore persists terminal download records with load-all and
// replace-all semantics. Callers serialize their read-modify-write cycles;
// SaveAll itself runs in a single transaction so a replace is atomic.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore wraps an open database connection.
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// LoadAll returns every persisted record.
func (s *RecordStore) LoadAll(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, username, source_id, title, year, item_type,
		       status, progress, total_size, file_path, started_at, completed_at, error
		FROM download_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	defer rows.Close()

	var records []storage.DownloadRecord

	for rows.Next() {
		var rec storage.DownloadRecord

		var startedAt, completedAt sql.NullString

		var filePath, errMsg sql.NullString

		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Username, &rec.SourceID, &rec.Title,
			&rec.Year, &rec.ItemType, &rec.Status, &rec.Progress, &rec.TotalSize,
			&filePath, &startedAt, &completedAt, &errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.FilePath = filePath.String
		rec.Error = errMsg.String

		if startedAt.Valid {
			rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt.String)
		}

		if completedAt.Valid {
			rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt.String)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveAll replaces the full record list inside one transaction.
func (s *RecordStore) SaveAll(ctx context.Context, records []storage.DownloadRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM download_records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO download_records (
			id, user_id, username, source_id, title, year, item_type,
			status, progress, total_size, file_path, started_at, completed_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}

	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.UserID, rec.Username, rec.SourceID, rec.Title,
			rec.Year, rec.ItemType, rec.Status, rec.Progress, rec.TotalSize,
			rec.FilePath,
			rec.StartedAt.Format(time.RFC3339Nano),
			rec.CompletedAt.Format(time.RFC3339Nano),
			rec.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}
