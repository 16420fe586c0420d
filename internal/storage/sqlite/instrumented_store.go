package sqlite

import (
	"context"
	"database/sql"

	"github.com/mediaforge/media_downloader/internal/storage"
	"github.com/mediaforge/media_downloader/internal/telemetry"
)

// InstrumentedRecordStore wraps RecordStore with telemetry.
type InstrumentedRecordStore struct {
	store     *RecordStore
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRecordStore creates a record store whose operations are
// traced and measured.
func NewInstrumentedRecordStore(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedRecordStore {
	return &InstrumentedRecordStore{
		store:     NewRecordStore(db),
		telemetry: tel,
	}
}

// LoadAll retrieves every record with telemetry.
func (s *InstrumentedRecordStore) LoadAll(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	var err error

	instrumentedErr := s.telemetry.InstrumentDBOperation(ctx, "load_records", func(ctx context.Context) error {
		result, err = s.store.LoadAll(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// SaveAll replaces the record list with telemetry.
func (s *InstrumentedRecordStore) SaveAll(ctx context.Context, records []storage.DownloadRecord) error {
	return s.telemetry.InstrumentDBOperation(ctx, "save_records", func(ctx context.Context) error {
		return s.store.SaveAll(ctx, records)
	})
}
