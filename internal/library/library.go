// Package library implements the media locator over the server's sqlite
// catalog: it maps a source identifier to a byte source plus descriptive
// metadata.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mediaforge/media_downloader/internal/download"
	"github.com/mediaforge/media_downloader/internal/storage"
)

// Catalog resolves source identifiers against the media_items table.
type Catalog struct {
	db *sql.DB
}

// NewCatalog wraps an open database connection.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Resolve looks up a media item by source id. Unknown ids resolve to
// storage.ErrNotFound.
func (c *Catalog) Resolve(ctx context.Context, sourceID string) (*download.MediaSource, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT title, year, item_type, local_path, remote_url, size
		FROM media_items WHERE source_id = ?`, sourceID)

	var src download.MediaSource

	var localPath, remoteURL sql.NullString

	err := row.Scan(&src.Title, &src.Year, &src.ItemType, &localPath, &remoteURL, &src.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to look up media item: %w", err)
	}

	src.Path = localPath.String
	src.URL = remoteURL.String

	return &src, nil
}

// AddItem registers a media item in the catalog. Existing entries for the
// same source id are replaced.
func (c *Catalog) AddItem(ctx context.Context, sourceID string, src *download.MediaSource) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO media_items (source_id, title, year, item_type, local_path, remote_url, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			title = excluded.title,
			year = excluded.year,
			item_type = excluded.item_type,
			local_path = excluded.local_path,
			remote_url = excluded.remote_url,
			size = excluded.size`,
		sourceID, src.Title, src.Year, src.ItemType, src.Path, src.URL, src.Size)
	if err != nil {
		return fmt.Errorf("failed to upsert media item: %w", err)
	}

	return nil
}
