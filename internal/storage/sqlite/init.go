package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the schema if needed.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS download_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		username TEXT,
		source_id TEXT,
		title TEXT,
		year INTEGER,
		item_type TEXT,
		status TEXT NOT NULL,
		progress INTEGER DEFAULT 0,
		total_size INTEGER DEFAULT 0,
		file_path TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		error TEXT
	)`)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS media_items (
		source_id TEXT PRIMARY KEY,
		title TEXT,
		year INTEGER,
		item_type TEXT,
		local_path TEXT,
		remote_url TEXT,
		size INTEGER DEFAULT 0
	)`)
	if err != nil {
		return nil, err
	}

	return db, nil
}
