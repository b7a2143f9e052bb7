package feature

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/scanlab/bulkscan/internal/position"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS features (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	pos0     TEXT NOT NULL,
	feature  BLOB NOT NULL,
	context  BLOB
);
CREATE INDEX IF NOT EXISTS idx_features_name ON features(name);
CREATE INDEX IF NOT EXISTS idx_features_pos0 ON features(pos0);
`

// SQLiteRecorder stores all findings in one SQLite database instead of a
// directory of text files.
type SQLiteRecorder struct {
	counters
	mu sync.Mutex // serializes inserts; SQLite allows one writer at a time
	db *sql.DB
}

// NewSQLiteRecorder opens (or creates) the database at path with WAL mode
// for better concurrency and initializes the schema.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open feature database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping feature database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize feature schema: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

func (r *SQLiteRecorder) Record(name string, pos position.Position, feature, context []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(
		"INSERT INTO features (name, pos0, feature, context) VALUES (?, ?, ?, ?)",
		name, pos.String(), feature, context,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s feature: %w", name, err)
	}
	r.bump(name)
	return nil
}

func (r *SQLiteRecorder) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close feature database: %w", err)
	}
	return nil
}
