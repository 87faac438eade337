package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chazu/vmkernel/image"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps images in a single SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		name TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		image BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, img *image.Image) error {
	if err := checkName(img.Name); err != nil {
		return err
	}
	data, err := image.Marshal(img)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO programs (name, fingerprint, image, updated_at) VALUES (?, ?, ?, ?)",
		img.Name, img.Fingerprint, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving program %q: %w", img.Name, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, name string) (*image.Image, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT image FROM programs WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("querying program %q: %w", name, err)
	}
	return image.Unmarshal(data)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM programs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning program name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM programs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting program %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
