package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	data BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_name ON kv(name, id);
`

// SQLiteFactory stores every key in one sqlite database, newest
// revision last. JSON-encoded regardless of the file-store encoding.
type SQLiteFactory struct {
	db        *sql.DB
	revisions int
}

func NewSQLiteFactory(path string, revisions int) (*SQLiteFactory, error) {
	if revisions < 1 {
		revisions = 1
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return &SQLiteFactory{db: db, revisions: revisions}, nil
}

func (f *SQLiteFactory) Create(name string) Storage {
	return &sqliteStorage{db: f.db, name: name, revisions: f.revisions}
}

func (f *SQLiteFactory) Close() error { return f.db.Close() }

type sqliteStorage struct {
	db        *sql.DB
	name      string
	revisions int
}

func (s *sqliteStorage) Load(dst any) (bool, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM kv WHERE name = ? ORDER BY id DESC LIMIT 1`,
		s.name,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: load %s: %w", s.name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", s.name, err)
	}
	return true, nil
}

func (s *sqliteStorage) Put(src any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", s.name, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", s.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO kv (name, data) VALUES (?, ?)`, s.name, data); err != nil {
		return fmt.Errorf("storage: put %s: %w", s.name, err)
	}
	_, err = tx.Exec(
		`DELETE FROM kv WHERE name = ? AND id NOT IN (
			SELECT id FROM kv WHERE name = ? ORDER BY id DESC LIMIT ?)`,
		s.name, s.name, s.revisions,
	)
	if err != nil {
		return fmt.Errorf("storage: prune %s: %w", s.name, err)
	}
	return tx.Commit()
}

func (s *sqliteStorage) Erase() error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE name = ?`, s.name)
	return err
}
