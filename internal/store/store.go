package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial layout (transactions, documents, evictions)
// 2 - redactions: document hashes purged by evictions
const currentSchemaVersion = 2

// connPragmas configure the store's single connection. The log is written
// by one applier and read by views and replay, so WAL lets readers page
// through it while an append is in flight.
var connPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store is the durable transaction log and document table of one database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it and its tables when
// missing. ":memory:" gives a throwaway store. Opening an existing
// database again is harmless; one written by a newer schema is refused.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// database/sql pools connections, but a :memory: database lives and
	// dies with one connection, and pragmas are per connection too. Pin
	// the pool to a single connection so every statement sees the same
	// database and settings.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close releases the connection. A zero Store closes cleanly.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configure(db *sql.DB) error {
	for _, pragma := range connPragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// applySchema refuses databases from a newer release, then creates any
// missing tables and stamps the current version. Every table is created
// with IF NOT EXISTS, so an older layout is upgraded by the same script.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d",
			version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("write user_version: %w", err)
	}
	return nil
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return value, nil
}
