package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count); err != nil {
			t.Errorf("query failed: %v", err)
		}
		s.Close()
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"user_version": "2",
	}
	for name, want := range checks {
		got, err := s.pragma(name)
		if err != nil {
			t.Fatalf("pragma(%s) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	s.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("Open() succeeded on a newer schema, want error")
	}
}

func TestOpen_InMemorySharesOneDatabase(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()

	mustAppend(t, s, committedPut(1, pabloDoc(0)))
	mustAppend(t, s, committedPut(2, pabloDoc(1)))

	lastID, _, err := s.Head(context.Background())
	if err != nil {
		t.Fatalf("Head() failed: %v", err)
	}
	if lastID != 2 {
		t.Errorf("Head() lastID = %d, want 2", lastID)
	}
}

func TestOpen_UpgradesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("DROP TABLE redactions; PRAGMA user_version = 1"); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("Open() on version 1 failed: %v", err)
	}
	defer s.Close()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM redactions").Scan(&n); err != nil {
		t.Errorf("redactions missing after upgrade: %v", err)
	}
	if v, _ := s.pragma("user_version"); v != "2" {
		t.Errorf("user_version = %s, want 2", v)
	}
}

func TestClose_Nil(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on empty store = %v, want nil", err)
	}
}
