package kv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	if _, ok, err := s.Get("todos"); err != nil || ok {
		t.Fatalf("Get on empty store = ok=%v err=%v, want missing", ok, err)
	}

	if err := s.Set("todos", "[]"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	v, ok, err := s.Get("todos")
	if err != nil || !ok {
		t.Fatalf("Get error: ok=%v err=%v", ok, err)
	}
	if v != "[]" {
		t.Errorf("value = %q, want []", v)
	}

	if err := s.Set("todos", `[{"id":1}]`); err != nil {
		t.Fatalf("Set overwrite error: %v", err)
	}
	v, _, _ = s.Get("todos")
	if v != `[{"id":1}]` {
		t.Errorf("value after overwrite = %q", v)
	}

	if err := s.Remove("todos"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, ok, _ := s.Get("todos"); ok {
		t.Error("key should be gone after Remove")
	}

	// Removing a missing key is fine
	if err := s.Remove("activeTimer"); err != nil {
		t.Errorf("Remove missing key error: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	if err := s.Set("k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after close error = %v, want ErrClosed", err)
	}
	if _, _, err := s.Get("k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close error = %v, want ErrClosed", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "focusdo.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "focusdo.db")

	s1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	if err := s1.Set("activeTimer", `{"todoId":1}`); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	s2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s2.Close()

	v, ok, err := s2.Get("activeTimer")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if v != `{"todoId":1}` {
		t.Errorf("value = %q", v)
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "focusdo.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
	if err := s.Set("k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after close error = %v, want ErrClosed", err)
	}
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// The parent of the database path is a regular file
	s := Open(filepath.Join(blocker, "sub", "focusdo.db"))
	defer s.Close()
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("Open returned %T, want *MemoryStore", s)
	}
	exerciseStore(t, s)
}

func TestOpen_SQLite(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "focusdo.db"))
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("Open returned %T, want *SQLiteStore", s)
	}
}
