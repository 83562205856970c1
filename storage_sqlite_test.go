package pomelo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	cfg := DefaultSQLiteBackendConfig()
	cfg.Path = filepath.Join(t.TempDir(), "blobs.sqlite")
	backend, err := NewSQLiteBackend(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestSQLiteBackendCRUD(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	ctx := context.Background()

	if _, err := backend.Read(ctx, "k"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read missing err = %v", err)
	}

	if err := backend.Write(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := backend.Write(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := backend.Read(ctx, "k")
	if err != nil || string(data) != "two" {
		t.Fatalf("Read = %q, %v", data, err)
	}

	ok, err := backend.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if err := backend.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := backend.Exists(ctx, "k"); ok {
		t.Error("key survived Delete")
	}
}

func TestSQLiteBackendClosed(t *testing.T) {
	backend := newTestSQLiteBackend(t)
	if err := backend.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Closing twice is fine.
	if err := backend.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	ctx := context.Background()
	if _, err := backend.Read(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close err = %v, want ErrClosed", err)
	}
	if err := backend.Write(ctx, "k", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close err = %v, want ErrClosed", err)
	}
}

func TestDatabaseOverSQLiteBackend(t *testing.T) {
	cfg := DefaultConfig("db")
	cfg.SQLite = &SQLiteBackendConfig{Path: filepath.Join(t.TempDir(), "blobs.sqlite")}

	db, err := Open("db", cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	id, err := db.Insert(NewDocument().Set("name", "ada"))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id != 0 {
		t.Errorf("id = %d", id)
	}
	doc, err := db.FindOne(Match(NewDocument().Set("name", "ada")))
	if err != nil || doc == nil {
		t.Errorf("FindOne = %v, %v", doc, err)
	}
}
