package db

import (
	"io"
	"path/filepath"
	"testing"

	"pairchat/internal/db/storetest"
	"pairchat/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		return newTestDB(t)
	})
}

func TestNewDBCreatesDirectoryAndIsReopenable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "chat.db")

	first, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	first.Close()

	// Schema creation is idempotent.
	second, err := NewDB(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	second.Close()
}

func TestRebind(t *testing.T) {
	sqlite := &DB{dialect: dialectSQLite}
	pg := &DB{dialect: dialectPostgres}
	query := "SELECT * FROM users WHERE id = ? AND email = ?"

	if got := sqlite.rebind(query); got != query {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	if got := pg.rebind(query); got != "SELECT * FROM users WHERE id = $1 AND email = $2" {
		t.Errorf("postgres rebind = %s", got)
	}
}
