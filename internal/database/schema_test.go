package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

func TestNewDB_SuccessAndTableCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_newdb.db")
	db, err := NewDB(dbPath, DefaultConfig())
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("db.Ping() failed: %v", err)
	}

	tables := []string{"feeds", "entries", "tags", "feed_tags"}
	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("Error checking for table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s was not created. Expected count 1, got %d", table, count)
		}
	}
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	db, err := NewDB(dbPath, DefaultConfig())
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	if _, err := db.Exec("INSERT INTO feeds (slug, feed_url, target_language) VALUES ('s', 'https://example.com/feed', 'German')"); err != nil {
		t.Fatalf("insert feed: %v", err)
	}
	db.Close()

	db, err = NewDB(dbPath, DefaultConfig())
	if err != nil {
		t.Fatalf("second NewDB() error = %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT count(*) FROM feeds").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("feeds after reopen = %d, want 1", count)
	}
}

func TestColumnExists(t *testing.T) {
	db, err := NewDB(":memory:", DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create DB for TestColumnExists: %v", err)
	}
	defer db.Close()

	testCases := []struct {
		tableName   string
		columnName  string
		shouldExist bool
		description string
	}{
		{"feeds", "feed_url", true, "existing column 'feed_url' in 'feeds'"},
		{"feeds", "target_language", true, "existing column 'target_language' in 'feeds'"},
		{"feeds", "non_existent_column", false, "non-existent column in 'feeds'"},
		{"entries", "feed_id", true, "existing column 'feed_id' in 'entries'"},
		{"entries", "another_missing_col", false, "non-existent column in 'entries'"},
		{"non_existent_table", "any_column", false, "column in non-existent table"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			exists, err := columnExists(db.DB, tc.tableName, tc.columnName)
			if err != nil && tc.tableName != "non_existent_table" {
				t.Errorf("columnExists(%s, %s) returned error: %v", tc.tableName, tc.columnName, err)
			}
			if exists != tc.shouldExist {
				t.Errorf("columnExists(%s, %s) = %v, want %v", tc.tableName, tc.columnName, exists, tc.shouldExist)
			}
		})
	}
}

func TestMigrateFeedsTable_AddsColumns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// A database created from the base schema, before the later columns.
	raw, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Exec(Schema); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}
	if exists, _ := columnExists(raw, "feeds", "translation_display"); exists {
		t.Fatal("legacy schema should not have translation_display")
	}
	raw.Close()

	db, err := NewDB(dbPath, DefaultConfig())
	if err != nil {
		t.Fatalf("NewDB() on legacy database: %v", err)
	}
	defer db.Close()

	for _, column := range []string{"translation_display", "additional_prompt"} {
		exists, err := columnExists(db.DB, "feeds", column)
		if err != nil {
			t.Fatalf("Error checking column feeds.%s: %v", column, err)
		}
		if !exists {
			t.Errorf("Expected column feeds.%s to exist after migrations", column)
		}
	}
}
