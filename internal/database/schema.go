// internal/database/schema.go
// Database schema and migration logic for the feedtranslator store
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const Schema = `
-- Feeds table
CREATE TABLE IF NOT EXISTS feeds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slug TEXT UNIQUE,
    feed_url TEXT NOT NULL,
    name TEXT,
    subtitle TEXT,
    link TEXT,
    author TEXT,
    language TEXT,
    pubdate TIMESTAMP,
    updated TIMESTAMP,
    target_language TEXT NOT NULL DEFAULT '',
    update_frequency INTEGER NOT NULL DEFAULT 30,
    max_posts INTEGER NOT NULL DEFAULT 20,
    fetch_article BOOLEAN NOT NULL DEFAULT 0,
    translate_title BOOLEAN NOT NULL DEFAULT 0,
    translate_content BOOLEAN NOT NULL DEFAULT 0,
    summary BOOLEAN NOT NULL DEFAULT 0,
    summary_detail REAL NOT NULL DEFAULT 0,
    translator_id TEXT,
    summarizer_id TEXT,
    etag TEXT,
    last_fetch TIMESTAMP,
    last_translate TIMESTAMP,
    fetch_status BOOLEAN,
    translation_status BOOLEAN,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    total_characters INTEGER NOT NULL DEFAULT 0,
    log TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(feed_url, target_language)
);

-- Entries table
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed_id INTEGER NOT NULL,
    guid TEXT NOT NULL,
    link TEXT NOT NULL DEFAULT '',
    author TEXT,
    pubdate TIMESTAMP,
    updated TIMESTAMP,
    original_title TEXT,
    original_content TEXT,
    original_summary TEXT,
    enclosures_xml TEXT,
    translated_title TEXT,
    translated_content TEXT,
    ai_summary TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (feed_id) REFERENCES feeds(id) ON DELETE CASCADE,
    UNIQUE(feed_id, guid)
);

-- Tags table for feed taxonomy
CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL COLLATE NOCASE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Feed tags junction table for many-to-many relationship
CREATE TABLE IF NOT EXISTS feed_tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed_id INTEGER NOT NULL,
    tag_id INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (feed_id) REFERENCES feeds(id) ON DELETE CASCADE,
    FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE,
    UNIQUE(feed_id, tag_id)
);`

const Indexes = `
-- Feed indexes
CREATE INDEX IF NOT EXISTS idx_feeds_frequency ON feeds(update_frequency);

-- Entry indexes
CREATE INDEX IF NOT EXISTS idx_entries_feed_date ON entries(feed_id, pubdate DESC);
CREATE INDEX IF NOT EXISTS idx_entries_guid ON entries(guid);

-- Tag indexes
CREATE INDEX IF NOT EXISTS idx_feed_tags_feed ON feed_tags(feed_id);
CREATE INDEX IF NOT EXISTS idx_feed_tags_tag ON feed_tags(tag_id);`

// DB represents our database connection and operations
type DB struct {
	*sql.DB
}

// Configuration for the database
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the default database configuration
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// NewDB creates a new database connection with optimized settings
func NewDB(dbPath string, cfg Config) (*DB, error) {
	// Add query parameters to optimize SQLite performance
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON&_synchronous=NORMAL",
		dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Every connection to :memory: is a separate database, so pin one.
	if dbPath == ":memory:" {
		cfg = Config{MaxOpenConns: 1, MaxIdleConns: 1}
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	// Create schema
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}

	return &DB{db}, nil
}

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(`
        PRAGMA foreign_keys=ON;
        PRAGMA cache_size=10000;
        PRAGMA temp_store=MEMORY;
    `); err != nil {
		return fmt.Errorf("error setting pragmas: %w", err)
	}

	// Start transaction for table creation
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(Schema); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing schema: %w", err)
	}

	if err := migrateFeedsTable(db); err != nil {
		return fmt.Errorf("error performing migrations: %w", err)
	}

	// Create indexes after tables are committed
	if _, err := db.Exec(Indexes); err != nil {
		return fmt.Errorf("error creating indexes: %w", err)
	}

	return nil
}

// migrateFeedsTable adds columns introduced after the first schema version.
func migrateFeedsTable(db *sql.DB) error {
	expectedColumns := []struct {
		name         string
		columnType   string
		defaultValue string
	}{
		{"translation_display", "INTEGER NOT NULL", "0"},
		{"additional_prompt", "TEXT", ""},
	}

	for _, col := range expectedColumns {
		exists, err := columnExists(db, "feeds", col.name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		alterStmt := fmt.Sprintf("ALTER TABLE feeds ADD COLUMN %s %s", col.name, col.columnType)
		if col.defaultValue != "" {
			alterStmt += " DEFAULT " + col.defaultValue
		}
		if _, err := db.Exec(alterStmt); err != nil {
			return fmt.Errorf("error adding column '%s' to 'feeds' table: %w", col.name, err)
		}
	}

	triggerStmt := `
    CREATE TRIGGER IF NOT EXISTS feeds_updated_at_trigger
    AFTER UPDATE ON feeds
    FOR EACH ROW WHEN NEW.updated_at = OLD.updated_at
    BEGIN
        UPDATE feeds SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
    END;`
	if _, err := db.Exec(triggerStmt); err != nil {
		return fmt.Errorf("error creating trigger for 'updated_at': %w", err)
	}

	return nil
}

func columnExists(db *sql.DB, tableName, columnName string) (bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s);", tableName)
	rows, err := db.Query(query)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int

		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}

	return false, rows.Err()
}
