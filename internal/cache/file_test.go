package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"feedtranslator/internal/database"
	"feedtranslator/internal/feed"

	"github.com/rs/zerolog"
)

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"abc123":      "abc123_t.xml",
		"world news":  "world_news_t.xml",
		"../etc/pass": "__etc_pass_t.xml",
		"  ":          "__t.xml",
	}
	for key, want := range tests {
		if got := FileName(key, "t", "xml"); got != want {
			t.Errorf("FileName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestFileRefresher(t *testing.T) {
	db, err := database.NewDB(":memory:", database.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	fd := &feed.Feed{FeedURL: "https://example.com/feed", Name: "Example", TargetLanguage: "German", Tags: []string{"news"}}
	if err := db.CreateFeed(ctx, fd); err != nil {
		t.Fatal(err)
	}
	pub := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := db.BulkCreateEntries(ctx, []*feed.Entry{{
		FeedID: fd.ID, GUID: "g1", Link: "https://example.com/1", Pubdate: &pub,
		OriginalTitle: "Hello", OriginalContent: "<p>World</p>", TranslatedTitle: "Hallo",
	}}); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	r := NewFileRefresher(db, dir, zerolog.Nop())

	if err := r.RefreshFeedOutput(ctx, fd.Slug, "t", "xml"); err != nil {
		t.Fatalf("RefreshFeedOutput() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "feeds", fd.Slug+"_t.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<title>Hallo</title>") {
		t.Errorf("feed output = %s", data)
	}

	if err := r.RefreshTagOutput(ctx, "news", "o", "json"); err != nil {
		t.Fatalf("RefreshTagOutput() error = %v", err)
	}
	data, err = os.ReadFile(filepath.Join(dir, "tags", "news_o.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"title": "Hello"`) {
		t.Errorf("tag output = %s", data)
	}

	if err := r.RefreshFeedOutput(ctx, "missing", "o", "xml"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("missing slug error = %v", err)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "feeds", ".tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}
