// internal/cache/file.go
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"feedtranslator/internal/feed"
	"feedtranslator/internal/metrics"
	"feedtranslator/internal/rss"

	"github.com/rs/zerolog"
)

// DefaultTagLimit caps the items of a tag output.
const DefaultTagLimit = 100

// OutputStore is the read side FileRefresher renders from.
type OutputStore interface {
	GetFeedBySlug(ctx context.Context, slug string) (*feed.Feed, error)
	ListFeedsByTag(ctx context.Context, tag string) ([]*feed.Feed, error)
	RecentEntries(ctx context.Context, feedID int64, limit int) ([]*feed.Entry, error)
}

// FileRefresher renders outputs into a directory:
// <dir>/feeds/<slug>_<variant>.<format> and <dir>/tags/<tag>_<variant>.<format>.
type FileRefresher struct {
	store    OutputStore
	dir      string
	tagLimit int
	logger   zerolog.Logger
}

func NewFileRefresher(store OutputStore, dir string, logger zerolog.Logger) *FileRefresher {
	return &FileRefresher{
		store:    store,
		dir:      dir,
		tagLimit: DefaultTagLimit,
		logger:   logger.With().Str("component", "cache").Logger(),
	}
}

func (r *FileRefresher) RefreshFeedOutput(ctx context.Context, slug, variant, format string) error {
	err := r.refreshFeed(ctx, slug, variant, format)
	record("feed", err)
	return err
}

func (r *FileRefresher) refreshFeed(ctx context.Context, slug, variant, format string) error {
	fd, err := r.store.GetFeedBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("load feed %s: %w", slug, err)
	}
	entries, err := r.store.RecentEntries(ctx, fd.ID, fd.MaxPosts)
	if err != nil {
		return fmt.Errorf("load entries of %s: %w", slug, err)
	}

	data, err := rss.BuildFeed(fd, entries, variant).Encode(format)
	if err != nil {
		return err
	}
	return r.write(filepath.Join("feeds", FileName(slug, variant, format)), data)
}

func (r *FileRefresher) RefreshTagOutput(ctx context.Context, tag, variant, format string) error {
	err := r.refreshTag(ctx, tag, variant, format)
	record("tag", err)
	return err
}

func (r *FileRefresher) refreshTag(ctx context.Context, tag, variant, format string) error {
	feeds, err := r.store.ListFeedsByTag(ctx, tag)
	if err != nil {
		return fmt.Errorf("load feeds tagged %s: %w", tag, err)
	}
	entries := make(map[int64][]*feed.Entry, len(feeds))
	for _, fd := range feeds {
		list, err := r.store.RecentEntries(ctx, fd.ID, fd.MaxPosts)
		if err != nil {
			return fmt.Errorf("load entries of %s: %w", fd.Slug, err)
		}
		entries[fd.ID] = list
	}

	data, err := rss.BuildTag(tag, feeds, entries, variant, r.tagLimit).Encode(format)
	if err != nil {
		return err
	}
	return r.write(filepath.Join("tags", FileName(tag, variant, format)), data)
}

// write replaces dir/name atomically.
func (r *FileRefresher) write(name string, data []byte) error {
	path := filepath.Join(r.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	r.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("Output written")
	return nil
}

var fileToken = strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")

// FileName builds "<key>_<variant>.<format>" with path separators removed
// from key.
func FileName(key, variant, format string) string {
	key = fileToken.Replace(strings.TrimSpace(key))
	if key == "" {
		key = "_"
	}
	return key + "_" + variant + "." + format
}

func record(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.CacheRefreshTotal.WithLabelValues(kind, result).Inc()
}
