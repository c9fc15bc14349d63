package feed

import "context"

// Store persists feeds and entries. database.DB is the production
// implementation.
type Store interface {
	ListFeedsByFrequency(ctx context.Context, minutes int) ([]*Feed, error)
	GetFeed(ctx context.Context, id int64) (*Feed, error)
	CreateFeed(ctx context.Context, f *Feed) error
	SaveFeed(ctx context.Context, f *Feed) error
	BulkUpdateFeeds(ctx context.Context, feeds []*Feed) error

	CountEntries(ctx context.Context, feedID int64) (int, error)
	ExistingGUIDs(ctx context.Context, feedID int64) (map[string]struct{}, error)
	BulkCreateEntries(ctx context.Context, entries []*Entry) error
	// RecentEntries returns up to limit entries, newest first.
	RecentEntries(ctx context.Context, feedID int64, limit int) ([]*Entry, error)
	// UnsummarizedEntries returns the entries among the newest limit that
	// have no AI summary yet, newest first.
	UnsummarizedEntries(ctx context.Context, feedID int64, limit int) ([]*Entry, error)
	BulkUpdateEntries(ctx context.Context, entries []*Entry) error

	TagsForFeeds(ctx context.Context, feedIDs []int64) ([]string, error)
}
