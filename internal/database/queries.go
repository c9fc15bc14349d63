// internal/database/queries.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedtranslator/internal/feed"
)

// Error definitions
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

var _ feed.Store = (*DB)(nil)

const feedColumns = `id, COALESCE(slug, ''), feed_url, COALESCE(name, ''), COALESCE(subtitle, ''),
    COALESCE(link, ''), COALESCE(author, ''), COALESCE(language, ''), pubdate, updated,
    target_language, update_frequency, max_posts, fetch_article, translate_title,
    translate_content, summary, summary_detail, translation_display, COALESCE(additional_prompt, ''),
    COALESCE(translator_id, ''), COALESCE(summarizer_id, ''), COALESCE(etag, ''),
    last_fetch, last_translate, fetch_status, translation_status,
    total_tokens, total_characters, log`

const entryColumns = `id, feed_id, guid, link, COALESCE(author, ''), pubdate, updated,
    COALESCE(original_title, ''), COALESCE(original_content, ''), COALESCE(original_summary, ''),
    COALESCE(enclosures_xml, ''), COALESCE(translated_title, ''), COALESCE(translated_content, ''),
    COALESCE(ai_summary, '')`

const insertFeedSQL = `
    INSERT INTO feeds (
        slug, feed_url, name, subtitle, link, author, language, pubdate, updated,
        target_language, update_frequency, max_posts, fetch_article, translate_title,
        translate_content, summary, summary_detail, translation_display, additional_prompt,
        translator_id, summarizer_id, etag, last_fetch, last_translate, fetch_status,
        translation_status, total_tokens, total_characters, log
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateFeedSQL = `
    UPDATE feeds SET
        slug = ?, feed_url = ?, name = ?, subtitle = ?, link = ?, author = ?, language = ?,
        pubdate = ?, updated = ?, target_language = ?, update_frequency = ?, max_posts = ?,
        fetch_article = ?, translate_title = ?, translate_content = ?, summary = ?,
        summary_detail = ?, translation_display = ?, additional_prompt = ?, translator_id = ?,
        summarizer_id = ?, etag = ?, last_fetch = ?, last_translate = ?, fetch_status = ?,
        translation_status = ?, total_tokens = ?, total_characters = ?, log = ?
    WHERE id = ?`

// Derived fields are only filled while empty.
const updateEntrySQL = `
    UPDATE entries SET
        original_content = ?,
        translated_title = COALESCE(NULLIF(translated_title, ''), NULLIF(?, '')),
        translated_content = COALESCE(NULLIF(translated_content, ''), NULLIF(?, '')),
        ai_summary = COALESCE(NULLIF(ai_summary, ''), NULLIF(?, ''))
    WHERE id = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

// GetFeed retrieves a single feed with its tags
func (db *DB) GetFeed(ctx context.Context, id int64) (*feed.Feed, error) {
	row := db.QueryRowContext(ctx, "SELECT "+feedColumns+" FROM feeds WHERE id = ?", id)
	f, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting feed %d: %w", id, err)
	}

	tags, err := db.feedTags(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	f.Tags = tags[id]
	return f, nil
}

// GetFeedBySlug looks a feed up by its public identifier
func (db *DB) GetFeedBySlug(ctx context.Context, slug string) (*feed.Feed, error) {
	var id int64
	err := db.QueryRowContext(ctx, "SELECT id FROM feeds WHERE slug = ?", slug).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting feed %q: %w", slug, err)
	}
	return db.GetFeed(ctx, id)
}

// ListFeedsByFrequency returns every feed scheduled at exactly minutes.
func (db *DB) ListFeedsByFrequency(ctx context.Context, minutes int) ([]*feed.Feed, error) {
	return db.listFeeds(ctx, "SELECT "+feedColumns+" FROM feeds WHERE update_frequency = ? ORDER BY id", minutes)
}

// ListFeedsByTag returns the feeds carrying tag, compared case-insensitively.
func (db *DB) ListFeedsByTag(ctx context.Context, tag string) ([]*feed.Feed, error) {
	return db.listFeeds(ctx, `
        SELECT `+feedColumns+` FROM feeds
        WHERE id IN (
            SELECT ft.feed_id FROM feed_tags ft
            JOIN tags t ON t.id = ft.tag_id
            WHERE t.name = ?
        )
        ORDER BY id`, tag)
}

// ListFeeds returns all feeds ordered by id
func (db *DB) ListFeeds(ctx context.Context) ([]*feed.Feed, error) {
	return db.listFeeds(ctx, "SELECT "+feedColumns+" FROM feeds ORDER BY id")
}

func (db *DB) listFeeds(ctx context.Context, query string, args ...any) ([]*feed.Feed, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing feeds: %w", err)
	}

	var feeds []*feed.Feed
	var ids []int64
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning feed: %w", err)
		}
		feeds = append(feeds, f)
		ids = append(ids, f.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Tags are loaded after the cursor is released; a single-connection
	// pool would otherwise deadlock.
	tags, err := db.feedTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, f := range feeds {
		f.Tags = tags[f.ID]
	}
	return feeds, nil
}

// CreateFeed inserts f, assigns its ID and links its tags.
func (db *DB) CreateFeed(ctx context.Context, f *feed.Feed) error {
	if f == nil || strings.TrimSpace(f.FeedURL) == "" {
		return fmt.Errorf("%w: feed URL is required", ErrInvalidInput)
	}
	f.Normalize()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertFeedSQL, feedArgs(f)...)
	if err != nil {
		return fmt.Errorf("error inserting feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("error getting feed id: %w", err)
	}

	for _, name := range f.Tags {
		if err := addTag(ctx, tx, id, name); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing feed: %w", err)
	}
	f.ID = id
	return nil
}

// SaveFeed writes every column of f. Tags are not touched.
func (db *DB) SaveFeed(ctx context.Context, f *feed.Feed) error {
	f.Normalize()
	res, err := db.ExecContext(ctx, updateFeedSQL, append(feedArgs(f), f.ID)...)
	if err != nil {
		return fmt.Errorf("error saving feed %d: %w", f.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkUpdateFeeds saves feeds in one transaction.
func (db *DB) BulkUpdateFeeds(ctx context.Context, feeds []*feed.Feed) error {
	if len(feeds) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, updateFeedSQL)
	if err != nil {
		return fmt.Errorf("error preparing feed update: %w", err)
	}
	defer stmt.Close()

	for _, f := range feeds {
		f.Normalize()
		if _, err := stmt.ExecContext(ctx, append(feedArgs(f), f.ID)...); err != nil {
			return fmt.Errorf("error updating feed %d: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteFeed removes a feed; entries and tag links cascade.
func (db *DB) DeleteFeed(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("error deleting feed %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTag links the named tag to a feed, creating the tag if needed.
func (db *DB) AddTag(ctx context.Context, feedID int64, name string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := addTag(ctx, tx, feedID, name); err != nil {
		return err
	}
	return tx.Commit()
}

func addTag(ctx context.Context, tx *sql.Tx, feedID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty tag name", ErrInvalidInput)
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO tags (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("error creating tag %q: %w", name, err)
	}
	_, err := tx.ExecContext(ctx, `
        INSERT OR IGNORE INTO feed_tags (feed_id, tag_id)
        SELECT ?, id FROM tags WHERE name = ?`, feedID, name)
	if err != nil {
		return fmt.Errorf("error linking tag %q: %w", name, err)
	}
	return nil
}

// TagsForFeeds returns the distinct tag names attached to any of feedIDs.
func (db *DB) TagsForFeeds(ctx context.Context, feedIDs []int64) ([]string, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}
	query := `
        SELECT DISTINCT t.name FROM tags t
        JOIN feed_tags ft ON ft.tag_id = t.id
        WHERE ft.feed_id IN (` + placeholders(len(feedIDs)) + `)
        ORDER BY t.name`

	rows, err := db.QueryContext(ctx, query, int64Args(feedIDs)...)
	if err != nil {
		return nil, fmt.Errorf("error getting tags: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (db *DB) feedTags(ctx context.Context, feedIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(feedIDs))
	if len(feedIDs) == 0 {
		return out, nil
	}
	query := `
        SELECT ft.feed_id, t.name FROM feed_tags ft
        JOIN tags t ON t.id = ft.tag_id
        WHERE ft.feed_id IN (` + placeholders(len(feedIDs)) + `)
        ORDER BY t.name`

	rows, err := db.QueryContext(ctx, query, int64Args(feedIDs)...)
	if err != nil {
		return nil, fmt.Errorf("error getting feed tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

// CountEntries returns the number of stored entries of a feed
func (db *DB) CountEntries(ctx context.Context, feedID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE feed_id = ?", feedID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting entries: %w", err)
	}
	return n, nil
}

// ExistingGUIDs returns the set of guids already stored for a feed
func (db *DB) ExistingGUIDs(ctx context.Context, feedID int64) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "SELECT guid FROM entries WHERE feed_id = ?", feedID)
	if err != nil {
		return nil, fmt.Errorf("error getting guids: %w", err)
	}
	defer rows.Close()

	guids := make(map[string]struct{})
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			return nil, err
		}
		guids[guid] = struct{}{}
	}
	return guids, rows.Err()
}

// BulkCreateEntries inserts entries in one transaction. Rows whose
// (feed_id, guid) already exists are skipped.
func (db *DB) BulkCreateEntries(ctx context.Context, entries []*feed.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT OR IGNORE INTO entries (
            feed_id, guid, link, author, pubdate, updated, original_title,
            original_content, original_summary, enclosures_xml, translated_title,
            translated_content, ai_summary
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		res, err := stmt.ExecContext(ctx,
			e.FeedID, e.GUID, e.Link, nullString(e.Author), nullTime(e.Pubdate), nullTime(e.Updated),
			e.OriginalTitle, e.OriginalContent, nullString(e.OriginalSummary), nullString(e.EnclosuresXML),
			nullString(e.TranslatedTitle), nullString(e.TranslatedContent), nullString(e.AISummary))
		if err != nil {
			return fmt.Errorf("error inserting entry %q: %w", e.GUID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			if id, err := res.LastInsertId(); err == nil {
				e.ID = id
			}
		}
	}
	return tx.Commit()
}

// RecentEntries returns up to limit entries of a feed, newest first.
func (db *DB) RecentEntries(ctx context.Context, feedID int64, limit int) ([]*feed.Entry, error) {
	return db.queryEntries(ctx, `
        SELECT `+entryColumns+` FROM entries
        WHERE feed_id = ?
        ORDER BY pubdate DESC, id DESC
        LIMIT ?`, feedID, limit)
}

// UnsummarizedEntries returns the entries among the newest limit that still
// lack an AI summary.
func (db *DB) UnsummarizedEntries(ctx context.Context, feedID int64, limit int) ([]*feed.Entry, error) {
	return db.queryEntries(ctx, `
        SELECT `+entryColumns+` FROM (
            SELECT * FROM entries
            WHERE feed_id = ?
            ORDER BY pubdate DESC, id DESC
            LIMIT ?
        )
        WHERE COALESCE(ai_summary, '') = ''
        ORDER BY pubdate DESC, id DESC`, feedID, limit)
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...any) ([]*feed.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error getting entries: %w", err)
	}
	defer rows.Close()

	var entries []*feed.Entry
	for rows.Next() {
		var e feed.Entry
		var pubdate, updated sql.NullTime
		err := rows.Scan(
			&e.ID, &e.FeedID, &e.GUID, &e.Link, &e.Author, &pubdate, &updated,
			&e.OriginalTitle, &e.OriginalContent, &e.OriginalSummary, &e.EnclosuresXML,
			&e.TranslatedTitle, &e.TranslatedContent, &e.AISummary,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning entry: %w", err)
		}
		e.Pubdate = timePtr(pubdate)
		e.Updated = timePtr(updated)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// BulkUpdateEntries writes original content and fills derived fields that
// are still empty, in one transaction.
func (db *DB) BulkUpdateEntries(ctx context.Context, entries []*feed.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, updateEntrySQL)
	if err != nil {
		return fmt.Errorf("error preparing entry update: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx, e.OriginalContent, e.TranslatedTitle, e.TranslatedContent, e.AISummary, e.ID)
		if err != nil {
			return fmt.Errorf("error updating entry %d: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func scanFeed(row rowScanner) (*feed.Feed, error) {
	var f feed.Feed
	var pubdate, updated, lastFetch, lastTranslate sql.NullTime
	var fetchStatus, translationStatus sql.NullBool

	err := row.Scan(
		&f.ID, &f.Slug, &f.FeedURL, &f.Name, &f.Subtitle, &f.Link, &f.Author, &f.Language,
		&pubdate, &updated, &f.TargetLanguage, &f.UpdateFrequency, &f.MaxPosts,
		&f.FetchArticle, &f.TranslateTitle, &f.TranslateContent, &f.Summary, &f.SummaryDetail,
		&f.TranslationDisplay, &f.AdditionalPrompt, &f.TranslatorID, &f.SummarizerID, &f.ETag,
		&lastFetch, &lastTranslate, &fetchStatus, &translationStatus,
		&f.TotalTokens, &f.TotalCharacters, &f.Log,
	)
	if err != nil {
		return nil, err
	}

	f.Pubdate = timePtr(pubdate)
	f.Updated = timePtr(updated)
	f.LastFetch = timePtr(lastFetch)
	f.LastTranslate = timePtr(lastTranslate)
	f.FetchStatus = statusFromDB(fetchStatus)
	f.TranslationStatus = statusFromDB(translationStatus)
	return &f, nil
}

func feedArgs(f *feed.Feed) []any {
	return []any{
		f.Slug, f.FeedURL, nullString(f.Name), nullString(f.Subtitle), nullString(f.Link),
		nullString(f.Author), nullString(f.Language), nullTime(f.Pubdate), nullTime(f.Updated),
		f.TargetLanguage, f.UpdateFrequency, f.MaxPosts, f.FetchArticle, f.TranslateTitle,
		f.TranslateContent, f.Summary, f.SummaryDetail, f.TranslationDisplay,
		nullString(f.AdditionalPrompt), nullString(f.TranslatorID), nullString(f.SummarizerID),
		nullString(f.ETag), nullTime(f.LastFetch), nullTime(f.LastTranslate),
		statusToDB(f.FetchStatus), statusToDB(f.TranslationStatus),
		f.TotalTokens, f.TotalCharacters, f.Log,
	}
}

// statusToDB maps the tri-state onto a nullable boolean column.
func statusToDB(s feed.Status) any {
	switch s {
	case feed.StatusSuccess:
		return true
	case feed.StatusFailure:
		return false
	default:
		return nil
	}
}

func statusFromDB(v sql.NullBool) feed.Status {
	switch {
	case !v.Valid:
		return feed.StatusUnknown
	case v.Bool:
		return feed.StatusSuccess
	default:
		return feed.StatusFailure
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
