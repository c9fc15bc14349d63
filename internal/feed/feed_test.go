// Save as: internal/feed/feed_test.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

// Sample XML feed data
const (
	sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
	<title>Sample RSS Feed</title>
	<link>http://example.com/rss</link>
	<description>This is a sample RSS feed.</description>
	<language>en</language>
	<item>
		<title>RSS Entry 1</title>
		<link>http://example.com/rss/entry1</link>
		<guid>g1</guid>
		<pubDate>Mon, 01 Jan 2023 10:00:00 +0000</pubDate>
		<description>Summary for entry 1</description>
		<content:encoded><![CDATA[<p>Full body of entry 1</p>]]></content:encoded>
	</item>
	<item>
		<title>RSS Entry 2</title>
		<link>http://example.com/rss/entry2</link>
		<guid>g2</guid>
		<pubDate>Tue, 02 Jan 2023 11:00:00 +0000</pubDate>
		<description>Summary for entry 2</description>
	</item>
	<item>
		<link>http://example.com/rss/entry3</link>
		<pubDate>Wed, 03 Jan 2023 12:00:00 +0000</pubDate>
		<enclosure url="http://example.com/a.mp3" type="audio/mpeg" length="1234"/>
	</item>
	<item>
		<title>Entry without id or link</title>
		<pubDate>Thu, 04 Jan 2023 12:00:00 +0000</pubDate>
	</item>
</channel>
</rss>`

	updatedRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
	<title>Renamed Feed</title>
	<link>http://example.com/rss</link>
	<item>
		<title>Rewritten title</title>
		<link>http://example.com/rss/entry1</link>
		<guid>g1</guid>
		<pubDate>Mon, 01 Jan 2023 10:00:00 +0000</pubDate>
		<description>Changed summary</description>
	</item>
</channel>
</rss>`

	nonXMLContent = `This is not XML content at all. It's just plain text.`
)

// memStore is an in-memory Store for fetcher tests.
type memStore struct {
	mu      sync.Mutex
	feeds   map[int64]*Feed
	entries []*Entry
	saves   int
	nextID  int64
	// staleGUIDs hides stored entries from ExistingGUIDs, as when another
	// run inserts between the read and the write.
	staleGUIDs bool
}

func newMemStore() *memStore {
	return &memStore{feeds: make(map[int64]*Feed)}
}

func (m *memStore) ListFeedsByFrequency(_ context.Context, minutes int) ([]*Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Feed
	for _, f := range m.feeds {
		if f.UpdateFrequency == minutes {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) GetFeed(_ context.Context, id int64) (*Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return f, nil
}

func (m *memStore) CreateFeed(_ context.Context, f *Feed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	f.ID = m.nextID
	m.feeds[f.ID] = f
	return nil
}

func (m *memStore) SaveFeed(_ context.Context, f *Feed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.feeds[f.ID] = f
	return nil
}

func (m *memStore) BulkUpdateFeeds(ctx context.Context, feeds []*Feed) error {
	for _, f := range feeds {
		if err := m.SaveFeed(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) CountEntries(_ context.Context, feedID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.FeedID == feedID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ExistingGUIDs(_ context.Context, feedID int64) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	if m.staleGUIDs {
		return out, nil
	}
	for _, e := range m.entries {
		if e.FeedID == feedID {
			out[e.GUID] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) BulkCreateEntries(_ context.Context, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if slices.ContainsFunc(m.entries, func(o *Entry) bool { return o.FeedID == e.FeedID && o.GUID == e.GUID }) {
			continue
		}
		m.nextID++
		e.ID = m.nextID
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *memStore) RecentEntries(_ context.Context, feedID int64, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.FeedID == feedID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) UnsummarizedEntries(ctx context.Context, feedID int64, limit int) ([]*Entry, error) {
	recent, _ := m.RecentEntries(ctx, feedID, limit)
	return slices.DeleteFunc(recent, func(e *Entry) bool { return e.AISummary != "" }), nil
}

func (m *memStore) BulkUpdateEntries(context.Context, []*Entry) error { return nil }

func (m *memStore) TagsForFeeds(context.Context, []int64) ([]string, error) { return nil, nil }

func (m *memStore) entriesFor(feedID int64) map[string]*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Entry)
	for _, e := range m.entries {
		if e.FeedID == feedID {
			out[e.GUID] = e
		}
	}
	return out
}

// newMockFeedServer sets up an httptest.Server with a given handler.
func newMockFeedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func serveBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, body)
	}
}

func setupFetcher(t *testing.T, feedURL string, maxPosts int) (*Fetcher, *memStore, *Feed) {
	t.Helper()
	store := newMemStore()
	fd := &Feed{FeedURL: feedURL, Name: "Loading", MaxPosts: maxPosts, TargetLanguage: "German"}
	if err := store.CreateFeed(context.Background(), fd); err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	return NewFetcher(store, zerolog.Nop(), "test-agent"), store, fd
}

func TestFetchAndMergeCreatesEntries(t *testing.T) {
	srv := newMockFeedServer(t, serveBody(sampleRSS))
	fetcher, store, fd := setupFetcher(t, srv.URL, 10)

	if err := fetcher.FetchAndMerge(context.Background(), fd); err != nil {
		t.Fatalf("FetchAndMerge() error = %v", err)
	}

	if fd.FetchStatus != StatusSuccess {
		t.Errorf("FetchStatus = %v, want success", fd.FetchStatus)
	}
	if !strings.Contains(fd.Log, "Fetch Completed") {
		t.Errorf("log = %q, want Fetch Completed", fd.Log)
	}
	if store.saves != 1 {
		t.Errorf("feed saved %d times, want exactly 1", store.saves)
	}
	if fd.Name != "Sample RSS Feed" || fd.Language != "en" || fd.Author != "Unknown" {
		t.Errorf("metadata not merged: name=%q lang=%q author=%q", fd.Name, fd.Language, fd.Author)
	}
	if fd.ETag != `"v1"` || fd.LastFetch == nil {
		t.Errorf("etag=%q lastFetch=%v", fd.ETag, fd.LastFetch)
	}

	entries := store.entriesFor(fd.ID)
	if len(entries) != 3 {
		t.Fatalf("created %d entries, want 3 (item without id or link is dropped)", len(entries))
	}

	// content fallback chain
	if got := entries["g1"].OriginalContent; got != "<p>Full body of entry 1</p>" {
		t.Errorf("g1 content = %q, want rendered content block", got)
	}
	if got := entries["g2"].OriginalContent; got != "Summary for entry 2" {
		t.Errorf("g2 content = %q, want summary fallback", got)
	}
	e3, ok := entries["http://example.com/rss/entry3"]
	if !ok {
		t.Fatal("entry without guid should fall back to its link")
	}
	if e3.OriginalContent != "" || e3.OriginalTitle != "No title" || e3.Author != "Unknown" {
		t.Errorf("entry3 = %+v", e3)
	}
	if !strings.Contains(e3.EnclosuresXML, `href="http://example.com/a.mp3"`) ||
		!strings.Contains(e3.EnclosuresXML, `length="1234"`) {
		t.Errorf("enclosures = %q", e3.EnclosuresXML)
	}
}

func TestFetchAndMergeCap(t *testing.T) {
	srv := newMockFeedServer(t, serveBody(sampleRSS))
	fetcher, store, fd := setupFetcher(t, srv.URL, 2)

	if err := fetcher.FetchAndMerge(context.Background(), fd); err != nil {
		t.Fatalf("FetchAndMerge() error = %v", err)
	}
	entries := store.entriesFor(fd.ID)
	if len(entries) > 2 {
		t.Errorf("created %d entries, cap is 2", len(entries))
	}
	// the two newest items are the id-less one (dropped) and entry3
	if _, ok := entries["http://example.com/rss/entry3"]; !ok || len(entries) != 1 {
		t.Errorf("expected only the newest identifiable entry, got %v", entries)
	}
}

func TestFetchAndMergeIdempotent(t *testing.T) {
	srv := newMockFeedServer(t, serveBody(sampleRSS))
	fetcher, store, fd := setupFetcher(t, srv.URL, 10)
	ctx := context.Background()

	if err := fetcher.FetchAndMerge(ctx, fd); err != nil {
		t.Fatal(err)
	}
	first := store.entriesFor(fd.ID)
	if err := fetcher.FetchAndMerge(ctx, fd); err != nil {
		t.Fatal(err)
	}
	second := store.entriesFor(fd.ID)

	if len(first) != len(second) {
		t.Errorf("entry count changed from %d to %d", len(first), len(second))
	}
	for guid, e := range first {
		if second[guid] != e {
			t.Errorf("entry %s was replaced", guid)
		}
	}
}

func TestMergeEntriesCountsOnlyInserted(t *testing.T) {
	store := newMemStore()
	fd := &Feed{FeedURL: "http://example.com/rss", MaxPosts: 10}
	if err := store.CreateFeed(context.Background(), fd); err != nil {
		t.Fatal(err)
	}
	fetcher := NewFetcher(store, zerolog.Nop(), "test-agent")
	ctx := context.Background()

	items := []*gofeed.Item{
		{GUID: "a", Title: "A", Link: "http://example.com/a"},
		{GUID: "b", Title: "B", Link: "http://example.com/b"},
	}
	if n, err := fetcher.mergeEntries(ctx, fd, items); err != nil || n != 2 {
		t.Fatalf("first merge = %d, %v; want 2", n, err)
	}

	store.staleGUIDs = true
	items = append(items, &gofeed.Item{GUID: "c", Title: "C", Link: "http://example.com/c"})
	n, err := fetcher.mergeEntries(ctx, fd, items)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("second merge = %d, want 1 (a and b were already stored)", n)
	}
	if got := len(store.entriesFor(fd.ID)); got != 3 {
		t.Errorf("stored entries = %d, want 3", got)
	}
}

func TestExistingGUIDNotOverwritten(t *testing.T) {
	var body atomic.Value
	body.Store(sampleRSS)
	srv := newMockFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body.Load().(string))
	})
	fetcher, store, fd := setupFetcher(t, srv.URL, 10)
	ctx := context.Background()

	if err := fetcher.FetchAndMerge(ctx, fd); err != nil {
		t.Fatal(err)
	}
	before, _ := store.CountEntries(ctx, fd.ID)

	body.Store(updatedRSS)
	if err := fetcher.FetchAndMerge(ctx, fd); err != nil {
		t.Fatal(err)
	}
	after, _ := store.CountEntries(ctx, fd.ID)

	if before != after {
		t.Errorf("entry count changed from %d to %d", before, after)
	}
	g1 := store.entriesFor(fd.ID)["g1"]
	if g1.OriginalTitle != "RSS Entry 1" || g1.OriginalSummary != "Summary for entry 1" {
		t.Errorf("existing entry was modified: %+v", g1)
	}
	if fd.Name != "Sample RSS Feed" {
		t.Errorf("non-placeholder name overwritten with %q", fd.Name)
	}
}

func TestFetchAndMergeNotModified(t *testing.T) {
	var gotETag []string
	var mu sync.Mutex
	srv := newMockFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotETag = append(gotETag, r.Header.Get("If-None-Match"))
		mu.Unlock()
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		serveBody(sampleRSS)(w, r)
	})
	fetcher, store, fd := setupFetcher(t, srv.URL, 3)
	ctx := context.Background()

	// cold store: no validator is sent even though one is stored
	fd.ETag = `"v1"`
	if err := fetcher.FetchAndMerge(ctx, fd); err != nil {
		t.Fatal(err)
	}
	count, _ := store.CountEntries(ctx, fd.ID)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	// warm store: validator sent, server answers 304
	if err := fetcher.FetchAndMerge(ctx, fd); err != nil {
		t.Fatal(err)
	}
	after, _ := store.CountEntries(ctx, fd.ID)
	if after != count {
		t.Errorf("entry count changed on 304: %d -> %d", count, after)
	}
	if fd.FetchStatus != StatusSuccess {
		t.Errorf("FetchStatus = %v, want success", fd.FetchStatus)
	}
	if !strings.Contains(fd.Log, "Feed is up to date, Skip") {
		t.Errorf("log = %q, want up to date line", fd.Log)
	}
	if len(gotETag) != 2 || gotETag[0] != "" || gotETag[1] != `"v1"` {
		t.Errorf("If-None-Match headers = %q", gotETag)
	}
}

func TestFetchAndMergeFailure(t *testing.T) {
	srv := newMockFeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	fetcher, store, fd := setupFetcher(t, srv.URL, 10)

	err := fetcher.FetchAndMerge(context.Background(), fd)
	if err == nil {
		t.Fatal("FetchAndMerge() should report the failed fetch")
	}
	if fd.FetchStatus != StatusFailure {
		t.Errorf("FetchStatus = %v, want failure", fd.FetchStatus)
	}
	if !strings.Contains(fd.Log, "500") {
		t.Errorf("log = %q, want the status code", fd.Log)
	}
	if store.saves != 1 {
		t.Errorf("feed saved %d times, want exactly 1", store.saves)
	}
	if n, _ := store.CountEntries(context.Background(), fd.ID); n != 0 {
		t.Errorf("entries created on failure: %d", n)
	}
}

func TestFetchParseError(t *testing.T) {
	srv := newMockFeedServer(t, serveBody(nonXMLContent))
	fetcher, _, _ := setupFetcher(t, srv.URL, 10)

	res := fetcher.Fetch(context.Background(), srv.URL, "")
	if !errors.Is(res.Err, ErrParse) {
		t.Errorf("Fetch() error = %v, want ErrParse", res.Err)
	}
	if res.Updated || res.Feed != nil {
		t.Errorf("failed parse should not report content: %+v", res)
	}
}

func TestFetchBlocksPrivateAddress(t *testing.T) {
	fetcher, _, _ := setupFetcher(t, "http://10.0.0.1/feed", 10)
	res := fetcher.Fetch(context.Background(), "http://10.0.0.1/feed", "")
	if res.Err == nil {
		t.Error("expected private destination to be rejected")
	}
}

func TestServiceAddFeed(t *testing.T) {
	srv := newMockFeedServer(t, serveBody(sampleRSS))
	store := newMemStore()
	fetcher := NewFetcher(store, zerolog.Nop(), "")
	svc := NewService(store, zerolog.Nop(), fetcher)

	fd, err := svc.AddFeed(context.Background(), srv.URL, NewFeedOptions{TargetLanguage: "French", UpdateFrequency: 20})
	if err != nil {
		t.Fatalf("AddFeed() error = %v", err)
	}
	if fd.ID == 0 || fd.Slug == "" {
		t.Errorf("feed not stored: %+v", fd)
	}
	if fd.UpdateFrequency != 30 {
		t.Errorf("UpdateFrequency = %d, want 30", fd.UpdateFrequency)
	}
	if fd.MaxPosts != DefaultMaxPosts {
		t.Errorf("MaxPosts = %d, want %d", fd.MaxPosts, DefaultMaxPosts)
	}
	if n, _ := store.CountEntries(context.Background(), fd.ID); n != 3 {
		t.Errorf("initial fetch stored %d entries, want 3", n)
	}

	if _, err := svc.AddFeed(context.Background(), "ftp://example.com/feed", NewFeedOptions{}); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("AddFeed(ftp) error = %v, want ErrInvalidURL", err)
	}
}
