// Save as: internal/feed/fetcher.go
package feed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"feedtranslator/internal/metrics"
	securitynet "feedtranslator/internal/security/netutil"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
)

const (
	// maxFeedBytes caps the body handed to the parser.
	maxFeedBytes = 5 << 20
	// entryBatchSize bounds each BulkCreateEntries call.
	entryBatchSize = 50

	defaultUserAgent = "FeedTranslator/1.0"
)

var ErrParse = errors.New("error parsing feed")

type Fetcher struct {
	store     Store
	logger    zerolog.Logger
	client    *http.Client
	userAgent string
	now       func() time.Time
}

func NewFetcher(store Store, logger zerolog.Logger, userAgent string) *Fetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Fetcher{
		store:     store,
		logger:    logger.With().Str("component", "fetcher").Logger(),
		client:    NewHTTPClient(30 * time.Second),
		userAgent: userAgent,
		now:       time.Now,
	}
}

// NewHTTPClient returns the hardened client used for feed and article
// downloads: bounded dial/TLS/header timeouts and at most 5 redirects.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport, CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return fmt.Errorf("stopped after 5 redirects")
		}
		return securitynet.CheckHost(req.Context(), req.URL.Hostname())
	}}
}

// Fetch performs a conditional GET of feedURL. A non-empty etag is sent as
// If-None-Match; a 304 answer yields Updated == false.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, etag string) FetchResult {
	var result FetchResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		result.Err = fmt.Errorf("error creating request: %w", err)
		return result
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	if err := securitynet.CheckHost(ctx, req.URL.Hostname()); err != nil {
		result.Err = err
		return result
	}

	resp, err := f.client.Do(req)
	if err != nil {
		result.Err = fmt.Errorf("error while requesting %s: %w", feedURL, err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		result.ETag = etag
		if et := resp.Header.Get("ETag"); et != "" {
			result.ETag = et
		}
		return result
	}
	if resp.StatusCode >= 400 {
		result.Err = fmt.Errorf("HTTP status error while requesting %s: %d %s", feedURL, resp.StatusCode, http.StatusText(resp.StatusCode))
		return result
	}

	// gofeed parsers keep per-document state, so each fetch gets its own.
	parsed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		result.Err = fmt.Errorf("%w: %v", ErrParse, err)
		return result
	}
	if parsed == nil {
		result.Err = fmt.Errorf("%w: empty document", ErrParse)
		return result
	}

	result.Feed = parsed
	result.Updated = true
	result.ETag = resp.Header.Get("ETag")
	return result
}

// FetchAndMerge refreshes fd from its URL and stores entries with unseen
// GUIDs. Outcome and a log line are recorded on fd, which is saved exactly
// once on every path. The returned error reports a failed fetch after it
// has been recorded.
func (f *Fetcher) FetchAndMerge(ctx context.Context, fd *Feed) (err error) {
	logger := f.logger.With().Str("feed_url", fd.FeedURL).Logger()
	fd.FetchStatus = StatusUnknown

	defer func() {
		if err != nil {
			fd.FetchStatus = StatusFailure
			fd.AppendLog(err.Error())
			metrics.FetchTotal.WithLabelValues("failure").Inc()
			logger.Error().Err(err).Msg("Fetch failed")
		}
		if serr := f.store.SaveFeed(ctx, fd); serr != nil {
			logger.Error().Err(serr).Msg("Error saving feed")
			if err == nil {
				err = fmt.Errorf("save feed: %w", serr)
			}
		}
	}()

	count, err := f.store.CountEntries(ctx, fd.ID)
	if err != nil {
		return fmt.Errorf("count entries: %w", err)
	}
	// Only trust the validator once the local store holds a full window,
	// otherwise older entries missed earlier would never be discovered.
	etag := ""
	if count >= fd.MaxPosts {
		etag = fd.ETag
	}

	res := f.Fetch(ctx, fd.FeedURL, etag)
	if res.Err != nil {
		return fmt.Errorf("fetch feed failed: %w", res.Err)
	}
	if !res.Updated {
		fd.FetchStatus = StatusSuccess
		fd.AppendLog("Feed is up to date, Skip")
		metrics.FetchTotal.WithLabelValues("not_modified").Inc()
		logger.Info().Msg("Feed is up to date")
		return nil
	}

	f.mergeMetadata(fd, res)

	created, err := f.mergeEntries(ctx, fd, res.Feed.Items)
	if err != nil {
		return err
	}

	fd.FetchStatus = StatusSuccess
	fd.AppendLog("Fetch Completed")
	metrics.FetchTotal.WithLabelValues("success").Inc()
	metrics.EntriesCreated.Add(float64(created))
	logger.Info().Int("new_entries", created).Msg("Fetch Completed")
	return nil
}

func (f *Fetcher) mergeMetadata(fd *Feed, res FetchResult) {
	pf := res.Feed
	if fd.hasPlaceholderName() {
		fd.Name = pf.Title
	}
	fd.Subtitle = pf.Description
	fd.Language = pf.Language
	fd.Author = "Unknown"
	if pf.Author != nil && pf.Author.Name != "" {
		fd.Author = pf.Author.Name
	}
	fd.Link = pf.Link
	if fd.Link == "" {
		fd.Link = fd.FeedURL
	}
	fd.Pubdate = pf.PublishedParsed
	fd.Updated = pf.UpdatedParsed
	now := f.now().UTC()
	fd.LastFetch = &now
	fd.ETag = res.ETag
}

func (f *Fetcher) mergeEntries(ctx context.Context, fd *Feed, items []*gofeed.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	existing, err := f.store.ExistingGUIDs(ctx, fd.ID)
	if err != nil {
		return 0, fmt.Errorf("load existing guids: %w", err)
	}
	if existing == nil {
		existing = make(map[string]struct{})
	}

	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b *gofeed.Item) int {
		return itemTime(b).Compare(itemTime(a))
	})
	if fd.MaxPosts > 0 && len(sorted) > fd.MaxPosts {
		sorted = sorted[:fd.MaxPosts]
	}

	created := 0
	batch := make([]*Entry, 0, entryBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := f.store.BulkCreateEntries(ctx, batch); err != nil {
			return fmt.Errorf("create entries: %w", err)
		}
		// Rows skipped by a concurrent insert keep a zero ID.
		for _, e := range batch {
			if e.ID != 0 {
				created++
			}
		}
		batch = make([]*Entry, 0, entryBatchSize)
		return nil
	}

	for _, item := range sorted {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			continue
		}
		if _, seen := existing[guid]; seen {
			continue
		}
		existing[guid] = struct{}{}

		batch = append(batch, newEntry(fd, guid, item))
		if len(batch) >= entryBatchSize {
			if err := flush(); err != nil {
				return created, err
			}
		}
	}
	if err := flush(); err != nil {
		return created, err
	}
	return created, nil
}

func newEntry(fd *Feed, guid string, item *gofeed.Item) *Entry {
	content := item.Content
	if content == "" {
		content = item.Description
	}
	title := item.Title
	if title == "" {
		title = "No title"
	}
	author := fd.Author
	if item.Author != nil && item.Author.Name != "" {
		author = item.Author.Name
	}
	return &Entry{
		FeedID:          fd.ID,
		GUID:            guid,
		Link:            item.Link,
		Author:          author,
		Pubdate:         item.PublishedParsed,
		Updated:         item.UpdatedParsed,
		OriginalTitle:   title,
		OriginalContent: content,
		OriginalSummary: item.Description,
		EnclosuresXML:   enclosuresXML(item.Enclosures),
	}
}

var epoch = time.Unix(0, 0).UTC()

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return epoch
}

type xmlEnclosures struct {
	XMLName    xml.Name       `xml:"enclosures"`
	Enclosures []xmlEnclosure `xml:"enclosure"`
}

type xmlEnclosure struct {
	Href   string `xml:"href,attr"`
	Type   string `xml:"type,attr,omitempty"`
	Length string `xml:"length,attr,omitempty"`
}

func enclosuresXML(encs []*gofeed.Enclosure) string {
	if len(encs) == 0 {
		return ""
	}
	doc := xmlEnclosures{Enclosures: make([]xmlEnclosure, 0, len(encs))}
	for _, e := range encs {
		if e == nil || e.URL == "" {
			continue
		}
		length := e.Length
		if _, err := strconv.ParseInt(length, 10, 64); err != nil {
			length = ""
		}
		doc.Enclosures = append(doc.Enclosures, xmlEnclosure{Href: e.URL, Type: e.Type, Length: length})
	}
	if len(doc.Enclosures) == 0 {
		return ""
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(out)
}
