// internal/feed/validation.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	securitynet "feedtranslator/internal/security/netutil"

	"github.com/mmcdole/gofeed"
)

var (
	ErrInvalidURL = errors.New("invalid feed URL")
	ErrTimeout    = errors.New("feed fetch timeout")
	ErrNotAFeed   = errors.New("URL does not point to a valid feed")
)

type FeedValidationResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Language    string `json:"language,omitempty"`
	ItemCount   int    `json:"itemCount"`
	LastUpdated string `json:"lastUpdated,omitempty"`
	FeedType    string `json:"feedType,omitempty"` // RSS, Atom, etc.
}

// ValidateFeedURL checks that feedURL is a public http(s) address serving a
// parseable feed.
func ValidateFeedURL(ctx context.Context, feedURL string) (*FeedValidationResult, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: must use HTTP or HTTPS", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if err := securitynet.CheckHost(ctx, u.Hostname()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := NewHTTPClient(10 * time.Second).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("could not reach URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("could not reach URL: status %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil || feed == nil {
		return nil, ErrNotAFeed
	}

	result := &FeedValidationResult{
		Title:       feed.Title,
		Description: feed.Description,
		Language:    feed.Language,
		ItemCount:   len(feed.Items),
		FeedType:    feed.FeedType,
	}
	if feed.UpdatedParsed != nil {
		result.LastUpdated = feed.UpdatedParsed.Format("January 2, 2006")
	} else if len(feed.Items) > 0 && feed.Items[0].PublishedParsed != nil {
		result.LastUpdated = feed.Items[0].PublishedParsed.Format("January 2, 2006")
	}
	return result, nil
}
