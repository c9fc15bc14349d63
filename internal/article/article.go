// internal/article/article.go
// Package article downloads a web page and extracts its main text.
package article

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"feedtranslator/internal/feed"
	securitynet "feedtranslator/internal/security/netutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

const maxPageBytes = 10 << 20

var ErrNoContent = errors.New("no article text found")

// Fetcher returns the plain text of the article at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher is the default Fetcher.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger
}

func NewHTTPFetcher(logger zerolog.Logger, userAgent string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:    feed.NewHTTPClient(timeout),
		userAgent: userAgent,
		logger:    logger.With().Str("component", "article").Logger(),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := securitynet.CheckURL(ctx, url); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP status error while requesting %s: %d %s", url, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("error parsing article: %w", err)
	}

	text := Extract(doc)
	if text == "" {
		return "", ErrNoContent
	}
	f.logger.Debug().Str("url", url).Int("length", len(text)).Msg("Article extracted")
	return text, nil
}

// Extract returns the main text of doc as paragraphs separated by blank
// lines. It prefers article and main containers and falls back to every
// paragraph of the page.
func Extract(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	for _, selector := range []string{"article", "main", "[role=main]"} {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := paragraphs(sel.Find("p")); text != "" {
			return text
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}
	return paragraphs(doc.Find("p"))
}

func paragraphs(sel *goquery.Selection) string {
	var parts []string
	sel.Each(func(_ int, p *goquery.Selection) {
		if text := strings.Join(strings.Fields(p.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}
