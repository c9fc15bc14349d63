// Package rss renders stored feeds as RSS 2.0 or JSON Feed documents.
package rss

import (
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"feedtranslator/internal/content"
	"feedtranslator/internal/feed"

	"github.com/goccy/go-json"
)

// Variants of a rendered output.
const (
	VariantOriginal   = "o"
	VariantTranslated = "t"
)

var ErrUnknownFormat = errors.New("unknown output format")

// RSS is the root element of an RSS feed.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel Channel  `xml:"channel"`
}

// Channel represents the channel element in an RSS feed.
type Channel struct {
	XMLName       xml.Name `xml:"channel"`
	Title         string   `xml:"title"`
	Link          string   `xml:"link"`
	Description   string   `xml:"description"`
	Language      string   `xml:"language,omitempty"`
	LastBuildDate string   `xml:"lastBuildDate,omitempty"` // RFC1123Z
	Items         []Item   `xml:"item"`
}

// Item represents an item element in an RSS feed.
type Item struct {
	XMLName     xml.Name `xml:"item"`
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description,omitempty"`
	Author      string   `xml:"author,omitempty"`
	Category    []string `xml:"category,omitempty"`
	PubDate     string   `xml:"pubDate,omitempty"` // RFC1123Z
	GUID        string   `xml:"guid,omitempty"`
}

// JSONFeed is a JSON Feed 1.1 document.
type JSONFeed struct {
	Version     string     `json:"version"`
	Title       string     `json:"title"`
	HomePageURL string     `json:"home_page_url,omitempty"`
	Description string     `json:"description,omitempty"`
	Language    string     `json:"language,omitempty"`
	Items       []JSONItem `json:"items"`
}

type JSONItem struct {
	ID            string       `json:"id"`
	URL           string       `json:"url,omitempty"`
	Title         string       `json:"title"`
	ContentHTML   string       `json:"content_html,omitempty"`
	Summary       string       `json:"summary,omitempty"`
	DatePublished string       `json:"date_published,omitempty"` // RFC3339
	Authors       []JSONAuthor `json:"authors,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
}

type JSONAuthor struct {
	Name string `json:"name"`
}

// Document is a rendered feed before encoding.
type Document struct {
	Title       string
	Link        string
	Description string
	Language    string
	Built       time.Time
	Items       []DocItem
}

type DocItem struct {
	GUID      string
	Link      string
	Title     string
	Content   string
	Summary   string
	Author    string
	Source    string
	Published *time.Time
}

// BuildFeed renders the entries of fd. The translated variant applies the
// feed's display mode, falls back to the original text where nothing was
// translated and carries the AI summary.
func BuildFeed(fd *feed.Feed, entries []*feed.Entry, variant string) Document {
	doc := Document{
		Title:       fd.Name,
		Link:        fd.Link,
		Description: fd.Subtitle,
		Language:    fd.Language,
		Built:       time.Now().UTC(),
	}
	if variant == VariantTranslated {
		doc.Language = fd.TargetLanguage
	}
	if doc.Link == "" {
		doc.Link = fd.FeedURL
	}
	for _, e := range entries {
		doc.Items = append(doc.Items, buildItem(fd, e, variant))
	}
	return doc
}

// BuildTag merges the entries of feeds, newest first, keeping at most limit
// items. entries maps feed IDs to their entries.
func BuildTag(tag string, feeds []*feed.Feed, entries map[int64][]*feed.Entry, variant string, limit int) Document {
	doc := Document{
		Title:       tag,
		Description: fmt.Sprintf("Entries tagged %q", tag),
		Built:       time.Now().UTC(),
	}
	for _, fd := range feeds {
		for _, e := range entries[fd.ID] {
			item := buildItem(fd, e, variant)
			item.Source = fd.Name
			doc.Items = append(doc.Items, item)
		}
	}
	sort.SliceStable(doc.Items, func(i, k int) bool {
		return published(doc.Items[i]).After(published(doc.Items[k]))
	})
	if limit > 0 && len(doc.Items) > limit {
		doc.Items = doc.Items[:limit]
	}
	return doc
}

func published(it DocItem) time.Time {
	if it.Published == nil {
		return time.Time{}
	}
	return *it.Published
}

func buildItem(fd *feed.Feed, e *feed.Entry, variant string) DocItem {
	item := DocItem{
		GUID:      e.GUID,
		Link:      e.Link,
		Title:     e.OriginalTitle,
		Content:   e.OriginalContent,
		Author:    e.Author,
		Published: e.Pubdate,
	}
	if item.Content == "" {
		item.Content = e.OriginalSummary
	}
	if variant != VariantTranslated {
		return item
	}

	if e.TranslatedTitle != "" {
		item.Title = content.SetTranslationDisplay(e.OriginalTitle, e.TranslatedTitle, fd.TranslationDisplay)
	}
	if e.TranslatedContent != "" {
		item.Content = content.SetTranslationDisplay(e.OriginalContent, e.TranslatedContent, fd.TranslationDisplay)
	}
	if e.AISummary != "" {
		item.Summary = e.AISummary
		item.Content = `<div class="ai-summary"><p>` + html.EscapeString(e.AISummary) + "</p></div><hr>" + item.Content
	}
	return item
}

// Encode renders doc as "xml" (RSS 2.0) or "json" (JSON Feed 1.1).
func (d Document) Encode(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "xml":
		return d.XML()
	case "json":
		return d.JSON()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func (d Document) XML() ([]byte, error) {
	ch := Channel{
		Title:         d.Title,
		Link:          d.Link,
		Description:   d.Description,
		Language:      d.Language,
		LastBuildDate: d.Built.Format(time.RFC1123Z),
	}
	for _, it := range d.Items {
		item := Item{
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Content,
			Author:      it.Author,
			GUID:        it.GUID,
		}
		if it.Source != "" {
			item.Category = []string{it.Source}
		}
		if it.Published != nil {
			item.PubDate = it.Published.Format(time.RFC1123Z)
		}
		ch.Items = append(ch.Items, item)
	}

	out, err := xml.MarshalIndent(RSS{Version: "2.0", Channel: ch}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func (d Document) JSON() ([]byte, error) {
	jf := JSONFeed{
		Version:     "https://jsonfeed.org/version/1.1",
		Title:       d.Title,
		HomePageURL: d.Link,
		Description: d.Description,
		Language:    d.Language,
		Items:       make([]JSONItem, 0, len(d.Items)),
	}
	for _, it := range d.Items {
		item := JSONItem{
			ID:          it.GUID,
			URL:         it.Link,
			Title:       it.Title,
			ContentHTML: it.Content,
			Summary:     it.Summary,
		}
		if it.Author != "" {
			item.Authors = []JSONAuthor{{Name: it.Author}}
		}
		if it.Source != "" {
			item.Tags = []string{it.Source}
		}
		if it.Published != nil {
			item.DatePublished = it.Published.Format(time.RFC3339)
		}
		jf.Items = append(jf.Items, item)
	}

	out, err := json.MarshalIndent(jf, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json feed: %w", err)
	}
	return out, nil
}
