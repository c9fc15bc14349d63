// internal/feed/types.go
package feed

import (
	"time"

	"github.com/mmcdole/gofeed"
)

// Status is the tri-state outcome of a fetch or translation pass.
type Status int8

const (
	StatusUnknown Status = iota // never run, or in progress
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

type Feed struct {
	ID       int64  `json:"id"`
	Slug     string `json:"slug"`
	FeedURL  string `json:"feedUrl"`
	Name     string `json:"name"`
	Subtitle string `json:"subtitle"`
	Link     string `json:"link"`
	Author   string `json:"author"`
	Language string `json:"language"`

	Pubdate *time.Time `json:"pubdate,omitempty"`
	Updated *time.Time `json:"updated,omitempty"`

	TargetLanguage     string  `json:"targetLanguage"`
	UpdateFrequency    int     `json:"updateFrequency"` // minutes
	MaxPosts           int     `json:"maxPosts"`
	FetchArticle       bool    `json:"fetchArticle"`
	TranslateTitle     bool    `json:"translateTitle"`
	TranslateContent   bool    `json:"translateContent"`
	Summary            bool    `json:"summary"`
	SummaryDetail      float64 `json:"summaryDetail"`
	TranslationDisplay int     `json:"translationDisplay"`
	AdditionalPrompt   string  `json:"additionalPrompt,omitempty"`
	TranslatorID       string  `json:"translatorId,omitempty"`
	SummarizerID       string  `json:"summarizerId,omitempty"`

	ETag              string     `json:"etag,omitempty"`
	LastFetch         *time.Time `json:"lastFetch,omitempty"`
	LastTranslate     *time.Time `json:"lastTranslate,omitempty"`
	FetchStatus       Status     `json:"fetchStatus"`
	TranslationStatus Status     `json:"translationStatus"`
	TotalTokens       int64      `json:"totalTokens"`
	TotalCharacters   int64      `json:"totalCharacters"`
	Log               string     `json:"log"`

	Tags []string `json:"tags,omitempty"`
}

// Entry is one item of a feed. Original fields are written once by the
// Fetcher; derived fields are filled later, only while empty.
type Entry struct {
	ID      int64      `json:"id"`
	FeedID  int64      `json:"feedId"`
	GUID    string     `json:"guid"`
	Link    string     `json:"link"`
	Author  string     `json:"author"`
	Pubdate *time.Time `json:"pubdate,omitempty"`
	Updated *time.Time `json:"updated,omitempty"`

	OriginalTitle   string `json:"originalTitle"`
	OriginalContent string `json:"originalContent"`
	OriginalSummary string `json:"originalSummary"`
	EnclosuresXML   string `json:"enclosuresXml,omitempty"`

	TranslatedTitle   string `json:"translatedTitle,omitempty"`
	TranslatedContent string `json:"translatedContent,omitempty"`
	AISummary         string `json:"aiSummary,omitempty"`
}

// FetchResult is the outcome of one conditional GET of a feed URL.
type FetchResult struct {
	Feed    *gofeed.Feed
	Updated bool
	ETag    string
	Err     error
}
