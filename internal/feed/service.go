// Save as: internal/feed/service.go
package feed

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// NewFeedOptions carries the per-feed policy chosen when subscribing.
type NewFeedOptions struct {
	TargetLanguage   string
	UpdateFrequency  int
	MaxPosts         int
	TranslateTitle   bool
	TranslateContent bool
	Summary          bool
	TranslatorID     string
	SummarizerID     string
	Tags             []string
}

type Service struct {
	store   Store
	logger  zerolog.Logger
	fetcher *Fetcher
}

func NewService(store Store, logger zerolog.Logger, fetcher *Fetcher) *Service {
	return &Service{
		store:   store,
		logger:  logger.With().Str("component", "feed_service").Logger(),
		fetcher: fetcher,
	}
}

// AddFeed validates feedURL, stores a new feed and runs a first fetch.
// A failing first fetch is recorded on the feed but does not fail the add.
func (s *Service) AddFeed(ctx context.Context, feedURL string, opts NewFeedOptions) (*Feed, error) {
	validation, err := ValidateFeedURL(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("feed validation failed: %w", err)
	}

	fd := &Feed{
		FeedURL:          feedURL,
		Name:             validation.Title,
		TargetLanguage:   opts.TargetLanguage,
		UpdateFrequency:  opts.UpdateFrequency,
		MaxPosts:         opts.MaxPosts,
		TranslateTitle:   opts.TranslateTitle,
		TranslateContent: opts.TranslateContent,
		Summary:          opts.Summary,
		TranslatorID:     opts.TranslatorID,
		SummarizerID:     opts.SummarizerID,
		Tags:             opts.Tags,
	}
	if fd.Name == "" {
		fd.Name = "Loading"
	}
	fd.Normalize()

	if err := s.store.CreateFeed(ctx, fd); err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	s.logger.Info().Str("feed_url", feedURL).Str("slug", fd.Slug).Int("update_frequency", fd.UpdateFrequency).Msg("Feed added")

	if err := s.fetcher.FetchAndMerge(ctx, fd); err != nil {
		s.logger.Warn().Err(err).Str("feed_url", feedURL).Msg("Initial fetch failed")
	}
	return fd, nil
}
