// internal/translate/translate.go
// Package translate fills the translated title and content of feed entries.
package translate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedtranslator/internal/agent"
	"feedtranslator/internal/article"
	"feedtranslator/internal/content"
	"feedtranslator/internal/feed"
	"feedtranslator/internal/metrics"
	"feedtranslator/internal/retry"

	"github.com/rs/zerolog"
)

const (
	// entryBatchSize bounds each BulkUpdateEntries call.
	entryBatchSize = 30
	maxAttempts    = 3
)

var (
	ErrNoTranslator      = errors.New("translate engine not set")
	errTranslationFailed = fmt.Errorf("translation failed after %d attempts", maxAttempts)
)

// Field selects which part of an entry a pass translates.
type Field string

const (
	FieldTitle   Field = "title"
	FieldContent Field = "content"
)

// Agents resolves a feed's stored translator identifier.
type Agents interface {
	Translator(id string) (agent.Translator, bool)
}

// Usage is the cost of one translation pass.
type Usage struct {
	Tokens     int
	Characters int
}

type Translator struct {
	store    feed.Store
	agents   Agents
	articles article.Fetcher
	retry    *retry.Executor
	logger   zerolog.Logger
	now      func() time.Time
}

// New returns a Translator. articles may be nil, in which case feeds with
// FetchArticle keep their original content.
func New(store feed.Store, agents Agents, articles article.Fetcher, ex *retry.Executor, logger zerolog.Logger) *Translator {
	return &Translator{
		store:    store,
		agents:   agents,
		articles: articles,
		retry:    ex,
		logger:   logger.With().Str("component", "translator").Logger(),
		now:      time.Now,
	}
}

// TranslateFeed translates field for the newest MaxPosts entries of fd.
// Entry-level failures are written to the feed log and do not stop the pass.
// The feed itself is not persisted.
func (t *Translator) TranslateFeed(ctx context.Context, fd *feed.Feed, field Field) (Usage, error) {
	var usage Usage

	engine, ok := t.agents.Translator(fd.TranslatorID)
	if !ok {
		return usage, ErrNoTranslator
	}

	entries, err := t.store.RecentEntries(ctx, fd.ID, fd.MaxPosts)
	if err != nil {
		return usage, fmt.Errorf("load entries: %w", err)
	}

	logger := t.logger.With().Str("feed_url", fd.FeedURL).Str("field", string(field)).Logger()

	var pending []*feed.Entry
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := t.store.BulkUpdateEntries(ctx, pending); err != nil {
			return fmt.Errorf("save entries: %w", err)
		}
		pending = make([]*feed.Entry, 0, entryBatchSize)
		return nil
	}

	for _, e := range entries {
		changed, err := t.translateEntry(ctx, engine, fd, e, field, &usage)
		if err != nil {
			logger.Warn().Err(err).Str("link", e.Link).Msg("Error processing entry")
			fd.AppendLog(fmt.Sprintf("Error processing entry %s: %v", e.Link, err))
		}
		if !changed {
			continue
		}
		pending = append(pending, e)
		if len(pending) >= entryBatchSize {
			if err := flush(); err != nil {
				return usage, err
			}
		}
	}
	if err := flush(); err != nil {
		return usage, err
	}

	now := t.now().UTC()
	fd.TotalTokens += int64(usage.Tokens)
	fd.TotalCharacters += int64(usage.Characters)
	fd.LastTranslate = &now
	fd.AppendLog("Translate Completed")

	metrics.TokensTotal.WithLabelValues(string(field)).Add(float64(usage.Tokens))
	metrics.CharactersTotal.Add(float64(usage.Characters))
	logger.Info().Int("entries", len(entries)).Int("tokens", usage.Tokens).Int("characters", usage.Characters).Msg("Translate Completed")
	return usage, nil
}

// translateEntry reports whether e was modified.
func (t *Translator) translateEntry(ctx context.Context, engine agent.Translator, fd *feed.Feed, e *feed.Entry, field Field, usage *Usage) (bool, error) {
	switch field {
	case FieldTitle:
		if !fd.TranslateTitle || e.TranslatedTitle != "" || e.OriginalTitle == "" {
			return false, nil
		}
		res, ok := t.call(ctx, engine, fd, e.OriginalTitle, agent.TextTitle)
		if !ok {
			return false, errTranslationFailed
		}
		usage.add(res)
		if res.Text == "" {
			return false, nil
		}
		e.TranslatedTitle = res.Text
		return true, nil

	case FieldContent:
		if !fd.TranslateContent || e.OriginalContent == "" || e.TranslatedContent != "" {
			return false, nil
		}

		changed := false
		if fd.FetchArticle && t.articles != nil && e.Link != "" {
			text, err := t.articles.Fetch(ctx, e.Link)
			if err != nil {
				t.logger.Debug().Err(err).Str("link", e.Link).Msg("Article fetch failed, keeping feed content")
			} else {
				e.OriginalContent = content.FormatArticle(text)
				changed = true
			}
		}

		marked, err := content.MarkUntranslatable(e.OriginalContent)
		if err != nil {
			return changed, err
		}

		res, ok := t.call(ctx, engine, fd, marked, agent.TextContent)
		if !ok {
			return changed, errTranslationFailed
		}
		usage.add(res)
		if res.Text == "" {
			return changed, nil
		}
		e.TranslatedContent = res.Text
		return true, nil
	}
	return false, nil
}

func (t *Translator) call(ctx context.Context, engine agent.Translator, fd *feed.Feed, text string, textType agent.TextType) (agent.Result, bool) {
	return retry.Do(ctx, t.retry, maxAttempts, func(ctx context.Context) (agent.Result, error) {
		return engine.Translate(ctx, text, fd.TargetLanguage, textType, agent.WithPrompt(fd.AdditionalPrompt))
	})
}

func (u *Usage) add(res agent.Result) {
	u.Tokens += res.Tokens
	u.Characters += res.Characters
}

// HandleFeedsTranslation runs TranslateFeed over feeds, records each feed's
// translation status and persists all of them in one write. Only a feed-level
// error marks a feed as failed; entry-level errors are left in its log.
func (t *Translator) HandleFeedsTranslation(ctx context.Context, feeds []*feed.Feed, field Field) error {
	for _, fd := range feeds {
		if _, err := t.TranslateFeed(ctx, fd, field); err != nil {
			t.logger.Error().Err(err).Str("feed_url", fd.FeedURL).Str("field", string(field)).Msg("Translation failed")
			fd.TranslationStatus = feed.StatusFailure
			fd.AppendLog(err.Error())
			continue
		}
		fd.TranslationStatus = feed.StatusSuccess
	}
	if err := t.store.BulkUpdateFeeds(ctx, feeds); err != nil {
		return fmt.Errorf("save feeds: %w", err)
	}
	return nil
}
