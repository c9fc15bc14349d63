// internal/summarize/summarize.go
// Package summarize writes AI summaries for feed entries, splitting long
// content into chunks that are summarized with a rolling context.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"feedtranslator/internal/agent"
	"feedtranslator/internal/content"
	"feedtranslator/internal/feed"
	"feedtranslator/internal/metrics"
	"feedtranslator/internal/retry"

	"github.com/rs/zerolog"
)

const (
	// NoContentSummary is stored for entries whose content is empty.
	NoContentSummary = "[No content available]"

	checkpointSize = 5
	maxAttempts    = 3
)

var (
	ErrNoSummarizer  = errors.New("summarizer engine not set")
	ErrInvalidDetail = errors.New("summary detail must be between 0 and 1")
)

// Params tunes chunking and context selection. Sizes are in tokens.
type Params struct {
	MinChunkTokens    int
	MaxChunkTokens    int
	Recursive         bool
	MaxContextChunks  int
	MaxContextTokens  int
	ChunkDelimiter    string
	MaxChunksPerEntry int
}

func DefaultParams() Params {
	return Params{
		MinChunkTokens:    300,
		MaxChunkTokens:    1500,
		Recursive:         true,
		MaxContextChunks:  4,
		MaxContextTokens:  3000,
		ChunkDelimiter:    ".",
		MaxChunksPerEntry: 20,
	}
}

// Agents resolves a feed's stored summarizer identifier.
type Agents interface {
	Summarizer(id string) (agent.Summarizer, bool)
}

type Summarizer struct {
	store  feed.Store
	agents Agents
	retry  *retry.Executor
	logger zerolog.Logger
}

func New(store feed.Store, agents Agents, ex *retry.Executor, logger zerolog.Logger) *Summarizer {
	return &Summarizer{
		store:  store,
		agents: agents,
		retry:  ex,
		logger: logger.With().Str("component", "summarizer").Logger(),
	}
}

// TargetChunks maps a feed's summary detail onto a chunk count for text of
// tokenCount tokens. Detail 0 gives one chunk; detail 1 gives the most the
// text and params allow.
func TargetChunks(tokenCount int, detail float64, p Params) int {
	maxPossible := 1
	if p.MinChunkTokens > 0 {
		maxPossible = tokenCount / p.MinChunkTokens
	}
	maxPossible = clamp(maxPossible, 1, max(1, p.MaxChunksPerEntry))

	target := int(math.Round(1 + detail*float64(maxPossible-1)))
	return clamp(target, 1, maxPossible)
}

// SummarizeFeed summarizes the newest MaxPosts entries of fd that have no
// summary yet. It reports false without doing anything when fd has no
// summarizer or nothing to summarize. Entry failures are stored as the
// entry's summary and do not stop the run.
func (s *Summarizer) SummarizeFeed(ctx context.Context, fd *feed.Feed, p Params) (ran bool, err error) {
	if fd.SummaryDetail < 0 || fd.SummaryDetail > 1 {
		return false, ErrInvalidDetail
	}
	engine, ok := s.agents.Summarizer(fd.SummarizerID)
	if !ok {
		return false, nil
	}

	entries, err := s.store.UnsummarizedEntries(ctx, fd.ID, fd.MaxPosts)
	if err != nil {
		return false, fmt.Errorf("load entries: %w", err)
	}
	logger := s.logger.With().Str("feed_url", fd.FeedURL).Logger()
	if len(entries) == 0 {
		logger.Info().Msg("No entries to summarize")
		return false, nil
	}
	logger.Info().Int("entries", len(entries)).Msg("Starting summary")

	var pending []*feed.Entry
	tokens := 0
	checkpoint := func() error {
		if len(pending) > 0 {
			if err := s.store.BulkUpdateEntries(ctx, pending); err != nil {
				return fmt.Errorf("save summaries: %w", err)
			}
			pending = make([]*feed.Entry, 0, checkpointSize)
		}
		if tokens > 0 {
			fd.TotalTokens += int64(tokens)
			metrics.TokensTotal.WithLabelValues("summary").Add(float64(tokens))
			tokens = 0
			if err := s.store.SaveFeed(ctx, fd); err != nil {
				return fmt.Errorf("save feed: %w", err)
			}
		}
		return nil
	}
	defer func() {
		if cerr := checkpoint(); cerr != nil && err == nil {
			err = cerr
		}
		logger.Info().Msg("Completed summary process")
	}()

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			fd.AppendLog("Critical error: " + err.Error())
			return true, err
		}
		logger.Debug().Int("index", i+1).Int("total", len(entries)).Str("title", e.OriginalTitle).Msg("Processing entry")

		summary, used, err := s.summarizeEntry(ctx, engine, fd, e, p)
		if err != nil {
			logger.Error().Err(err).Str("link", e.Link).Msg("Error summarizing entry")
			summary = fmt.Sprintf("[Summary failed: %v]", err)
		}
		e.AISummary = summary
		tokens += used
		pending = append(pending, e)

		if len(pending) >= checkpointSize {
			if err := checkpoint(); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

func (s *Summarizer) summarizeEntry(ctx context.Context, engine agent.Summarizer, fd *feed.Feed, e *feed.Entry, p Params) (summary string, tokens int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	text := content.CleanContent(e.OriginalContent)
	if strings.TrimSpace(text) == "" {
		return NoContentSummary, 0, nil
	}

	target := TargetChunks(content.TokenCount(text), fd.SummaryDetail, p)
	chunks := content.AdaptiveChunking(text, target, p.MinChunkTokens, p.MaxChunkTokens, p.ChunkDelimiter)

	if len(chunks) == 1 {
		res, _ := retry.Do(ctx, s.retry, maxAttempts, func(ctx context.Context) (agent.Result, error) {
			return engine.Summarize(ctx, chunks[0], fd.TargetLanguage, 0)
		})
		return res.Text, res.Tokens, nil
	}

	var summaries []string
	for _, chunk := range chunks {
		prompt := chunk
		if p.Recursive && len(summaries) > 0 {
			if ctxBlock := contextBlock(summaries, p); ctxBlock != "" {
				prompt = ctxBlock + "\n\nCurrent text to summarize:\n\n" + chunk
			}
		}

		res, _ := retry.Do(ctx, s.retry, maxAttempts, func(ctx context.Context) (agent.Result, error) {
			return engine.Summarize(ctx, prompt, fd.TargetLanguage, p.MaxContextTokens)
		})
		tokens += res.Tokens
		if res.Text != "" {
			summaries = append(summaries, res.Text)
		}
	}
	return strings.Join(summaries, "\n\n"), tokens, nil
}

// contextBlock joins the most recent summaries, newest first, while they fit
// in MaxContextTokens. The result keeps chronological order.
func contextBlock(summaries []string, p Params) string {
	candidates := summaries
	if p.MaxContextChunks > 0 && len(candidates) > p.MaxContextChunks {
		candidates = candidates[len(candidates)-p.MaxContextChunks:]
	}

	var parts []string
	used := 0
	for i := len(candidates) - 1; i >= 0; i-- {
		n := content.TokenCount(candidates[i])
		if used+n > p.MaxContextTokens {
			break
		}
		parts = append([]string{candidates[i]}, parts...)
		used += n
	}
	return strings.Join(parts, "\n\n")
}

// HandleFeedsSummary summarizes each feed with params sized for its agent,
// records the outcome on the feed and persists all feeds in one write.
// Feeds without entries are skipped.
func (s *Summarizer) HandleFeedsSummary(ctx context.Context, feeds []*feed.Feed) error {
	for _, fd := range feeds {
		n, err := s.store.CountEntries(ctx, fd.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("feed_url", fd.FeedURL).Msg("Count entries failed")
			continue
		}
		if n == 0 {
			continue
		}

		if err := s.summarizeOne(ctx, fd); err != nil {
			s.logger.Error().Err(err).Str("feed_url", fd.FeedURL).Msg("Summary failed")
			fd.TranslationStatus = feed.StatusFailure
			fd.AppendLog(err.Error())
			continue
		}
		fd.TranslationStatus = feed.StatusSuccess
		fd.AppendLog("Summary Completed")
	}
	if err := s.store.BulkUpdateFeeds(ctx, feeds); err != nil {
		return fmt.Errorf("save feeds: %w", err)
	}
	return nil
}

func (s *Summarizer) summarizeOne(ctx context.Context, fd *feed.Feed) error {
	engine, ok := s.agents.Summarizer(fd.SummarizerID)
	if !ok {
		return ErrNoSummarizer
	}
	s.logger.Info().Str("feed_url", fd.FeedURL).Str("target_language", fd.TargetLanguage).Msg("Start summary")

	p := DefaultParams()
	if v := engine.MinSize(); v > 0 {
		p.MinChunkTokens = v
	}
	if v := engine.MaxSize(); v > 0 {
		p.MaxChunkTokens = v
	}
	if v := engine.MaxTokens(); v > 0 {
		p.MaxContextTokens = v
	}
	_, err := s.SummarizeFeed(ctx, fd, p)
	return err
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
