// internal/pipeline/orchestrator.go
// Package pipeline runs the per-feed update jobs of a frequency group on a
// bounded worker pool and refreshes rendered outputs afterwards.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"feedtranslator/internal/cache"
	"feedtranslator/internal/feed"
	"feedtranslator/internal/metrics"
	"feedtranslator/internal/translate"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds how long UpdateFeeds waits for its jobs.
const DefaultTimeout = 30 * time.Minute

// ErrInvalidFrequency is returned for labels outside feed.Frequencies.
var ErrInvalidFrequency = feed.ErrInvalidFrequency

// FeedFetcher refreshes a feed and merges new entries into the store.
type FeedFetcher interface {
	FetchAndMerge(ctx context.Context, fd *feed.Feed) error
}

// EntryTranslator fills translated titles or contents.
type EntryTranslator interface {
	HandleFeedsTranslation(ctx context.Context, feeds []*feed.Feed, field translate.Field) error
}

// EntrySummarizer fills AI summaries.
type EntrySummarizer interface {
	HandleFeedsSummary(ctx context.Context, feeds []*feed.Feed) error
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Timeout time.Duration
}

type Orchestrator struct {
	store      feed.Store
	pool       *WorkerPool
	fetcher    FeedFetcher
	translator EntryTranslator
	summarizer EntrySummarizer
	refresher  cache.Refresher
	timeout    time.Duration
	logger     zerolog.Logger
}

func NewOrchestrator(store feed.Store, pool *WorkerPool, fetcher FeedFetcher, translator EntryTranslator,
	summarizer EntrySummarizer, refresher cache.Refresher, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Orchestrator{
		store:      store,
		pool:       pool,
		fetcher:    fetcher,
		translator: translator,
		summarizer: summarizer,
		refresher:  refresher,
		timeout:    opts.Timeout,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// JobResult is the outcome of one feed's job. Err is nil on success.
type JobResult struct {
	Feed string
	Err  error
}

// Report summarizes one UpdateFeeds call.
type Report struct {
	RunID     string
	Submitted int
	Succeeded int
	Failed    int
	TimedOut  int
	Results   []JobResult
}

// RunForFrequencyGroup updates every feed whose update frequency matches
// label ("5 min", "15 min", "30 min", "hourly", "daily", "weekly").
func (o *Orchestrator) RunForFrequencyGroup(ctx context.Context, label string) (Report, error) {
	minutes, err := feed.ParseFrequency(label)
	if err != nil {
		o.logger.Error().Str("frequency", label).Msg("Invalid frequency")
		return Report{}, err
	}

	feeds, err := o.store.ListFeedsByFrequency(ctx, minutes)
	if err != nil {
		return Report{}, fmt.Errorf("list feeds for %s: %w", label, err)
	}
	o.logger.Info().Str("frequency", label).Int("feeds", len(feeds)).Msg("Start update feeds for frequency")

	return o.UpdateFeeds(ctx, feeds), nil
}

// UpdateFeeds submits one job per feed and waits up to the configured
// timeout. Jobs still running at the deadline are counted as timed out and
// left to finish on their own. Cache refresh runs afterwards regardless.
func (o *Orchestrator) UpdateFeeds(ctx context.Context, feeds []*feed.Feed) Report {
	report := Report{RunID: uuid.NewString()}
	logger := o.logger.With().Str("run_id", report.RunID).Logger()

	if len(feeds) == 0 {
		logger.Info().Msg("No feeds to update.")
		return report
	}

	type submitted struct {
		fd  *feed.Feed
		job *Job
	}
	jobs := make([]submitted, 0, len(feeds))
	for _, fd := range feeds {
		job, err := o.pool.Submit(jobName(fd), func() error { return o.updateFeed(ctx, fd) })
		if err != nil {
			logger.Error().Err(err).Str("feed_url", fd.FeedURL).Msg("Submit failed")
			report.Failed++
			report.Results = append(report.Results, JobResult{Feed: fd.FeedURL, Err: err})
			continue
		}
		jobs = append(jobs, submitted{fd: fd, job: job})
	}
	report.Submitted = len(jobs)

	deadline := time.NewTimer(o.timeout)
	defer deadline.Stop()
wait:
	for _, s := range jobs {
		select {
		case <-s.job.Done():
		case <-deadline.C:
			break wait
		}
	}

	for _, s := range jobs {
		select {
		case <-s.job.Done():
		default:
			report.TimedOut++
			metrics.JobsTotal.WithLabelValues("timeout").Inc()
			continue
		}
		if err := s.job.Err(); err != nil {
			logger.Warn().Err(err).Str("feed_url", s.fd.FeedURL).Msg("A feed update task resulted in an error")
			report.Failed++
			report.Results = append(report.Results, JobResult{Feed: s.fd.FeedURL, Err: err})
			continue
		}
		report.Succeeded++
		report.Results = append(report.Results, JobResult{Feed: s.fd.FeedURL})
	}
	if report.TimedOut > 0 {
		logger.Warn().Int("incomplete", report.TimedOut).Dur("timeout", o.timeout).
			Msg("Feed update task timed out")
	}

	o.refreshOutputs(ctx, feeds, logger)

	logger.Info().Int("submitted", report.Submitted).Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).Int("timed_out", report.TimedOut).Msg("Feed update finished")
	return report
}

// jobName keys a job by the feed's slug, which is unique per feed URL and
// target language. Feeds sharing an upstream title must not coalesce.
func jobName(fd *feed.Feed) string {
	if fd.Slug != "" {
		return "update_feed_" + fd.Slug
	}
	return "update_feed_" + strconv.FormatInt(fd.ID, 10)
}

// updateFeed runs the stages of one feed in order. A failed fetch fails the
// job and skips the remaining stages; any other stage failure is logged and
// the next stage still runs.
func (o *Orchestrator) updateFeed(ctx context.Context, fd *feed.Feed) error {
	start := time.Now()
	logger := o.logger.With().Str("feed_url", fd.FeedURL).Logger()
	logger.Info().Str("name", fd.Name).Msg("Starting feed update")

	result := "success"
	defer func() {
		metrics.JobsTotal.WithLabelValues(result).Inc()
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	if err := runStage("fetch", func() error { return o.fetcher.FetchAndMerge(ctx, fd) }); err != nil {
		result = "failure"
		return err
	}

	if fd.TranslateTitle {
		o.stage(ctx, logger, "title", func() error {
			return o.translator.HandleFeedsTranslation(ctx, []*feed.Feed{fd}, translate.FieldTitle)
		})
	}
	if fd.TranslateContent {
		o.stage(ctx, logger, "content", func() error {
			return o.translator.HandleFeedsTranslation(ctx, []*feed.Feed{fd}, translate.FieldContent)
		})
	}
	if fd.Summary {
		o.stage(ctx, logger, "summary", func() error {
			return o.summarizer.HandleFeedsSummary(ctx, []*feed.Feed{fd})
		})
	}

	logger.Info().Dur("elapsed", time.Since(start)).Msg("Completed feed update")
	return nil
}

func (o *Orchestrator) stage(ctx context.Context, logger zerolog.Logger, name string, fn func() error) {
	if ctx.Err() != nil {
		return
	}
	if err := runStage(name, fn); err != nil {
		logger.Error().Err(err).Str("stage", name).Msg("Stage failed")
	}
}

// runStage calls fn and converts a panic into an error.
func runStage(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s stage panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s stage: %w", name, err)
	}
	return nil
}

// refreshOutputs asks the refresher to rebuild every variant and format of
// each feed and of each distinct tag across feeds. Failures are logged only.
func (o *Orchestrator) refreshOutputs(ctx context.Context, feeds []*feed.Feed, logger zerolog.Logger) {
	if o.refresher == nil {
		return
	}

	for _, fd := range feeds {
		for _, variant := range cache.Variants {
			for _, format := range cache.Formats {
				if err := o.refresher.RefreshFeedOutput(ctx, fd.Slug, variant, format); err != nil {
					logger.Error().Err(err).Str("slug", fd.Slug).Str("variant", variant).Str("format", format).
						Msg("Failed to refresh feed output")
				}
			}
		}
	}

	ids := make([]int64, 0, len(feeds))
	for _, fd := range feeds {
		ids = append(ids, fd.ID)
	}
	tags, err := o.store.TagsForFeeds(ctx, ids)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load tags")
		return
	}
	for _, tag := range tags {
		for _, variant := range cache.Variants {
			for _, format := range cache.Formats {
				if err := o.refresher.RefreshTagOutput(ctx, tag, variant, format); err != nil {
					logger.Error().Err(err).Str("tag", tag).Str("variant", variant).Str("format", format).
						Msg("Failed to refresh tag output")
				}
			}
		}
	}
}
