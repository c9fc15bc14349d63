package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"feedtranslator/internal/agent"
	"feedtranslator/internal/article"
	"feedtranslator/internal/cache"
	"feedtranslator/internal/config"
	"feedtranslator/internal/database"
	"feedtranslator/internal/feed"
	"feedtranslator/internal/lock"
	"feedtranslator/internal/logging"
	"feedtranslator/internal/metrics"
	"feedtranslator/internal/pipeline"
	"feedtranslator/internal/retry"
	"feedtranslator/internal/scheduler"
	"feedtranslator/internal/summarize"
	"feedtranslator/internal/translate"

	"github.com/rs/zerolog"
)

// Version will be set during build
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath  string
	frequency   string
	serve       bool
	addURL      string
	lang        string
	minutes     int
	translator  string
	summarizer  string
	tags        string
	list        bool
	slug        string
	remove      bool
	tag         string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("feedtranslator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to YAML config (default: $FEEDTRANSLATOR_CONFIG or feedtranslator.yaml)")
	fs.StringVar(&o.frequency, "frequency", "", `Update the feeds of one group: "5 min", "15 min", "30 min", "hourly", "daily" or "weekly"`)
	fs.BoolVar(&o.serve, "serve", false, "Run every frequency group on its own schedule until interrupted")
	fs.StringVar(&o.addURL, "add", "", "Validate and add a feed URL")
	fs.StringVar(&o.lang, "lang", "English", "Target language for -add")
	fs.IntVar(&o.minutes, "frequency-minutes", 30, "Update frequency in minutes for -add")
	fs.StringVar(&o.translator, "translator", "", "Translator agent id for -add")
	fs.StringVar(&o.summarizer, "summarizer", "", "Summarizer agent id for -add")
	fs.StringVar(&o.tags, "tags", "", "Comma-separated tags for -add")
	fs.BoolVar(&o.list, "list", false, "List stored feeds")
	fs.StringVar(&o.slug, "feed", "", "Feed slug for -delete or -tag")
	fs.BoolVar(&o.remove, "delete", false, "Delete the feed given by -feed with its entries")
	fs.StringVar(&o.tag, "tag", "", "Attach a tag to the feed given by -feed")
	fs.BoolVar(&o.showVersion, "version", false, "Print version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

// app holds the wired components of one process.
type app struct {
	db           *database.DB
	feeds        *feed.Service
	orchestrator *pipeline.Orchestrator
	pool         *pipeline.WorkerPool
	closeCache   func() error
}

func (a *app) Close() {
	a.pool.Close()
	if a.closeCache != nil {
		a.closeCache()
	}
	a.db.Close()
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dbConfig := database.DefaultConfig()
	dbConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	dbConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	db, err := database.NewDB(cfg.Database.Path, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	agents, err := agent.FromConfig(cfg.Agents, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{db: db}
	var refresher cache.Refresher
	switch {
	case cfg.NATS.URL != "":
		nr, err := cache.NewNATSRefresher(cache.NATSConfig{URL: cfg.NATS.URL, SubjectPrefix: cfg.NATS.SubjectPrefix}, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		refresher = nr
		a.closeCache = nr.Close
	case cfg.Cache.Dir != "":
		refresher = cache.NewFileRefresher(db, cfg.Cache.Dir, logger)
	default:
		refresher = cache.NewLogRefresher(logger)
	}

	ex := retry.New(logger)
	fetcher := feed.NewFetcher(db, logger, cfg.Pipeline.UserAgent)
	articles := article.NewHTTPFetcher(logger, cfg.Pipeline.UserAgent, 0)
	translator := translate.New(db, agents, articles, ex, logger)
	summarizer := summarize.New(db, agents, ex, logger)

	a.pool = pipeline.NewWorkerPool(cfg.Pipeline.Workers, cfg.Pipeline.TaskHistory, logger)
	a.orchestrator = pipeline.NewOrchestrator(db, a.pool, fetcher, translator, summarizer, refresher,
		pipeline.Options{Timeout: cfg.Pipeline.Timeout}, logger)
	a.feeds = feed.NewService(db, logger, fetcher)
	return a, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "feedtranslator version %s\n", Version)
		return 0
	}

	if opts.frequency != "" {
		if _, err := feed.ParseFrequency(opts.frequency); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if opts.frequency == "" && !opts.serve && opts.addURL == "" && !opts.list && opts.slug == "" {
		fmt.Fprintln(stderr, "Error: one of -frequency, -serve, -add, -list or -feed is required")
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: stdout})
	logger.Info().Str("version", Version).Str("database", cfg.Database.Path).Int("workers", cfg.Pipeline.Workers).
		Msg("Starting feedtranslator")

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Startup failed")
		return 1
	}
	defer a.Close()

	switch {
	case opts.addURL != "":
		return addFeed(ctx, a, opts, logger)
	case opts.list:
		return listFeeds(ctx, a, stdout, logger)
	case opts.slug != "":
		return manageFeed(ctx, a, opts, logger)
	case opts.serve:
		return serve(ctx, a, cfg, logger)
	default:
		code := runGroup(ctx, a, cfg, opts.frequency, logger)
		if cfg.Metrics.PushgatewayURL != "" {
			if err := metrics.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
				logger.Warn().Err(err).Msg("Metrics push failed")
			}
		}
		return code
	}
}

func addFeed(ctx context.Context, a *app, opts *options, logger zerolog.Logger) int {
	fd, err := a.feeds.AddFeed(ctx, opts.addURL, feed.NewFeedOptions{
		TargetLanguage:   opts.lang,
		UpdateFrequency:  opts.minutes,
		TranslateTitle:   opts.translator != "",
		TranslateContent: opts.translator != "",
		Summary:          opts.summarizer != "",
		TranslatorID:     opts.translator,
		SummarizerID:     opts.summarizer,
		Tags:             splitTags(opts.tags),
	})
	if err != nil {
		logger.Error().Err(err).Str("feed_url", opts.addURL).Msg("Add feed failed")
		return 1
	}
	logger.Info().Str("slug", fd.Slug).Str("name", fd.Name).Int("update_frequency", fd.UpdateFrequency).
		Msg("Feed ready")
	return 0
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func listFeeds(ctx context.Context, a *app, stdout io.Writer, logger zerolog.Logger) int {
	feeds, err := a.db.ListFeeds(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("List feeds failed")
		return 1
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tNAME\tLANG\tEVERY\tFETCH\tTRANSLATE\tTOKENS\tTAGS")
	for _, fd := range feeds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dm\t%s\t%s\t%d\t%s\n", fd.Slug, fd.Name, fd.TargetLanguage,
			fd.UpdateFrequency, fd.FetchStatus, fd.TranslationStatus, fd.TotalTokens, strings.Join(fd.Tags, ","))
	}
	if err := w.Flush(); err != nil {
		return 1
	}
	return 0
}

func manageFeed(ctx context.Context, a *app, opts *options, logger zerolog.Logger) int {
	fd, err := a.db.GetFeedBySlug(ctx, opts.slug)
	if err != nil {
		logger.Error().Err(err).Str("slug", opts.slug).Msg("Feed lookup failed")
		return 1
	}
	logger = logger.With().Str("slug", fd.Slug).Logger()

	switch {
	case opts.remove:
		if err := a.db.DeleteFeed(ctx, fd.ID); err != nil {
			logger.Error().Err(err).Msg("Delete feed failed")
			return 1
		}
		logger.Info().Str("feed_url", fd.FeedURL).Msg("Feed deleted")
	case opts.tag != "":
		if err := a.db.AddTag(ctx, fd.ID, opts.tag); err != nil {
			logger.Error().Err(err).Msg("Add tag failed")
			return 1
		}
		logger.Info().Str("tag", opts.tag).Msg("Tag added")
	default:
		logger.Error().Msg("-feed needs -delete or -tag")
		return 2
	}
	return 0
}

func runGroup(ctx context.Context, a *app, cfg *config.Config, label string, logger zerolog.Logger) int {
	l, err := lock.Acquire(lock.Path(cfg.Pipeline.LockDir, label))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			logger.Warn().Str("frequency", label).Msg("Another update for this frequency is running, exiting")
			return 0
		}
		logger.Error().Err(err).Msg("Lock failed")
		return 1
	}
	defer l.Release()

	report, err := a.orchestrator.RunForFrequencyGroup(ctx, label)
	if err != nil {
		logger.Error().Err(err).Str("frequency", label).Msg("Update failed")
		return 1
	}
	logger.Info().Str("frequency", label).Int("succeeded", report.Succeeded).Int("failed", report.Failed).
		Int("timed_out", report.TimedOut).Msg("Update finished")
	return 0
}

func serve(ctx context.Context, a *app, cfg *config.Config, logger zerolog.Logger) int {
	sup, err := scheduler.NewSupervisor(a.orchestrator, cfg.Pipeline.LockDir, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Scheduler setup failed")
		return 1
	}
	logger.Info().Msg("Scheduler running, press Ctrl+C to stop")
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Scheduler stopped")
		return 1
	}
	logger.Info().Msg("Scheduler stopped")
	return 0
}
