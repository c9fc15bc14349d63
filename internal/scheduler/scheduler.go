// internal/scheduler/scheduler.go
// Package scheduler runs every frequency group on its own interval under a
// suture supervisor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedtranslator/internal/feed"
	"feedtranslator/internal/lock"
	"feedtranslator/internal/pipeline"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// Runner runs one frequency group. pipeline.Orchestrator implements it.
type Runner interface {
	RunForFrequencyGroup(ctx context.Context, label string) (pipeline.Report, error)
}

// FrequencyService runs one frequency group at start and then once per
// interval, holding the group's lock while it runs.
type FrequencyService struct {
	label    string
	interval time.Duration
	runner   Runner
	lockDir  string
	logger   zerolog.Logger
}

func NewFrequencyService(label string, runner Runner, lockDir string, logger zerolog.Logger) (*FrequencyService, error) {
	minutes, err := feed.ParseFrequency(label)
	if err != nil {
		return nil, err
	}
	return &FrequencyService{
		label:    label,
		interval: time.Duration(minutes) * time.Minute,
		runner:   runner,
		lockDir:  lockDir,
		logger:   logger.With().Str("component", "scheduler").Str("frequency", label).Logger(),
	}, nil
}

// Serve implements suture.Service.
func (s *FrequencyService) Serve(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("Frequency service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, lock.ErrLocked) {
			s.logger.Error().Err(err).Msg("Scheduled run failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Frequency service stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs the group unless another process holds its lock, in which
// case it logs a warning and returns lock.ErrLocked.
func (s *FrequencyService) RunOnce(ctx context.Context) error {
	l, err := lock.Acquire(lock.Path(s.lockDir, s.label))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.logger.Warn().Msg("Previous run still in progress, skipping")
		}
		return err
	}
	defer l.Release()

	report, err := s.runner.RunForFrequencyGroup(ctx, s.label)
	if err != nil {
		return fmt.Errorf("run %s: %w", s.label, err)
	}
	s.logger.Info().Int("succeeded", report.Succeeded).Int("failed", report.Failed).
		Int("timed_out", report.TimedOut).Msg("Scheduled run finished")
	return nil
}

func (s *FrequencyService) String() string {
	return "frequency-" + s.label
}

// NewSupervisor returns a supervisor with one FrequencyService per label in
// feed.FrequencyLabels.
func NewSupervisor(runner Runner, lockDir string, logger zerolog.Logger) (*suture.Supervisor, error) {
	logger = logger.With().Str("component", "supervisor").Logger()

	sup := suture.New("feedtranslator", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn().Fields(e.Map()).Msg(e.String())
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	for _, label := range feed.FrequencyLabels {
		svc, err := NewFrequencyService(label, runner, lockDir, logger)
		if err != nil {
			return nil, err
		}
		sup.Add(svc)
	}
	return sup, nil
}
