// Package housekeeping runs the periodic maintenance of counters, dedup claims and execution history.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/safety"
)

const (
	DefaultSchedule  = "@every 5m"
	DefaultRetention = 30 * 24 * time.Hour
)

// Sweeper drops expired in-process entries and reports how many were removed.
type Sweeper interface {
	Sweep() int
}

type Pruner interface {
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)
}

type IntegrationLister interface {
	Integrations(ctx context.Context) ([]*models.Integration, error)
}

// Report summarizes one housekeeping run.
type Report struct {
	Swept        int
	Pruned       int64
	Integrations int
}

type Scheduler struct {
	spec      string
	retention time.Duration
	cron      *cron.Cron
	clock     clockwork.Clock

	sweepers     []Sweeper
	pruner       Pruner
	integrations IntegrationLister
	engine       *safety.Engine

	logger *slog.Logger
}

type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func WithSweeper(sweeper Sweeper) Option {
	return func(s *Scheduler) {
		s.sweepers = append(s.sweepers, sweeper)
	}
}

// WithPruner deletes execution records older than retention.
func WithPruner(pruner Pruner, retention time.Duration) Option {
	return func(s *Scheduler) {
		s.pruner = pruner

		if retention > 0 {
			s.retention = retention
		}
	}
}

// WithUsageReport logs the budget usage of every integration on each run.
func WithUsageReport(integrations IntegrationLister, engine *safety.Engine) Option {
	return func(s *Scheduler) {
		s.integrations = integrations
		s.engine = engine
	}
}

func NewScheduler(spec string, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", spec, err)
	}

	scheduler := &Scheduler{
		spec:      spec,
		retention: DefaultRetention,
		clock:     clockwork.NewRealClock(),
		logger:    logger.With("module", "housekeeping", "schedule", spec),
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	return scheduler, nil
}

// Start runs housekeeping on the schedule until Stop is called. Overlapping
// runs are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting housekeeping scheduler")

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule housekeeping: %w", err)
	}

	s.cron.Start()

	return nil
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	s.logger.Info("Stopping housekeeping scheduler")

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single housekeeping pass. Failures of one task are logged
// and do not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	var report Report

	for _, sweeper := range s.sweepers {
		report.Swept += sweeper.Sweep()
	}

	if s.pruner != nil {
		cutoff := s.clock.Now().UTC().Add(-s.retention)

		pruned, err := s.pruner.PruneExecutions(ctx, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to prune executions", "before", cutoff, "error", err)
		}

		report.Pruned = pruned
	}

	if s.integrations != nil && s.engine != nil {
		n, err := s.reportUsage(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to report integration usage", "error", err)
		}

		report.Integrations = n
	}

	s.logger.InfoContext(ctx, "Housekeeping completed",
		"swept", report.Swept,
		"pruned", report.Pruned,
		"integrations", report.Integrations,
	)

	return report
}

func (s *Scheduler) reportUsage(ctx context.Context) (int, error) {
	integrations, err := s.integrations.Integrations(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error

	for _, integration := range integrations {
		usage, err := s.engine.Usage(ctx, safety.SubjectFor(integration, nil))
		if err != nil {
			errs = append(errs, fmt.Errorf("integration %s: %w", integration.ID, err))

			continue
		}

		s.logger.InfoContext(ctx, "Integration usage",
			"integration_id", integration.ID,
			"hourly_used", usage.Hourly.Used,
			"hourly_limit", usage.Hourly.Limit,
			"daily_used", usage.Daily.Used,
			"daily_limit", usage.Daily.Limit,
			"warmup", usage.WarmupActive,
		)
	}

	return len(integrations), errors.Join(errs...)
}
