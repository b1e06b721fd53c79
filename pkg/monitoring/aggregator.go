package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/persistence"
	"github.com/zosmed/engine/pkg/safety"
)

const (
	// HealthWindow is how far back execution history counts toward health.
	HealthWindow = 24 * time.Hour

	maxBuckets = 1000
)

var (
	ErrInvalidBucket  = errors.New("timeline bucket must be positive")
	ErrInvalidRange   = errors.New("timeline range end must be after start")
	ErrTooManyBuckets = fmt.Errorf("timeline range spans more than %d buckets", maxBuckets)
)

// Health is the health report of one integration.
type Health struct {
	IntegrationID     string       `json:"integration_id"`
	Score             int          `json:"score"`
	Status            Status       `json:"status"`
	Usage             safety.Usage `json:"usage"`
	Executions        int          `json:"executions"`
	FailureRate       float64      `json:"failure_rate"`
	ContentViolations int          `json:"content_violations"`
	Issues            []string     `json:"issues"`
	CheckedAt         time.Time    `json:"checked_at"`
}

// Bucket counts action outcomes in [Start, Start+bucket).
type Bucket struct {
	Start   time.Time               `json:"start"`
	Sent    int                     `json:"sent"`
	Skipped int                     `json:"skipped"`
	Failed  int                     `json:"failed"`
	Skips   map[models.SkipCode]int `json:"skips,omitempty"`
}

type Aggregator struct {
	store   persistence.AutomationStore
	history persistence.ExecutionHistory
	engine  *safety.Engine
	logger  *slog.Logger
}

func NewAggregator(
	store persistence.AutomationStore,
	history persistence.ExecutionHistory,
	engine *safety.Engine,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		store:   store,
		history: history,
		engine:  engine,
		logger:  logger.With("module", "monitoring"),
	}
}

// Integration loads an integration, returning a not-found error for unknown ids.
func (a *Aggregator) Integration(ctx context.Context, integrationID string) (*models.Integration, error) {
	return a.store.GetIntegration(ctx, integrationID)
}

// Usage returns the current budget usage of an integration.
func (a *Aggregator) Usage(ctx context.Context, integrationID string) (safety.Usage, error) {
	integration, err := a.Integration(ctx, integrationID)
	if err != nil {
		return safety.Usage{}, err
	}

	usage, err := a.engine.Usage(ctx, safety.SubjectFor(integration, nil))
	if err != nil {
		return safety.Usage{}, fmt.Errorf("failed to read usage for integration %s: %w", integrationID, err)
	}

	return usage, nil
}

// Health scores an integration from its budget usage and the last day of executions.
func (a *Aggregator) Health(ctx context.Context, integrationID string) (Health, error) {
	usage, err := a.Usage(ctx, integrationID)
	if err != nil {
		return Health{}, err
	}

	now := a.engine.Clock().Now().UTC()

	records, err := a.history.ExecutionsByIntegration(ctx, integrationID, now.Add(-HealthWindow))
	if err != nil {
		return Health{}, fmt.Errorf("failed to read executions for integration %s: %w", integrationID, err)
	}

	signals := Signals{Usage: usage}

	for _, record := range records {
		if !record.Status.IsTerminal() {
			continue
		}

		signals.Executions++

		if record.Status == models.ExecutionStatusFailed {
			signals.FailedExecutions++
		}

		for _, outcome := range record.Outcomes() {
			if outcome.SkipCode == models.SkipContentViolation {
				signals.ContentViolations++
			}
		}
	}

	score, issues := Score(signals)

	health := Health{
		IntegrationID:     integrationID,
		Score:             score,
		Status:            Classify(score),
		Usage:             usage,
		Executions:        signals.Executions,
		FailureRate:       signals.FailureRate(),
		ContentViolations: signals.ContentViolations,
		Issues:            issues,
		CheckedAt:         now,
	}

	if health.Status != StatusHealthy {
		a.logger.InfoContext(ctx, "Integration health degraded",
			"integration_id", integrationID,
			"score", score,
			"status", health.Status,
		)
	}

	return health, nil
}

// Timeline counts sent, skipped and failed actions per bucket over [from, to).
// from is truncated to the bucket size.
func (a *Aggregator) Timeline(
	ctx context.Context,
	integrationID string,
	from, to time.Time,
	bucket time.Duration,
) ([]Bucket, error) {
	if bucket <= 0 {
		return nil, ErrInvalidBucket
	}

	from = from.UTC().Truncate(bucket)
	to = to.UTC()

	if !to.After(from) {
		return nil, ErrInvalidRange
	}

	count := int((to.Sub(from) + bucket - 1) / bucket)
	if count > maxBuckets {
		return nil, ErrTooManyBuckets
	}

	if _, err := a.store.GetIntegration(ctx, integrationID); err != nil {
		return nil, err
	}

	buckets := make([]Bucket, count)
	for i := range buckets {
		buckets[i] = Bucket{Start: from.Add(time.Duration(i) * bucket), Skips: make(map[models.SkipCode]int)}
	}

	records, err := a.history.ExecutionsByIntegration(ctx, integrationID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read executions for integration %s: %w", integrationID, err)
	}

	for _, record := range records {
		for _, outcome := range record.Outcomes() {
			if !outcome.Kind.IsAction() {
				continue
			}

			at := outcome.FinishedAt
			if at.IsZero() {
				at = record.CreatedAt
			}

			at = at.UTC()
			if at.Before(from) || !at.Before(to) {
				continue
			}

			b := &buckets[int(at.Sub(from)/bucket)]

			switch outcome.Status {
			case models.NodeStatusSuccess:
				b.Sent++
			case models.NodeStatusSkipped:
				if !attempted(outcome.SkipCode) {
					continue
				}

				b.Skipped++
				b.Skips[outcome.SkipCode]++
			case models.NodeStatusFailed:
				b.Failed++
			}
		}
	}

	return buckets, nil
}

// attempted reports whether a skip happened at the safety gate rather than
// because the branch never reached the action.
func attempted(code models.SkipCode) bool {
	switch code {
	case models.SkipUpstream, models.SkipFiltered, models.SkipTriggerMismatch, models.SkipNotConnected:
		return false
	default:
		return true
	}
}
