package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zosmed/engine/pkg/counters"
	"github.com/zosmed/engine/pkg/log"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/persistence"
)

// DefaultDedupTTL covers the platform's webhook redelivery window.
const DefaultDedupTTL = 24 * time.Hour

// Dispatcher routes trigger events to the automations of the receiving integration.
// Webhooks are delivered at least once, so each platform object is claimed before
// anything runs.
type Dispatcher struct {
	store    persistence.AutomationStore
	dedup    counters.Deduplicator
	executor *Executor
	logger   *slog.Logger
	dedupTTL time.Duration
}

func NewDispatcher(
	store persistence.AutomationStore,
	dedup counters.Deduplicator,
	executor *Executor,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:    store,
		dedup:    dedup,
		executor: executor,
		logger:   logger.With("module", "workflow_dispatcher"),
		dedupTTL: DefaultDedupTTL,
	}
}

// WithDedupTTL overrides how long a claimed event is remembered.
func (d *Dispatcher) WithDedupTTL(ttl time.Duration) *Dispatcher {
	if ttl > 0 {
		d.dedupTTL = ttl
	}

	return d
}

// Dispatch runs every enabled automation whose trigger kind matches event.
// A duplicate event, an unknown account or the account's own activity is a no-op.
// Executions run sequentially and their errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.TriggerEvent) ([]*models.ExecutionRecord, error) {
	logger := log.FromContext(ctx, d.logger).With("account_id", event.AccountID, "trigger", event.DedupKey())

	claimed, err := d.dedup.Claim(ctx, event.DedupKey(), d.dedupTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to claim trigger %s: %w", event.DedupKey(), err)
	}

	if !claimed {
		d.executor.metrics.DuplicateEvent()
		logger.InfoContext(ctx, "Duplicate trigger event ignored")

		return nil, nil
	}

	integration, err := d.store.IntegrationByExternalAccount(ctx, event.AccountID)
	if err != nil {
		if persistence.IsIntegrationNotFound(err) {
			logger.WarnContext(ctx, "No integration for account, ignoring event")

			return nil, nil
		}

		return nil, d.release(ctx, logger, event,
			fmt.Errorf("failed to load integration for account %s: %w", event.AccountID, err))
	}

	if event.UserID != "" && event.UserID == integration.ExternalAccountID {
		logger.DebugContext(ctx, "Ignoring event authored by the integration itself")

		return nil, nil
	}

	automations, err := d.store.AutomationsByIntegration(ctx, integration.ID)
	if err != nil {
		return nil, d.release(ctx, logger, event,
			fmt.Errorf("failed to load automations for integration %s: %w", integration.ID, err))
	}

	triggerKind := event.Kind.NodeKind()

	var (
		records []*models.ExecutionRecord
		errs    []error
	)

	for _, automation := range automations {
		if !automation.Enabled || !automation.HasTrigger(triggerKind) {
			continue
		}

		record, err := d.executor.Execute(ctx, automation, integration, event)
		if err != nil {
			if errors.Is(err, ErrAutomationNotExecutable) {
				logger.WarnContext(ctx, "Skipping automation that does not compile",
					"automation_id", automation.ID, "error", err)
			}

			errs = append(errs, err)
		}

		if record != nil {
			records = append(records, record)
		}
	}

	logger.InfoContext(ctx, "Trigger dispatched", "integration_id", integration.ID, "executions", len(records))

	return records, errors.Join(errs...)
}

// release drops the claim on event after a failure that happened before any
// execution ran, so the redelivered event is processed. It returns cause.
func (d *Dispatcher) release(ctx context.Context, logger *slog.Logger, event models.TriggerEvent, cause error) error {
	if err := d.dedup.Release(context.WithoutCancel(ctx), event.DedupKey()); err != nil {
		logger.ErrorContext(ctx, "Failed to release trigger claim", "error", err)

		return errors.Join(cause, fmt.Errorf("failed to release trigger %s: %w", event.DedupKey(), err))
	}

	return cause
}
