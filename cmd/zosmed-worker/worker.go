package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zosmed/engine/pkg/eventbus"
	"github.com/zosmed/engine/pkg/events"
	"github.com/zosmed/engine/pkg/housekeeping"
	"github.com/zosmed/engine/pkg/log"
	"github.com/zosmed/engine/pkg/workflow"
)

// Worker consumes trigger.received events and runs the matching automations.
type Worker struct {
	id         string
	dispatcher *workflow.Dispatcher
	eventBus   eventbus.EventBus
	scheduler  *housekeeping.Scheduler
	logger     *slog.Logger
}

func NewWorker(
	id string,
	dispatcher *workflow.Dispatcher,
	eventBus eventbus.EventBus,
	scheduler *housekeeping.Scheduler,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:         id,
		dispatcher: dispatcher,
		eventBus:   eventBus,
		scheduler:  scheduler,
		logger:     logger.With("module", "zosmed-worker", "worker_id", id),
	}
}

// Start registers the handlers, subscribes to the bus and starts housekeeping.
// It returns once the subscription is running.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	if err := w.eventBus.Handle(events.TriggerReceivedEvent, w.handleTriggerReceived); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Shutting down worker")

	if w.scheduler == nil {
		return nil
	}

	return w.scheduler.Stop(ctx)
}

// handleTriggerReceived dispatches one trigger event. Errors before any
// execution ran are returned so the bus redelivers. Failures inside executions
// are already on their records.
func (w *Worker) handleTriggerReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.TriggerReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

		return nil
	}

	logger := w.logger.With(
		"event_id", received.ID,
		"account_id", received.Trigger.AccountID,
		"trigger", received.Trigger.DedupKey(),
	)
	logger.DebugContext(ctx, "Processing trigger received event")

	ctx = log.WithLogger(ctx, logger)

	records, err := w.dispatcher.Dispatch(ctx, received.Trigger)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to dispatch trigger", "executions", len(records), "error", err)

		if len(records) == 0 && !errors.Is(err, workflow.ErrAutomationNotExecutable) {
			return err
		}
	}

	for _, record := range records {
		logger.InfoContext(ctx, "Execution finished",
			"execution_id", record.ID,
			"automation_id", record.AutomationID,
			"status", record.Status,
		)
	}

	return nil
}
