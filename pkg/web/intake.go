package web

import (
	"context"
	"fmt"

	"github.com/zosmed/engine/pkg/eventbus"
	"github.com/zosmed/engine/pkg/events"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/workflow"
)

// Intake receives the trigger events of an accepted webhook delivery.
type Intake interface {
	Accept(ctx context.Context, trigger models.TriggerEvent) error
}

type IntakeFunc func(ctx context.Context, trigger models.TriggerEvent) error

func (f IntakeFunc) Accept(ctx context.Context, trigger models.TriggerEvent) error {
	return f(ctx, trigger)
}

// PublishIntake hands events to workers over the event bus, keyed by account
// so one account's events stay ordered on a partition.
func PublishIntake(publisher eventbus.EventPublisher) Intake {
	return IntakeFunc(func(ctx context.Context, trigger models.TriggerEvent) error {
		event := &events.TriggerReceived{
			BaseEvent: events.NewBaseEvent(events.TriggerReceivedEvent, ""),
			Trigger:   trigger,
		}

		if err := publisher.Publish(ctx, trigger.AccountID, event); err != nil {
			return fmt.Errorf("failed to publish %s: %w", trigger.DedupKey(), err)
		}

		return nil
	})
}

// DispatchIntake runs matching automations in-process before responding.
func DispatchIntake(dispatcher *workflow.Dispatcher) Intake {
	return IntakeFunc(func(ctx context.Context, trigger models.TriggerEvent) error {
		_, err := dispatcher.Dispatch(ctx, trigger)

		return err
	})
}
