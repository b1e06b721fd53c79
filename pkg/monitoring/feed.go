package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/zosmed/engine/pkg/eventbus"
	"github.com/zosmed/engine/pkg/events"
	"github.com/zosmed/engine/pkg/models"
)

// Activity is a running summary of finished executions for one integration.
type Activity struct {
	Executions      int                            `json:"executions"`
	ByStatus        map[models.ExecutionStatus]int `json:"by_status"`
	Skips           map[models.SkipCode]int        `json:"skips"`
	ActionsSent     int                            `json:"actions_sent"`
	CreditsConsumed int                            `json:"credits_consumed"`
	LastStatus      models.ExecutionStatus         `json:"last_status,omitempty"`
	LastError       string                         `json:"last_error,omitempty"`
	LastFinishedAt  time.Time                      `json:"last_finished_at"`
}

func (a Activity) clone() Activity {
	a.ByStatus = maps.Clone(a.ByStatus)
	a.Skips = maps.Clone(a.Skips)

	return a
}

// Feed aggregates execution.finished events published by workers.
type Feed struct {
	mu       sync.RWMutex
	activity map[string]*Activity
	logger   *slog.Logger
}

func NewFeed(logger *slog.Logger) *Feed {
	return &Feed{
		activity: make(map[string]*Activity),
		logger:   logger.With("module", "monitoring_feed"),
	}
}

// Register subscribes the feed to execution.finished events.
func (f *Feed) Register(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.ExecutionFinishedEvent, f.HandleEvent)
}

// HandleEvent is an eventbus.EventHandler.
func (f *Feed) HandleEvent(ctx context.Context, event any) error {
	finished, ok := event.(*events.ExecutionFinished)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	f.Record(finished)

	f.logger.DebugContext(ctx, "Execution recorded",
		"integration_id", finished.IntegrationID,
		"execution_id", finished.ExecutionID,
		"status", finished.Status,
	)

	return nil
}

// Record folds one finished execution into its integration's activity.
func (f *Feed) Record(finished *events.ExecutionFinished) {
	f.mu.Lock()
	defer f.mu.Unlock()

	activity, ok := f.activity[finished.IntegrationID]
	if !ok {
		activity = &Activity{
			ByStatus: make(map[models.ExecutionStatus]int),
			Skips:    make(map[models.SkipCode]int),
		}
		f.activity[finished.IntegrationID] = activity
	}

	activity.Executions++
	activity.ByStatus[finished.Status]++
	activity.ActionsSent += finished.Usage.ActionsPerformed
	activity.CreditsConsumed += finished.Usage.CreditsConsumed

	for code, n := range finished.Skips {
		activity.Skips[code] += n
	}

	if finished.Timestamp.After(activity.LastFinishedAt) {
		activity.LastStatus = finished.Status
		activity.LastError = finished.Error
		activity.LastFinishedAt = finished.Timestamp
	}
}

// Activity returns a copy of the integration's activity.
func (f *Feed) Activity(integrationID string) (Activity, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	activity, ok := f.activity[integrationID]
	if !ok {
		return Activity{}, false
	}

	return activity.clone(), true
}

// Reset forgets all activity and returns how many integrations were tracked.
func (f *Feed) Reset() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.activity)
	f.activity = make(map[string]*Activity)

	return n
}
