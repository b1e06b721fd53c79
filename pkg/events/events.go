// Package events defines the messages exchanged between the webhook receiver, the worker and monitoring.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/zosmed/engine/pkg/models"
)

type EventType string

// Topic carries every engine event.
const Topic = "zosmed.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// TriggerReceivedEvent is published once per accepted webhook event.
	TriggerReceivedEvent EventType = "trigger.received"

	// ExecutionFinishedEvent is published when an execution reaches a terminal status.
	ExecutionFinishedEvent EventType = "execution.finished"
)

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	IntegrationID string         `json:"integration_id,omitempty"`
	WorkerID      string         `json:"worker_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, integrationID string) BaseEvent {
	return BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		IntegrationID: integrationID,
	}
}

// TriggerReceived carries a normalized webhook event to the worker.
type TriggerReceived struct {
	BaseEvent

	Trigger models.TriggerEvent `json:"trigger"`
}

func (t TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

// ExecutionFinished summarizes a terminal execution for read-side consumers.
type ExecutionFinished struct {
	BaseEvent

	ExecutionID  string                  `json:"execution_id"`
	AutomationID string                  `json:"automation_id"`
	Status       models.ExecutionStatus  `json:"status"`
	Usage        models.ResourceUsage    `json:"usage"`
	Skips        map[models.SkipCode]int `json:"skips,omitempty"`
	FailedNodes  int                     `json:"failed_nodes"`
	Error        string                  `json:"error,omitempty"`
	Duration     time.Duration           `json:"duration"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

// NewExecutionFinished builds the event from a terminal record.
func NewExecutionFinished(record *models.ExecutionRecord) *ExecutionFinished {
	event := &ExecutionFinished{
		BaseEvent:    NewBaseEvent(ExecutionFinishedEvent, record.IntegrationID),
		ExecutionID:  record.ID,
		AutomationID: record.AutomationID,
		Status:       record.Status,
		Usage:        record.Usage,
		Skips:        make(map[models.SkipCode]int),
		Error:        record.Error,
	}

	if record.CompletedAt != nil {
		event.Timestamp = *record.CompletedAt
		event.Duration = record.CompletedAt.Sub(record.CreatedAt)
	}

	for _, outcome := range record.Outcomes() {
		switch outcome.Status {
		case models.NodeStatusSkipped:
			event.Skips[outcome.SkipCode]++
		case models.NodeStatusFailed:
			event.FailedNodes++
		}
	}

	return event
}
