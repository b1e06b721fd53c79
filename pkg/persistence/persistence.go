// Package persistence provides the storage contracts for automations, integrations and execution records.
package persistence

import (
	"context"
	"time"

	"github.com/zosmed/engine/pkg/models"
)

// AutomationStore is the read side the executor needs to load graphs and credentials.
type AutomationStore interface {
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	IntegrationByExternalAccount(ctx context.Context, externalAccountID string) (*models.Integration, error)
	AutomationsByIntegration(ctx context.Context, integrationID string) ([]*models.Automation, error)
}

// ExecutionSink receives execution records as they progress. A record cannot be
// updated once it has been saved with a terminal status.
type ExecutionSink interface {
	SaveExecution(ctx context.Context, record *models.ExecutionRecord) error
}

// ExecutionHistory reads recorded executions, newest first.
type ExecutionHistory interface {
	GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error)
	ExecutionsByIntegration(ctx context.Context, integrationID string, since time.Time) ([]*models.ExecutionRecord, error)
}

type Persistence interface {
	AutomationStore
	ExecutionSink
	ExecutionHistory

	SaveIntegration(ctx context.Context, integration *models.Integration) error
	Integrations(ctx context.Context) ([]*models.Integration, error)
	SaveAutomation(ctx context.Context, automation *models.Automation) error
	DeleteAutomation(ctx context.Context, id string) error
	// PruneExecutions deletes records created before the cutoff and returns how many were removed.
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
