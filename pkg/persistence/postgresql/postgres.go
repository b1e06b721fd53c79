// Package postgresql provides PostgreSQL persistence for automations, integrations and execution records.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/persistence"
	"github.com/zosmed/engine/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db              *sql.DB
	logger          *slog.Logger
	integrationRepo *IntegrationRepository
	automationRepo  *AutomationRepository
	executionRepo   *ExecutionRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence creates a new PostgreSQL persistence layer and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:              database,
		logger:          logger,
		integrationRepo: NewIntegrationRepository(database, logger),
		automationRepo:  NewAutomationRepository(database, logger),
		executionRepo:   NewExecutionRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) SaveIntegration(ctx context.Context, integration *models.Integration) error {
	return p.integrationRepo.Save(ctx, integration)
}

func (p *Persistence) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	return p.integrationRepo.GetByID(ctx, id)
}

func (p *Persistence) IntegrationByExternalAccount(ctx context.Context, externalAccountID string) (*models.Integration, error) {
	return p.integrationRepo.GetByExternalAccount(ctx, externalAccountID)
}

func (p *Persistence) Integrations(ctx context.Context) ([]*models.Integration, error) {
	return p.integrationRepo.List(ctx)
}

func (p *Persistence) SaveAutomation(ctx context.Context, automation *models.Automation) error {
	return p.automationRepo.Save(ctx, automation)
}

func (p *Persistence) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	return p.automationRepo.GetByID(ctx, id)
}

func (p *Persistence) AutomationsByIntegration(ctx context.Context, integrationID string) ([]*models.Automation, error) {
	return p.automationRepo.GetByIntegration(ctx, integrationID)
}

func (p *Persistence) DeleteAutomation(ctx context.Context, id string) error {
	return p.automationRepo.Delete(ctx, id)
}

func (p *Persistence) SaveExecution(ctx context.Context, record *models.ExecutionRecord) error {
	return p.executionRepo.Save(ctx, record)
}

func (p *Persistence) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	return p.executionRepo.GetByID(ctx, id)
}

func (p *Persistence) ExecutionsByIntegration(
	ctx context.Context,
	integrationID string,
	since time.Time,
) ([]*models.ExecutionRecord, error) {
	return p.executionRepo.GetByIntegration(ctx, integrationID, since)
}

func (p *Persistence) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	return p.executionRepo.DeleteBefore(ctx, before)
}
