package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/persistence"
)

// IntegrationRepository handles integration-related database operations.
type IntegrationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewIntegrationRepository(db *sql.DB, logger *slog.Logger) *IntegrationRepository {
	return &IntegrationRepository{db: db, logger: logger}
}

// Save inserts or updates an integration.
func (r *IntegrationRepository) Save(ctx context.Context, integration *models.Integration) error {
	safetyJSON, err := json.Marshal(integration.Safety)
	if err != nil {
		return fmt.Errorf("failed to marshal safety config: %w", err)
	}

	query := `
		INSERT INTO integrations (id, external_account_id, username, access_token, safety, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			external_account_id = EXCLUDED.external_account_id,
			username = EXCLUDED.username,
			access_token = EXCLUDED.access_token,
			safety = EXCLUDED.safety,
			connected_at = EXCLUDED.connected_at
	`

	_, err = r.db.ExecContext(ctx, query,
		integration.ID,
		integration.ExternalAccountID,
		integration.Username,
		integration.AccessToken,
		safetyJSON,
		integration.ConnectedAt,
	)
	if err != nil {
		return persistence.NewIntegrationError("SaveIntegration", integration.ID, err)
	}

	return nil
}

func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	return r.getOne(ctx, "GetIntegration", "id", id)
}

func (r *IntegrationRepository) GetByExternalAccount(ctx context.Context, externalAccountID string) (*models.Integration, error) {
	return r.getOne(ctx, "IntegrationByExternalAccount", "external_account_id", externalAccountID)
}

// List returns every integration ordered by connection time.
func (r *IntegrationRepository) List(ctx context.Context) ([]*models.Integration, error) {
	query := `
		SELECT id, external_account_id, username, access_token, safety, connected_at
		FROM integrations
		ORDER BY connected_at, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.Error("Failed to close rows", "error", closeErr)
		}
	}()

	var integrations []*models.Integration

	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}

		integrations = append(integrations, integration)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate integrations: %w", err)
	}

	return integrations, nil
}

// getOne looks an integration up by column; column is always a constant.
func (r *IntegrationRepository) getOne(ctx context.Context, op, column, value string) (*models.Integration, error) {
	query := `
		SELECT id, external_account_id, username, access_token, safety, connected_at
		FROM integrations
		WHERE ` + column + ` = $1
	`

	integration, err := scanIntegration(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewIntegrationError(op, value, persistence.ErrIntegrationNotFound)
		}

		return nil, persistence.NewIntegrationError(op, value, err)
	}

	return integration, nil
}

func scanIntegration(row scanner) (*models.Integration, error) {
	var (
		integration models.Integration
		safetyJSON  []byte
	)

	err := row.Scan(
		&integration.ID,
		&integration.ExternalAccountID,
		&integration.Username,
		&integration.AccessToken,
		&safetyJSON,
		&integration.ConnectedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(safetyJSON, &integration.Safety); err != nil {
		return nil, fmt.Errorf("failed to unmarshal safety config: %w", err)
	}

	return &integration, nil
}
