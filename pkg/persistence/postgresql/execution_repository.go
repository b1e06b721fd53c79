package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/persistence"
)

// ExecutionRepository handles execution record database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Save upserts a record. Rows that already reached a terminal status are left untouched
// and ErrExecutionTerminal is returned.
func (r *ExecutionRepository) Save(ctx context.Context, record *models.ExecutionRecord) error {
	triggerJSON, err := json.Marshal(record.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	phasesJSON, err := json.Marshal(record.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal phases: %w", err)
	}

	usageJSON, err := json.Marshal(record.Usage)
	if err != nil {
		return fmt.Errorf("failed to marshal usage: %w", err)
	}

	query := `
		INSERT INTO execution_records (
			id, automation_id, integration_id, status, trigger,
			phases, usage, error_message, created_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			phases = EXCLUDED.phases,
			usage = EXCLUDED.usage,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at
		WHERE execution_records.status NOT IN ('success', 'failed', 'cancelled')
	`

	result, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.AutomationID,
		record.IntegrationID,
		record.Status,
		triggerJSON,
		phasesJSON,
		usageJSON,
		record.Error,
		record.CreatedAt,
		record.CompletedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", record.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("SaveExecution", record.ID, persistence.ErrExecutionTerminal)
	}

	return nil
}

const selectExecution = `
	SELECT id, automation_id, integration_id, status, trigger,
		   phases, usage, error_message, created_at, completed_at
	FROM execution_records
`

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	record, err := r.scanExecution(r.db.QueryRowContext(ctx, selectExecution+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetExecution", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetExecution", id, err)
	}

	return record, nil
}

func (r *ExecutionRepository) GetByIntegration(
	ctx context.Context,
	integrationID string,
	since time.Time,
) ([]*models.ExecutionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectExecution+" WHERE integration_id = $1 AND created_at >= $2 ORDER BY created_at DESC",
		integrationID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution records: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var records []*models.ExecutionRecord

	for rows.Next() {
		record, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate execution records: %w", err)
	}

	return records, nil
}

func (r *ExecutionRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM execution_records WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune execution records: %w", err)
	}

	return result.RowsAffected()
}

func (r *ExecutionRepository) scanExecution(row scanner) (*models.ExecutionRecord, error) {
	var (
		record      models.ExecutionRecord
		triggerJSON []byte
		phasesJSON  []byte
		usageJSON   []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&record.ID,
		&record.AutomationID,
		&record.IntegrationID,
		&record.Status,
		&triggerJSON,
		&phasesJSON,
		&usageJSON,
		&record.Error,
		&record.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}

	err = json.Unmarshal(triggerJSON, &record.Trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	err = json.Unmarshal(phasesJSON, &record.Phases)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal phases: %w", err)
	}

	err = json.Unmarshal(usageJSON, &record.Usage)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal usage: %w", err)
	}

	return &record, nil
}
