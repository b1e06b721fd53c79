package housekeeping

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zosmed/engine/pkg/counters"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/persistence/memory"
	"github.com/zosmed/engine/pkg/safety"
	"github.com/zosmed/engine/pkg/testutil"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type failingPruner struct{}

func (failingPruner) PruneExecutions(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is gone")
}

func TestNewScheduler(t *testing.T) {
	scheduler, err := NewScheduler("", logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, scheduler.spec)
	assert.Equal(t, DefaultRetention, scheduler.retention)

	_, err = NewScheduler("every now and then", logger)
	assert.Error(t, err)
}

func TestScheduler_RunOnce(t *testing.T) {
	ctx := t.Context()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := counters.NewMemoryStore(clock)
	engine := safety.NewEngine(store, logger, safety.WithClock(clock))
	persistence := memory.NewPersistence()

	integration := testutil.CreateTestIntegration()
	require.NoError(t, persistence.SaveIntegration(ctx, integration))

	for id, age := range map[string]time.Duration{"old": 40 * 24 * time.Hour, "recent": time.Hour} {
		require.NoError(t, persistence.SaveExecution(ctx, &models.ExecutionRecord{
			ID:            id,
			AutomationID:  "automation-1",
			IntegrationID: integration.ID,
			Status:        models.ExecutionStatusSuccess,
			CreatedAt:     clock.Now().Add(-age),
		}))
	}

	claimed, err := store.Claim(ctx, "comment:c1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, engine.RecordAction(ctx, integration.ID, models.ActionTypeDM))

	clock.Advance(2 * time.Minute)

	scheduler, err := NewScheduler(DefaultSchedule, logger,
		WithClock(clock),
		WithSweeper(store),
		WithPruner(persistence, 0),
		WithUsageReport(persistence, engine),
	)
	require.NoError(t, err)

	report := scheduler.RunOnce(ctx)

	assert.Equal(t, 1, report.Swept)
	assert.Equal(t, int64(1), report.Pruned)
	assert.Equal(t, 1, report.Integrations)

	_, err = persistence.GetExecution(ctx, "old")
	assert.Error(t, err)

	_, err = persistence.GetExecution(ctx, "recent")
	assert.NoError(t, err)

	usage, err := engine.Usage(ctx, safety.SubjectFor(integration, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Hourly.Used)
}

func TestScheduler_RunOnceContinuesAfterFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := counters.NewMemoryStore(clock)

	_, err := store.Claim(t.Context(), "dm:m1", time.Second)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	scheduler, err := NewScheduler(DefaultSchedule, logger,
		WithClock(clock),
		WithPruner(failingPruner{}, time.Hour),
		WithSweeper(store),
	)
	require.NoError(t, err)

	report := scheduler.RunOnce(t.Context())
	assert.Equal(t, 1, report.Swept)
	assert.Zero(t, report.Pruned)
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler, err := NewScheduler("@every 1h", logger)
	require.NoError(t, err)

	require.NoError(t, scheduler.Stop(t.Context()))
	require.NoError(t, scheduler.Start(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	assert.NoError(t, scheduler.Stop(ctx))
}
