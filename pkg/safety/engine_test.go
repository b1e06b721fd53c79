package safety

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zosmed/engine/pkg/counters"
	"github.com/zosmed/engine/pkg/models"
)

var (
	noon   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
)

func testConfig() models.SafetyConfig {
	config := models.DefaultSafetyConfig()
	config.Warmup.Enabled = false
	config.DelayBetweenActions = models.DelayRange{}
	config.CommentToDMDelay = models.DelayRange{}

	return config
}

func newTestEngine(t *testing.T) (*Engine, *clockwork.FakeClock, *counters.MemoryStore) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(noon)
	store := counters.NewMemoryStore(clock)
	engine := NewEngine(store, logger, WithClock(clock), WithRand(rand.New(rand.NewPCG(1, 2))))

	return engine, clock, store
}

func subject(mutate func(*models.SafetyConfig)) Subject {
	config := testConfig()
	if mutate != nil {
		mutate(&config)
	}

	return Subject{
		IntegrationID: "integration-1",
		ConnectedAt:   noon.AddDate(0, -1, 0),
		Config:        config,
	}
}

func TestEngine_IsActionSafe_Rejections(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*models.SafetyConfig)
		action        models.ActionType
		message       string
		expectedCode  models.SkipCode
		expectedRule  ContentRule
		retryable     bool
		reasonContain string
	}{
		{
			name:          "dm disabled",
			mutate:        func(c *models.SafetyConfig) { c.ActionTypes.EnableDMReply = false },
			action:        models.ActionTypeDM,
			message:       "hello",
			expectedCode:  models.SkipActionTypeDisabled,
			retryable:     true,
			reasonContain: "action type disabled",
		},
		{
			name:          "comment reply disabled",
			mutate:        func(c *models.SafetyConfig) { c.ActionTypes.EnableCommentReply = false },
			action:        models.ActionTypeCommentReply,
			message:       "hello",
			expectedCode:  models.SkipActionTypeDisabled,
			retryable:     true,
			reasonContain: "action type disabled",
		},
		{
			name: "outside active hours",
			mutate: func(c *models.SafetyConfig) {
				c.ActiveHours = models.ActiveHours{StartHour: 8, EndHour: 11, Timezone: "UTC"}
			},
			action:        models.ActionTypeDM,
			message:       "hello",
			expectedCode:  models.SkipOutsideActiveHours,
			retryable:     true,
			reasonContain: "outside active hours",
		},
		{
			name: "active hours evaluated in integration timezone",
			mutate: func(c *models.SafetyConfig) {
				// 12:00 UTC is 07:00 in New York during standard time.
				c.ActiveHours = models.ActiveHours{StartHour: 9, EndHour: 17, Timezone: "America/New_York"}
			},
			action:        models.ActionTypeDM,
			message:       "hello",
			expectedCode:  models.SkipOutsideActiveHours,
			retryable:     true,
			reasonContain: "America/New_York",
		},
		{
			name:          "banned phrase",
			mutate:        func(c *models.SafetyConfig) { c.ContentRules.BannedPhrases = []string{"free money"} },
			action:        models.ActionTypeDM,
			message:       "Get FREE Money now",
			expectedCode:  models.SkipContentViolation,
			expectedRule:  RuleBannedPhrase,
			reasonContain: "content violation",
		},
		{
			name:          "too many mentions",
			mutate:        func(c *models.SafetyConfig) { c.ContentRules.MaxMentions = 1 },
			action:        models.ActionTypeCommentReply,
			message:       "thanks @a and @b",
			expectedCode:  models.SkipContentViolation,
			expectedRule:  RuleMaxMentions,
			reasonContain: "max_mentions",
		},
		{
			name:          "too many hashtags",
			mutate:        func(c *models.SafetyConfig) { c.ContentRules.MaxHashtags = 0 },
			action:        models.ActionTypeCommentReply,
			message:       "love it #sale",
			expectedCode:  models.SkipContentViolation,
			expectedRule:  RuleMaxHashtags,
			reasonContain: "max_hashtags",
		},
		{
			name:          "too many urls",
			action:        models.ActionTypeDM,
			message:       "see https://a.example and http://b.example",
			expectedCode:  models.SkipContentViolation,
			expectedRule:  RuleMaxURLs,
			reasonContain: "max_urls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, _ := newTestEngine(t)

			decision, err := engine.IsActionSafe(context.Background(), subject(tt.mutate), tt.action, tt.message)
			require.NoError(t, err)

			assert.False(t, decision.Allowed)
			assert.Equal(t, tt.expectedCode, decision.Code)
			assert.Equal(t, tt.expectedRule, decision.Rule)
			assert.Equal(t, tt.retryable, decision.Retryable)
			assert.Contains(t, decision.Reason, tt.reasonContain)
		})
	}
}

func TestEngine_BudgetMonotonicity(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)
	subj := subject(func(c *models.SafetyConfig) { c.MaxActionsPerHour = 3 })

	for k := range 3 {
		decision, err := engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "action %d should be allowed", k+1)

		require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))
	}

	decision, err := engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.SkipQuotaExceeded, decision.Code)
	assert.Equal(t, counters.WindowHour, decision.Window)
	assert.True(t, decision.Retryable)
	assert.Contains(t, decision.Reason, "quota exceeded")
}

func TestEngine_BudgetIsCombinedAcrossActionTypes(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)
	subj := subject(func(c *models.SafetyConfig) { c.MaxActionsPerHour = 2 })

	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeCommentReply))
	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))

	for _, action := range []models.ActionType{models.ActionTypeCommentReply, models.ActionTypeDM} {
		decision, err := engine.IsActionSafe(ctx, subj, action, "hi")
		require.NoError(t, err)
		assert.Equal(t, models.SkipQuotaExceeded, decision.Code, string(action))
	}
}

func TestEngine_DailyQuotaAndWarmup(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)

	subj := subject(func(c *models.SafetyConfig) {
		c.MaxActionsPerHour = 100
		c.MaxActionsPerDay = 100
		c.Warmup = models.WarmupConfig{Enabled: true, Days: 7, ActionsPerDay: 2}
	})
	subj.ConnectedAt = noon.Add(-24 * time.Hour)

	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))
	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))

	decision, err := engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi")
	require.NoError(t, err)
	assert.Equal(t, models.SkipQuotaExceeded, decision.Code)
	assert.Equal(t, counters.WindowDay, decision.Window)

	// Once warmup is over the normal daily budget applies.
	subj.ConnectedAt = noon.AddDate(0, 0, -30)

	decision, err = engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_WindowRollover(t *testing.T) {
	ctx := context.Background()
	engine, clock, _ := newTestEngine(t)
	subj := subject(func(c *models.SafetyConfig) { c.MaxActionsPerHour = 1 })

	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))

	decision, err := engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi")
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	clock.Advance(time.Hour + time.Millisecond)

	decision, err = engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	usage, err := engine.Usage(ctx, subj)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.Hourly.Used)
	assert.Equal(t, int64(1), usage.Daily.Used)
}

func TestEngine_QuotaCheckedBeforeContent(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)
	subj := subject(func(c *models.SafetyConfig) {
		c.MaxActionsPerHour = 1
		c.ContentRules.BannedPhrases = []string{"spam"}
	})

	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))

	decision, err := engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "spam")
	require.NoError(t, err)
	assert.Equal(t, models.SkipQuotaExceeded, decision.Code)
}

func TestEngine_DelaySampling(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)
	subj := subject(func(c *models.SafetyConfig) {
		c.DelayBetweenActions = models.DelayRange{MinSeconds: 5, MaxSeconds: 15}
		c.CommentToDMDelay = models.DelayRange{MinSeconds: 10, MaxSeconds: 30}
	})

	for range 50 {
		decision, err := engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		assert.GreaterOrEqual(t, decision.Delay, 5*time.Second)
		assert.LessOrEqual(t, decision.Delay, 15*time.Second)

		decision, err = engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi", AfterCommentReply())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, decision.Delay, 15*time.Second)
		assert.LessOrEqual(t, decision.Delay, 45*time.Second)

		// The comment-to-DM delay only applies to DMs.
		decision, err = engine.IsActionSafe(ctx, subj, models.ActionTypeCommentReply, "hi", AfterCommentReply())
		require.NoError(t, err)
		assert.LessOrEqual(t, decision.Delay, 15*time.Second)
	}
}

func TestEngine_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	subj := subject(func(c *models.SafetyConfig) {
		c.ActiveHours = models.ActiveHours{StartHour: 12, EndHour: 13, Timezone: "Mars/Olympus"}
	})

	decision, err := engine.IsActionSafe(context.Background(), subj, models.ActionTypeDM, "hi")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestEngine_RecordActionTracksPerTypeUsage(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t)
	subj := subject(nil)

	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))
	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))
	require.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeCommentReply))

	usage, err := engine.Usage(ctx, subj)
	require.NoError(t, err)

	assert.Equal(t, int64(3), usage.Hourly.Used)
	assert.Equal(t, 25, usage.Hourly.Limit)
	assert.Equal(t, int64(2), usage.Hourly.ByAction[models.ActionTypeDM])
	assert.Equal(t, int64(1), usage.Daily.ByAction[models.ActionTypeCommentReply])
	assert.Equal(t, int64(22), usage.Hourly.Remaining())
	assert.InDelta(t, 0.12, usage.Hourly.Utilization(), 0.0001)
	assert.False(t, usage.WarmupActive)
}

type failingStore struct {
	counters.Store
}

func (failingStore) Get(context.Context, counters.Key) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) IncrementAndGet(context.Context, counters.Key, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestEngine_StoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(failingStore{}, logger, WithClock(clockwork.NewFakeClockAt(noon)))

	_, err := engine.IsActionSafe(ctx, subject(nil), models.ActionTypeDM, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	err = engine.RecordAction(ctx, "integration-1", models.ActionTypeDM)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integration-1")
}

func TestEngine_LockSerializesCheckAndRecord(t *testing.T) {
	ctx := context.Background()
	engine, _, store := newTestEngine(t)
	subj := subject(func(c *models.SafetyConfig) { c.MaxActionsPerHour = 10 })

	const attempts = 50

	var (
		wg      sync.WaitGroup
		allowed sync.Map
	)

	for i := range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := engine.Lock(subj.IntegrationID)
			defer unlock()

			decision, err := engine.IsActionSafe(ctx, subj, models.ActionTypeDM, "hi")
			assert.NoError(t, err)

			if decision.Allowed {
				assert.NoError(t, engine.RecordAction(ctx, subj.IntegrationID, models.ActionTypeDM))
				allowed.Store(i, true)
			}
		}()
	}

	wg.Wait()

	count := 0

	allowed.Range(func(_, _ any) bool {
		count++

		return true
	})

	assert.Equal(t, 10, count)

	value, err := store.Get(ctx, counters.Combined(subj.IntegrationID, counters.WindowHour))
	require.NoError(t, err)
	assert.Equal(t, int64(10), value)
	assert.Equal(t, 0, engine.locks.size())
}

func TestSubjectFor(t *testing.T) {
	integration := &models.Integration{ID: "i1", ConnectedAt: noon, Safety: testConfig()}

	assert.Equal(t, 25, SubjectFor(integration, nil).Config.MaxActionsPerHour)

	override := testConfig()
	override.MaxActionsPerHour = 3
	assert.Equal(t, 3, SubjectFor(integration, &override).Config.MaxActionsPerHour)
}
