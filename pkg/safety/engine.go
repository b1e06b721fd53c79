// Package safety gates outbound Instagram actions behind per-integration rate
// limits, active hours and content rules.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/zosmed/engine/pkg/counters"
	"github.com/zosmed/engine/pkg/metrics"
	"github.com/zosmed/engine/pkg/models"
)

// Subject is the integration an action is performed for.
type Subject struct {
	IntegrationID string
	ConnectedAt   time.Time
	Config        models.SafetyConfig
}

// SubjectFor builds the subject of an integration, applying an optional config override.
func SubjectFor(integration *models.Integration, override *models.SafetyConfig) Subject {
	config := integration.Safety
	if override != nil {
		config = *override
	}

	return Subject{
		IntegrationID: integration.ID,
		ConnectedAt:   integration.ConnectedAt,
		Config:        config,
	}
}

// Decision is the outcome of a safety check. Rejections are soft: the caller skips
// the action and the budget is left untouched.
type Decision struct {
	Allowed bool
	Code    models.SkipCode
	Reason  string
	// Rule names the violated content rule.
	Rule ContentRule
	// Window names the exhausted counting window.
	Window counters.Window
	Delay  time.Duration
	// Retryable is false only for content violations: the message itself must change.
	Retryable bool
}

func allow(delay time.Duration) Decision {
	return Decision{Allowed: true, Delay: delay}
}

type checkOptions struct {
	afterCommentReply bool
}

// CheckOption tunes a single IsActionSafe call.
type CheckOption func(*checkOptions)

// AfterCommentReply marks a DM that follows a comment reply in the same interaction.
func AfterCommentReply() CheckOption {
	return func(o *checkOptions) {
		o.afterCommentReply = true
	}
}

// Engine evaluates and records actions against the per-integration budget.
type Engine struct {
	store   counters.Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	rngMu sync.Mutex
	rng   *rand.Rand

	locks     *keyedMutex
	locations sync.Map
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = rng
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func NewEngine(store counters.Store, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		store:  store,
		clock:  clockwork.NewRealClock(),
		logger: logger.With("module", "safety"),
		locks:  newKeyedMutex(),
	}

	for _, opt := range opts {
		opt(engine)
	}

	if engine.rng == nil {
		engine.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return engine
}

// Clock returns the engine clock.
func (e *Engine) Clock() clockwork.Clock {
	return e.clock
}

// Lock serializes check-send-record sequences for one integration. Hold it from
// IsActionSafe until RecordAction so concurrent executions cannot both pass the
// quota check against the same count.
func (e *Engine) Lock(integrationID string) (unlock func()) {
	return e.locks.lock(integrationID)
}

// IsActionSafe decides whether action may be sent now with message as its text.
// Checks run in order: action type, active hours, quota, content.
func (e *Engine) IsActionSafe(
	ctx context.Context,
	subject Subject,
	action models.ActionType,
	message string,
	opts ...CheckOption,
) (Decision, error) {
	options := checkOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	decision, err := e.evaluate(ctx, subject, action, message, options)
	if err != nil {
		return Decision{}, err
	}

	result := "allowed"
	if !decision.Allowed {
		result = string(decision.Code)

		e.logger.InfoContext(ctx, "Action rejected by safety budget",
			"integration_id", subject.IntegrationID,
			"action", action,
			"code", decision.Code,
			"reason", decision.Reason,
		)
	}

	e.metrics.SafetyDecision(string(action), result)

	return decision, nil
}

func (e *Engine) evaluate(
	ctx context.Context,
	subject Subject,
	action models.ActionType,
	message string,
	options checkOptions,
) (Decision, error) {
	config := subject.Config.WithDefaults()

	if !config.ActionTypes.Enabled(action) {
		return Decision{
			Code:      models.SkipActionTypeDisabled,
			Reason:    fmt.Sprintf("action type disabled: %s", action),
			Retryable: true,
		}, nil
	}

	now := e.clock.Now().In(e.location(ctx, config.ActiveHours.Timezone))

	if !config.ActiveHours.Contains(now.Hour()) {
		return Decision{
			Code: models.SkipOutsideActiveHours,
			Reason: fmt.Sprintf("outside active hours: %02d:00-%02d:00 %s",
				config.ActiveHours.StartHour, config.ActiveHours.EndHour, config.ActiveHours.Timezone),
			Retryable: true,
		}, nil
	}

	limits := []struct {
		window counters.Window
		limit  int
	}{
		{counters.WindowHour, config.MaxActionsPerHour},
		{counters.WindowDay, config.DailyLimit(subject.ConnectedAt, now)},
	}

	for _, l := range limits {
		count, err := e.store.Get(ctx, counters.Combined(subject.IntegrationID, l.window))
		if err != nil {
			return Decision{}, fmt.Errorf("failed to read %s counter: %w", l.window, err)
		}

		if count+1 > int64(l.limit) {
			return Decision{
				Code:      models.SkipQuotaExceeded,
				Reason:    fmt.Sprintf("quota exceeded: %d of %d actions used this %s", count, l.limit, l.window),
				Window:    l.window,
				Retryable: true,
			}, nil
		}
	}

	if violation, violated := CheckContent(message, config.ContentRules); violated {
		return Decision{
			Code:   models.SkipContentViolation,
			Reason: "content violation: " + violation.String(),
			Rule:   violation.Rule,
		}, nil
	}

	delay := e.sampleDelay(config.DelayBetweenActions)
	if options.afterCommentReply && action == models.ActionTypeDM {
		delay += e.sampleDelay(config.CommentToDMDelay)
	}

	return allow(delay), nil
}

// RecordAction counts one sent action against the hourly and daily budgets.
// Call it once per successful send, never for rejected attempts.
func (e *Engine) RecordAction(ctx context.Context, integrationID string, action models.ActionType) error {
	var errs []error

	for _, window := range []counters.Window{counters.WindowHour, counters.WindowDay} {
		keys := []counters.Key{
			counters.Combined(integrationID, window),
			counters.PerAction(integrationID, window, string(action)),
		}

		for _, key := range keys {
			if _, err := e.store.IncrementAndGet(ctx, key, window.Duration()); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to record %s for integration %s: %w", action, integrationID, err)
	}

	return nil
}

// WindowUsage is the state of one counting window.
type WindowUsage struct {
	Used     int64                       `json:"used"`
	Limit    int                         `json:"limit"`
	ByAction map[models.ActionType]int64 `json:"by_action"`
}

// Remaining returns the actions left in the window.
func (w WindowUsage) Remaining() int64 {
	return max(int64(w.Limit)-w.Used, 0)
}

// Utilization returns Used/Limit in [0, 1].
func (w WindowUsage) Utilization() float64 {
	if w.Limit <= 0 {
		return 1
	}

	return min(float64(w.Used)/float64(w.Limit), 1)
}

// Usage is a read-only snapshot of an integration's budget.
type Usage struct {
	Hourly       WindowUsage `json:"hourly"`
	Daily        WindowUsage `json:"daily"`
	WarmupActive bool        `json:"warmup_active"`
}

// Usage reads the current counters without modifying them.
func (e *Engine) Usage(ctx context.Context, subject Subject) (Usage, error) {
	config := subject.Config.WithDefaults()
	now := e.clock.Now()

	usage := Usage{WarmupActive: config.Warmup.Active(subject.ConnectedAt, now)}

	windows := []struct {
		window counters.Window
		limit  int
		target *WindowUsage
	}{
		{counters.WindowHour, config.MaxActionsPerHour, &usage.Hourly},
		{counters.WindowDay, config.DailyLimit(subject.ConnectedAt, now), &usage.Daily},
	}

	for _, w := range windows {
		used, err := e.store.Get(ctx, counters.Combined(subject.IntegrationID, w.window))
		if err != nil {
			return Usage{}, err
		}

		byAction := make(map[models.ActionType]int64, 2)

		for _, action := range []models.ActionType{models.ActionTypeCommentReply, models.ActionTypeDM} {
			count, err := e.store.Get(ctx, counters.PerAction(subject.IntegrationID, w.window, string(action)))
			if err != nil {
				return Usage{}, err
			}

			byAction[action] = count
		}

		*w.target = WindowUsage{Used: used, Limit: w.limit, ByAction: byAction}
	}

	return usage, nil
}

func (e *Engine) sampleDelay(r models.DelayRange) time.Duration {
	low, high := r.Min(), r.Max()
	if high <= low {
		return max(low, 0)
	}

	e.rngMu.Lock()
	defer e.rngMu.Unlock()

	return low + time.Duration(e.rng.Int64N(int64(high-low)+1))
}

func (e *Engine) location(ctx context.Context, name string) *time.Location {
	if cached, ok := e.locations.Load(name); ok {
		return cached.(*time.Location)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		e.logger.WarnContext(ctx, "Unknown timezone, falling back to UTC", "timezone", name, "error", err)

		loc = time.UTC
	}

	e.locations.Store(name, loc)

	return loc
}
