// Package workflow runs compiled automation plans against Instagram trigger events.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zosmed/engine/pkg/eventbus"
	"github.com/zosmed/engine/pkg/events"
	"github.com/zosmed/engine/pkg/instagram"
	"github.com/zosmed/engine/pkg/metrics"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/otelhelper"
	"github.com/zosmed/engine/pkg/persistence"
	"github.com/zosmed/engine/pkg/plan"
	"github.com/zosmed/engine/pkg/safety"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrAutomationNotExecutable is returned when an automation graph does not compile.
// It is a configuration problem, not a runtime failure, so no execution record is written.
var ErrAutomationNotExecutable = errors.New("automation is not executable")

const (
	DefaultSendTimeout = 30 * time.Second
	defaultPlanCache   = 256
)

type Executor struct {
	store     persistence.AutomationStore
	sink      persistence.ExecutionSink
	safety    *safety.Engine
	client    instagram.Client
	plans     *plan.Cache
	rotator   *safety.Rotator
	publisher eventbus.EventPublisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	sendTimeout time.Duration
}

type Option func(*Executor)

// WithPublisher publishes an execution.finished event for every terminal execution.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithSendTimeout bounds every Instagram API call.
func WithSendTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.sendTimeout = timeout
		}
	}
}

func WithPlanCache(cache *plan.Cache) Option {
	return func(e *Executor) {
		e.plans = cache
	}
}

func WithRotator(rotator *safety.Rotator) Option {
	return func(e *Executor) {
		e.rotator = rotator
	}
}

func NewExecutor(
	store persistence.AutomationStore,
	sink persistence.ExecutionSink,
	engine *safety.Engine,
	client instagram.Client,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	executor := &Executor{
		store:       store,
		sink:        sink,
		safety:      engine,
		client:      client,
		plans:       plan.NewCache(defaultPlanCache, plan.Options{}),
		rotator:     safety.NewRotator(nil),
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "workflow_executor"),
		sendTimeout: DefaultSendTimeout,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Rotator returns the message variant rotator shared by all executions.
func (e *Executor) Rotator() *safety.Rotator {
	return e.rotator
}

// run is the private state of one execution.
type run struct {
	automation   *models.Automation
	integration  *models.Integration
	event        models.TriggerEvent
	subject      safety.Subject
	plan         *plan.ExecutionPlan
	predecessors map[string]map[string]struct{}
	logger       *slog.Logger

	// statuses is only written between phases.
	statuses map[string]models.NodeStatus

	commentReplySent atomic.Bool
	interrupted      atomic.Bool
}

// Execute compiles the automation and walks its phases against event. Phases run
// in order; nodes within a phase run concurrently. Safety rejections skip a node,
// send failures fail its phase and stop the execution.
func (e *Executor) Execute(
	ctx context.Context,
	automation *models.Automation,
	integration *models.Integration,
	event models.TriggerEvent,
) (*models.ExecutionRecord, error) {
	compiled, err := e.plans.Compile(automation.Nodes, automation.Edges)
	if err != nil {
		return nil, fmt.Errorf("%w: automation %s: %w", ErrAutomationNotExecutable, automation.ID, err)
	}

	clock := e.safety.Clock()

	record := newRecord(compiled, automation, integration, event, clock.Now().UTC())

	logger := e.logger.With(
		"execution_id", record.ID,
		"automation_id", automation.ID,
		"integration_id", integration.ID,
	)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.ExecutionIDKey, record.ID),
		attribute.String(otelhelper.AutomationIDKey, automation.ID),
		attribute.String(otelhelper.IntegrationIDKey, integration.ID),
		attribute.String(otelhelper.TriggerKindKey, string(event.Kind)),
	)
	defer span.End()

	var override *models.SafetyConfig
	if config, ok := automation.SafetyOverride(); ok {
		override = &config
	}

	r := &run{
		automation:   automation,
		integration:  integration,
		event:        event,
		subject:      safety.SubjectFor(integration, override),
		plan:         compiled,
		predecessors: plan.Predecessors(automation.Edges),
		statuses:     make(map[string]models.NodeStatus, compiled.NodeCount()),
		logger:       logger,
	}

	logger.InfoContext(ctx, "Starting execution", "phases", len(compiled.Phases), "trigger", event.DedupKey())

	record.Status = models.ExecutionStatusRunning
	e.save(ctx, logger, record)

	e.runPhases(ctx, r, record)

	completedAt := clock.Now().UTC()
	record.CompletedAt = &completedAt
	record.Usage = usageOf(record)

	span.SetAttributes(attribute.String("zosmed.execution.status", string(record.Status)))

	if record.Status == models.ExecutionStatusFailed {
		otelhelper.SetError(span, errors.New(record.Error))
	}

	e.metrics.ExecutionFinished(string(record.Status), completedAt.Sub(record.CreatedAt))

	logger.InfoContext(ctx, "Execution finished",
		"status", record.Status,
		"actions_performed", record.Usage.ActionsPerformed,
		"error", record.Error,
	)

	// The terminal record is written even when ctx was cancelled mid-flight.
	finalCtx := context.WithoutCancel(ctx)

	if err := e.sink.SaveExecution(finalCtx, record); err != nil {
		return record, fmt.Errorf("failed to save execution %s: %w", record.ID, err)
	}

	e.publish(finalCtx, logger, record)

	return record, nil
}

func newRecord(
	compiled *plan.ExecutionPlan,
	automation *models.Automation,
	integration *models.Integration,
	event models.TriggerEvent,
	now time.Time,
) *models.ExecutionRecord {
	record := &models.ExecutionRecord{
		ID:            uuid.New().String(),
		AutomationID:  automation.ID,
		IntegrationID: integration.ID,
		Status:        models.ExecutionStatusPending,
		Trigger:       event,
		Phases:        make([]models.PhaseOutcome, len(compiled.Phases)),
		CreatedAt:     now,
	}

	for i, phase := range compiled.Phases {
		nodes := make([]models.NodeOutcome, len(phase.Nodes))
		for j, node := range phase.Nodes {
			nodes[j] = models.NodeOutcome{NodeID: node.ID, Kind: node.Kind, Status: models.NodeStatusPending}
		}

		record.Phases[i] = models.PhaseOutcome{
			Number: phase.Number,
			Status: models.PhaseStatusPending,
			Nodes:  nodes,
		}
	}

	return record
}

func (e *Executor) runPhases(ctx context.Context, r *run, record *models.ExecutionRecord) {
	for i, phase := range r.plan.Phases {
		if reason, cancelled := e.cancelled(ctx, r, i); cancelled {
			r.logger.InfoContext(ctx, "Execution cancelled", "phase", phase.Number, "reason", reason)

			record.Status = models.ExecutionStatusCancelled
			record.Error = reason

			return
		}

		if err := e.runPhase(ctx, r, phase, &record.Phases[i]); err != nil {
			record.Status = models.ExecutionStatusFailed
			record.Error = err.Error()

			return
		}

		if i < len(r.plan.Phases)-1 {
			e.save(ctx, r.logger, record)
		}
	}

	if r.interrupted.Load() {
		record.Status = models.ExecutionStatusCancelled
		record.Error = "execution interrupted: " + context.Cause(ctx).Error()

		return
	}

	record.Status = models.ExecutionStatusSuccess
}

// cancelled checks the phase boundary. The automation passed to Execute is
// trusted for the first phase; later phases re-read it from the store.
func (e *Executor) cancelled(ctx context.Context, r *run, index int) (string, bool) {
	if err := ctx.Err(); err != nil {
		return "execution interrupted: " + err.Error(), true
	}

	if index == 0 {
		return "", false
	}

	current, err := e.store.GetAutomation(ctx, r.automation.ID)

	switch {
	case persistence.IsAutomationNotFound(err):
		return "automation deleted", true
	case err != nil:
		r.logger.WarnContext(ctx, "Failed to re-check automation, continuing", "error", err)

		return "", false
	case !current.Enabled:
		return "automation disabled", true
	}

	return "", false
}

func (e *Executor) runPhase(ctx context.Context, r *run, phase plan.Phase, outcome *models.PhaseOutcome) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.phase",
		attribute.Int(otelhelper.PhaseNumberKey, phase.Number),
	)
	defer span.End()

	clock := e.safety.Clock()

	outcome.Status = models.PhaseStatusRunning
	outcome.StartedAt = clock.Now().UTC()

	var g errgroup.Group

	for i, node := range phase.Nodes {
		g.Go(func() error {
			outcome.Nodes[i] = e.evaluate(ctx, r, node)

			return nil
		})
	}

	_ = g.Wait()

	outcome.FinishedAt = clock.Now().UTC()

	var errs []error

	for _, node := range outcome.Nodes {
		r.statuses[node.NodeID] = node.Status

		if node.Status == models.NodeStatusFailed {
			errs = append(errs, fmt.Errorf("node %s: %s", node.NodeID, node.Error))
		}
	}

	if err := errors.Join(errs...); err != nil {
		outcome.Status = models.PhaseStatusFailed
		otelhelper.SetError(span, err)

		return fmt.Errorf("phase %d failed: %w", phase.Number, err)
	}

	outcome.Status = models.PhaseStatusCompleted

	return nil
}

func (e *Executor) evaluate(ctx context.Context, r *run, node models.Node) models.NodeOutcome {
	clock := e.safety.Clock()

	out := models.NodeOutcome{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Status:    models.NodeStatusRunning,
		StartedAt: clock.Now().UTC(),
	}

	e.evaluateNode(ctx, r, node, &out)

	out.FinishedAt = clock.Now().UTC()

	if out.Status == models.NodeStatusSkipped {
		r.logger.DebugContext(ctx, "Node skipped", "node_id", node.ID, "code", out.SkipCode, "reason", out.Reason)
	}

	return out
}

func (e *Executor) evaluateNode(ctx context.Context, r *run, node models.Node, out *models.NodeOutcome) {
	switch config := node.Config.(type) {
	case models.CommentTriggerConfig:
		switch {
		case r.event.Kind != models.TriggerKindComment:
			skip(out, models.SkipTriggerMismatch, "trigger expects comment events")
		case len(config.PostIDs) > 0 && !slices.Contains(config.PostIDs, r.event.PostID):
			skip(out, models.SkipTriggerMismatch, fmt.Sprintf("post %s is not watched", r.event.PostID))
		default:
			succeed(out)
		}

		return
	case models.DMTriggerConfig:
		if r.event.Kind != models.TriggerKindDM {
			skip(out, models.SkipTriggerMismatch, "trigger expects direct message events")
		} else {
			succeed(out)
		}

		return
	case models.SafetyOverrideConfig:
		succeed(out)

		return
	}

	if code, reason, ready := r.upstreamReady(node.ID); !ready {
		skip(out, code, reason)

		return
	}

	switch config := node.Config.(type) {
	case models.KeywordFilterConfig:
		if MatchKeywords(config, r.event.Text) {
			succeed(out)
		} else {
			skip(out, models.SkipFiltered, "text did not match keyword filter")
		}
	case models.CommentReplyConfig:
		if r.event.CommentID == "" {
			skip(out, models.SkipTriggerMismatch, "comment reply requires a comment event")

			return
		}

		e.performAction(ctx, r, node, models.ActionTypeCommentReply, config.Messages, out,
			func(ctx context.Context, text string) (instagram.Result, error) {
				return e.client.SendCommentReply(ctx, r.integration.AccessToken, r.event.CommentID, text)
			})
	case models.DirectMessageConfig:
		e.performAction(ctx, r, node, models.ActionTypeDM, config.Messages, out,
			func(ctx context.Context, text string) (instagram.Result, error) {
				return e.client.SendDirectMessage(ctx, r.integration.AccessToken, r.event.UserID, text, config.Buttons)
			})
	default:
		fail(out, fmt.Errorf("%w: %q", models.ErrUnknownNodeKind, node.Kind))
	}
}

// upstreamReady reports whether at least one predecessor succeeded.
func (r *run) upstreamReady(nodeID string) (models.SkipCode, string, bool) {
	predecessors := r.predecessors[nodeID]
	if len(predecessors) == 0 {
		return models.SkipNotConnected, "node has no incoming edges", false
	}

	for id := range predecessors {
		if r.statuses[id] == models.NodeStatusSuccess {
			return "", "", true
		}
	}

	return models.SkipUpstream, "no upstream node succeeded", false
}

type sendFunc func(ctx context.Context, text string) (instagram.Result, error)

// performAction holds the integration lock from the safety check until the
// action is recorded, so concurrent executions see each other's sends.
func (e *Executor) performAction(
	ctx context.Context,
	r *run,
	node models.Node,
	action models.ActionType,
	variants []string,
	out *models.NodeOutcome,
	send sendFunc,
) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.action",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
		attribute.String(otelhelper.ActionTypeKey, string(action)),
	)
	defer span.End()

	rotationKey := r.integration.ID + ":" + node.ID
	variant := e.rotator.Pick(rotationKey, variants)
	text := RenderMessage(variant, r.event.TemplateVars())
	out.Message = text

	unlock := e.safety.Lock(r.integration.ID)
	defer unlock()

	var opts []safety.CheckOption
	if action == models.ActionTypeDM && r.commentReplySent.Load() {
		opts = append(opts, safety.AfterCommentReply())
	}

	decision, err := e.safety.IsActionSafe(ctx, r.subject, action, text, opts...)
	if err != nil {
		otelhelper.SetError(span, err)
		fail(out, fmt.Errorf("safety check failed: %w", err))

		return
	}

	if !decision.Allowed {
		otelhelper.SetSkipped(span, string(decision.Code), decision.Reason)
		skip(out, decision.Code, decision.Reason)

		return
	}

	if err := e.wait(ctx, decision.Delay); err != nil {
		r.interrupted.Store(true)
		skip(out, models.SkipCancelled, "interrupted before send: "+err.Error())

		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	result, err := send(sendCtx, text)
	if err != nil {
		e.metrics.ActionFailed(string(action))
		otelhelper.SetError(span, err)
		r.logger.ErrorContext(ctx, "Failed to send action", "node_id", node.ID, "action", action, "error", err)
		fail(out, fmt.Errorf("send %s: %w", action, err))

		return
	}

	e.metrics.ActionSent(string(action))
	e.rotator.Remember(rotationKey, variant)

	if err := e.safety.RecordAction(context.WithoutCancel(ctx), r.integration.ID, action); err != nil {
		r.logger.ErrorContext(ctx, "Action sent but not recorded", "node_id", node.ID, "action", action, "error", err)
	}

	if action == models.ActionTypeCommentReply {
		r.commentReplySent.Store(true)
	}

	r.logger.InfoContext(ctx, "Action sent",
		"node_id", node.ID,
		"action", action,
		"external_id", result.ID,
		"delay", decision.Delay,
	)

	out.ExternalID = result.ID
	succeed(out)
}

func (e *Executor) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	select {
	case <-e.safety.Clock().After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) save(ctx context.Context, logger *slog.Logger, record *models.ExecutionRecord) {
	if err := e.sink.SaveExecution(ctx, record); err != nil {
		logger.WarnContext(ctx, "Failed to save execution progress", "status", record.Status, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, logger *slog.Logger, record *models.ExecutionRecord) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, record.IntegrationID, events.NewExecutionFinished(record)); err != nil {
		logger.WarnContext(ctx, "Failed to publish execution finished event", "error", err)
	}
}

func usageOf(record *models.ExecutionRecord) models.ResourceUsage {
	var usage models.ResourceUsage

	for _, outcome := range record.Outcomes() {
		if outcome.Kind.IsAction() && outcome.Status == models.NodeStatusSuccess {
			usage.ActionsPerformed++
			usage.CreditsConsumed++
		}
	}

	return usage
}

func succeed(out *models.NodeOutcome) {
	out.Status = models.NodeStatusSuccess
}

func skip(out *models.NodeOutcome, code models.SkipCode, reason string) {
	out.Status = models.NodeStatusSkipped
	out.SkipCode = code
	out.Reason = reason
}

func fail(out *models.NodeOutcome, err error) {
	out.Status = models.NodeStatusFailed
	out.Error = err.Error()
}
