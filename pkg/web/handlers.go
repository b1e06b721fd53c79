package web

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/zosmed/engine/pkg/monitoring"
	"github.com/zosmed/engine/pkg/persistence"
	"github.com/zosmed/engine/pkg/plan"
	"github.com/zosmed/engine/pkg/webhook"
)

const (
	SignatureHeader = "X-Hub-Signature-256"

	defaultTimelineRange  = 24 * time.Hour
	defaultTimelineBucket = time.Hour
	planCacheSize         = 512
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies wires the handlers. Feed and Health are optional.
type Dependencies struct {
	Normalizer *webhook.Normalizer
	Intake     Intake
	Aggregator *monitoring.Aggregator
	Feed       *monitoring.Feed
	Health     HealthChecker
	Validator  *validator.Validate
	Plans      *plan.Cache

	// VerifyToken answers the platform's subscription handshake.
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string
}

type APIHandlers struct {
	deps   Dependencies
	logger *slog.Logger
}

func NewAPIHandlers(deps Dependencies, logger *slog.Logger) *APIHandlers {
	if deps.Validator == nil {
		deps.Validator = validator.New(validator.WithRequiredStructEnabled())
	}

	if deps.Plans == nil {
		deps.Plans = plan.NewCache(planCacheSize, plan.Options{})
	}

	return &APIHandlers{
		deps:   deps,
		logger: logger.With("module", "web"),
	}
}

// VerifyWebhook answers the hub.challenge handshake of a webhook subscription.
func (h *APIHandlers) VerifyWebhook(c fiber.Ctx) error {
	if c.Query("hub.mode") != "subscribe" {
		return badRequest(c, "hub.mode must be subscribe")
	}

	token := c.Query("hub.verify_token")
	if h.deps.VerifyToken == "" || !hmac.Equal([]byte(token), []byte(h.deps.VerifyToken)) {
		return forbidden(c, "Verify token mismatch")
	}

	return c.SendString(c.Query("hub.challenge"))
}

// ReceiveWebhook normalizes a delivery and hands every event to the intake.
// A failed intake answers 500 so the platform redelivers; duplicates are
// absorbed downstream by deduplication.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	body := c.Body()

	if h.deps.AppSecret != "" && !validSignature(h.deps.AppSecret, body, c.Get(SignatureHeader)) {
		return forbidden(c, "Invalid payload signature")
	}

	triggers, err := h.deps.Normalizer.Normalize(body)
	if err != nil {
		return badRequest(c, err.Error())
	}

	for _, trigger := range triggers {
		if err := h.deps.Intake.Accept(c.Context(), trigger); err != nil {
			h.logger.ErrorContext(c.Context(), "Failed to accept trigger event",
				"dedup_key", trigger.DedupKey(),
				"account_id", trigger.AccountID,
				"error", err,
			)

			return internalError(c, err)
		}
	}

	return c.JSON(WebhookResponse{Accepted: len(triggers)})
}

func validSignature(secret string, body []byte, header string) bool {
	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(mac.Sum(nil), expected)
}

// CompileAutomation returns the execution phases of a graph, or a 422 problem
// listing the nodes that prevent it from being planned.
func (h *APIHandlers) CompileAutomation(c fiber.Ctx) error {
	var req CompileRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.deps.Validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Strict {
		if err := plan.ValidateReferences(req.Nodes, req.Edges); err != nil {
			return h.compileFailure(c, err)
		}
	}

	executionPlan, err := h.deps.Plans.Compile(req.Nodes, req.Edges)
	if err != nil {
		return h.compileFailure(c, err)
	}

	return c.JSON(TransformPlanResponse(executionPlan))
}

func (h *APIHandlers) compileFailure(c fiber.Ctx, err error) error {
	if compileErr, ok := plan.AsCompilationError(err); ok {
		return unprocessable(c, compileErr)
	}

	return internalError(c, err)
}

func (h *APIHandlers) GetIntegrationUsage(c fiber.Ctx) error {
	id := c.Params("id")

	usage, err := h.deps.Aggregator.Usage(c.Context(), id)
	if err != nil {
		return h.integrationFailure(c, err)
	}

	return c.JSON(usage)
}

func (h *APIHandlers) GetIntegrationHealth(c fiber.Ctx) error {
	id := c.Params("id")

	health, err := h.deps.Aggregator.Health(c.Context(), id)
	if err != nil {
		return h.integrationFailure(c, err)
	}

	return c.JSON(health)
}

func (h *APIHandlers) GetIntegrationTimeline(c fiber.Ctx) error {
	id := c.Params("id")

	req, err := parseTimelineRequest(c, time.Now().UTC())
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if err := h.deps.Validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	buckets, err := h.deps.Aggregator.Timeline(c.Context(), id, req.From, req.To, req.Bucket)
	if err != nil {
		switch {
		case errors.Is(err, monitoring.ErrInvalidBucket),
			errors.Is(err, monitoring.ErrInvalidRange),
			errors.Is(err, monitoring.ErrTooManyBuckets):
			return badRequest(c, err.Error())
		default:
			return h.integrationFailure(c, err)
		}
	}

	return c.JSON(TimelineResponse{
		IntegrationID: id,
		From:          req.From,
		To:            req.To,
		Bucket:        req.Bucket.String(),
		Buckets:       buckets,
	})
}

// parseTimelineRequest reads from, to (RFC 3339) and bucket (Go duration).
// The default range is the last day in hourly buckets.
func parseTimelineRequest(c fiber.Ctx, now time.Time) (*TimelineRequest, error) {
	req := &TimelineRequest{
		To:     now,
		Bucket: defaultTimelineBucket,
	}

	if toStr := c.Query("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return nil, err
		}

		req.To = to.UTC()
	}

	req.From = req.To.Add(-defaultTimelineRange)

	if fromStr := c.Query("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return nil, err
		}

		req.From = from.UTC()
	}

	if bucketStr := c.Query("bucket"); bucketStr != "" {
		bucket, err := time.ParseDuration(bucketStr)
		if err != nil {
			return nil, err
		}

		req.Bucket = bucket
	}

	return req, nil
}

// GetIntegrationActivity returns the running summary built from execution
// events. A known integration without finished executions has an empty summary.
func (h *APIHandlers) GetIntegrationActivity(c fiber.Ctx) error {
	if h.deps.Feed == nil {
		return notFound(c, "Activity feed is not enabled")
	}

	id := c.Params("id")

	if _, err := h.deps.Aggregator.Integration(c.Context(), id); err != nil {
		return h.integrationFailure(c, err)
	}

	activity, _ := h.deps.Feed.Activity(id)

	return c.JSON(activity)
}

func (h *APIHandlers) integrationFailure(c fiber.Ctx, err error) error {
	if persistence.IsIntegrationNotFound(err) {
		return notFound(c, "Integration not found")
	}

	return internalError(c, err)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Zosmed API is healthy"
	httpStatus := http.StatusOK
	checks := fiber.Map{}

	if h.deps.Health != nil {
		if err := h.deps.Health.HealthCheck(c.Context()); err != nil {
			status = "unhealthy"
			message = "Zosmed API is unhealthy"
			httpStatus = http.StatusServiceUnavailable
			checks["persistence"] = err.Error()
		} else {
			checks["persistence"] = "ok"
		}
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"checkers":  checks,
		"timestamp": time.Now().UTC(),
	})
}
