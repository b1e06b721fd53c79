package web_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zosmed/engine/pkg/counters"
	"github.com/zosmed/engine/pkg/events"
	"github.com/zosmed/engine/pkg/mocks"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/monitoring"
	"github.com/zosmed/engine/pkg/persistence/memory"
	"github.com/zosmed/engine/pkg/safety"
	"github.com/zosmed/engine/pkg/testutil"
	"github.com/zosmed/engine/pkg/web"
	"github.com/zosmed/engine/pkg/webhook"
)

var (
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	noon   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

const commentDelivery = `{
	"object": "instagram",
	"entry": [{
		"id": "17841400000000000",
		"time": 1709294400,
		"changes": [{
			"field": "comments",
			"value": {"id": "comment-1", "text": "info please", "from": {"id": "user-1", "username": "jane"}, "media": {"id": "post-1"}}
		}]
	}]
}`

type recordingIntake struct {
	mu       sync.Mutex
	triggers []models.TriggerEvent
	err      error
}

func (r *recordingIntake) Accept(_ context.Context, trigger models.TriggerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.triggers = append(r.triggers, trigger)

	return nil
}

type failingHealth struct{}

func (failingHealth) HealthCheck(context.Context) error {
	return errors.New("connection refused")
}

type testApp struct {
	app         *fiber.App
	intake      *recordingIntake
	store       *memory.Persistence
	feed        *monitoring.Feed
	integration *models.Integration
}

func setupTestApp(t *testing.T, mutate func(*web.Dependencies)) *testApp {
	t.Helper()

	clock := clockwork.NewFakeClockAt(noon)
	engine := safety.NewEngine(counters.NewMemoryStore(clock), logger, safety.WithClock(clock))
	store := memory.NewPersistence()

	integration := testutil.CreateTestIntegration()
	require.NoError(t, store.SaveIntegration(t.Context(), integration))

	normalizer, err := webhook.NewNormalizer(logger)
	require.NoError(t, err)

	intake := &recordingIntake{}
	feed := monitoring.NewFeed(logger)

	deps := web.Dependencies{
		Normalizer:  normalizer,
		Intake:      intake,
		Aggregator:  monitoring.NewAggregator(store, store, engine, logger),
		Feed:        feed,
		Health:      store,
		VerifyToken: "verify-me",
	}

	if mutate != nil {
		mutate(&deps)
	}

	handlers := web.NewAPIHandlers(deps, logger)

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)
	app.Get("/webhooks/instagram", handlers.VerifyWebhook)
	app.Post("/webhooks/instagram", handlers.ReceiveWebhook)
	app.Post("/automations/compile", handlers.CompileAutomation)

	i := app.Group("/integrations/:id")
	i.Get("/usage", handlers.GetIntegrationUsage)
	i.Get("/health", handlers.GetIntegrationHealth)
	i.Get("/timeline", handlers.GetIntegrationTimeline)
	i.Get("/activity", handlers.GetIntegrationActivity)

	return &testApp{
		app:         app,
		intake:      intake,
		store:       store,
		feed:        feed,
		integration: integration,
	}
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, []byte) {
	t.Helper()

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func postJSON(path string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	return req
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestAPIHandlers_VerifyWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "valid handshake",
			query:          "?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444",
			expectedStatus: http.StatusOK,
			expectedBody:   "1158201444",
		},
		{
			name:           "wrong token",
			query:          "?hub.mode=subscribe&hub.verify_token=guess&hub.challenge=1",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "wrong mode",
			query:          "?hub.mode=unsubscribe&hub.verify_token=verify-me",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t, nil)

			status, body := do(t, app.app, httptest.NewRequest(http.MethodGet, "/webhooks/instagram"+tt.query, nil))
			assert.Equal(t, tt.expectedStatus, status)

			if tt.expectedBody != "" {
				assert.Equal(t, tt.expectedBody, string(body))
			}
		})
	}
}

func TestAPIHandlers_ReceiveWebhook(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t, nil)

	status, body := do(t, app.app, postJSON("/webhooks/instagram", []byte(commentDelivery)))
	require.Equal(t, http.StatusOK, status, string(body))

	var response web.WebhookResponse
	require.NoError(t, json.Unmarshal(body, &response))
	assert.Equal(t, 1, response.Accepted)

	require.Len(t, app.intake.triggers, 1)
	assert.Equal(t, "comment:comment-1", app.intake.triggers[0].DedupKey())
	assert.Equal(t, "jane", app.intake.triggers[0].Username)
}

func TestAPIHandlers_ReceiveWebhook_Errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid payload", func(t *testing.T) {
		t.Parallel()

		app := setupTestApp(t, nil)

		status, body := do(t, app.app, postJSON("/webhooks/instagram", []byte(`{"object": "page", "entry": []}`)))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, string(body), "validation_error")
		assert.Empty(t, app.intake.triggers)
	})

	t.Run("intake failure asks for redelivery", func(t *testing.T) {
		t.Parallel()

		app := setupTestApp(t, nil)
		app.intake.err = errors.New("broker unavailable")

		status, _ := do(t, app.app, postJSON("/webhooks/instagram", []byte(commentDelivery)))
		assert.Equal(t, http.StatusInternalServerError, status)
	})

	t.Run("signature required", func(t *testing.T) {
		t.Parallel()

		app := setupTestApp(t, func(deps *web.Dependencies) {
			deps.AppSecret = "app-secret"
		})

		status, _ := do(t, app.app, postJSON("/webhooks/instagram", []byte(commentDelivery)))
		assert.Equal(t, http.StatusForbidden, status)

		req := postJSON("/webhooks/instagram", []byte(commentDelivery))
		req.Header.Set(web.SignatureHeader, sign("another-secret", []byte(commentDelivery)))

		status, _ = do(t, app.app, req)
		assert.Equal(t, http.StatusForbidden, status)

		req = postJSON("/webhooks/instagram", []byte(commentDelivery))
		req.Header.Set(web.SignatureHeader, sign("app-secret", []byte(commentDelivery)))

		status, _ = do(t, app.app, req)
		assert.Equal(t, http.StatusOK, status)
		assert.Len(t, app.intake.triggers, 1)
	})
}

func TestPublishIntake(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "17841400000000000", mock.MatchedBy(func(event *events.TriggerReceived) bool {
		return event.Trigger.CommentID == "comment-1" && event.GetType() == events.TriggerReceivedEvent
	})).Return(nil).Once()

	trigger := testutil.CommentEvent("17841400000000000", "info")
	trigger.CommentID = "comment-1"

	require.NoError(t, web.PublishIntake(bus).Accept(t.Context(), trigger))
	bus.AssertExpectations(t)

	failing := &mocks.MockEventBus{}
	failing.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("kafka down"))

	err := web.PublishIntake(failing).Accept(t.Context(), trigger)
	assert.ErrorContains(t, err, "comment:comment-1")
}

func TestAPIHandlers_CompileAutomation(t *testing.T) {
	t.Parallel()

	graph := func(nodes []models.Node, edges []models.Edge, strict bool) []byte {
		body, err := json.Marshal(web.CompileRequest{Nodes: nodes, Edges: edges, Strict: strict})
		if err != nil {
			panic(err)
		}

		return body
	}

	chain := []models.Node{
		testutil.CommentTrigger("trigger"),
		testutil.KeywordFilter("filter", "info"),
		testutil.SendDM("dm"),
		testutil.ReplyToComment("reply"),
	}

	tests := []struct {
		name           string
		body           []byte
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name: "phases",
			body: graph(chain, append(testutil.Chain("trigger", "filter", "dm"),
				models.Edge{Source: "filter", Target: "reply"}), false),
			expectedStatus: http.StatusOK,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var response web.CompileResponse
				require.NoError(t, json.Unmarshal(body, &response))
				assert.Equal(t, 4, response.NodeCount)
				assert.Equal(t, []web.PhaseResponse{
					{Number: 1, NodeIDs: []string{"trigger"}},
					{Number: 2, NodeIDs: []string{"filter"}},
					{Number: 3, NodeIDs: []string{"dm", "reply"}},
				}, response.Phases)
			},
		},
		{
			name: "cycle",
			body: graph(chain, append(testutil.Chain("trigger", "filter", "dm"),
				models.Edge{Source: "dm", Target: "reply"},
				models.Edge{Source: "reply", Target: "dm"}), false),
			expectedStatus: http.StatusUnprocessableEntity,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var problem map[string]any
				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, "compilation_error", problem["type"])
				assert.Equal(t, "InvalidInputs", problem["code"])
				assert.ElementsMatch(t, []any{"dm", "reply"}, problem["node_ids"])
			},
		},
		{
			name: "strict dangling reference",
			body: graph(chain[:1], []models.Edge{{Source: "trigger", Target: "ghost"}}, true),
			expectedStatus: http.StatusUnprocessableEntity,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var problem map[string]any
				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, "DanglingReference", problem["code"])
				assert.Equal(t, []any{"ghost"}, problem["node_ids"])
			},
		},
		{
			name:           "lenient dangling reference",
			body:           graph(chain[:1], []models.Edge{{Source: "trigger", Target: "ghost"}}, false),
			expectedStatus: http.StatusOK,
		},
		{
			name:           "no nodes",
			body:           []byte(`{"nodes": [], "edges": []}`),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown node type",
			body:           []byte(`{"nodes": [{"id": "x", "type": "action-send-email", "data": {}}]}`),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed json",
			body:           []byte(`{"nodes": [`),
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t, nil)

			status, body := do(t, app.app, postJSON("/automations/compile", tt.body))
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_IntegrationMonitoring(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t, nil)
	base := "/integrations/" + app.integration.ID

	completed := noon.Add(-30 * time.Minute)
	require.NoError(t, app.store.SaveExecution(t.Context(), &models.ExecutionRecord{
		ID:            "exec-1",
		AutomationID:  "automation-1",
		IntegrationID: app.integration.ID,
		Status:        models.ExecutionStatusSuccess,
		Phases: []models.PhaseOutcome{{Number: 1, Nodes: []models.NodeOutcome{
			{NodeID: "dm", Kind: models.NodeKindSendDM, Status: models.NodeStatusSuccess, FinishedAt: completed},
		}}},
		CreatedAt:   completed,
		CompletedAt: &completed,
	}))

	t.Run("usage", func(t *testing.T) {
		status, body := do(t, app.app, httptest.NewRequest(http.MethodGet, base+"/usage", nil))
		require.Equal(t, http.StatusOK, status, string(body))

		var usage safety.Usage
		require.NoError(t, json.Unmarshal(body, &usage))
		assert.Equal(t, app.integration.Safety.MaxActionsPerHour, usage.Hourly.Limit)
	})

	t.Run("health", func(t *testing.T) {
		status, body := do(t, app.app, httptest.NewRequest(http.MethodGet, base+"/health", nil))
		require.Equal(t, http.StatusOK, status, string(body))

		var health monitoring.Health
		require.NoError(t, json.Unmarshal(body, &health))
		assert.Equal(t, 100, health.Score)
		assert.Equal(t, monitoring.StatusHealthy, health.Status)
		assert.Equal(t, 1, health.Executions)
	})

	t.Run("timeline", func(t *testing.T) {
		query := "?from=2024-03-01T11:00:00Z&to=2024-03-01T12:00:00Z&bucket=30m"

		status, body := do(t, app.app, httptest.NewRequest(http.MethodGet, base+"/timeline"+query, nil))
		require.Equal(t, http.StatusOK, status, string(body))

		var timeline web.TimelineResponse
		require.NoError(t, json.Unmarshal(body, &timeline))
		assert.Equal(t, "30m0s", timeline.Bucket)
		require.Len(t, timeline.Buckets, 2)
		assert.Equal(t, 0, timeline.Buckets[0].Sent)
		assert.Equal(t, 1, timeline.Buckets[1].Sent)
	})

	t.Run("timeline rejects bad queries", func(t *testing.T) {
		for _, query := range []string{
			"?from=yesterday",
			"?bucket=fortnight",
			"?bucket=1s",
			"?from=2024-03-01T12:00:00Z&to=2024-03-01T11:00:00Z",
			"?from=2024-01-01T00:00:00Z&to=2024-03-01T00:00:00Z&bucket=1m",
		} {
			status, _ := do(t, app.app, httptest.NewRequest(http.MethodGet, base+"/timeline"+query, nil))
			assert.Equal(t, http.StatusBadRequest, status, query)
		}
	})

	t.Run("activity", func(t *testing.T) {
		status, body := do(t, app.app, httptest.NewRequest(http.MethodGet, base+"/activity", nil))
		require.Equal(t, http.StatusOK, status, string(body))

		var empty monitoring.Activity
		require.NoError(t, json.Unmarshal(body, &empty))
		assert.Zero(t, empty.Executions)

		finished := events.NewExecutionFinished(&models.ExecutionRecord{
			ID:            "exec-2",
			IntegrationID: app.integration.ID,
			Status:        models.ExecutionStatusFailed,
			CreatedAt:     noon,
			CompletedAt:   &completed,
		})
		require.NoError(t, app.feed.HandleEvent(t.Context(), finished))

		status, body = do(t, app.app, httptest.NewRequest(http.MethodGet, base+"/activity", nil))
		require.Equal(t, http.StatusOK, status, string(body))

		var activity monitoring.Activity
		require.NoError(t, json.Unmarshal(body, &activity))
		assert.Equal(t, 1, activity.Executions)
		assert.Equal(t, models.ExecutionStatusFailed, activity.LastStatus)
	})

	t.Run("unknown integration", func(t *testing.T) {
		for _, path := range []string{"/usage", "/health", "/timeline", "/activity"} {
			status, body := do(t, app.app, httptest.NewRequest(http.MethodGet, "/integrations/missing"+path, nil))
			assert.Equal(t, http.StatusNotFound, status, path)
			assert.Contains(t, string(body), "not_found")
		}
	})
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t, nil)

	status, body := do(t, app.app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"healthy"`)

	broken := setupTestApp(t, func(deps *web.Dependencies) {
		deps.Health = failingHealth{}
	})

	status, body = do(t, broken.app, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), "connection refused")
}
