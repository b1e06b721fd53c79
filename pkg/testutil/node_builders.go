// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/zosmed/engine/pkg/models"
)

// CommentTrigger creates a comment trigger node listening on every post.
func CommentTrigger(id string, postIDs ...string) models.Node {
	return models.NewNode(id, models.CommentTriggerConfig{PostIDs: postIDs})
}

// DMTrigger creates a direct message trigger node.
func DMTrigger(id string) models.Node {
	return models.NewNode(id, models.DMTriggerConfig{})
}

// KeywordFilter creates a keyword filter node matching any of the include words.
func KeywordFilter(id string, include ...string) models.Node {
	return models.NewNode(id, models.KeywordFilterConfig{Include: include, MatchMode: models.MatchModeAny})
}

// SendDM creates a direct message action node.
func SendDM(id string, messages ...string) models.Node {
	if len(messages) == 0 {
		messages = []string{"Hi {username}, here is the info"}
	}

	return models.NewNode(id, models.DirectMessageConfig{Messages: messages})
}

// ReplyToComment creates a comment reply action node.
func ReplyToComment(id string, messages ...string) models.Node {
	if len(messages) == 0 {
		messages = []string{"Thanks {username}! Check your DMs"}
	}

	return models.NewNode(id, models.CommentReplyConfig{Messages: messages})
}

// Chain creates edges linking the ids in order.
func Chain(ids ...string) []models.Edge {
	edges := make([]models.Edge, 0, len(ids))

	for i := 1; i < len(ids); i++ {
		edges = append(edges, models.Edge{
			ID:     ids[i-1] + "-" + ids[i],
			Source: ids[i-1],
			Target: ids[i],
		})
	}

	return edges
}

// CreateTestIntegration creates an integration with permissive safety settings
// that can be overridden.
func CreateTestIntegration(overrides ...func(*models.Integration)) *models.Integration {
	safety := models.DefaultSafetyConfig()
	safety.Warmup.Enabled = false
	safety.DelayBetweenActions = models.DelayRange{}
	safety.CommentToDMDelay = models.DelayRange{}

	integration := &models.Integration{
		ID:                uuid.New().String(),
		ExternalAccountID: "17841400000000000",
		Username:          "zosmed_shop",
		AccessToken:       "test-token",
		Safety:            safety,
		ConnectedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	for _, override := range overrides {
		override(integration)
	}

	return integration
}

// WithSafety replaces the integration safety configuration.
func WithSafety(mutate func(*models.SafetyConfig)) func(*models.Integration) {
	return func(i *models.Integration) {
		mutate(&i.Safety)
	}
}

// CreateTestAutomation creates the comment -> keyword("info") -> DM automation.
func CreateTestAutomation(integrationID string, overrides ...func(*models.Automation)) *models.Automation {
	automation := &models.Automation{
		ID:            uuid.New().String(),
		Name:          "Info Request",
		IntegrationID: integrationID,
		Enabled:       true,
		Nodes: []models.Node{
			CommentTrigger("trigger"),
			KeywordFilter("filter", "info"),
			SendDM("dm"),
		},
		Edges:     Chain("trigger", "filter", "dm"),
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	for _, override := range overrides {
		override(automation)
	}

	return automation
}

// WithGraph replaces the automation's nodes and edges.
func WithGraph(nodes []models.Node, edges []models.Edge) func(*models.Automation) {
	return func(a *models.Automation) {
		a.Nodes = nodes
		a.Edges = edges
	}
}

// CommentEvent creates a comment trigger event for the account.
func CommentEvent(accountID, text string) models.TriggerEvent {
	return models.TriggerEvent{
		Kind:      models.TriggerKindComment,
		AccountID: accountID,
		CommentID: uuid.New().String(),
		PostID:    "post-1",
		UserID:    "user-1",
		Username:  "jane",
		Text:      text,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
