// Package web provides the HTTP surface: webhook intake, graph compilation and integration monitoring.
package web

import (
	"time"

	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/monitoring"
	"github.com/zosmed/engine/pkg/plan"
)

// CompileRequest is the editor's graph as sent for validation.
type CompileRequest struct {
	Nodes []models.Node `json:"nodes" validate:"required,min=1,dive"`
	Edges []models.Edge `json:"edges" validate:"dive"`
	// Strict rejects edges whose endpoints are not nodes of the graph.
	Strict bool `json:"strict"`
}

// PhaseResponse lists the node ids of one phase.
type PhaseResponse struct {
	Number  int      `json:"phase_number"`
	NodeIDs []string `json:"node_ids"`
}

type CompileResponse struct {
	Phases    []PhaseResponse `json:"phases"`
	NodeCount int             `json:"node_count"`
}

// TransformPlanResponse reduces a plan to the node ids of each phase.
func TransformPlanResponse(executionPlan *plan.ExecutionPlan) CompileResponse {
	response := CompileResponse{
		Phases:    make([]PhaseResponse, 0, len(executionPlan.Phases)),
		NodeCount: executionPlan.NodeCount(),
	}

	for _, phase := range executionPlan.Phases {
		ids := make([]string, 0, len(phase.Nodes))
		for _, node := range phase.Nodes {
			ids = append(ids, node.ID)
		}

		response.Phases = append(response.Phases, PhaseResponse{Number: phase.Number, NodeIDs: ids})
	}

	return response
}

// TimelineRequest is parsed from the timeline query string.
type TimelineRequest struct {
	From   time.Time     `validate:"required"`
	To     time.Time     `validate:"required,gtfield=From"`
	Bucket time.Duration `validate:"min=1m"`
}

type TimelineResponse struct {
	IntegrationID string              `json:"integration_id"`
	From          time.Time           `json:"from"`
	To            time.Time           `json:"to"`
	Bucket        string              `json:"bucket"`
	Buckets       []monitoring.Bucket `json:"buckets"`
}

// WebhookResponse acknowledges a delivery.
type WebhookResponse struct {
	Accepted int `json:"accepted"`
}
