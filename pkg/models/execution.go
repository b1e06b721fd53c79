package models

import "time"

// ExecutionStatus is the lifecycle state of an automation execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

type PhaseStatus string

const (
	PhaseStatusPending   PhaseStatus = "pending"
	PhaseStatusRunning   PhaseStatus = "running"
	PhaseStatusCompleted PhaseStatus = "completed"
	PhaseStatusFailed    PhaseStatus = "failed"
)

type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusSkipped NodeStatus = "skipped"
	NodeStatusFailed  NodeStatus = "failed"
)

// SkipCode classifies why a node was skipped.
type SkipCode string

const (
	SkipTriggerMismatch    SkipCode = "trigger_mismatch"
	SkipFiltered           SkipCode = "filtered"
	SkipUpstream           SkipCode = "upstream_skipped"
	SkipNotConnected       SkipCode = "not_connected"
	SkipActionTypeDisabled SkipCode = "action_type_disabled"
	SkipOutsideActiveHours SkipCode = "outside_active_hours"
	SkipQuotaExceeded      SkipCode = "quota_exceeded"
	SkipContentViolation   SkipCode = "content_violation"
	SkipCancelled          SkipCode = "cancelled"
)

// NodeOutcome is the result of evaluating one node against a trigger event.
type NodeOutcome struct {
	NodeID     string     `json:"node_id"`
	Kind       NodeKind   `json:"kind"`
	Status     NodeStatus `json:"status"`
	SkipCode   SkipCode   `json:"skip_code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Error      string     `json:"error,omitempty"`
	Message    string     `json:"message,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

type PhaseOutcome struct {
	Number     int           `json:"number"`
	Status     PhaseStatus   `json:"status"`
	Nodes      []NodeOutcome `json:"nodes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

type ResourceUsage struct {
	ActionsPerformed int `json:"actions_performed"`
	CreditsConsumed  int `json:"credits_consumed"`
}

// ExecutionRecord is the result of running an automation's plan against a trigger event.
type ExecutionRecord struct {
	ID            string          `json:"id"`
	AutomationID  string          `json:"automation_id"`
	IntegrationID string          `json:"integration_id"`
	Status        ExecutionStatus `json:"status"`
	Trigger       TriggerEvent    `json:"trigger"`
	Phases        []PhaseOutcome  `json:"phases"`
	Usage         ResourceUsage   `json:"usage"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Outcomes returns every node outcome across all phases.
func (r *ExecutionRecord) Outcomes() []NodeOutcome {
	var outcomes []NodeOutcome
	for _, phase := range r.Phases {
		outcomes = append(outcomes, phase.Nodes...)
	}

	return outcomes
}

// Clone returns a deep copy safe to retain after the executor keeps mutating the original.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	clone := *r

	clone.Phases = make([]PhaseOutcome, len(r.Phases))
	for i, phase := range r.Phases {
		phase.Nodes = append([]NodeOutcome(nil), phase.Nodes...)
		clone.Phases[i] = phase
	}

	if r.CompletedAt != nil {
		completedAt := *r.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}
