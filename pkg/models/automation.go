package models

import "time"

// Automation is a user-configured graph of nodes owned by one integration.
type Automation struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"           validate:"required,min=1"`
	IntegrationID string    `json:"integration_id" validate:"required"`
	Enabled       bool      `json:"enabled"`
	Nodes         []Node    `json:"nodes"          validate:"dive"`
	Edges         []Edge    `json:"edges"          validate:"dive"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NodeByID returns the node with the given id.
func (a *Automation) NodeByID(id string) (Node, bool) {
	for _, node := range a.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return Node{}, false
}

// HasTrigger reports whether the automation contains a trigger node of the given kind.
func (a *Automation) HasTrigger(kind NodeKind) bool {
	for _, node := range a.Nodes {
		if node.Kind == kind {
			return true
		}
	}

	return false
}

// SafetyOverride returns the safety configuration carried by a safety-config node, if any.
func (a *Automation) SafetyOverride() (SafetyConfig, bool) {
	for _, node := range a.Nodes {
		if override, ok := node.Config.(SafetyOverrideConfig); ok {
			return override.Safety, true
		}
	}

	return SafetyConfig{}, false
}

// Integration is a connected Instagram business account. It is the unit of safety accounting.
type Integration struct {
	ID                string       `json:"id"`
	ExternalAccountID string       `json:"external_account_id" validate:"required"`
	Username          string       `json:"username"`
	AccessToken       string       `json:"-"`
	Safety            SafetyConfig `json:"safety"`
	ConnectedAt       time.Time    `json:"connected_at"`
}
