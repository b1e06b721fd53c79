// Package models defines the domain models for Instagram engagement automations.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeKind identifies what a node in an automation graph does.
type NodeKind string

const (
	NodeKindTriggerComment   NodeKind = "trigger-comment"
	NodeKindTriggerDM        NodeKind = "trigger-dm"
	NodeKindFilterKeyword    NodeKind = "filter-keyword"
	NodeKindSendCommentReply NodeKind = "action-send-comment-reply"
	NodeKindSendDM           NodeKind = "action-send-dm"
	NodeKindSafetyConfig     NodeKind = "safety-config"
)

var ErrUnknownNodeKind = errors.New("unknown node kind")

// IsTrigger reports whether nodes of this kind are entry points for trigger events.
func (k NodeKind) IsTrigger() bool {
	return k == NodeKindTriggerComment || k == NodeKindTriggerDM
}

// IsAction reports whether nodes of this kind perform an outbound Instagram action.
func (k NodeKind) IsAction() bool {
	return k == NodeKindSendCommentReply || k == NodeKindSendDM
}

// ActionType returns the action type performed by an action node kind.
func (k NodeKind) ActionType() (ActionType, bool) {
	switch k {
	case NodeKindSendCommentReply:
		return ActionTypeCommentReply, true
	case NodeKindSendDM:
		return ActionTypeDM, true
	default:
		return "", false
	}
}

// NodeConfig is the kind-specific configuration payload of a node.
type NodeConfig interface {
	Kind() NodeKind
}

// MatchMode controls how include keywords are combined.
type MatchMode string

const (
	MatchModeAny MatchMode = "any"
	MatchModeAll MatchMode = "all"
)

type CommentTriggerConfig struct {
	// PostIDs restricts the trigger to comments on these posts. Empty matches every post.
	PostIDs []string `json:"postIds,omitempty"`
}

func (CommentTriggerConfig) Kind() NodeKind { return NodeKindTriggerComment }

type DMTriggerConfig struct{}

func (DMTriggerConfig) Kind() NodeKind { return NodeKindTriggerDM }

type KeywordFilterConfig struct {
	Include   []string  `json:"include,omitempty"`
	Exclude   []string  `json:"exclude,omitempty"`
	MatchMode MatchMode `json:"matchMode,omitempty" validate:"omitempty,oneof=any all"`
}

func (KeywordFilterConfig) Kind() NodeKind { return NodeKindFilterKeyword }

type CommentReplyConfig struct {
	Messages []string `json:"messages" validate:"required,min=1,dive,required"`
}

func (CommentReplyConfig) Kind() NodeKind { return NodeKindSendCommentReply }

// Button is a call-to-action link attached to a direct message.
type Button struct {
	Title string `json:"title" validate:"required"`
	URL   string `json:"url"   validate:"required,url"`
}

type DirectMessageConfig struct {
	Messages []string `json:"messages"          validate:"required,min=1,dive,required"`
	Buttons  []Button `json:"buttons,omitempty" validate:"max=3,dive"`
}

func (DirectMessageConfig) Kind() NodeKind { return NodeKindSendDM }

// SafetyOverrideConfig replaces the integration's safety configuration for the automation
// that contains it.
type SafetyOverrideConfig struct {
	Safety SafetyConfig `json:"safety"`
}

func (SafetyOverrideConfig) Kind() NodeKind { return NodeKindSafetyConfig }

// Position is the editor layout position. It has no effect on execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a unit of work in an automation graph.
type Node struct {
	ID       string     `validate:"required"`
	Kind     NodeKind   `validate:"required"`
	Config   NodeConfig
	Position Position
}

// NewNode builds a node whose kind is taken from its configuration.
func NewNode(id string, config NodeConfig) Node {
	return Node{ID: id, Kind: config.Kind(), Config: config}
}

type nodeJSON struct {
	ID       string          `json:"id"`
	Type     NodeKind        `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Position Position        `json:"position"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	var data json.RawMessage

	if n.Config != nil {
		raw, err := json.Marshal(n.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal node %s config: %w", n.ID, err)
		}

		data = raw
	}

	return json.Marshal(nodeJSON{ID: n.ID, Type: n.Kind, Data: data, Position: n.Position})
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	config, err := DecodeNodeConfig(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("node %s: %w", raw.ID, err)
	}

	n.ID = raw.ID
	n.Kind = raw.Type
	n.Config = config
	n.Position = raw.Position

	return nil
}

// DecodeNodeConfig decodes the editor's data payload for the given kind.
func DecodeNodeConfig(kind NodeKind, data json.RawMessage) (NodeConfig, error) {
	var config NodeConfig

	switch kind {
	case NodeKindTriggerComment:
		config = &CommentTriggerConfig{}
	case NodeKindTriggerDM:
		config = &DMTriggerConfig{}
	case NodeKindFilterKeyword:
		config = &KeywordFilterConfig{}
	case NodeKindSendCommentReply:
		config = &CommentReplyConfig{}
	case NodeKindSendDM:
		config = &DirectMessageConfig{}
	case NodeKindSafetyConfig:
		config = &SafetyOverrideConfig{Safety: DefaultSafetyConfig()}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeKind, kind)
	}

	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", kind, err)
		}
	}

	return derefConfig(config), nil
}

func derefConfig(config NodeConfig) NodeConfig {
	switch c := config.(type) {
	case *CommentTriggerConfig:
		return *c
	case *DMTriggerConfig:
		return *c
	case *KeywordFilterConfig:
		return *c
	case *CommentReplyConfig:
		return *c
	case *DirectMessageConfig:
		return *c
	case *SafetyOverrideConfig:
		return *c
	default:
		return config
	}
}

// Edge is a directed dependency: Target consumes Source's output.
type Edge struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}
