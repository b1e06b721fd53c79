package models

import "time"

// TriggerKind distinguishes the inbound events that can start an automation.
type TriggerKind string

const (
	TriggerKindComment TriggerKind = "comment"
	TriggerKindDM      TriggerKind = "dm"
)

// NodeKind returns the trigger node kind that accepts events of this kind.
func (k TriggerKind) NodeKind() NodeKind {
	if k == TriggerKindDM {
		return NodeKindTriggerDM
	}

	return NodeKindTriggerComment
}

// TriggerEvent is the normalized representation of an inbound Instagram webhook payload.
type TriggerEvent struct {
	Kind      TriggerKind `json:"kind"                 validate:"required,oneof=comment dm"`
	AccountID string      `json:"account_id"           validate:"required"`
	CommentID string      `json:"comment_id,omitempty" validate:"required_if=Kind comment"`
	MessageID string      `json:"message_id,omitempty" validate:"required_if=Kind dm"`
	PostID    string      `json:"post_id,omitempty"`
	UserID    string      `json:"user_id"              validate:"required"`
	Username  string      `json:"username,omitempty"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// DedupKey identifies the platform object so redelivered webhooks are processed once.
func (e TriggerEvent) DedupKey() string {
	if e.Kind == TriggerKindDM {
		return "dm:" + e.MessageID
	}

	return "comment:" + e.CommentID
}

// TemplateVars returns the substitutions available to message templates.
func (e TriggerEvent) TemplateVars() map[string]string {
	return map[string]string{
		"username":   e.Username,
		"user_id":    e.UserID,
		"text":       e.Text,
		"post_id":    e.PostID,
		"comment_id": e.CommentID,
	}
}
