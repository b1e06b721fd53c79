package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"github.com/zosmed/engine/pkg/models"
)

const commentsField = "comments"

var ErrInvalidPayload = errors.New("invalid webhook payload")

// Normalizer turns webhook deliveries into trigger events. Echoes of the
// account's own messages and comments are dropped.
type Normalizer struct {
	schema   *gojsonschema.Schema
	validate *validator.Validate
	logger   *slog.Logger
}

func NewNormalizer(logger *slog.Logger) (*Normalizer, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook schema: %w", err)
	}

	return &Normalizer{
		schema:   schema,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "webhook_normalizer"),
	}, nil
}

// Normalize validates body against the envelope schema and extracts every
// comment and direct message it carries. Updates that do not produce a valid
// event are logged and skipped.
func (n *Normalizer) Normalize(body []byte) ([]models.TriggerEvent, error) {
	result, err := n.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(messages, "; "))
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var triggers []models.TriggerEvent

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != commentsField {
				continue
			}

			event, ok := n.comment(entry, change)
			if ok {
				triggers = n.appendValid(triggers, event)
			}
		}

		for _, messaging := range entry.Messaging {
			event, ok := directMessage(entry, messaging)
			if ok {
				triggers = n.appendValid(triggers, event)
			}
		}
	}

	return triggers, nil
}

func (n *Normalizer) comment(entry Entry, change Change) (models.TriggerEvent, bool) {
	var value CommentValue
	if err := json.Unmarshal(change.Value, &value); err != nil {
		n.logger.Warn("Skipping malformed comment change", "account_id", entry.ID, "error", err)

		return models.TriggerEvent{}, false
	}

	if value.From.ID == entry.ID {
		return models.TriggerEvent{}, false
	}

	return models.TriggerEvent{
		Kind:      models.TriggerKindComment,
		AccountID: entry.ID,
		CommentID: value.ID,
		PostID:    value.Media.ID,
		UserID:    value.From.ID,
		Username:  value.From.Username,
		Text:      value.Text,
		Timestamp: unixSeconds(entry.Time),
	}, true
}

func directMessage(entry Entry, messaging Messaging) (models.TriggerEvent, bool) {
	if messaging.Message == nil || messaging.Message.IsEcho || messaging.Sender.ID == entry.ID {
		return models.TriggerEvent{}, false
	}

	timestamp := unixSeconds(entry.Time)
	if messaging.Timestamp > 0 {
		timestamp = time.UnixMilli(messaging.Timestamp).UTC()
	}

	return models.TriggerEvent{
		Kind:      models.TriggerKindDM,
		AccountID: entry.ID,
		MessageID: messaging.Message.Mid,
		UserID:    messaging.Sender.ID,
		Username:  messaging.Sender.Username,
		Text:      messaging.Message.Text,
		Timestamp: timestamp,
	}, true
}

func (n *Normalizer) appendValid(triggers []models.TriggerEvent, event models.TriggerEvent) []models.TriggerEvent {
	if err := n.validate.Struct(event); err != nil {
		n.logger.Warn("Skipping incomplete trigger event", "account_id", event.AccountID, "kind", event.Kind, "error", err)

		return triggers
	}

	return append(triggers, event)
}

func unixSeconds(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}

	return time.Unix(seconds, 0).UTC()
}
