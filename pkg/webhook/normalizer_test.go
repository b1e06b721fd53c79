package webhook

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zosmed/engine/pkg/models"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()

	normalizer, err := NewNormalizer(logger)
	require.NoError(t, err)

	return normalizer
}

func TestNormalize_Comment(t *testing.T) {
	body := []byte(`{
		"object": "instagram",
		"entry": [{
			"id": "17841400000000000",
			"time": 1709294400,
			"changes": [{
				"field": "comments",
				"value": {
					"id": "comment-1",
					"text": "Info please!",
					"from": {"id": "user-1", "username": "jane"},
					"media": {"id": "post-1"}
				}
			}]
		}]
	}`)

	triggers, err := newNormalizer(t).Normalize(body)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	assert.Equal(t, models.TriggerEvent{
		Kind:      models.TriggerKindComment,
		AccountID: "17841400000000000",
		CommentID: "comment-1",
		PostID:    "post-1",
		UserID:    "user-1",
		Username:  "jane",
		Text:      "Info please!",
		Timestamp: time.Unix(1709294400, 0).UTC(),
	}, triggers[0])
	assert.Equal(t, "comment:comment-1", triggers[0].DedupKey())
}

func TestNormalize_DirectMessage(t *testing.T) {
	body := []byte(`{
		"object": "instagram",
		"entry": [{
			"id": "17841400000000000",
			"time": 1709294400,
			"messaging": [
				{
					"sender": {"id": "user-2"},
					"recipient": {"id": "17841400000000000"},
					"timestamp": 1709294400123,
					"message": {"mid": "mid-1", "text": "price?"}
				},
				{
					"sender": {"id": "17841400000000000"},
					"recipient": {"id": "user-2"},
					"timestamp": 1709294401000,
					"message": {"mid": "mid-2", "text": "our reply", "is_echo": true}
				},
				{
					"sender": {"id": "user-3"},
					"recipient": {"id": "17841400000000000"},
					"timestamp": 1709294402000
				}
			]
		}]
	}`)

	triggers, err := newNormalizer(t).Normalize(body)
	require.NoError(t, err)
	require.Len(t, triggers, 1)

	dm := triggers[0]
	assert.Equal(t, models.TriggerKindDM, dm.Kind)
	assert.Equal(t, "mid-1", dm.MessageID)
	assert.Equal(t, "user-2", dm.UserID)
	assert.Equal(t, "price?", dm.Text)
	assert.Equal(t, time.UnixMilli(1709294400123).UTC(), dm.Timestamp)
	assert.Equal(t, "dm:mid-1", dm.DedupKey())
}

func TestNormalize_SkipsOwnAndIrrelevantUpdates(t *testing.T) {
	body := []byte(`{
		"object": "instagram",
		"entry": [{
			"id": "acct",
			"changes": [
				{"field": "comments", "value": {"id": "c1", "text": "our own reply", "from": {"id": "acct"}}},
				{"field": "mentions", "value": {"media_id": "m1"}},
				{"field": "comments", "value": {"id": "", "text": "no id", "from": {"id": "user-1"}}},
				{"field": "comments", "value": "not an object"}
			]
		}]
	}`)

	triggers, err := newNormalizer(t).Normalize(body)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestNormalize_MultipleEntries(t *testing.T) {
	body := []byte(`{
		"object": "instagram",
		"entry": [
			{"id": "a", "changes": [{"field": "comments", "value": {"id": "c1", "text": "x", "from": {"id": "u1"}}}]},
			{"id": "b", "changes": [{"field": "comments", "value": {"id": "c2", "text": "y", "from": {"id": "u2"}}}]}
		]
	}`)

	triggers, err := newNormalizer(t).Normalize(body)
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, "a", triggers[0].AccountID)
	assert.Equal(t, "b", triggers[1].AccountID)
}

func TestNormalize_InvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"object":`},
		{name: "wrong object", body: `{"object": "page", "entry": []}`},
		{name: "missing entry", body: `{"object": "instagram"}`},
		{name: "entry without id", body: `{"object": "instagram", "entry": [{"time": 1}]}`},
		{name: "change without value", body: `{"object": "instagram", "entry": [{"id": "a", "changes": [{"field": "comments"}]}]}`},
	}

	normalizer := newNormalizer(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizer.Normalize([]byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}
