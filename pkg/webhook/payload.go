// Package webhook normalizes Instagram webhook deliveries into trigger events.
package webhook

import "encoding/json"

// Payload is the envelope of an Instagram webhook delivery.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the updates for one Instagram account. ID is the account id.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Changes   []Change    `json:"changes,omitempty"`
	Messaging []Messaging `json:"messaging,omitempty"`
}

type Change struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// CommentValue is the value of a "comments" change.
type CommentValue struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	From  User   `json:"from"`
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
}

// Messaging is one direct message update. Timestamp is in milliseconds.
type Messaging struct {
	Sender    User     `json:"sender"`
	Recipient User     `json:"recipient"`
	Timestamp int64    `json:"timestamp"`
	Message   *Message `json:"message,omitempty"`
}

type Message struct {
	Mid    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["object", "entry"],
  "properties": {
    "object": {"type": "string", "enum": ["instagram"]},
    "entry": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "time": {"type": "integer"},
          "changes": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["field", "value"],
              "properties": {"field": {"type": "string"}}
            }
          },
          "messaging": {"type": "array", "items": {"type": "object", "required": ["sender"]}}
        }
      }
    }
  }
}`
