// Package counters provides atomic, self-expiring action counters and
// delivery deduplication keyed per integration.
package counters

import (
	"context"
	"errors"
	"time"
)

// Window is a counting window.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
)

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	if w == WindowDay {
		return 24 * time.Hour
	}

	return time.Hour
}

// AllActions is the action slot of the combined counter shared by every action type.
const AllActions = "all"

// ErrInvalidTTL is returned when a counter is incremented without a positive TTL.
var ErrInvalidTTL = errors.New("counter ttl must be positive")

// Key identifies a counter.
type Key struct {
	IntegrationID string
	Window        Window
	Action        string
}

// Combined returns the counter shared by every action type.
func Combined(integrationID string, window Window) Key {
	return Key{IntegrationID: integrationID, Window: window, Action: AllActions}
}

// PerAction returns the counter of a single action type.
func PerAction(integrationID string, window Window, action string) Key {
	return Key{IntegrationID: integrationID, Window: window, Action: action}
}

func (k Key) String() string {
	return "zosmed:counter:" + k.IntegrationID + ":" + string(k.Window) + ":" + k.Action
}

// Store is an atomic counter store. A counter starts its window on the first
// increment and reads as zero once ttl has elapsed since then.
type Store interface {
	Get(ctx context.Context, key Key) (int64, error)
	IncrementAndGet(ctx context.Context, key Key, ttl time.Duration) (int64, error)
	// Expire sets the remaining lifetime of a counter; ttl <= 0 drops it.
	Expire(ctx context.Context, key Key, ttl time.Duration) error
}

// Deduplicator records platform object ids so redelivered events are processed once.
type Deduplicator interface {
	// Claim reports true when key was not seen within ttl and records it.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets a claim so a redelivery of key is processed again.
	Release(ctx context.Context, key string) error
}

func dedupKey(key string) string {
	return "zosmed:dedup:" + key
}
