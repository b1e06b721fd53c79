package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType is an outbound Instagram-facing action.
type ActionType string

const (
	ActionTypeCommentReply ActionType = "comment_reply"
	ActionTypeDM           ActionType = "dm"
)

// DelayRange is a [min, max] range in seconds, encoded as a two element JSON array.
type DelayRange struct {
	MinSeconds float64 `validate:"gte=0"`
	MaxSeconds float64 `validate:"gtefield=MinSeconds"`
}

func (d DelayRange) Min() time.Duration {
	return time.Duration(d.MinSeconds * float64(time.Second))
}

func (d DelayRange) Max() time.Duration {
	return time.Duration(d.MaxSeconds * float64(time.Second))
}

func (d DelayRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{d.MinSeconds, d.MaxSeconds})
}

func (d *DelayRange) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("delay range must be [min, max]: %w", err)
	}

	if len(pair) != 2 {
		return fmt.Errorf("delay range must have exactly two values, got %d", len(pair))
	}

	d.MinSeconds, d.MaxSeconds = pair[0], pair[1]

	return nil
}

// ActiveHours is the local time window in which actions may be sent.
// StartHour == EndHour means always active; StartHour > EndHour wraps past midnight.
type ActiveHours struct {
	StartHour int    `json:"startHour" validate:"gte=0,lte=24"`
	EndHour   int    `json:"endHour"   validate:"gte=0,lte=24"`
	Timezone  string `json:"timezone"  validate:"required,timezone"`
}

// Contains reports whether the given wall-clock hour (0-23) is inside the window.
func (a ActiveHours) Contains(hour int) bool {
	start, end := a.StartHour%24, a.EndHour%24
	if a.StartHour == a.EndHour || (a.StartHour == 0 && a.EndHour == 24) {
		return true
	}

	if start < end {
		return hour >= start && hour < end
	}

	return hour >= start || hour < end
}

type ContentRules struct {
	MaxMentions   int      `json:"maxMentions"   validate:"gte=0"`
	MaxHashtags   int      `json:"maxHashtags"   validate:"gte=0"`
	MaxURLs       int      `json:"maxUrls"       validate:"gte=0"`
	BannedPhrases []string `json:"bannedPhrases"`
}

type WarmupConfig struct {
	Enabled       bool `json:"enabled"`
	Days          int  `json:"days"          validate:"gte=0"`
	ActionsPerDay int  `json:"actionsPerDay" validate:"gte=0"`
}

// Active reports whether warmup applies at now for an integration connected at connectedAt.
func (w WarmupConfig) Active(connectedAt, now time.Time) bool {
	if !w.Enabled || w.Days <= 0 || connectedAt.IsZero() {
		return false
	}

	return now.Before(connectedAt.Add(time.Duration(w.Days) * 24 * time.Hour))
}

type ActionTypes struct {
	EnableCommentReply bool `json:"enableCommentReply"`
	EnableDMReply      bool `json:"enableDMReply"`
}

// Enabled reports whether the given action type may be sent at all.
func (a ActionTypes) Enabled(action ActionType) bool {
	switch action {
	case ActionTypeCommentReply:
		return a.EnableCommentReply
	case ActionTypeDM:
		return a.EnableDMReply
	default:
		return false
	}
}

// SafetyConfig holds the per-integration safety budget and content rules.
// MaxActionsPerHour and MaxActionsPerDay are combined across comment replies and DMs.
type SafetyConfig struct {
	MaxActionsPerHour   int          `json:"maxActionsPerHour"   validate:"gte=1"`
	MaxActionsPerDay    int          `json:"maxActionsPerDay"    validate:"gte=1"`
	DelayBetweenActions DelayRange   `json:"delayBetweenActions"`
	CommentToDMDelay    DelayRange   `json:"commentToDmDelay"`
	ActiveHours         ActiveHours  `json:"activeHours"`
	ContentRules        ContentRules `json:"contentRules"`
	Warmup              WarmupConfig `json:"warmupMode"`
	ActionTypes         ActionTypes  `json:"actionTypes"`
}

// DefaultSafetyConfig returns the system defaults applied to every integration.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		MaxActionsPerHour:   25,
		MaxActionsPerDay:    200,
		DelayBetweenActions: DelayRange{MinSeconds: 5, MaxSeconds: 15},
		CommentToDMDelay:    DelayRange{MinSeconds: 10, MaxSeconds: 30},
		ActiveHours:         ActiveHours{StartHour: 0, EndHour: 24, Timezone: "UTC"},
		ContentRules: ContentRules{
			MaxMentions: 3,
			MaxHashtags: 5,
			MaxURLs:     1,
		},
		Warmup: WarmupConfig{Enabled: true, Days: 7, ActionsPerDay: 50},
		ActionTypes: ActionTypes{
			EnableCommentReply: true,
			EnableDMReply:      true,
		},
	}
}

// UnmarshalJSON decodes on top of DefaultSafetyConfig so omitted options keep their defaults.
func (c *SafetyConfig) UnmarshalJSON(data []byte) error {
	type plain SafetyConfig

	decoded := plain(DefaultSafetyConfig())
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*c = SafetyConfig(decoded)

	return nil
}

// WithDefaults fills zero budgets and an empty timezone from DefaultSafetyConfig.
func (c SafetyConfig) WithDefaults() SafetyConfig {
	defaults := DefaultSafetyConfig()

	if c.MaxActionsPerHour <= 0 {
		c.MaxActionsPerHour = defaults.MaxActionsPerHour
	}

	if c.MaxActionsPerDay <= 0 {
		c.MaxActionsPerDay = defaults.MaxActionsPerDay
	}

	if c.ActiveHours.Timezone == "" {
		c.ActiveHours.Timezone = defaults.ActiveHours.Timezone
	}

	return c
}

// DailyLimit returns the daily budget in force, honouring warmup.
func (c SafetyConfig) DailyLimit(connectedAt, now time.Time) int {
	if c.Warmup.Active(connectedAt, now) {
		return c.Warmup.ActionsPerDay
	}

	return c.MaxActionsPerDay
}
