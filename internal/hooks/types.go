// Package hooks lets operators react to round events with YAML-defined rules.
// Events flow through an EventBus; a HookManager evaluates each hook's expr
// condition and runs its action.
package hooks

import (
	"time"
)

// HookEvent defines the type of event that can trigger a hook.
type HookEvent string

const (
	EventRoundCompleted    HookEvent = "round_completed"
	EventRoundRejected     HookEvent = "round_rejected"
	EventDegradedMode      HookEvent = "degraded_mode"
	EventResponderFailed   HookEvent = "responder_failed"
	EventOutlierFlagged    HookEvent = "outlier_flagged"
	EventHealthCheckFailed HookEvent = "health_check_failed"
	EventHealthRecovered   HookEvent = "health_recovered"
)

// AllEvents lists every event the engine and heartbeat publish.
func AllEvents() []HookEvent {
	return []HookEvent{
		EventRoundCompleted, EventRoundRejected, EventDegradedMode,
		EventResponderFailed, EventOutlierFlagged,
		EventHealthCheckFailed, EventHealthRecovered,
	}
}

// HookAction defines the action to be performed when a hook is triggered.
type HookAction string

const (
	ActionNotifyWebhook HookAction = "notify_webhook"
	ActionLogWarning    HookAction = "log_warning"
)

// Hook represents a single automation rule.
type Hook struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Event       HookEvent      `yaml:"event" json:"event"`
	Condition   string         `yaml:"condition" json:"condition"`
	Action      HookAction     `yaml:"action" json:"action"`
	Params      map[string]any `yaml:"params" json:"params"`
	Enabled     bool           `yaml:"enabled" json:"enabled"`

	// FilePath is the source file (not in YAML)
	FilePath string `yaml:"-" json:"-"`
}

// EventContext is the environment a hook condition is evaluated against.
type EventContext struct {
	Event        HookEvent      `json:"event"`
	Timestamp    time.Time      `json:"timestamp"`
	RoundID      string         `json:"round_id,omitempty"`
	Responder    string         `json:"responder,omitempty"`
	Data         map[string]any `json:"data"`
	Error        error          `json:"-"`
	ErrorMessage string         `json:"error,omitempty"`
}

// NewEvent returns an EventContext stamped with the current time.
func NewEvent(event HookEvent, roundID string, data map[string]any) *EventContext {
	if data == nil {
		data = make(map[string]any)
	}
	return &EventContext{Event: event, Timestamp: time.Now(), RoundID: roundID, Data: data}
}

// ActionHandler is a function that executes a hook action.
type ActionHandler func(hook *Hook, ctx *EventContext) error

// Publisher is the subset of EventBus used by event producers.
type Publisher interface {
	PublishAsync(ctx *EventContext)
}
