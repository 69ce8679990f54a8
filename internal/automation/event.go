package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"boardflow/internal/models"
)

// Event is the payload fed into the engine for one domain mutation.
//
// Depth and Chain are engine-managed cascade state. Callers emitting an
// originating event leave them zero; the engine sets them when an action's side
// effect re-enters the engine. They travel with the event value so concurrent
// chains never share a budget.
type Event struct {
	Type          models.TriggerType     `json:"type"`
	ScopeID       string                 `json:"board_id"`
	EntityID      string                 `json:"task_id,omitempty"`
	Field         string                 `json:"field,omitempty"`
	PreviousValue interface{}            `json:"previous_value,omitempty"`
	NewValue      interface{}            `json:"new_value,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	Depth int      `json:"cascade_depth,omitempty"`
	Chain []string `json:"cascade_chain,omitempty"`
}

func (e Event) validate() error {
	if strings.TrimSpace(e.ScopeID) == "" {
		return fmt.Errorf("%w: board id is required", ErrInvalidEvent)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	return nil
}

// ExecutionResult is the outcome of dispatching one rule against one event.
type ExecutionResult struct {
	RuleID     string            `json:"rule_id"`
	RuleName   string            `json:"rule_name"`
	Success    bool              `json:"success"`
	ActionType models.ActionType `json:"action_type"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Outcome is what an action handler reports back to the dispatcher.
type Outcome struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	FollowUps []Event                `json:"-"`
}

func completed(format string, args ...interface{}) Outcome {
	return Outcome{Success: true, Message: fmt.Sprintf(format, args...)}
}

// skipped is a successful no-op, used when the target vanished between emission and processing.
func skipped(format string, args ...interface{}) Outcome {
	return Outcome{Success: true, Message: "skipped: " + fmt.Sprintf(format, args...)}
}

// ActionConfig is the opaque per-rule action configuration.
type ActionConfig map[string]interface{}

func (c ActionConfig) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

// FirstString returns the first non-empty value among keys.
func (c ActionConfig) FirstString(keys ...string) string {
	for _, k := range keys {
		if v := c.String(k); v != "" {
			return v
		}
	}
	return ""
}

func (c ActionConfig) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

func (c ActionConfig) Int(key string, def int) int {
	if f, ok := toFloat64(c[key]); ok {
		return int(f)
	}
	return def
}

// toFloat64 converts JSON and Go numeric values. Numeric strings are accepted
// since metadata frequently arrives from query strings.
func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
