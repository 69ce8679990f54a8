package automation

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"boardflow/internal/models"
	"boardflow/pkg/utils"
)

// ActionHandler executes one action type.
//
// Execute returns a successful Outcome (possibly a "skipped:" no-op) or an
// error; it never retries. Describe renders, without side effects, what
// Execute would do with cfg.
type ActionHandler interface {
	Execute(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error)
	Describe(cfg ActionConfig) string
}

// Effect is the event an action is expected to cause. Used for self-loop detection.
type Effect struct {
	Trigger models.TriggerType
	Field   string
	Value   string
}

// EffectDescriber is implemented by handlers whose side effect re-enters the engine.
type EffectDescriber interface {
	Effect(cfg ActionConfig) (Effect, bool)
}

type executeFunc func(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error)

// handler adapts plain functions to ActionHandler.
type handler struct {
	execute  executeFunc
	describe func(cfg ActionConfig) string
	effect   func(cfg ActionConfig) (Effect, bool)
}

func (h handler) Execute(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	return h.execute(ctx, evt, cfg, c)
}

func (h handler) Describe(cfg ActionConfig) string {
	if h.describe == nil {
		return ""
	}
	return h.describe(cfg)
}

func (h handler) Effect(cfg ActionConfig) (Effect, bool) {
	if h.effect == nil {
		return Effect{}, false
	}
	return h.effect(cfg)
}

// Dispatcher routes a rule's action type to its registered handler.
type Dispatcher struct {
	handlers map[models.ActionType]ActionHandler
	collab   Collaborators
	truncate int
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher with every built-in handler registered.
func NewDispatcher(collab Collaborators, errorTruncate int, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	d := &Dispatcher{
		handlers: make(map[models.ActionType]ActionHandler),
		collab:   collab,
		truncate: errorTruncate,
		logger:   logger,
	}
	registerLocalHandlers(d)
	registerNotificationHandlers(d)
	registerAIHandlers(d)
	registerIntelligenceHandlers(d)
	return d
}

// Register adds or replaces the handler for t.
func (d *Dispatcher) Register(t models.ActionType, h ActionHandler) {
	d.handlers[t] = h
}

// Has reports whether t has a registered handler.
func (d *Dispatcher) Has(t models.ActionType) bool {
	_, ok := d.handlers[t]
	return ok
}

// ActionTypes lists registered action types, sorted.
func (d *Dispatcher) ActionTypes() []models.ActionType {
	out := make([]models.ActionType, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch runs rule's action for evt. The returned Outcome is always usable;
// err is non-nil exactly when the Outcome is a failure.
func (d *Dispatcher) Dispatch(ctx context.Context, rule models.AutomationRule, evt Event) (out Outcome, err error) {
	h, ok := d.handlers[rule.ActionType]
	if !ok {
		return completed("stub: unsupported action %s", rule.ActionType), nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("action %s panicked for rule %s: %v", rule.ActionType, rule.ID, r)
			err = &ActionError{Action: rule.ActionType, Kind: KindInternal, Err: fmt.Errorf("panic: %v", r)}
			out = Outcome{Success: false, Message: utils.Truncate(err.Error(), d.truncate)}
		}
	}()

	out, err = h.Execute(ctx, evt, ActionConfig(rule.ActionConfig), d.collab)
	if err != nil {
		return Outcome{Success: false, Message: utils.Truncate(err.Error(), d.truncate)}, err
	}
	return out, nil
}

// Describe statically renders what rule's action would do.
func (d *Dispatcher) Describe(rule models.AutomationRule) string {
	h, ok := d.handlers[rule.ActionType]
	if !ok {
		return fmt.Sprintf("unsupported action %s (would be recorded as a stub)", rule.ActionType)
	}
	return h.Describe(ActionConfig(rule.ActionConfig))
}

// EffectOf returns the event rule's action would emit, if any.
func (d *Dispatcher) EffectOf(rule models.AutomationRule) (Effect, bool) {
	h, ok := d.handlers[rule.ActionType]
	if !ok {
		return Effect{}, false
	}
	ed, ok := h.(EffectDescriber)
	if !ok {
		return Effect{}, false
	}
	return ed.Effect(ActionConfig(rule.ActionConfig))
}
