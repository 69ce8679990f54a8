package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"boardflow/internal/metrics"
	"boardflow/internal/models"
)

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	MaxCascadeDepth  int
	RecentCapacity   int
	DryRunSampleSize int
	ErrorTruncate    int
	Permissions      PermissionChecker
}

const (
	defaultDryRunSampleSize = 25
	defaultErrorTruncate    = 500
)

// Engine is the entry point for automation: it matches events to rules,
// evaluates conditions, dispatches actions, follows their cascades and
// records every attempt.
type Engine struct {
	store      EntityStore
	ledgerDB   LedgerStore
	collab     Collaborators
	dispatcher *Dispatcher
	evaluator  *ConditionEvaluator
	guard      CascadeGuard
	ledger     *Ledger
	recent     *RecentLog
	simulator  *simulator
	logger     *logrus.Logger
}

// New wires an engine. collab.Store is required; ledger may be nil.
func New(collab Collaborators, ledger LedgerStore, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if collab.Now == nil {
		collab.Now = time.Now
	}
	if opts.DryRunSampleSize <= 0 {
		opts.DryRunSampleSize = defaultDryRunSampleSize
	}
	if opts.ErrorTruncate <= 0 {
		opts.ErrorTruncate = defaultErrorTruncate
	}

	dispatcher := NewDispatcher(collab, opts.ErrorTruncate, logger)
	evaluator := NewConditionEvaluator(collab.Now, opts.Permissions, logger)
	return &Engine{
		store:      collab.Store,
		ledgerDB:   ledger,
		collab:     collab,
		dispatcher: dispatcher,
		evaluator:  evaluator,
		guard:      NewCascadeGuard(opts.MaxCascadeDepth),
		ledger:     NewLedger(ledger, collab.Store, collab.Now, opts.ErrorTruncate, logger),
		recent:     NewRecentLog(opts.RecentCapacity),
		simulator: &simulator{
			store:      collab.Store,
			dispatcher: dispatcher,
			evaluator:  evaluator,
			collab:     collab,
			sampleSize: opts.DryRunSampleSize,
		},
		logger: logger,
	}
}

// RegisterAction adds or replaces the handler for an action type.
func (e *Engine) RegisterAction(t models.ActionType, h ActionHandler) {
	e.dispatcher.Register(t, h)
}

// SupportsAction reports whether t has a handler.
func (e *Engine) SupportsAction(t models.ActionType) bool {
	return e.dispatcher.Has(t)
}

// ProcessEvent runs every matching rule for evt, plus any rules triggered by
// the events their actions cause, and returns one result per dispatch in
// execution order. Rule-level failures are reported in the results; an error
// is returned only for a malformed event or when the board's rules cannot be
// loaded, and then the result slice is empty.
func (e *Engine) ProcessEvent(ctx context.Context, evt Event) ([]ExecutionResult, error) {
	if evt.Depth < 0 {
		evt.Depth = 0
	}
	if err := evt.validate(); err != nil {
		e.logger.WithError(err).Warn("automation: rejected event")
		return []ExecutionResult{}, err
	}
	metrics.IncEvent()

	tracer := otel.Tracer("boardflow/automation")
	ctx, span := tracer.Start(ctx, "automation.ProcessEvent")
	span.SetAttributes(
		attribute.String("board_id", evt.ScopeID),
		attribute.String("event_type", string(evt.Type)),
		attribute.Int("cascade_depth", evt.Depth),
	)
	defer span.End()

	rules, err := e.store.GetAutomationRulesForScope(ctx, evt.ScopeID)
	if err != nil {
		wrapped := fmt.Errorf("%w: load rules for board %s: %v", ErrStoreUnavailable, evt.ScopeID, err)
		span.SetStatus(codes.Error, wrapped.Error())
		e.logger.WithError(err).Errorf("automation: load rules for board %s failed", evt.ScopeID)
		return []ExecutionResult{}, wrapped
	}

	results := e.process(ctx, evt, rules)
	span.SetAttributes(attribute.Int("executions", len(results)))
	return results, nil
}

// process handles one event given its board's rules, recursing into follow-ups.
func (e *Engine) process(ctx context.Context, evt Event, rules []models.AutomationRule) []ExecutionResult {
	results := []ExecutionResult{}
	log := e.logger.WithFields(logrus.Fields{
		"board_id": evt.ScopeID,
		"task_id":  evt.EntityID,
		"event":    evt.Type,
		"depth":    evt.Depth,
	})

	if e.guard.Exceeded(evt) {
		metrics.IncCascadeStop()
		log.Warnf("automation: cascade limit reached (max depth %d), chain %v", e.guard.MaxDepth(), evt.Chain)
		return results
	}

	matched := MatchRules(evt, rules)
	if len(matched) == 0 {
		return results
	}

	task := e.snapshot(ctx, evt, log)

	for _, rule := range matched {
		if !e.guard.Admit(rule, evt) {
			metrics.IncCascadeStop()
			log.WithField("rule_id", rule.ID).Info("automation: rule already fired in this chain, skipping")
			continue
		}
		if !e.evaluator.Evaluate(ctx, rule.Conditions, evt, task) {
			log.WithField("rule_id", rule.ID).Debug("automation: conditions not met")
			continue
		}

		result, followUps := e.execute(ctx, rule, evt)
		results = append(results, result)

		for _, f := range followUps {
			child := childEvent(evt, rule, f)
			// reloaded so run counters written by the ledger are current
			childRules, err := e.store.GetAutomationRulesForScope(ctx, child.ScopeID)
			if err != nil {
				log.WithError(err).Warnf("automation: load rules for cascaded event on board %s failed", child.ScopeID)
				continue
			}
			results = append(results, e.process(ctx, child, childRules)...)
		}
	}
	return results
}

// snapshot loads the event's task once for all condition checks. A missing
// or unreadable task yields nil, which makes entity conditions false.
func (e *Engine) snapshot(ctx context.Context, evt Event, log *logrus.Entry) *models.Task {
	if evt.EntityID == "" {
		return nil
	}
	task, err := e.store.GetEntity(ctx, evt.EntityID)
	if err != nil {
		if !errors.Is(err, ErrEntityNotFound) {
			log.WithError(err).Warn("automation: load task snapshot failed")
		}
		return nil
	}
	return task
}

func (e *Engine) execute(ctx context.Context, rule models.AutomationRule, evt Event) (ExecutionResult, []Event) {
	tracer := otel.Tracer("boardflow/automation")
	ctx, span := tracer.Start(ctx, "automation.Dispatch")
	span.SetAttributes(
		attribute.String("rule_id", rule.ID),
		attribute.String("action_type", string(rule.ActionType)),
	)
	defer span.End()

	ex := e.ledger.begin(ctx, rule, evt)
	out, err := e.dispatcher.Dispatch(ctx, rule, evt)
	result := e.ledger.finish(ctx, ex, out, err)
	e.recent.Add(result)

	entry := e.logger.WithFields(logrus.Fields{
		"rule_id":     rule.ID,
		"action_type": rule.ActionType,
		"task_id":     evt.EntityID,
		"depth":       evt.Depth,
	})
	if err != nil {
		span.SetStatus(codes.Error, result.Message)
		entry.Warnf("automation: rule %q failed: %s", rule.Name, result.Message)
		return result, nil
	}
	entry.Infof("automation: rule %q executed: %s", rule.Name, result.Message)
	return result, out.FollowUps
}

// DryRunRule predicts what candidate would do on a sample of the board's
// tasks. Nothing is mutated and no execution is recorded.
func (e *Engine) DryRunRule(ctx context.Context, candidate models.AutomationRule, scopeID string) (*DryRunResult, error) {
	return e.simulator.run(ctx, candidate, scopeID)
}

// GetRecentExecutions returns up to limit recent results, newest first.
func (e *Engine) GetRecentExecutions(limit int) []ExecutionResult {
	return e.recent.Latest(limit)
}

func (e *Engine) ClearRecentExecutions() {
	e.recent.Clear()
}

// ExecutionsByRule lists ledger records for a rule, newest first.
func (e *Engine) ExecutionsByRule(ctx context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error) {
	if e.ledgerDB == nil {
		return []models.ExecutionRecord{}, nil
	}
	return e.ledgerDB.ListExecutionsByRule(ctx, ruleID, limit)
}

func (e *Engine) ExecutionsByEntity(ctx context.Context, entityID string, limit int) ([]models.ExecutionRecord, error) {
	if e.ledgerDB == nil {
		return []models.ExecutionRecord{}, nil
	}
	return e.ledgerDB.ListExecutionsByEntity(ctx, entityID, limit)
}

func (e *Engine) ExecutionsByScope(ctx context.Context, scopeID string, limit int) ([]models.ExecutionRecord, error) {
	if e.ledgerDB == nil {
		return []models.ExecutionRecord{}, nil
	}
	return e.ledgerDB.ListExecutionsByScope(ctx, scopeID, limit)
}
