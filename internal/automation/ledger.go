package automation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"boardflow/internal/metrics"
	"boardflow/internal/models"
	"boardflow/pkg/utils"
)

// Ledger records every rule dispatch durably and updates rule counters.
// Every write here is best-effort: failures are logged and swallowed so an
// audit problem never undoes or blocks an action that already ran.
type Ledger struct {
	store    LedgerStore
	rules    EntityStore
	logger   *logrus.Logger
	now      func() time.Time
	truncate int
}

// execution is an in-flight ledger entry. persisted is false when the pending
// write failed, in which case finish writes the whole record instead.
type execution struct {
	rec       *models.ExecutionRecord
	rule      models.AutomationRule
	persisted bool
}

// NewLedger creates a ledger. store may be nil, in which case only rule
// counters are maintained.
func NewLedger(store LedgerStore, rules EntityStore, now func() time.Time, errorTruncate int, logger *logrus.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{store: store, rules: rules, logger: logger, now: now, truncate: errorTruncate}
}

// begin writes the pending record for rule firing on evt.
func (l *Ledger) begin(ctx context.Context, rule models.AutomationRule, evt Event) *execution {
	payload, err := json.Marshal(evt)
	if err != nil {
		l.logger.Warnf("automation: encode trigger payload for rule %s: %v", rule.ID, err)
		payload = nil
	}

	rec := &models.ExecutionRecord{
		ID:             utils.GenerateID(),
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		BoardID:        evt.ScopeID,
		EntityID:       evt.EntityID,
		ActionType:     rule.ActionType,
		TriggerPayload: payload,
		Status:         models.ExecutionPending,
		CascadeDepth:   evt.Depth,
		StartedAt:      l.now(),
	}
	ex := &execution{rec: rec, rule: rule}
	if l.store == nil {
		return ex
	}
	if err := l.store.CreateExecution(ctx, rec); err != nil {
		metrics.IncLedgerError()
		l.logger.Warnf("automation: record pending execution for rule %s failed: %v", rule.ID, err)
		return ex
	}
	ex.persisted = true
	return ex
}

// finish finalizes ex with the dispatch outcome, bumps the rule's counters and
// returns the ExecutionResult for the caller.
func (l *Ledger) finish(ctx context.Context, ex *execution, out Outcome, dispatchErr error) ExecutionResult {
	finished := l.now()
	rec := ex.rec
	rec.CompletedAt = &finished
	rec.Success = dispatchErr == nil && out.Success
	rec.Message = out.Message
	if rec.Success {
		rec.Status = models.ExecutionCompleted
	} else {
		rec.Status = models.ExecutionFailed
		if dispatchErr != nil {
			rec.Error = utils.Truncate(dispatchErr.Error(), l.truncate)
		} else {
			rec.Error = out.Message
		}
	}
	if snapshot, err := json.Marshal(out); err == nil {
		rec.ActionResult = snapshot
	}

	if l.store != nil {
		var err error
		if ex.persisted {
			err = l.store.FinalizeExecution(ctx, rec)
		} else {
			err = l.store.CreateExecution(ctx, rec)
		}
		if err != nil {
			metrics.IncLedgerError()
			l.logger.Warnf("automation: record run failed: %v", err)
		}
	}
	metrics.IncExecution(rec.Status, string(rec.ActionType))

	l.touchRule(ctx, ex.rule, finished)

	return ExecutionResult{
		RuleID:     rec.RuleID,
		RuleName:   rec.RuleName,
		Success:    rec.Success,
		ActionType: rec.ActionType,
		Message:    rec.Message,
		Timestamp:  finished,
	}
}

// touchRule counts one attempt. The increment happens in the store, so a
// rule loaded before an earlier firing in the same chain still counts.
func (l *Ledger) touchRule(ctx context.Context, rule models.AutomationRule, at time.Time) {
	if l.rules == nil {
		return
	}
	if err := l.rules.RecordRuleRun(ctx, rule.ID, at); err != nil {
		metrics.IncLedgerError()
		l.logger.Warnf("automation: update counters for rule %s failed: %v", rule.ID, err)
	}
}
