package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"boardflow/internal/models"
)

// DryRunPrediction is what would happen to one sampled task.
type DryRunPrediction struct {
	EntityID        string `json:"task_id"`
	EntityName      string `json:"task_name"`
	Event           Event  `json:"event"`
	TriggerMatched  bool   `json:"trigger_matched"`
	WouldFire       bool   `json:"would_fire"`
	FailedCondition *int   `json:"failed_condition,omitempty"`
	Action          string `json:"action,omitempty"`
}

// DryRunResult is a non-persisted projection of a candidate rule over a sample.
type DryRunResult struct {
	RuleID      string             `json:"rule_id,omitempty"`
	RuleName    string             `json:"rule_name"`
	BoardID     string             `json:"board_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
	ActionType  models.ActionType  `json:"action_type"`
	Action      string             `json:"action"`
	SampleSize  int                `json:"sample_size"`
	MatchCount  int                `json:"match_count"`
	Predictions []DryRunPrediction `json:"predictions"`
	Warnings    []string           `json:"warnings"`
}

// simulator runs the matcher and evaluator over sampled tasks. It never calls
// a handler's Execute and never touches the ledger.
type simulator struct {
	store      EntityStore
	dispatcher *Dispatcher
	evaluator  *ConditionEvaluator
	collab     Collaborators
	sampleSize int
}

func (s *simulator) run(ctx context.Context, rule models.AutomationRule, scopeID string) (*DryRunResult, error) {
	if strings.TrimSpace(scopeID) == "" {
		scopeID = rule.BoardID
	}
	if strings.TrimSpace(scopeID) == "" {
		return nil, fmt.Errorf("%w: board id is required", ErrInvalidEvent)
	}

	sample, err := s.store.ListEntitiesForScope(ctx, scopeID, s.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks for board %s: %v", ErrStoreUnavailable, scopeID, err)
	}

	result := &DryRunResult{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		BoardID:     scopeID,
		TriggerType: rule.TriggerType,
		ActionType:  rule.ActionType,
		Action:      s.dispatcher.Describe(rule),
		SampleSize:  len(sample),
		Predictions: make([]DryRunPrediction, 0, len(sample)),
		Warnings:    []string{},
	}
	result.Warnings = append(result.Warnings, s.staticWarnings(rule, scopeID)...)
	if len(sample) == 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("board %s has no tasks to sample; nothing can be predicted", scopeID))
		return result, nil
	}

	// Inactive candidates are simulated as if enabled; staticWarnings flags them.
	candidate := rule
	candidate.Active = true

	passed := make([]int, len(rule.Conditions))
	present := make([]int, len(rule.Conditions))
	matchedTrigger := 0

	for i := range sample {
		task := sample[i]
		evt := synthesizeEvent(candidate, scopeID, &task)
		projected := projectTask(&task, evt)

		p := DryRunPrediction{EntityID: task.ID, EntityName: task.Name, Event: evt}
		p.TriggerMatched = ruleMatches(candidate, evt)
		if p.TriggerMatched {
			matchedTrigger++
			for ci, c := range rule.Conditions {
				if attributePresent(c, evt, projected) {
					present[ci]++
				}
				if s.evaluator.check(ctx, c, evt, projected) {
					passed[ci]++
				}
			}
			if idx := s.evaluator.FirstFailing(ctx, rule.Conditions, evt, projected); idx >= 0 {
				p.FailedCondition = &idx
			} else {
				p.WouldFire = true
				p.Action = result.Action
				result.MatchCount++
			}
		}
		result.Predictions = append(result.Predictions, p)
	}

	if matchedTrigger == 0 {
		result.Warnings = append(result.Warnings, "no sampled task produces an event matching the trigger")
		return result, nil
	}
	for ci, c := range rule.Conditions {
		switch {
		case present[ci] == 0:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("condition %d (%s) references %s, which no sampled task has; it can never be satisfied", ci+1, c.Kind, conditionSubject(c)))
		case passed[ci] == 0:
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("condition %d (%s %s %v) is not satisfied by any of the %d sampled tasks", ci+1, c.Kind, orPlaceholder(c.Operator), c.Value, matchedTrigger))
		}
	}
	return result, nil
}

// staticWarnings inspects the rule alone, independent of sampled data.
func (s *simulator) staticWarnings(rule models.AutomationRule, scopeID string) []string {
	var warnings []string
	if !rule.Active {
		warnings = append(warnings, "rule is inactive; predictions assume it were enabled")
	}
	if !rule.TriggerType.Valid() {
		warnings = append(warnings, fmt.Sprintf("unknown trigger type %q; no event will ever match", rule.TriggerType))
	}
	if !s.dispatcher.Has(rule.ActionType) {
		warnings = append(warnings, fmt.Sprintf("unsupported action %q; executions would be recorded as stubs", rule.ActionType))
	}
	if rule.BoardID != "" && rule.BoardID != scopeID {
		warnings = append(warnings, fmt.Sprintf("rule belongs to board %s but was simulated against board %s", rule.BoardID, scopeID))
	}
	if effect, ok := s.dispatcher.EffectOf(rule); ok && effectRetriggers(rule, effect) {
		warnings = append(warnings, fmt.Sprintf(
			"self-loop: the %s action emits %s which matches this rule's own trigger; it fires at most once per chain",
			rule.ActionType, effect.Trigger))
	}
	switch {
	case strings.HasPrefix(string(rule.ActionType), "ai_"):
		if s.collab.Completion == nil || !s.collab.Completion.Available() {
			warnings = append(warnings, "AI service not connected; this action would fail")
		}
	case strings.HasPrefix(string(rule.ActionType), "synseekr_"):
		if s.collab.Intelligence == nil || !s.collab.Intelligence.IsEnabled() {
			warnings = append(warnings, "SynSeekr not connected; this action would fail")
		}
	}
	for ci, c := range rule.Conditions {
		if !knownConditionKind(c.Kind) {
			warnings = append(warnings, fmt.Sprintf("condition %d has unknown kind %q and always evaluates to false", ci+1, c.Kind))
		}
	}
	return warnings
}

// effectRetriggers reports whether an action's effect satisfies its own rule's trigger.
func effectRetriggers(rule models.AutomationRule, effect Effect) bool {
	if effect.Trigger != rule.TriggerType {
		return false
	}
	if rule.TriggerField != "" && effect.Field != "" && effect.Field != rule.TriggerField {
		return false
	}
	if rule.TriggerValue != "" && effect.Value != "" && effect.Value != rule.TriggerValue {
		return false
	}
	return true
}

func knownConditionKind(kind string) bool {
	switch kind {
	case models.ConditionStatus, models.ConditionPriority, models.ConditionAssignee, models.ConditionTag,
		models.ConditionDateWindow, models.ConditionField, models.ConditionSignalConfidence, models.ConditionPermission:
		return true
	}
	return false
}

func conditionSubject(c models.Condition) string {
	switch c.Kind {
	case models.ConditionField:
		return "field " + orPlaceholder(c.Field)
	case models.ConditionDateWindow:
		return "a due date"
	case models.ConditionSignalConfidence:
		key := c.Field
		if key == "" {
			key = "confidence"
		}
		return "event metadata " + key
	case models.ConditionAssignee:
		return "an assignee"
	default:
		return c.Kind
	}
}

func defaultTriggerField(t models.TriggerType) string {
	switch t {
	case models.TriggerStatusChanged:
		return "status"
	case models.TriggerPriorityChanged:
		return "priority"
	case models.TriggerPersonAssigned:
		return "assignee_id"
	case models.TriggerTagAdded:
		return "tags"
	case models.TriggerDueDateApproaching:
		return "due_date"
	default:
		return ""
	}
}

// taskValue reads field from task the way events report it.
func taskValue(task *models.Task, field string) interface{} {
	switch field {
	case "status":
		return task.Status
	case "priority":
		return task.Priority
	case "assignee_id":
		return task.AssigneeID
	case "group_id":
		return task.GroupID
	case "name":
		return task.Name
	case "tags":
		if len(task.Tags) > 0 {
			return task.Tags[0]
		}
		return nil
	case "due_date":
		if task.DueDate != nil {
			return task.DueDate.Format(time.RFC3339)
		}
		return nil
	case "":
		return nil
	default:
		return task.Fields[field]
	}
}

// synthesizeEvent builds the representative event the rule's trigger would
// see for task: the configured trigger value if the rule names one, the task's
// current value otherwise.
func synthesizeEvent(rule models.AutomationRule, scopeID string, task *models.Task) Event {
	field := rule.TriggerField
	if field == "" {
		field = defaultTriggerField(rule.TriggerType)
	}
	evt := Event{
		Type:     rule.TriggerType,
		ScopeID:  scopeID,
		EntityID: task.ID,
		Field:    field,
		Metadata: map[string]interface{}{"dry_run": true},
	}
	current := taskValue(task, field)
	evt.PreviousValue = current
	if rule.TriggerValue != "" {
		evt.NewValue = rule.TriggerValue
	} else {
		evt.NewValue = current
	}
	if rule.TriggerType == models.TriggerItemCreated {
		evt.PreviousValue = nil
		evt.NewValue = task.Name
	}
	return evt
}

// projectTask returns a copy of task with the synthesized event applied, so
// conditions see the state the real event would leave behind.
func projectTask(task *models.Task, evt Event) *models.Task {
	p := *task
	if task.Fields != nil {
		p.Fields = datatypes.JSONMap{}
		for k, v := range task.Fields {
			p.Fields[k] = v
		}
	}
	if task.Tags != nil {
		p.Tags = append(datatypes.JSONSlice[string]{}, task.Tags...)
	}

	nv, isString := evt.NewValue.(string)
	switch evt.Field {
	case "":
		return &p
	case "status":
		if isString {
			p.Status = nv
		}
	case "priority":
		if isString {
			p.Priority = nv
		}
	case "assignee_id":
		if isString {
			p.AssigneeID = nv
		}
	case "group_id":
		if isString {
			p.GroupID = nv
		}
	case "tags":
		if isString && nv != "" && !p.HasTag(nv) {
			p.Tags = append(p.Tags, nv)
		}
	case "due_date", "name":
	default:
		if evt.NewValue != nil {
			if p.Fields == nil {
				p.Fields = datatypes.JSONMap{}
			}
			p.Fields[evt.Field] = evt.NewValue
		}
	}
	return &p
}
