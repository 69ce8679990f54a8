package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"boardflow/internal/models"
)

// Condition operators.
const (
	OpEquals       = "equals"
	OpNotEquals    = "not_equals"
	OpContains     = "contains"
	OpNotContains  = "not_contains"
	OpIn           = "in"
	OpGreaterThan  = "gt"
	OpGreaterEqual = "gte"
	OpLessThan     = "lt"
	OpLessEqual    = "lte"

	OpWithinDays   = "within_days"
	OpOverdue      = "overdue"
	OpMoreThanDays = "more_than_days"
)

const day = 24 * time.Hour

// ConditionEvaluator tests rule conditions against an event and the entity
// snapshot it references. It never mutates anything and never fails: a
// condition that cannot be decided is false.
type ConditionEvaluator struct {
	now         func() time.Time
	permissions PermissionChecker
	logger      *logrus.Logger
}

// NewConditionEvaluator creates an evaluator. perms may be nil, in which case
// every permission condition is false.
func NewConditionEvaluator(now func() time.Time, perms PermissionChecker, logger *logrus.Logger) *ConditionEvaluator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ConditionEvaluator{now: now, permissions: perms, logger: logger}
}

// Evaluate is the conjunction of conds. An empty list is true.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, conds []models.Condition, evt Event, task *models.Task) bool {
	return e.FirstFailing(ctx, conds, evt, task) < 0
}

// FirstFailing returns the index of the first false condition, or -1.
func (e *ConditionEvaluator) FirstFailing(ctx context.Context, conds []models.Condition, evt Event, task *models.Task) int {
	for i, c := range conds {
		if !e.check(ctx, c, evt, task) {
			return i
		}
	}
	return -1
}

func (e *ConditionEvaluator) check(ctx context.Context, c models.Condition, evt Event, task *models.Task) bool {
	switch c.Kind {
	case models.ConditionStatus, models.ConditionPriority, models.ConditionAssignee, models.ConditionField:
		actual, ok := entityAttribute(c, task)
		if !ok {
			return false
		}
		return compare(actual, c.Operator, c.Value)

	case models.ConditionTag:
		if task == nil {
			return false
		}
		tag, ok := c.Value.(string)
		if !ok || tag == "" {
			return false
		}
		switch c.Operator {
		case "", OpContains, OpEquals:
			return task.HasTag(tag)
		case OpNotContains, OpNotEquals:
			return !task.HasTag(tag)
		default:
			return false
		}

	case models.ConditionDateWindow:
		return e.checkDateWindow(c, task)

	case models.ConditionSignalConfidence:
		key := c.Field
		if key == "" {
			key = "confidence"
		}
		raw, ok := evt.Metadata[key]
		if !ok {
			return false
		}
		op := c.Operator
		if op == "" {
			op = OpGreaterEqual
		}
		return compareNumbers(raw, op, c.Value)

	case models.ConditionPermission:
		return e.checkPermission(ctx, c, evt)

	default:
		e.logger.Debugf("unknown condition kind %q evaluates to false", c.Kind)
		return false
	}
}

// checkDateWindow: within_days N is due-now <= N days and due >= now.
func (e *ConditionEvaluator) checkDateWindow(c models.Condition, task *models.Task) bool {
	if task == nil || task.DueDate == nil {
		return false
	}
	now := e.now()
	until := task.DueDate.Sub(now)

	switch c.Operator {
	case OpOverdue:
		return task.DueDate.Before(now)
	case "", OpWithinDays:
		n, ok := toFloat64(c.Value)
		if !ok {
			return false
		}
		return until >= 0 && until <= time.Duration(n*float64(day))
	case OpMoreThanDays:
		n, ok := toFloat64(c.Value)
		if !ok {
			return false
		}
		return until > time.Duration(n*float64(day))
	default:
		return false
	}
}

func (e *ConditionEvaluator) checkPermission(ctx context.Context, c models.Condition, evt Event) bool {
	if e.permissions == nil {
		return false
	}
	perm, _ := c.Value.(string)
	if perm == "" {
		perm = c.Field
	}
	if perm == "" {
		return false
	}
	req := PermissionRequest{
		ActorID:    metadataString(evt.Metadata, "actor_id"),
		ActorRole:  metadataString(evt.Metadata, "actor_role"),
		Permission: perm,
		BoardID:    evt.ScopeID,
		EntityID:   evt.EntityID,
	}
	allowed, err := e.permissions.Allowed(ctx, req)
	if err != nil {
		e.logger.WithError(err).Warnf("permission check %s failed", perm)
		return false
	}
	return allowed
}

// entityAttribute resolves the attribute a condition refers to. Empty values
// are reported as absent.
func entityAttribute(c models.Condition, task *models.Task) (interface{}, bool) {
	if task == nil {
		return nil, false
	}
	var v interface{}
	switch c.Kind {
	case models.ConditionStatus:
		v = task.Status
	case models.ConditionPriority:
		v = task.Priority
	case models.ConditionAssignee:
		v = task.AssigneeID
	case models.ConditionField:
		if c.Field == "" || task.Fields == nil {
			return nil, false
		}
		fv, ok := task.Fields[c.Field]
		if !ok || fv == nil {
			return nil, false
		}
		v = fv
	}
	if s, ok := v.(string); ok && s == "" {
		return nil, false
	}
	return v, v != nil
}

// attributePresent reports whether the data a condition reads exists at all,
// independent of whether it would pass.
func attributePresent(c models.Condition, evt Event, task *models.Task) bool {
	switch c.Kind {
	case models.ConditionStatus, models.ConditionPriority, models.ConditionAssignee, models.ConditionField:
		_, ok := entityAttribute(c, task)
		return ok
	case models.ConditionTag:
		return task != nil
	case models.ConditionDateWindow:
		return task != nil && task.DueDate != nil
	case models.ConditionSignalConfidence:
		key := c.Field
		if key == "" {
			key = "confidence"
		}
		_, ok := evt.Metadata[key]
		return ok
	default:
		return true
	}
}

func compare(actual interface{}, op string, expected interface{}) bool {
	switch op {
	case "", OpEquals:
		return valuesEqual(actual, expected)
	case OpNotEquals:
		return !valuesEqual(actual, expected)
	case OpContains:
		return containsValue(actual, expected)
	case OpNotContains:
		return !containsValue(actual, expected)
	case OpIn:
		list, ok := expected.([]interface{})
		if !ok {
			if ss, ok := expected.([]string); ok {
				for _, s := range ss {
					if valuesEqual(actual, s) {
						return true
					}
				}
			}
			return false
		}
		for _, item := range list {
			if valuesEqual(actual, item) {
				return true
			}
		}
		return false
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		return compareNumbers(actual, op, expected)
	default:
		return false
	}
}

func compareNumbers(actual interface{}, op string, expected interface{}) bool {
	a, ok := toFloat64(actual)
	if !ok {
		return false
	}
	b, ok := toFloat64(expected)
	if !ok {
		return false
	}
	switch op {
	case OpGreaterThan:
		return a > b
	case OpGreaterEqual:
		return a >= b
	case OpLessThan:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpEquals:
		return a == b
	default:
		return false
	}
}

func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat64(a); ok {
		if bf, ok := toFloat64(b); ok {
			_, aStr := a.(string)
			_, bStr := b.(string)
			if !aStr || !bStr {
				return af == bf
			}
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func containsValue(actual, expected interface{}) bool {
	switch v := actual.(type) {
	case string:
		s, ok := expected.(string)
		return ok && strings.Contains(v, s)
	case []interface{}:
		for _, item := range v {
			if valuesEqual(item, expected) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range v {
			if valuesEqual(item, expected) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func metadataString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
