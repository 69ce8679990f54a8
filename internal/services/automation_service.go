package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"boardflow/internal/automation"
	"boardflow/internal/models"
	"boardflow/pkg/utils"
)

// ErrInvalidRule is returned for rule requests that fail validation.
var ErrInvalidRule = errors.New("invalid automation rule")

// ActionCatalog reports which action types have a registered handler.
type ActionCatalog interface {
	SupportsAction(t models.ActionType) bool
}

// RuleRequest creates a rule. It doubles as the YAML rule-file format of the CLI.
type RuleRequest struct {
	BoardID      string                 `json:"board_id" yaml:"board_id"`
	Name         string                 `json:"name" yaml:"name" binding:"required"`
	Description  string                 `json:"description" yaml:"description"`
	TriggerType  models.TriggerType     `json:"trigger_type" yaml:"trigger_type" binding:"required"`
	TriggerField string                 `json:"trigger_field" yaml:"trigger_field"`
	TriggerValue string                 `json:"trigger_value" yaml:"trigger_value"`
	Conditions   []models.Condition     `json:"conditions" yaml:"conditions"`
	ActionType   models.ActionType      `json:"action_type" yaml:"action_type" binding:"required"`
	ActionConfig map[string]interface{} `json:"action_config" yaml:"action_config"`
	Active       *bool                  `json:"active" yaml:"active"`
}

// Rule builds the unsaved rule the request describes.
func (r *RuleRequest) Rule() models.AutomationRule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	conds := datatypes.JSONSlice[models.Condition]{}
	conds = append(conds, r.Conditions...)
	cfg := datatypes.JSONMap{}
	for k, v := range r.ActionConfig {
		cfg[k] = v
	}
	return models.AutomationRule{
		BoardID:      strings.TrimSpace(r.BoardID),
		Name:         strings.TrimSpace(r.Name),
		Description:  r.Description,
		Active:       active,
		TriggerType:  r.TriggerType,
		TriggerField: r.TriggerField,
		TriggerValue: r.TriggerValue,
		Conditions:   conds,
		ActionType:   r.ActionType,
		ActionConfig: cfg,
	}
}

// RuleUpdateRequest patches a rule; nil fields are left unchanged.
type RuleUpdateRequest struct {
	Name         *string                `json:"name"`
	Description  *string                `json:"description"`
	TriggerType  *models.TriggerType    `json:"trigger_type"`
	TriggerField *string                `json:"trigger_field"`
	TriggerValue *string                `json:"trigger_value"`
	Conditions   *[]models.Condition    `json:"conditions"`
	ActionType   *models.ActionType     `json:"action_type"`
	ActionConfig map[string]interface{} `json:"action_config"`
	Active       *bool                  `json:"active"`
}

// RecordedStep is one user action captured while recording a workflow.
type RecordedStep struct {
	Event  models.TriggerType     `json:"event,omitempty"`
	Field  string                 `json:"field,omitempty"`
	Value  interface{}            `json:"value,omitempty"`
	Action models.ActionType      `json:"action,omitempty"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// RecordedWorkflow is a captured sequence of steps to turn into rules. The
// first step carrying an event is the trigger, field-only steps before the
// first action become conditions, and every action step becomes one rule.
type RecordedWorkflow struct {
	BoardID string         `json:"board_id" binding:"required"`
	Name    string         `json:"name" binding:"required"`
	Steps   []RecordedStep `json:"steps" binding:"required"`
}

// AutomationService manages rule definitions. Execution lives in the engine.
type AutomationService struct {
	db      *gorm.DB
	catalog ActionCatalog
	logger  *logrus.Logger
	now     func() time.Time
}

func NewAutomationService(db *gorm.DB, catalog ActionCatalog, logger *logrus.Logger) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{db: db, catalog: catalog, logger: logger, now: time.Now}
}

func (s *AutomationService) validate(rule *models.AutomationRule) error {
	if rule.BoardID == "" {
		return fmt.Errorf("%w: board_id is required", ErrInvalidRule)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !rule.TriggerType.Valid() {
		return fmt.Errorf("%w: unsupported trigger type %q", ErrInvalidRule, rule.TriggerType)
	}
	if rule.ActionType == "" {
		return fmt.Errorf("%w: action_type is required", ErrInvalidRule)
	}
	if s.catalog != nil && !s.catalog.SupportsAction(rule.ActionType) {
		return fmt.Errorf("%w: unsupported action type %q", ErrInvalidRule, rule.ActionType)
	}
	for i, c := range rule.Conditions {
		if strings.TrimSpace(c.Kind) == "" {
			return fmt.Errorf("%w: condition %d has no kind", ErrInvalidRule, i+1)
		}
	}
	return nil
}

// CreateRule validates and stores a new rule.
func (s *AutomationService) CreateRule(ctx context.Context, req *RuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrInvalidRule)
	}
	rule := req.Rule()
	if err := s.validate(&rule); err != nil {
		return nil, err
	}

	now := s.now()
	rule.ID = utils.GenerateID()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"rule_id":  rule.ID,
		"board_id": rule.BoardID,
		"trigger":  rule.TriggerType,
		"action":   rule.ActionType,
	}).Info("automation rule created")
	return &rule, nil
}

// ListRules returns the board's rules, newest first.
func (s *AutomationService) ListRules(ctx context.Context, boardID string, includeInactive bool) ([]models.AutomationRule, error) {
	q := s.db.WithContext(ctx).Where("board_id = ?", boardID)
	if !includeInactive {
		q = q.Where("active = ?", true)
	}
	rules := []models.AutomationRule{}
	if err := q.Order("created_at DESC, id DESC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *AutomationService) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, automation.ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// UpdateRule applies the non-nil fields of req. Run statistics are not editable.
func (s *AutomationService) UpdateRule(ctx context.Context, id string, req *RuleUpdateRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrInvalidRule)
	}
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
		updates["name"] = rule.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
		updates["description"] = rule.Description
	}
	if req.TriggerType != nil {
		rule.TriggerType = *req.TriggerType
		updates["trigger_type"] = rule.TriggerType
	}
	if req.TriggerField != nil {
		rule.TriggerField = *req.TriggerField
		updates["trigger_field"] = rule.TriggerField
	}
	if req.TriggerValue != nil {
		rule.TriggerValue = *req.TriggerValue
		updates["trigger_value"] = rule.TriggerValue
	}
	if req.Conditions != nil {
		rule.Conditions = datatypes.JSONSlice[models.Condition](append([]models.Condition{}, *req.Conditions...))
		updates["conditions"] = rule.Conditions
	}
	if req.ActionType != nil {
		rule.ActionType = *req.ActionType
		updates["action_type"] = rule.ActionType
	}
	if req.ActionConfig != nil {
		rule.ActionConfig = datatypes.JSONMap(req.ActionConfig)
		updates["action_config"] = rule.ActionConfig
	}
	if req.Active != nil {
		rule.Active = *req.Active
		updates["active"] = rule.Active
	}
	if len(updates) == 0 {
		return rule, nil
	}
	if err := s.validate(rule); err != nil {
		return nil, err
	}

	rule.UpdatedAt = s.now()
	updates["updated_at"] = rule.UpdatedAt
	if err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	return rule, nil
}

// DeactivateRule disables a rule. Rules are never hard-deleted.
func (s *AutomationService) DeactivateRule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"active": false, "updated_at": s.now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return automation.ErrRuleNotFound
	}
	s.logger.WithField("rule_id", id).Info("automation rule deactivated")
	return nil
}

// ConvertRecording turns a recorded workflow into rules and stores them.
func (s *AutomationService) ConvertRecording(ctx context.Context, wf *RecordedWorkflow) ([]models.AutomationRule, error) {
	reqs, err := RulesFromRecording(wf)
	if err != nil {
		return nil, err
	}
	rules := make([]models.AutomationRule, 0, len(reqs))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txSvc := &AutomationService{db: tx, catalog: s.catalog, logger: s.logger, now: s.now}
		for i := range reqs {
			rule, err := txSvc.CreateRule(ctx, &reqs[i])
			if err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
			rules = append(rules, *rule)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// RulesFromRecording derives rule requests from a recorded workflow without storing them.
func RulesFromRecording(wf *RecordedWorkflow) ([]RuleRequest, error) {
	if wf == nil || len(wf.Steps) == 0 {
		return nil, fmt.Errorf("%w: recording has no steps", ErrInvalidRule)
	}

	trigger := -1
	for i, step := range wf.Steps {
		if step.Event != "" {
			trigger = i
			break
		}
	}
	if trigger < 0 {
		return nil, fmt.Errorf("%w: recording has no trigger step", ErrInvalidRule)
	}
	first := wf.Steps[trigger]

	var conditions []models.Condition
	var reqs []RuleRequest
	for _, step := range wf.Steps[trigger+1:] {
		if step.Action == "" {
			if step.Field != "" && len(reqs) == 0 {
				conditions = append(conditions, conditionFromStep(step))
			}
			continue
		}
		reqs = append(reqs, RuleRequest{
			BoardID:      wf.BoardID,
			Description:  "Converted from a recorded workflow",
			TriggerType:  first.Event,
			TriggerField: first.Field,
			TriggerValue: stringValue(first.Value),
			Conditions:   conditions,
			ActionType:   step.Action,
			ActionConfig: step.Config,
		})
	}
	// A trigger step that also carries an action is a one-step recording.
	if first.Action != "" {
		reqs = append([]RuleRequest{{
			BoardID:      wf.BoardID,
			Description:  "Converted from a recorded workflow",
			TriggerType:  first.Event,
			TriggerField: first.Field,
			TriggerValue: stringValue(first.Value),
			ActionType:   first.Action,
			ActionConfig: first.Config,
		}}, reqs...)
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: recording has no action step", ErrInvalidRule)
	}

	for i := range reqs {
		reqs[i].Name = wf.Name
		if len(reqs) > 1 {
			reqs[i].Name = fmt.Sprintf("%s (%d/%d)", wf.Name, i+1, len(reqs))
		}
	}
	return reqs, nil
}

func conditionFromStep(step RecordedStep) models.Condition {
	switch step.Field {
	case models.ConditionStatus, models.ConditionPriority, models.ConditionAssignee:
		return models.Condition{Kind: step.Field, Operator: automation.OpEquals, Value: step.Value}
	case "tags", models.ConditionTag:
		return models.Condition{Kind: models.ConditionTag, Operator: automation.OpContains, Value: step.Value}
	default:
		return models.Condition{Kind: models.ConditionField, Field: step.Field, Operator: automation.OpEquals, Value: step.Value}
	}
}

func stringValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
