package models

import (
	"time"

	"gorm.io/datatypes"
)

// TriggerType is the closed set of event types rules can listen for.
type TriggerType string

const (
	TriggerStatusChanged       TriggerType = "status_changed"
	TriggerPriorityChanged     TriggerType = "priority_changed"
	TriggerItemCreated         TriggerType = "item_created"
	TriggerPersonAssigned      TriggerType = "person_assigned"
	TriggerFieldChanged        TriggerType = "field_changed"
	TriggerTagAdded            TriggerType = "tag_added"
	TriggerDueDateApproaching  TriggerType = "due_date_approaching"
	TriggerFileUploaded        TriggerType = "file_uploaded"
	TriggerSignalDetected      TriggerType = "signal_detected"
	TriggerCommentAdded        TriggerType = "comment_added"
	TriggerTimeTrackingStarted TriggerType = "time_tracking_started"
	TriggerTimeTrackingStopped TriggerType = "time_tracking_stopped"
)

var triggerTypes = map[TriggerType]bool{
	TriggerStatusChanged:       true,
	TriggerPriorityChanged:     true,
	TriggerItemCreated:         true,
	TriggerPersonAssigned:      true,
	TriggerFieldChanged:        true,
	TriggerTagAdded:            true,
	TriggerDueDateApproaching:  true,
	TriggerFileUploaded:        true,
	TriggerSignalDetected:      true,
	TriggerCommentAdded:        true,
	TriggerTimeTrackingStarted: true,
	TriggerTimeTrackingStopped: true,
}

// Valid reports whether t belongs to the trigger enumeration.
func (t TriggerType) Valid() bool {
	return triggerTypes[t]
}

// ActionType is the closed set of actions a rule can perform.
type ActionType string

const (
	ActionChangeStatus      ActionType = "change_status"
	ActionChangePriority    ActionType = "change_priority"
	ActionAssignPerson      ActionType = "assign_person"
	ActionUpdateField       ActionType = "update_field"
	ActionMoveToGroup       ActionType = "move_to_group"
	ActionAddTag            ActionType = "add_tag"
	ActionCreateItem        ActionType = "create_item"
	ActionStartTimeTracking ActionType = "start_time_tracking"
	ActionStopTimeTracking  ActionType = "stop_time_tracking"

	ActionSendNotification ActionType = "send_notification"
	ActionSendEmail        ActionType = "send_email"
	ActionSendChatMessage  ActionType = "send_chat_message"

	ActionAISummarize  ActionType = "ai_summarize"
	ActionAICategorize ActionType = "ai_categorize"
	ActionAIExtract    ActionType = "ai_extract"
	ActionAITranslate  ActionType = "ai_translate"

	ActionSynSeekrAnalyzeDocument      ActionType = "synseekr_analyze_document"
	ActionSynSeekrExtractEntities      ActionType = "synseekr_extract_entities"
	ActionSynSeekrRAGQuery             ActionType = "synseekr_rag_query"
	ActionSynSeekrRunInvestigation     ActionType = "synseekr_run_investigation"
	ActionSynSeekrDetectContradictions ActionType = "synseekr_detect_contradictions"
	ActionSynSeekrClassifyDocument     ActionType = "synseekr_classify_document"
	ActionSynSeekrRunAgent             ActionType = "synseekr_run_agent"
	ActionSynSeekrSearchDocuments      ActionType = "synseekr_search_documents"
	ActionSynSeekrGetTimeline          ActionType = "synseekr_get_timeline"
)

// Condition kinds.
const (
	ConditionStatus           = "status"
	ConditionPriority         = "priority"
	ConditionAssignee         = "assignee"
	ConditionTag              = "tag"
	ConditionDateWindow       = "date_window"
	ConditionField            = "field"
	ConditionSignalConfidence = "signal_confidence"
	ConditionPermission       = "permission"
)

// Condition is one typed predicate narrowing when a matched rule fires.
type Condition struct {
	Kind     string      `json:"kind" yaml:"kind"`
	Field    string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// AutomationRule is a user-defined trigger -> conditions -> action binding scoped to a board.
// An empty TriggerField or TriggerValue means "any".
type AutomationRule struct {
	ID           string                         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BoardID      string                         `gorm:"index;not null" json:"board_id"`
	Name         string                         `gorm:"not null" json:"name"`
	Description  string                         `gorm:"type:text" json:"description"`
	Active       bool                           `gorm:"index" json:"active"`
	TriggerType  TriggerType                    `gorm:"type:varchar(64);index;not null" json:"trigger_type"`
	TriggerField string                         `json:"trigger_field,omitempty"`
	TriggerValue string                         `json:"trigger_value,omitempty"`
	Conditions   datatypes.JSONSlice[Condition] `json:"conditions"`
	ActionType   ActionType                     `gorm:"type:varchar(64);not null" json:"action_type"`
	ActionConfig datatypes.JSONMap              `json:"action_config"`
	RunCount     int                            `gorm:"default:0" json:"run_count"`
	LastRun      *time.Time                     `json:"last_run"`
	CreatedAt    time.Time                      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time                      `json:"updated_at"`
}

// Execution record statuses.
const (
	ExecutionPending   = "pending"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// ExecutionRecord is the durable audit row for one rule dispatch. Rows are written
// pending and finalized exactly once.
type ExecutionRecord struct {
	ID             string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RuleID         string         `gorm:"index;not null" json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	BoardID        string         `gorm:"index" json:"board_id"`
	EntityID       string         `gorm:"index" json:"entity_id"`
	ActionType     ActionType     `gorm:"type:varchar(64)" json:"action_type"`
	TriggerPayload datatypes.JSON `json:"trigger_payload"`
	ActionResult   datatypes.JSON `json:"action_result"`
	Status         string         `gorm:"index;default:'pending'" json:"status"`
	Success        bool           `json:"success"`
	Message        string         `gorm:"type:text" json:"message"`
	Error          string         `gorm:"type:text" json:"error"`
	CascadeDepth   int            `gorm:"default:0" json:"cascade_depth"`
	StartedAt      time.Time      `gorm:"index" json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at"`
}
