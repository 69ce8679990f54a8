package automation

import (
	"context"
	"time"

	"boardflow/internal/models"
	"boardflow/pkg/synseekr"
)

// EntityStore is the engine's view of domain persistence. The store is the
// source of truth and owns write semantics (last-write-wins); the engine adds
// no locking of its own. GetEntity/UpdateEntity return ErrEntityNotFound for
// missing tasks.
type EntityStore interface {
	GetAutomationRulesForScope(ctx context.Context, scopeID string) ([]models.AutomationRule, error)
	UpdateAutomationRule(ctx context.Context, id string, updates map[string]interface{}) error
	// RecordRuleRun increments run_count in place and sets last_run.
	RecordRuleRun(ctx context.Context, id string, at time.Time) error
	GetEntity(ctx context.Context, id string) (*models.Task, error)
	UpdateEntity(ctx context.Context, id string, updates map[string]interface{}) (*models.Task, error)
	CreateEntity(ctx context.Context, task *models.Task) (*models.Task, error)
	ListGroupsForScope(ctx context.Context, scopeID string) ([]models.Group, error)
	ListEntitiesForScope(ctx context.Context, scopeID string, limit int) ([]models.Task, error)
}

// TimeTracker starts and stops timers on tasks. The bool reports whether state changed.
type TimeTracker interface {
	StartTimer(ctx context.Context, taskID, userID string) (*models.TimeEntry, bool, error)
	StopTimer(ctx context.Context, taskID string) (*models.TimeEntry, bool, error)
}

// Notifier queues outbound notifications. Delivery is not confirmed.
type Notifier interface {
	Enqueue(ctx context.Context, n *models.Notification) error
}

// LedgerStore persists ExecutionRecords. FinalizeExecution must only move a
// pending row to its terminal state.
type LedgerStore interface {
	CreateExecution(ctx context.Context, rec *models.ExecutionRecord) error
	FinalizeExecution(ctx context.Context, rec *models.ExecutionRecord) error
	ListExecutionsByRule(ctx context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error)
	ListExecutionsByEntity(ctx context.Context, entityID string, limit int) ([]models.ExecutionRecord, error)
	ListExecutionsByScope(ctx context.Context, scopeID string, limit int) ([]models.ExecutionRecord, error)
}

// ChatMessage is one turn sent to the completion provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionConfig tunes a single completion call; zero values use provider defaults.
type CompletionConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// CompletionProvider is the text-completion service.
type CompletionProvider interface {
	Available() bool
	Complete(ctx context.Context, messages []ChatMessage, cfg CompletionConfig) (string, error)
}

// IntelligenceClient is the remote case/document-intelligence service.
type IntelligenceClient interface {
	IsEnabled() bool
	AnalyzeDocument(ctx context.Context, req *synseekr.DocumentRequest) (*synseekr.Result, error)
	ExtractEntities(ctx context.Context, req *synseekr.EntityRequest) (*synseekr.Result, error)
	RAGQuery(ctx context.Context, req *synseekr.RAGRequest) (*synseekr.Result, error)
	RunInvestigation(ctx context.Context, req *synseekr.InvestigationRequest) (*synseekr.Result, error)
	DetectContradictions(ctx context.Context, req *synseekr.ContradictionRequest) (*synseekr.Result, error)
	ClassifyDocument(ctx context.Context, req *synseekr.ClassifyRequest) (*synseekr.Result, error)
	RunAgent(ctx context.Context, req *synseekr.AgentRequest) (*synseekr.Result, error)
	SearchDocuments(ctx context.Context, req *synseekr.SearchRequest) (*synseekr.Result, error)
	GetTimelineEvents(ctx context.Context, req *synseekr.TimelineRequest) (*synseekr.Result, error)
}

// Collaborators is everything an action handler may touch. Optional members may be nil.
type Collaborators struct {
	Store        EntityStore
	Timers       TimeTracker
	Notifier     Notifier
	Completion   CompletionProvider
	Intelligence IntelligenceClient
	Now          func() time.Time
}

func (c Collaborators) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
