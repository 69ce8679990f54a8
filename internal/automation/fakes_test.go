package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"boardflow/internal/models"
	"boardflow/pkg/synseekr"
)

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// memStore is an in-memory EntityStore, TimeTracker, Notifier and LedgerStore.
type memStore struct {
	mu            sync.Mutex
	rules         []models.AutomationRule
	tasks         map[string]*models.Task
	groups        map[string][]models.Group
	records       []models.ExecutionRecord
	timers        map[string]*models.TimeEntry
	notifications []models.Notification

	rulesErr     error
	createExErr  error
	finalizeErr  error
	ruleWriteErr error
	getErr       error

	entityUpdates int
	createExCalls int
	finalizeCalls int
}

func newMemStore() *memStore {
	return &memStore{
		tasks:  map[string]*models.Task{},
		groups: map[string][]models.Group{},
		timers: map[string]*models.TimeEntry{},
	}
}

func copyTask(t *models.Task) *models.Task {
	c := *t
	if t.Tags != nil {
		c.Tags = append(datatypes.JSONSlice[string]{}, t.Tags...)
	}
	if t.Fields != nil {
		c.Fields = datatypes.JSONMap{}
		for k, v := range t.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

func (m *memStore) addRule(r models.AutomationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

func (m *memStore) addTask(t models.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = copyTask(&t)
}

func (m *memStore) addGroup(g models.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.BoardID] = append(m.groups[g.BoardID], g)
}

func (m *memStore) task(id string) *models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return copyTask(t)
	}
	return nil
}

func (m *memStore) rule(id string) models.AutomationRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id {
			return r
		}
	}
	return models.AutomationRule{}
}

func (m *memStore) ledger() []models.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ExecutionRecord{}, m.records...)
}

func (m *memStore) GetAutomationRulesForScope(ctx context.Context, scopeID string) ([]models.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rulesErr != nil {
		return nil, m.rulesErr
	}
	var out []models.AutomationRule
	for _, r := range m.rules {
		if r.BoardID == scopeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateAutomationRule(ctx context.Context, id string, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ruleWriteErr != nil {
		return m.ruleWriteErr
	}
	for i := range m.rules {
		if m.rules[i].ID != id {
			continue
		}
		if v, ok := updates["run_count"].(int); ok {
			m.rules[i].RunCount = v
		}
		if v, ok := updates["last_run"].(time.Time); ok {
			m.rules[i].LastRun = &v
		}
		return nil
	}
	return ErrRuleNotFound
}

func (m *memStore) RecordRuleRun(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ruleWriteErr != nil {
		return m.ruleWriteErr
	}
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules[i].RunCount++
			last := at
			m.rules[i].LastRun = &last
			return nil
		}
	}
	return ErrRuleNotFound
}

func (m *memStore) GetEntity(ctx context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return copyTask(t), nil
}

func (m *memStore) UpdateEntity(ctx context.Context, id string, updates map[string]interface{}) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	m.entityUpdates++
	for k, v := range updates {
		switch k {
		case "status":
			t.Status = v.(string)
		case "priority":
			t.Priority = v.(string)
		case "assignee_id":
			t.AssigneeID = v.(string)
		case "group_id":
			t.GroupID = v.(string)
		case "tags":
			t.Tags = v.(datatypes.JSONSlice[string])
		case "fields":
			t.Fields = v.(datatypes.JSONMap)
		default:
			return nil, fmt.Errorf("unexpected column %s", k)
		}
	}
	return copyTask(t), nil
}

func (m *memStore) CreateEntity(ctx context.Context, task *models.Task) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = copyTask(task)
	return copyTask(task), nil
}

func (m *memStore) ListGroupsForScope(ctx context.Context, scopeID string) ([]models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Group{}, m.groups[scopeID]...), nil
}

func (m *memStore) ListEntitiesForScope(ctx context.Context, scopeID string, limit int) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, t := range m.tasks {
		if t.BoardID == scopeID {
			out = append(out, *copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) StartTimer(ctx context.Context, taskID, userID string) (*models.TimeEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.timers[taskID]; ok && e.StoppedAt == nil {
		return e, false, nil
	}
	e := &models.TimeEntry{ID: "te-" + taskID, TaskID: taskID, UserID: userID, StartedAt: fixedNow}
	m.timers[taskID] = e
	return e, true, nil
}

func (m *memStore) StopTimer(ctx context.Context, taskID string) (*models.TimeEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.timers[taskID]
	if !ok || e.StoppedAt != nil {
		return nil, false, nil
	}
	stopped := fixedNow.Add(90 * time.Second)
	e.StoppedAt = &stopped
	e.Seconds = 90
	return e, true, nil
}

func (m *memStore) Enqueue(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *memStore) CreateExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createExCalls++
	if m.createExErr != nil {
		return m.createExErr
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memStore) FinalizeExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	for i := range m.records {
		if m.records[i].ID == rec.ID {
			if m.records[i].Status != models.ExecutionPending {
				return errors.New("record already finalized")
			}
			m.records[i] = *rec
			return nil
		}
	}
	return errors.New("record not found")
}

func (m *memStore) listRecords(match func(models.ExecutionRecord) bool, limit int) []models.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExecutionRecord
	for _, r := range m.records {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memStore) ListExecutionsByRule(ctx context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error) {
	return m.listRecords(func(r models.ExecutionRecord) bool { return r.RuleID == ruleID }, limit), nil
}

func (m *memStore) ListExecutionsByEntity(ctx context.Context, entityID string, limit int) ([]models.ExecutionRecord, error) {
	return m.listRecords(func(r models.ExecutionRecord) bool { return r.EntityID == entityID }, limit), nil
}

func (m *memStore) ListExecutionsByScope(ctx context.Context, scopeID string, limit int) ([]models.ExecutionRecord, error) {
	return m.listRecords(func(r models.ExecutionRecord) bool { return r.BoardID == scopeID }, limit), nil
}

// fakeCompletion returns canned responses in order; the last one repeats.
type fakeCompletion struct {
	available bool
	responses []string
	err       error
	calls     int
	last      []ChatMessage
	lastCfg   CompletionConfig
}

func (f *fakeCompletion) Available() bool { return f.available }

func (f *fakeCompletion) Complete(ctx context.Context, messages []ChatMessage, cfg CompletionConfig) (string, error) {
	f.calls++
	f.last = messages
	f.lastCfg = cfg
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

// fakeIntel records calls and returns result/err for every capability.
type fakeIntel struct {
	enabled bool
	result  *synseekr.Result
	err     error
	calls   []string
	lastRAG *synseekr.RAGRequest
}

func (f *fakeIntel) IsEnabled() bool { return f.enabled }

func (f *fakeIntel) respond(name string) (*synseekr.Result, error) {
	f.calls = append(f.calls, name)
	return f.result, f.err
}

func (f *fakeIntel) AnalyzeDocument(ctx context.Context, req *synseekr.DocumentRequest) (*synseekr.Result, error) {
	return f.respond("analyze")
}

func (f *fakeIntel) ExtractEntities(ctx context.Context, req *synseekr.EntityRequest) (*synseekr.Result, error) {
	return f.respond("entities")
}

func (f *fakeIntel) RAGQuery(ctx context.Context, req *synseekr.RAGRequest) (*synseekr.Result, error) {
	f.lastRAG = req
	return f.respond("rag")
}

func (f *fakeIntel) RunInvestigation(ctx context.Context, req *synseekr.InvestigationRequest) (*synseekr.Result, error) {
	return f.respond("investigation")
}

func (f *fakeIntel) DetectContradictions(ctx context.Context, req *synseekr.ContradictionRequest) (*synseekr.Result, error) {
	return f.respond("contradictions")
}

func (f *fakeIntel) ClassifyDocument(ctx context.Context, req *synseekr.ClassifyRequest) (*synseekr.Result, error) {
	return f.respond("classify")
}

func (f *fakeIntel) RunAgent(ctx context.Context, req *synseekr.AgentRequest) (*synseekr.Result, error) {
	return f.respond("agent")
}

func (f *fakeIntel) SearchDocuments(ctx context.Context, req *synseekr.SearchRequest) (*synseekr.Result, error) {
	return f.respond("search")
}

func (f *fakeIntel) GetTimelineEvents(ctx context.Context, req *synseekr.TimelineRequest) (*synseekr.Result, error) {
	return f.respond("timeline")
}

func newTestEngine(store *memStore, opts Options, providers ...interface{}) *Engine {
	collab := Collaborators{Store: store, Timers: store, Notifier: store, Now: clock}
	for _, p := range providers {
		switch v := p.(type) {
		case CompletionProvider:
			collab.Completion = v
		case IntelligenceClient:
			collab.Intelligence = v
		}
	}
	return New(collab, store, opts, quietLogger())
}

func seedBoard(store *memStore) {
	store.addGroup(models.Group{ID: "g1", BoardID: "b1", Name: "To do", Position: 0})
	store.addTask(models.Task{ID: "t1", BoardID: "b1", GroupID: "g1", Name: "Draft motion", Status: "not-started", Priority: "medium"})
}

func statusRule(id, value string, action models.ActionType, cfg map[string]interface{}) models.AutomationRule {
	return models.AutomationRule{
		ID:           id,
		BoardID:      "b1",
		Name:         "rule " + id,
		Active:       true,
		TriggerType:  models.TriggerStatusChanged,
		TriggerField: "status",
		TriggerValue: value,
		ActionType:   action,
		ActionConfig: datatypes.JSONMap(cfg),
		CreatedAt:    fixedNow,
	}
}

func statusEvent(from, to string) Event {
	return Event{
		Type:          models.TriggerStatusChanged,
		ScopeID:       "b1",
		EntityID:      "t1",
		Field:         "status",
		PreviousValue: from,
		NewValue:      to,
	}
}
