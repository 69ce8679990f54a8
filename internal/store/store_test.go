package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"boardflow/internal/automation"
	"boardflow/internal/models"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:store_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := New(db, nil)
	s.now = func() time.Time { return base }
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	db := s.DB()
	require.NoError(t, db.Create(&models.Board{ID: "b1", Name: "Litigation"}).Error)
	require.NoError(t, db.Create(&[]models.Group{
		{ID: "g2", BoardID: "b1", Name: "Done", Position: 2},
		{ID: "g1", BoardID: "b1", Name: "To do", Position: 1},
	}).Error)
	due := base.Add(12 * time.Hour)
	require.NoError(t, db.Create(&[]models.Task{
		{ID: "t2", BoardID: "b1", GroupID: "g1", Name: "Second", Status: "working", CreatedAt: base.Add(time.Minute)},
		{ID: "t1", BoardID: "b1", GroupID: "g1", Name: "First", Status: "not-started", Priority: "medium", DueDate: &due, CreatedAt: base},
		{ID: "t3", BoardID: "b2", GroupID: "gx", Name: "Other board", Status: "working", CreatedAt: base},
	}).Error)
}

func TestStore_RulesOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rules := []models.AutomationRule{
		{ID: "r-b", BoardID: "b1", Name: "second", TriggerType: models.TriggerStatusChanged, ActionType: models.ActionAddTag, CreatedAt: base.Add(time.Second)},
		{ID: "r-c", BoardID: "b1", Name: "tie", TriggerType: models.TriggerStatusChanged, ActionType: models.ActionAddTag, CreatedAt: base},
		{ID: "r-a", BoardID: "b1", Name: "tie", TriggerType: models.TriggerStatusChanged, ActionType: models.ActionAddTag, CreatedAt: base},
		{ID: "r-x", BoardID: "b9", Name: "elsewhere", TriggerType: models.TriggerStatusChanged, ActionType: models.ActionAddTag, CreatedAt: base},
	}
	require.NoError(t, s.DB().Create(&rules).Error)

	got, err := s.GetAutomationRulesForScope(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"r-a", "r-c", "r-b"}, []string{got[0].ID, got[1].ID, got[2].ID})

	require.NoError(t, s.UpdateAutomationRule(ctx, "r-a", map[string]interface{}{"run_count": 4, "last_run": base}))
	got, _ = s.GetAutomationRulesForScope(ctx, "b1")
	assert.Equal(t, 4, got[0].RunCount)
	require.NotNil(t, got[0].LastRun)

	assert.ErrorIs(t, s.UpdateAutomationRule(ctx, "missing", map[string]interface{}{"run_count": 1}), automation.ErrRuleNotFound)
}

func TestStore_RecordRuleRunIncrementsInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rule := models.AutomationRule{ID: "r1", BoardID: "b1", Name: "count me", Active: true,
		TriggerType: models.TriggerStatusChanged, ActionType: models.ActionAddTag, RunCount: 3, CreatedAt: base}
	require.NoError(t, s.DB().Create(&rule).Error)

	// two firings from the same stale snapshot both count
	require.NoError(t, s.RecordRuleRun(ctx, rule.ID, base))
	require.NoError(t, s.RecordRuleRun(ctx, rule.ID, base.Add(time.Minute)))

	got, err := s.GetAutomationRulesForScope(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].RunCount)
	require.NotNil(t, got[0].LastRun)
	assert.True(t, got[0].LastRun.Equal(base.Add(time.Minute)))

	assert.ErrorIs(t, s.RecordRuleRun(ctx, "missing", base), automation.ErrRuleNotFound)
}

func TestStore_RuleJSONColumnsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rule := models.AutomationRule{
		ID: "r1", BoardID: "b1", Name: "escalate", Active: true,
		TriggerType: models.TriggerStatusChanged, TriggerValue: "stuck",
		Conditions:   datatypes.JSONSlice[models.Condition]{{Kind: "priority", Operator: "in", Value: []interface{}{"high", "critical"}}},
		ActionType:   models.ActionSendNotification,
		ActionConfig: datatypes.JSONMap{"message": "{{task_name}} is stuck"},
	}
	require.NoError(t, s.DB().Create(&rule).Error)

	got, err := s.GetAutomationRulesForScope(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Conditions, 1)
	assert.Equal(t, "in", got[0].Conditions[0].Operator)
	assert.Equal(t, []interface{}{"high", "critical"}, got[0].Conditions[0].Value)
	assert.Equal(t, "{{task_name}} is stuck", got[0].ActionConfig["message"])
}

func TestStore_Entities(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	task, err := s.GetEntity(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "First", task.Name)

	_, err = s.GetEntity(ctx, "nope")
	assert.ErrorIs(t, err, automation.ErrEntityNotFound)

	updated, err := s.UpdateEntity(ctx, "t1", map[string]interface{}{
		"status": "stuck",
		"tags":   datatypes.JSONSlice[string]{"urgent"},
		"fields": datatypes.JSONMap{"court": "District 4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "stuck", updated.Status)
	assert.True(t, updated.HasTag("urgent"))
	assert.Equal(t, "District 4", updated.Fields["court"])

	_, err = s.UpdateEntity(ctx, "nope", map[string]interface{}{"status": "done"})
	assert.ErrorIs(t, err, automation.ErrEntityNotFound)

	created, err := s.CreateEntity(ctx, &models.Task{BoardID: "b1", GroupID: "g1", Name: "Generated", CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	groups, err := s.ListGroupsForScope(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "g1", groups[0].ID)

	tasks, err := s.ListEntitiesForScope(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, "t2", tasks[1].ID)

	tasks, err = s.ListEntitiesForScope(ctx, "b1", 2)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestStore_ListDueTasks(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	due, err := s.ListDueTasks(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "t1", due[0].ID)

	_, err = s.UpdateEntity(ctx, "t1", map[string]interface{}{"status": "done"})
	require.NoError(t, err)
	due, err = s.ListDueTasks(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStore_Timers(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	entry, changed, err := s.StartTimer(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.True(t, changed)

	again, changed, err := s.StartTimer(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, entry.ID, again.ID)

	s.now = func() time.Time { return base.Add(95 * time.Second) }
	stopped, changed, err := s.StopTimer(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(95), stopped.Seconds)

	_, changed, err = s.StopTimer(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = s.StartTimer(ctx, "ghost", "u1")
	assert.ErrorIs(t, err, automation.ErrEntityNotFound)
}

func TestStore_Ledger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"e1", "e2", "e3"} {
		rec := &models.ExecutionRecord{
			ID: id, RuleID: "r1", BoardID: "b1", EntityID: "t1",
			ActionType: models.ActionAddTag, Status: models.ExecutionPending,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateExecution(ctx, rec))
	}

	done := base.Add(time.Hour)
	final := &models.ExecutionRecord{
		ID: "e2", Status: models.ExecutionFailed, Success: false, Message: "boom", Error: "boom",
		ActionResult: datatypes.JSON(`{"success":false}`), CompletedAt: &done,
	}
	require.NoError(t, s.FinalizeExecution(ctx, final))
	assert.Error(t, s.FinalizeExecution(ctx, final), "terminal records cannot be finalized again")
	assert.Error(t, s.FinalizeExecution(ctx, &models.ExecutionRecord{ID: "missing", Status: models.ExecutionCompleted}))

	byRule, err := s.ListExecutionsByRule(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, byRule, 3)
	assert.Equal(t, "e3", byRule[0].ID, "newest first")
	assert.Equal(t, models.ExecutionFailed, byRule[1].Status)
	assert.Equal(t, "boom", byRule[1].Error)

	byEntity, err := s.ListExecutionsByEntity(ctx, "t1", 2)
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)

	byScope, err := s.ListExecutionsByScope(ctx, "b-none", 10)
	require.NoError(t, err)
	assert.NotNil(t, byScope)
	assert.Empty(t, byScope)
}

func TestStore_Notifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &models.Notification{BoardID: "b1", Channel: "in_app", Recipient: "u1", Body: "hello", Status: "queued", CreatedAt: base}
	require.NoError(t, s.CreateNotification(ctx, n))
	require.NotEmpty(t, n.ID)
	require.NoError(t, s.MarkNotificationDelivered(ctx, n.ID))

	list, err := s.ListNotifications(ctx, "b1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "delivered", list[0].Status)
}

func TestStore_DrivesEngineEndToEnd(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.DB().Create(&models.AutomationRule{
		ID: "r1", BoardID: "b1", Name: "stuck means high", Active: true,
		TriggerType: models.TriggerStatusChanged, TriggerField: "status", TriggerValue: "stuck",
		ActionType: models.ActionChangePriority, ActionConfig: datatypes.JSONMap{"priority": "high"},
		CreatedAt: base,
	}).Error)

	engine := automation.New(automation.Collaborators{Store: s, Timers: s}, s, automation.Options{}, nil)
	results, err := engine.ProcessEvent(ctx, automation.Event{
		Type: models.TriggerStatusChanged, ScopeID: "b1", EntityID: "t1",
		Field: "status", PreviousValue: "not-started", NewValue: "stuck",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	task, err := s.GetEntity(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "high", task.Priority)

	records, err := s.ListExecutionsByRule(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ExecutionCompleted, records[0].Status)

	rules, _ := s.GetAutomationRulesForScope(ctx, "b1")
	assert.Equal(t, 1, rules[0].RunCount)
}

func TestSeedDemo_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, SeedDemo(s.DB()))
	require.NoError(t, SeedDemo(s.DB()))

	rules, err := s.GetAutomationRulesForScope(context.Background(), DemoBoardID)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	groups, err := s.ListGroupsForScope(context.Background(), DemoBoardID)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "To do", groups[0].Name)
}
