package automation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardflow/internal/models"
	"boardflow/pkg/synseekr"
)

func dispatch(t *testing.T, d *Dispatcher, action models.ActionType, cfg map[string]interface{}, evt Event) (Outcome, error) {
	t.Helper()
	return d.Dispatch(context.Background(), models.AutomationRule{ID: "r", ActionType: action, ActionConfig: cfg}, evt)
}

func taskEvent(id string) Event {
	return Event{Type: models.TriggerStatusChanged, ScopeID: "b1", EntityID: id, Field: "status", NewValue: "stuck"}
}

func newDispatcher(store *memStore, completion CompletionProvider, intel IntelligenceClient) *Dispatcher {
	return NewDispatcher(Collaborators{
		Store: store, Timers: store, Notifier: store,
		Completion: completion, Intelligence: intel, Now: clock,
	}, 500, quietLogger())
}

func TestDispatcher_UnsupportedAndPanics(t *testing.T) {
	store := newMemStore()
	d := newDispatcher(store, nil, nil)

	out, err := dispatch(t, d, "teleport", nil, taskEvent("t1"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "stub: unsupported action teleport", out.Message)

	d.Register("explode", handler{execute: func(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
		panic("boom")
	}})
	out, err = dispatch(t, d, "explode", nil, taskEvent("t1"))
	require.Error(t, err)
	var actionErr *ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Equal(t, KindInternal, actionErr.Kind)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "panic: boom")
}

func TestDispatcher_TruncatesErrors(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	long := strings.Repeat("x", 2000)
	d := NewDispatcher(Collaborators{Store: store, Completion: &fakeCompletion{available: true, err: errors.New(long)}}, 100, quietLogger())

	out, err := dispatch(t, d, models.ActionAISummarize, nil, taskEvent("t1"))
	require.Error(t, err)
	assert.Equal(t, 100, len([]rune(out.Message)))
	assert.True(t, strings.HasSuffix(out.Message, "..."))
}

func TestDispatcher_AllBuiltinsRegistered(t *testing.T) {
	d := newDispatcher(newMemStore(), nil, nil)
	for _, a := range []models.ActionType{
		models.ActionChangeStatus, models.ActionChangePriority, models.ActionAssignPerson, models.ActionUpdateField,
		models.ActionMoveToGroup, models.ActionAddTag, models.ActionCreateItem, models.ActionStartTimeTracking,
		models.ActionStopTimeTracking, models.ActionSendNotification, models.ActionSendEmail, models.ActionSendChatMessage,
		models.ActionAISummarize, models.ActionAICategorize, models.ActionAIExtract, models.ActionAITranslate,
		models.ActionSynSeekrAnalyzeDocument, models.ActionSynSeekrExtractEntities, models.ActionSynSeekrRAGQuery,
		models.ActionSynSeekrRunInvestigation, models.ActionSynSeekrDetectContradictions, models.ActionSynSeekrClassifyDocument,
		models.ActionSynSeekrRunAgent, models.ActionSynSeekrSearchDocuments, models.ActionSynSeekrGetTimeline,
	} {
		assert.True(t, d.Has(a), "missing handler for %s", a)
		assert.NotEmpty(t, d.Describe(models.AutomationRule{ActionType: a}), "empty description for %s", a)
	}
	assert.Len(t, d.ActionTypes(), 25)
}

func TestLocalHandlers(t *testing.T) {
	tests := []struct {
		name    string
		action  models.ActionType
		cfg     map[string]interface{}
		check   func(t *testing.T, store *memStore, out Outcome)
		wantErr bool
	}{
		{
			name:   "change status emits follow-up",
			action: models.ActionChangeStatus,
			cfg:    map[string]interface{}{"status": "done"},
			check: func(t *testing.T, store *memStore, out Outcome) {
				assert.Equal(t, "done", store.task("t1").Status)
				require.Len(t, out.FollowUps, 1)
				assert.Equal(t, models.TriggerStatusChanged, out.FollowUps[0].Type)
				assert.Equal(t, "not-started", out.FollowUps[0].PreviousValue)
				assert.Equal(t, "done", out.FollowUps[0].NewValue)
			},
		},
		{
			name:   "same status is a no-op",
			action: models.ActionChangeStatus,
			cfg:    map[string]interface{}{"status": "not-started"},
			check: func(t *testing.T, store *memStore, out Outcome) {
				assert.Empty(t, out.FollowUps)
				assert.Equal(t, 0, store.entityUpdates)
			},
		},
		{
			name:    "missing status is a config error",
			action:  models.ActionChangeStatus,
			cfg:     map[string]interface{}{},
			wantErr: true,
		},
		{
			name:   "assign person",
			action: models.ActionAssignPerson,
			cfg:    map[string]interface{}{"person_id": "u7"},
			check: func(t *testing.T, store *memStore, out Outcome) {
				assert.Equal(t, "u7", store.task("t1").AssigneeID)
				require.Len(t, out.FollowUps, 1)
				assert.Equal(t, models.TriggerPersonAssigned, out.FollowUps[0].Type)
			},
		},
		{
			name:   "update custom field",
			action: models.ActionUpdateField,
			cfg:    map[string]interface{}{"field": "court", "value": "District 4"},
			check: func(t *testing.T, store *memStore, out Outcome) {
				assert.Equal(t, "District 4", store.task("t1").Fields["court"])
				require.Len(t, out.FollowUps, 1)
				assert.Equal(t, "court", out.FollowUps[0].Field)
			},
		},
		{
			name:   "move to existing group",
			action: models.ActionMoveToGroup,
			cfg:    map[string]interface{}{"group_id": "g2"},
			check: func(t *testing.T, store *memStore, out Outcome) {
				assert.Equal(t, "g2", store.task("t1").GroupID)
			},
		},
		{
			name:   "move to unknown group is skipped",
			action: models.ActionMoveToGroup,
			cfg:    map[string]interface{}{"group_id": "nope"},
			check: func(t *testing.T, store *memStore, out Outcome) {
				assert.Contains(t, out.Message, "skipped")
				assert.Equal(t, "g1", store.task("t1").GroupID)
			},
		},
		{
			name:   "create item uses first group by position",
			action: models.ActionCreateItem,
			cfg:    map[string]interface{}{"name": "Prepare exhibits", "tags": []interface{}{"#filing"}},
			check: func(t *testing.T, store *memStore, out Outcome) {
				id, _ := out.Data["task_id"].(string)
				created := store.task(id)
				require.NotNil(t, created)
				assert.Equal(t, "Prepare exhibits", created.Name)
				assert.Equal(t, "g1", created.GroupID)
				assert.Equal(t, []string{"filing"}, []string(created.Tags))
				require.Len(t, out.FollowUps, 1)
				assert.Equal(t, models.TriggerItemCreated, out.FollowUps[0].Type)
			},
		},
		{
			name:   "start and stop timer",
			action: models.ActionStartTimeTracking,
			cfg:    map[string]interface{}{"user_id": "u1"},
			check: func(t *testing.T, store *memStore, out Outcome) {
				require.Len(t, out.FollowUps, 1)
				assert.Equal(t, models.TriggerTimeTrackingStarted, out.FollowUps[0].Type)
				assert.Nil(t, store.timers["t1"].StoppedAt)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			seedBoard(store)
			store.addGroup(models.Group{ID: "g2", BoardID: "b1", Name: "Doing", Position: 1})
			d := newDispatcher(store, nil, nil)

			out, err := dispatch(t, d, tt.action, tt.cfg, taskEvent("t1"))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidActionConfig)
				assert.False(t, out.Success)
				return
			}
			require.NoError(t, err)
			assert.True(t, out.Success)
			tt.check(t, store, out)
		})
	}
}

func TestLocalHandlers_MissingTaskSkips(t *testing.T) {
	store := newMemStore()
	d := newDispatcher(store, nil, nil)

	for _, action := range []models.ActionType{
		models.ActionChangeStatus, models.ActionChangePriority, models.ActionAssignPerson,
		models.ActionUpdateField, models.ActionMoveToGroup, models.ActionAddTag,
		models.ActionStartTimeTracking, models.ActionStopTimeTracking,
	} {
		cfg := map[string]interface{}{"status": "done", "priority": "high", "person_id": "u1", "field": "f", "value": "v", "group_id": "g1", "tag": "x"}
		out, err := dispatch(t, d, action, cfg, taskEvent("ghost"))
		require.NoError(t, err, "action %s", action)
		assert.True(t, out.Success)
		assert.Contains(t, out.Message, "skipped", "action %s", action)
	}
}

func TestAddTag_Idempotent(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	d := newDispatcher(store, nil, nil)
	cfg := map[string]interface{}{"tags": "urgent, review"}

	out, err := dispatch(t, d, models.ActionAddTag, cfg, taskEvent("t1"))
	require.NoError(t, err)
	assert.Len(t, out.FollowUps, 2)

	out, err = dispatch(t, d, models.ActionAddTag, cfg, taskEvent("t1"))
	require.NoError(t, err)
	assert.Empty(t, out.FollowUps)
	assert.Equal(t, []string{"urgent", "review"}, []string(store.task("t1").Tags))
}

func TestStopTimer(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	d := newDispatcher(store, nil, nil)

	out, err := dispatch(t, d, models.ActionStopTimeTracking, nil, taskEvent("t1"))
	require.NoError(t, err)
	assert.Contains(t, out.Message, "no running timer")

	_, err = dispatch(t, d, models.ActionStartTimeTracking, nil, taskEvent("t1"))
	require.NoError(t, err)
	out, err = dispatch(t, d, models.ActionStopTimeTracking, nil, taskEvent("t1"))
	require.NoError(t, err)
	assert.Equal(t, int64(90), out.Data["seconds"])
	require.Len(t, out.FollowUps, 1)
	assert.Equal(t, models.TriggerTimeTrackingStopped, out.FollowUps[0].Type)

	noTimers := NewDispatcher(Collaborators{Store: store}, 500, quietLogger())
	_, err = dispatch(t, noTimers, models.ActionStartTimeTracking, nil, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrServiceNotConnected)
}

func TestNotificationHandlers(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	store.addTask(models.Task{ID: "t1", BoardID: "b1", GroupID: "g1", Name: "Draft motion", Status: "stuck", AssigneeID: "u3"})
	d := newDispatcher(store, nil, nil)

	out, err := dispatch(t, d, models.ActionSendNotification, nil, taskEvent("t1"))
	require.NoError(t, err)
	assert.Contains(t, out.Message, "queued")

	_, err = dispatch(t, d, models.ActionSendEmail, map[string]interface{}{"to": "lead@firm.test", "subject": "{{task_name}} needs attention"}, taskEvent("t1"))
	require.NoError(t, err)

	_, err = dispatch(t, d, models.ActionSendChatMessage, map[string]interface{}{}, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrInvalidActionConfig)

	require.Len(t, store.notifications, 2)
	assert.Equal(t, ChannelInApp, store.notifications[0].Channel)
	assert.Equal(t, "u3", store.notifications[0].Recipient)
	assert.Equal(t, "Draft motion: status changed from  to stuck", store.notifications[0].Body)
	assert.Equal(t, ChannelEmail, store.notifications[1].Channel)
	assert.Equal(t, "Draft motion needs attention", store.notifications[1].Subject)

	noNotifier := NewDispatcher(Collaborators{Store: store}, 500, quietLogger())
	_, err = dispatch(t, noNotifier, models.ActionSendNotification, nil, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrServiceNotConnected)
}

func TestAICategorize_MergesTagsIdempotently(t *testing.T) {
	store := newMemStore()
	seedBoard(store)
	store.addTask(models.Task{ID: "t1", BoardID: "b1", GroupID: "g1", Name: "Review lease", Tags: []string{"contract"}})
	ai := &fakeCompletion{available: true, responses: []string{
		"```json\n{\"category\": \"real-estate\", \"tags\": [\"lease\", \"contract\", \"#review\"]}\n```",
	}}
	d := newDispatcher(store, ai, nil)
	cfg := map[string]interface{}{"categories": []interface{}{"real-estate", "litigation"}}

	out, err := dispatch(t, d, models.ActionAICategorize, cfg, taskEvent("t1"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, ai.lastCfg.JSONMode)
	assert.Contains(t, ai.last[0].Content, "real-estate, litigation")

	task := store.task("t1")
	assert.Equal(t, []string{"contract", "lease", "review"}, []string(task.Tags))
	assert.Equal(t, "real-estate", task.Fields["category"])

	out, err = dispatch(t, d, models.ActionAICategorize, cfg, taskEvent("t1"))
	require.NoError(t, err)
	assert.Contains(t, out.Message, "already categorized")
	assert.Empty(t, out.FollowUps)
	assert.Equal(t, []string{"contract", "lease", "review"}, []string(store.task("t1").Tags))
}

func TestAICategorize_Failures(t *testing.T) {
	store := newMemStore()
	seedBoard(store)

	_, err := dispatch(t, newDispatcher(store, nil, nil), models.ActionAICategorize, nil, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrServiceNotConnected)
	assert.Contains(t, err.Error(), "AI service not connected")

	_, err = dispatch(t, newDispatcher(store, &fakeCompletion{available: false}, nil), models.ActionAICategorize, nil, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrServiceNotConnected)

	garbled := &fakeCompletion{available: true, responses: []string{"I think it's about leases."}}
	_, err = dispatch(t, newDispatcher(store, garbled, nil), models.ActionAICategorize, nil, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrUnparseableResponse)

	prose := &fakeCompletion{available: true, responses: []string{"Sure! {\"category\":\"ops\",\"tags\":[\"infra\"]} Hope that helps."}}
	out, err := dispatch(t, newDispatcher(store, prose, nil), models.ActionAICategorize, nil, taskEvent("t1"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, store.task("t1").HasTag("infra"))
}

func TestAISummarizeExtractTranslate(t *testing.T) {
	store := newMemStore()
	seedBoard(store)

	summary := &fakeCompletion{available: true, responses: []string{"  Motion draft awaiting review.  "}}
	out, err := dispatch(t, newDispatcher(store, summary, nil), models.ActionAISummarize, nil, taskEvent("t1"))
	require.NoError(t, err)
	assert.Equal(t, "Motion draft awaiting review.", store.task("t1").Fields["ai_summary"])
	require.Len(t, out.FollowUps, 1)
	assert.Equal(t, "ai_summary", out.FollowUps[0].Field)

	extract := &fakeCompletion{available: true, responses: []string{`{"client":"Acme","amount":120,"ignored":"x"}`}}
	out, err = dispatch(t, newDispatcher(store, extract, nil), models.ActionAIExtract, map[string]interface{}{"fields": []interface{}{"client", "amount", "court"}}, taskEvent("t1"))
	require.NoError(t, err)
	assert.Contains(t, out.Message, "extracted 2 of 3")
	fields := store.task("t1").Fields
	assert.Equal(t, "Acme", fields["client"])
	assert.Nil(t, fields["ignored"])

	_, err = dispatch(t, newDispatcher(store, extract, nil), models.ActionAITranslate, nil, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrInvalidActionConfig)

	translate := &fakeCompletion{available: true, responses: []string{"Borrador de moción"}}
	_, err = dispatch(t, newDispatcher(store, translate, nil), models.ActionAITranslate, map[string]interface{}{"target_language": "es"}, taskEvent("t1"))
	require.NoError(t, err)
	assert.Equal(t, "Borrador de moción", store.task("t1").Fields["translation_es"])
}

func TestIntelligenceHandlers(t *testing.T) {
	store := newMemStore()
	seedBoard(store)

	disabled := &fakeIntel{enabled: false}
	_, err := dispatch(t, newDispatcher(store, nil, disabled), models.ActionSynSeekrRAGQuery, map[string]interface{}{"query": "q"}, taskEvent("t1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SynSeekr service not connected")
	assert.Empty(t, disabled.calls)

	_, err = dispatch(t, newDispatcher(store, nil, nil), models.ActionSynSeekrGetTimeline, nil, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrServiceNotConnected)

	intel := &fakeIntel{enabled: true, result: &synseekr.Result{Success: true, Data: map[string]interface{}{"answer": "The lease expires in May."}}}
	d := newDispatcher(store, nil, intel)
	out, err := dispatch(t, d, models.ActionSynSeekrRAGQuery,
		map[string]interface{}{"query": "When does the lease expire?", "output_field": "lease_answer", "output_key": "answer"}, taskEvent("t1"))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "The lease expires in May.", store.task("t1").Fields["lease_answer"])
	assert.Equal(t, "b1", intel.lastRAG.CaseID)
	assert.Equal(t, 5, intel.lastRAG.TopK)

	_, err = dispatch(t, d, models.ActionSynSeekrRAGQuery, map[string]interface{}{}, taskEvent("t1"))
	assert.ErrorIs(t, err, ErrInvalidActionConfig)

	for _, a := range []models.ActionType{
		models.ActionSynSeekrDetectContradictions, models.ActionSynSeekrGetTimeline,
	} {
		out, err := dispatch(t, d, a, nil, taskEvent("t1"))
		require.NoError(t, err)
		assert.True(t, out.Success)
	}
	assert.Contains(t, intel.calls, "contradictions")
	assert.Contains(t, intel.calls, "timeline")

	failing := &fakeIntel{enabled: true, result: &synseekr.Result{Success: false, Error: "case not indexed"}}
	out, err = dispatch(t, newDispatcher(store, nil, failing), models.ActionSynSeekrAnalyzeDocument, map[string]interface{}{"document_id": "doc-1"}, taskEvent("t1"))
	require.Error(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "case not indexed")

	transport := &fakeIntel{enabled: true, err: errors.New("dial tcp: connection refused")}
	out, err = dispatch(t, newDispatcher(store, nil, transport), models.ActionSynSeekrRunAgent, map[string]interface{}{"agent": "paralegal"}, taskEvent("t1"))
	require.Error(t, err)
	var actionErr *ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Equal(t, KindProvider, actionErr.Kind)
	assert.Contains(t, out.Message, "connection refused")
}

func TestRenderTemplate(t *testing.T) {
	task := &models.Task{Name: "Intake", Status: "working", Priority: "high"}
	evt := Event{Type: models.TriggerStatusChanged, ScopeID: "b1", EntityID: "t1", Field: "status", PreviousValue: "stuck", NewValue: "working"}

	got := renderTemplate("{{task_name}} moved {{previous_value}} -> {{new_value}} ({{priority}}) on {{board_id}}", evt, task)
	assert.Equal(t, "Intake moved stuck -> working (high) on b1", got)
	assert.Equal(t, "plain", renderTemplate("plain", evt, nil))
	assert.Equal(t, "t1", renderTemplate("{{task_name}}", evt, nil))

	due := time.Date(2025, 3, 11, 17, 0, 0, 0, time.UTC)
	task.DueDate = &due
	assert.Equal(t, "Intake due 2025-03-11 17:00:00", renderTemplate("{{task_name}} due {{due_date}}", evt, task))
	assert.Equal(t, "due ", renderTemplate("due {{due_date}}", evt, nil))
}

func TestMergeTags(t *testing.T) {
	merged, added := mergeTags([]string{"a", "b"}, []string{"b", "c", "c", ""})
	assert.Equal(t, []string{"a", "b", "c"}, merged)
	assert.Equal(t, []string{"c"}, added)

	_, added = mergeTags(merged, []string{"a", "c"})
	assert.Empty(t, added)
}
