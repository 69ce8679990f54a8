package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/datatypes"

	"boardflow/internal/models"
	"boardflow/pkg/utils"
)

func registerLocalHandlers(d *Dispatcher) {
	d.Register(models.ActionChangeStatus, attributeHandler(models.ActionChangeStatus, "status", models.TriggerStatusChanged,
		func(t *models.Task) string { return t.Status }))
	d.Register(models.ActionChangePriority, attributeHandler(models.ActionChangePriority, "priority", models.TriggerPriorityChanged,
		func(t *models.Task) string { return t.Priority }))
	d.Register(models.ActionAssignPerson, handler{
		execute: executeAssignPerson,
		describe: func(cfg ActionConfig) string {
			return fmt.Sprintf("assign the task to %s", orPlaceholder(assigneeFrom(cfg)))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerPersonAssigned, Field: "assignee_id", Value: assigneeFrom(cfg)}, true
		},
	})
	d.Register(models.ActionUpdateField, handler{
		execute: executeUpdateField,
		describe: func(cfg ActionConfig) string {
			return fmt.Sprintf("set field %s to %s", orPlaceholder(cfg.String("field")), orPlaceholder(cfg.String("value")))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerFieldChanged, Field: cfg.String("field"), Value: cfg.String("value")}, true
		},
	})
	d.Register(models.ActionMoveToGroup, handler{
		execute: executeMoveToGroup,
		describe: func(cfg ActionConfig) string {
			return fmt.Sprintf("move the task to group %s", orPlaceholder(cfg.String("group_id")))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerFieldChanged, Field: "group_id", Value: cfg.String("group_id")}, true
		},
	})
	d.Register(models.ActionAddTag, handler{
		execute: executeAddTag,
		describe: func(cfg ActionConfig) string {
			return fmt.Sprintf("add tags %v to the task", tagsFrom(cfg))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			tags := tagsFrom(cfg)
			value := ""
			if len(tags) == 1 {
				value = tags[0]
			}
			return Effect{Trigger: models.TriggerTagAdded, Field: "tags", Value: value}, true
		},
	})
	d.Register(models.ActionCreateItem, handler{
		execute: executeCreateItem,
		describe: func(cfg ActionConfig) string {
			return fmt.Sprintf("create item %q in the board's first group", itemName(cfg))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerItemCreated}, true
		},
	})
	d.Register(models.ActionStartTimeTracking, handler{
		execute: executeStartTimer,
		describe: func(cfg ActionConfig) string {
			return "start time tracking on the task"
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerTimeTrackingStarted}, true
		},
	})
	d.Register(models.ActionStopTimeTracking, handler{
		execute: executeStopTimer,
		describe: func(cfg ActionConfig) string {
			return "stop time tracking on the task"
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: models.TriggerTimeTrackingStopped}, true
		},
	})
}

// loadTask fetches the event's task. A nil task with a nil error means the
// caller should return the skip outcome.
func loadTask(ctx context.Context, action models.ActionType, evt Event, c Collaborators) (*models.Task, Outcome, error) {
	if evt.EntityID == "" {
		return nil, skipped("event carries no task id"), nil
	}
	task, err := c.Store.GetEntity(ctx, evt.EntityID)
	if errors.Is(err, ErrEntityNotFound) {
		return nil, skipped("task %s not found", evt.EntityID), nil
	}
	if err != nil {
		return nil, Outcome{}, storeError(action, err)
	}
	return task, Outcome{}, nil
}

func updateTask(ctx context.Context, action models.ActionType, c Collaborators, id string, updates map[string]interface{}) (*models.Task, Outcome, error) {
	task, err := c.Store.UpdateEntity(ctx, id, updates)
	if errors.Is(err, ErrEntityNotFound) {
		return nil, skipped("task %s not found", id), nil
	}
	if err != nil {
		return nil, Outcome{}, storeError(action, err)
	}
	return task, Outcome{}, nil
}

// attributeHandler builds the change_status / change_priority handlers, which
// differ only in the column they write and the event they emit.
func attributeHandler(action models.ActionType, column string, trigger models.TriggerType, current func(*models.Task) string) handler {
	return handler{
		execute: func(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
			value := cfg.FirstString(column, "value")
			if value == "" {
				return Outcome{}, configError(action, "%s is required", column)
			}
			task, skip, err := loadTask(ctx, action, evt, c)
			if task == nil {
				return skip, err
			}

			previous := current(task)
			if previous == value {
				return completed("%s already %s", column, value), nil
			}

			updated, skip, err := updateTask(ctx, action, c, task.ID, map[string]interface{}{column: value})
			if updated == nil {
				return skip, err
			}

			out := completed("%s changed from %s to %s", column, previous, value)
			out.Data = map[string]interface{}{"task_id": task.ID, column: value}
			out.FollowUps = []Event{{
				Type:          trigger,
				ScopeID:       updated.BoardID,
				EntityID:      updated.ID,
				Field:         column,
				PreviousValue: previous,
				NewValue:      value,
			}}
			return out, nil
		},
		describe: func(cfg ActionConfig) string {
			return fmt.Sprintf("set %s to %s", column, orPlaceholder(cfg.FirstString(column, "value")))
		},
		effect: func(cfg ActionConfig) (Effect, bool) {
			return Effect{Trigger: trigger, Field: column, Value: cfg.FirstString(column, "value")}, true
		},
	}
}

func assigneeFrom(cfg ActionConfig) string {
	return cfg.FirstString("person_id", "assignee_id", "user_id")
}

func executeAssignPerson(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionAssignPerson
	person := assigneeFrom(cfg)
	if person == "" {
		return Outcome{}, configError(action, "person_id is required")
	}
	task, skip, err := loadTask(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}
	if task.AssigneeID == person {
		return completed("task already assigned to %s", person), nil
	}

	previous := task.AssigneeID
	updated, skip, err := updateTask(ctx, action, c, task.ID, map[string]interface{}{"assignee_id": person})
	if updated == nil {
		return skip, err
	}
	out := completed("task assigned to %s", person)
	out.FollowUps = []Event{{
		Type:          models.TriggerPersonAssigned,
		ScopeID:       updated.BoardID,
		EntityID:      updated.ID,
		Field:         "assignee_id",
		PreviousValue: previous,
		NewValue:      person,
	}}
	return out, nil
}

func executeUpdateField(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionUpdateField
	field := cfg.String("field")
	if field == "" {
		return Outcome{}, configError(action, "field is required")
	}
	value, ok := cfg["value"]
	if !ok {
		return Outcome{}, configError(action, "value is required")
	}
	task, skip, err := loadTask(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}

	previous, had := task.Fields[field]
	if had && valuesEqual(previous, value) {
		return completed("field %s unchanged", field), nil
	}

	fields := datatypes.JSONMap{}
	for k, v := range task.Fields {
		fields[k] = v
	}
	fields[field] = value

	updated, skip, err := updateTask(ctx, action, c, task.ID, map[string]interface{}{"fields": fields})
	if updated == nil {
		return skip, err
	}
	out := completed("field %s set to %v", field, value)
	out.FollowUps = []Event{{
		Type:          models.TriggerFieldChanged,
		ScopeID:       updated.BoardID,
		EntityID:      updated.ID,
		Field:         field,
		PreviousValue: previous,
		NewValue:      value,
	}}
	return out, nil
}

func executeMoveToGroup(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionMoveToGroup
	groupID := cfg.String("group_id")
	if groupID == "" {
		return Outcome{}, configError(action, "group_id is required")
	}
	task, skip, err := loadTask(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}
	if task.GroupID == groupID {
		return completed("task already in group %s", groupID), nil
	}

	groups, err := c.Store.ListGroupsForScope(ctx, task.BoardID)
	if err != nil {
		return Outcome{}, storeError(action, err)
	}
	if findGroup(groups, groupID) == nil {
		return skipped("group %s not found in board %s", groupID, task.BoardID), nil
	}

	previous := task.GroupID
	updated, skip, err := updateTask(ctx, action, c, task.ID, map[string]interface{}{"group_id": groupID})
	if updated == nil {
		return skip, err
	}
	out := completed("task moved to group %s", groupID)
	out.FollowUps = []Event{{
		Type:          models.TriggerFieldChanged,
		ScopeID:       updated.BoardID,
		EntityID:      updated.ID,
		Field:         "group_id",
		PreviousValue: previous,
		NewValue:      groupID,
	}}
	return out, nil
}

func tagsFrom(cfg ActionConfig) []string {
	raw := cfg.Strings("tags")
	if len(raw) == 0 {
		raw = cfg.Strings("tag")
	}
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = utils.NormalizeTag(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// mergeTags returns existing plus the tags not already present, and the additions.
func mergeTags(existing []string, incoming []string) ([]string, []string) {
	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	var added []string
	for _, t := range incoming {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		merged = append(merged, t)
		added = append(added, t)
	}
	return merged, added
}

// applyTags merges tags into task and emits one tag_added follow-up per new tag.
func applyTags(ctx context.Context, action models.ActionType, c Collaborators, task *models.Task, tags []string, extra map[string]interface{}) (*models.Task, []string, Outcome, error) {
	merged, added := mergeTags(task.Tags, tags)
	if len(added) == 0 && len(extra) == 0 {
		return task, nil, Outcome{}, nil
	}
	updates := map[string]interface{}{}
	for k, v := range extra {
		updates[k] = v
	}
	if len(added) > 0 {
		updates["tags"] = datatypes.JSONSlice[string](merged)
	}
	updated, skip, err := updateTask(ctx, action, c, task.ID, updates)
	if updated == nil {
		return nil, nil, skip, err
	}
	return updated, added, Outcome{}, nil
}

func tagFollowUps(task *models.Task, added []string) []Event {
	events := make([]Event, 0, len(added))
	for _, t := range added {
		events = append(events, Event{
			Type:     models.TriggerTagAdded,
			ScopeID:  task.BoardID,
			EntityID: task.ID,
			Field:    "tags",
			NewValue: t,
		})
	}
	return events
}

func executeAddTag(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionAddTag
	tags := tagsFrom(cfg)
	if len(tags) == 0 {
		return Outcome{}, configError(action, "tag is required")
	}
	task, skip, err := loadTask(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}

	updated, added, skip, err := applyTags(ctx, action, c, task, tags, nil)
	if updated == nil {
		return skip, err
	}
	if len(added) == 0 {
		return completed("task already tagged %v", tags), nil
	}
	out := completed("added tags %v", added)
	out.Data = map[string]interface{}{"tags": []string(updated.Tags)}
	out.FollowUps = tagFollowUps(updated, added)
	return out, nil
}

func itemName(cfg ActionConfig) string {
	if name := cfg.FirstString("name", "item_name", "title"); name != "" {
		return name
	}
	return "New item"
}

func findGroup(groups []models.Group, id string) *models.Group {
	for i := range groups {
		if groups[i].ID == id {
			return &groups[i]
		}
	}
	return nil
}

func executeCreateItem(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionCreateItem
	boardID := cfg.String("board_id")
	if boardID == "" {
		boardID = evt.ScopeID
	}

	groups, err := c.Store.ListGroupsForScope(ctx, boardID)
	if err != nil {
		return Outcome{}, storeError(action, err)
	}
	if len(groups) == 0 {
		return skipped("item creation skipped: board %s has no groups", boardID), nil
	}

	group := findGroup(groups, cfg.String("group_id"))
	if group == nil {
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].Position < groups[j].Position })
		group = &groups[0]
	}

	task := &models.Task{
		ID:          utils.GenerateID(),
		BoardID:     boardID,
		GroupID:     group.ID,
		Name:        itemName(cfg),
		Description: cfg.String("description"),
		Status:      cfg.String("status"),
		Priority:    cfg.String("priority"),
		AssigneeID:  assigneeFrom(cfg),
	}
	if task.Status == "" {
		task.Status = "not-started"
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	if tags := tagsFrom(cfg); len(tags) > 0 {
		task.Tags = datatypes.JSONSlice[string](tags)
	}

	created, err := c.Store.CreateEntity(ctx, task)
	if err != nil {
		return Outcome{}, storeError(action, err)
	}
	out := completed("created item %q in group %s", created.Name, group.Name)
	out.Data = map[string]interface{}{"task_id": created.ID, "group_id": group.ID}
	out.FollowUps = []Event{{
		Type:     models.TriggerItemCreated,
		ScopeID:  created.BoardID,
		EntityID: created.ID,
		NewValue: created.Name,
		Metadata: map[string]interface{}{"source_task_id": evt.EntityID},
	}}
	return out, nil
}

func executeStartTimer(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionStartTimeTracking
	if c.Timers == nil {
		return Outcome{}, notConnected(action, "time tracking")
	}
	task, skip, err := loadTask(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}
	user := cfg.String("user_id")
	if user == "" {
		user = task.AssigneeID
	}

	entry, changed, err := c.Timers.StartTimer(ctx, task.ID, user)
	if errors.Is(err, ErrEntityNotFound) {
		return skipped("task %s not found", task.ID), nil
	}
	if err != nil {
		return Outcome{}, storeError(action, err)
	}
	if !changed {
		return completed("timer already running on task %s", task.ID), nil
	}
	out := completed("timer started on task %s", task.ID)
	out.Data = map[string]interface{}{"time_entry_id": entry.ID}
	out.FollowUps = []Event{{
		Type:     models.TriggerTimeTrackingStarted,
		ScopeID:  task.BoardID,
		EntityID: task.ID,
		Metadata: map[string]interface{}{"time_entry_id": entry.ID, "user_id": user},
	}}
	return out, nil
}

func executeStopTimer(ctx context.Context, evt Event, cfg ActionConfig, c Collaborators) (Outcome, error) {
	const action = models.ActionStopTimeTracking
	if c.Timers == nil {
		return Outcome{}, notConnected(action, "time tracking")
	}
	task, skip, err := loadTask(ctx, action, evt, c)
	if task == nil {
		return skip, err
	}

	entry, changed, err := c.Timers.StopTimer(ctx, task.ID)
	if errors.Is(err, ErrEntityNotFound) {
		return skipped("task %s not found", task.ID), nil
	}
	if err != nil {
		return Outcome{}, storeError(action, err)
	}
	if !changed {
		return completed("no running timer on task %s", task.ID), nil
	}
	out := completed("timer stopped on task %s after %ds", task.ID, entry.Seconds)
	out.Data = map[string]interface{}{"time_entry_id": entry.ID, "seconds": entry.Seconds}
	out.FollowUps = []Event{{
		Type:     models.TriggerTimeTrackingStopped,
		ScopeID:  task.BoardID,
		EntityID: task.ID,
		Metadata: map[string]interface{}{"time_entry_id": entry.ID, "seconds": entry.Seconds},
	}}
	return out, nil
}

func orPlaceholder(s string) string {
	if s == "" {
		return "<unset>"
	}
	return s
}
