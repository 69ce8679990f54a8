package store

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"boardflow/internal/models"
)

// DemoBoardID is the board created by SeedDemo.
const DemoBoardID = "demo"

// SeedDemo creates a small demo board with two rules. Existing rows are left alone.
func SeedDemo(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		board := models.Board{ID: DemoBoardID, Name: "Demo board", Description: "Created by boardflow migrate --seed"}
		if err := tx.FirstOrCreate(&board, models.Board{ID: board.ID}).Error; err != nil {
			return err
		}

		groups := []models.Group{
			{ID: "demo-todo", BoardID: DemoBoardID, Name: "To do", Position: 0},
			{ID: "demo-doing", BoardID: DemoBoardID, Name: "In progress", Position: 1},
			{ID: "demo-done", BoardID: DemoBoardID, Name: "Done", Position: 2},
		}
		for i := range groups {
			if err := tx.FirstOrCreate(&groups[i], models.Group{ID: groups[i].ID}).Error; err != nil {
				return err
			}
		}

		task := models.Task{
			ID:       "demo-task",
			BoardID:  DemoBoardID,
			GroupID:  "demo-todo",
			Name:     "Draft engagement letter",
			Status:   "not-started",
			Priority: "medium",
			Tags:     datatypes.JSONSlice[string]{},
		}
		if err := tx.FirstOrCreate(&task, models.Task{ID: task.ID}).Error; err != nil {
			return err
		}

		rules := []models.AutomationRule{
			{
				ID:           "demo-rule-done",
				BoardID:      DemoBoardID,
				Name:         "Move finished work to Done",
				Active:       true,
				TriggerType:  models.TriggerStatusChanged,
				TriggerValue: "done",
				ActionType:   models.ActionMoveToGroup,
				ActionConfig: datatypes.JSONMap{"group_id": "demo-done"},
			},
			{
				ID:           "demo-rule-critical",
				BoardID:      DemoBoardID,
				Name:         "Flag critical tasks",
				Active:       true,
				TriggerType:  models.TriggerPriorityChanged,
				TriggerValue: "critical",
				ActionType:   models.ActionAddTag,
				ActionConfig: datatypes.JSONMap{"tags": []interface{}{"urgent"}},
			},
		}
		for i := range rules {
			if err := tx.FirstOrCreate(&rules[i], models.AutomationRule{ID: rules[i].ID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
