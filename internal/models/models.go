package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Board is the scope automations are attached to.
type Board struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Groups []Group `gorm:"foreignKey:BoardID" json:"groups,omitempty"`
}

// Group is an ordered section of a board that tasks live in.
type Group struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BoardID   string    `gorm:"index;not null" json:"board_id"`
	Name      string    `gorm:"not null" json:"name"`
	Position  int       `gorm:"default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is the entity automations read and mutate.
type Task struct {
	ID          string                      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BoardID     string                      `gorm:"index;not null" json:"board_id"`
	GroupID     string                      `gorm:"index" json:"group_id"`
	Name        string                      `gorm:"not null" json:"name"`
	Description string                      `gorm:"type:text" json:"description"`
	Status      string                      `gorm:"default:'not-started'" json:"status"` // not-started, working, stuck, done
	Priority    string                      `gorm:"default:'medium'" json:"priority"`    // low, medium, high, critical
	AssigneeID  string                      `gorm:"index" json:"assignee_id"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	Fields      datatypes.JSONMap           `json:"fields"` // custom column values
	DueDate     *time.Time                  `gorm:"index" json:"due_date"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// HasTag reports case-sensitive membership in the task's tag set.
func (t *Task) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// TimeEntry is one tracked interval on a task. StoppedAt is nil while running.
type TimeEntry struct {
	ID        string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TaskID    string     `gorm:"index;not null" json:"task_id"`
	UserID    string     `gorm:"index" json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at"`
	Seconds   int64      `gorm:"default:0" json:"seconds"`
}

// Notification is a queued outbound message produced by an automation.
type Notification struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	BoardID   string    `gorm:"index" json:"board_id"`
	TaskID    string    `gorm:"index" json:"task_id"`
	Channel   string    `gorm:"index;not null" json:"channel"` // in_app, email, chat
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `gorm:"type:text" json:"body"`
	Status    string    `gorm:"default:'queued'" json:"status"` // queued, delivered
	CreatedAt time.Time `json:"created_at"`
}
