package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"boardflow/internal/automation"
	"boardflow/internal/models"
	"boardflow/pkg/utils"
)

// Store is the GORM-backed entity, timer, notification and ledger store.
type Store struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

var (
	_ automation.EntityStore = (*Store)(nil)
	_ automation.TimeTracker = (*Store)(nil)
	_ automation.LedgerStore = (*Store)(nil)
)

func New(db *gorm.DB, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// DB exposes the underlying handle for services sharing the connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// GetAutomationRulesForScope returns every rule on the board, active or not,
// oldest first so that evaluation order is stable.
func (s *Store) GetAutomationRulesForScope(ctx context.Context, scopeID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("board_id = ?", scopeID).
		Order("created_at ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) UpdateAutomationRule(ctx context.Context, id string, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return automation.ErrRuleNotFound
	}
	return nil
}

// RecordRuleRun bumps run_count with a single UPDATE so concurrent and
// cascaded firings never overwrite each other's count.
func (s *Store) RecordRuleRun(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(map[string]interface{}{
		"run_count": gorm.Expr("run_count + ?", 1),
		"last_run":  at,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return automation.ErrRuleNotFound
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, automation.ErrEntityNotFound
		}
		return nil, err
	}
	return &task, nil
}

// UpdateEntity applies column updates and returns the task as stored afterwards.
func (s *Store) UpdateEntity(ctx context.Context, id string, updates map[string]interface{}) (*models.Task, error) {
	result := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, automation.ErrEntityNotFound
	}
	return s.GetEntity(ctx, id)
}

func (s *Store) CreateEntity(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.ID == "" {
		task.ID = utils.GenerateID()
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (s *Store) ListGroupsForScope(ctx context.Context, scopeID string) ([]models.Group, error) {
	var groups []models.Group
	err := s.db.WithContext(ctx).
		Where("board_id = ?", scopeID).
		Order("position ASC, id ASC").
		Find(&groups).Error
	return groups, err
}

// ListEntitiesForScope returns up to limit tasks on the board, oldest first.
// limit <= 0 returns all of them.
func (s *Store) ListEntitiesForScope(ctx context.Context, scopeID string, limit int) ([]models.Task, error) {
	q := s.db.WithContext(ctx).Where("board_id = ?", scopeID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListDueTasks returns unfinished tasks whose due date falls in [from, to].
func (s *Store) ListDueTasks(ctx context.Context, from, to time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("due_date IS NOT NULL AND due_date >= ? AND due_date <= ?", from, to).
		Where("status <> ?", "done").
		Order("due_date ASC, id ASC").
		Find(&tasks).Error
	return tasks, err
}

// StartTimer opens a time entry unless one is already running on the task.
func (s *Store) StartTimer(ctx context.Context, taskID, userID string) (*models.TimeEntry, bool, error) {
	if _, err := s.GetEntity(ctx, taskID); err != nil {
		return nil, false, err
	}

	var running models.TimeEntry
	err := s.db.WithContext(ctx).Where("task_id = ? AND stopped_at IS NULL", taskID).First(&running).Error
	if err == nil {
		return &running, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	entry := &models.TimeEntry{
		ID:        utils.GenerateID(),
		TaskID:    taskID,
		UserID:    userID,
		StartedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, false, fmt.Errorf("start timer: %w", err)
	}
	return entry, true, nil
}

// StopTimer closes the running entry on the task; with none running it reports no change.
func (s *Store) StopTimer(ctx context.Context, taskID string) (*models.TimeEntry, bool, error) {
	var running models.TimeEntry
	err := s.db.WithContext(ctx).Where("task_id = ? AND stopped_at IS NULL", taskID).First(&running).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	stopped := s.now()
	seconds := int64(stopped.Sub(running.StartedAt) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	err = s.db.WithContext(ctx).Model(&models.TimeEntry{}).
		Where("id = ? AND stopped_at IS NULL", running.ID).
		Updates(map[string]interface{}{"stopped_at": stopped, "seconds": seconds}).Error
	if err != nil {
		return nil, false, fmt.Errorf("stop timer: %w", err)
	}
	running.StoppedAt = &stopped
	running.Seconds = seconds
	return &running, true, nil
}

// CreateNotification persists a queued notification.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = utils.GenerateID()
	}
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *Store) MarkNotificationDelivered(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Update("status", "delivered").Error
}

// ListNotifications returns the newest notifications for a board.
func (s *Store) ListNotifications(ctx context.Context, boardID string, limit int) ([]models.Notification, error) {
	q := s.db.WithContext(ctx).Where("board_id = ?", boardID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Notification
	err := q.Find(&out).Error
	return out, err
}
