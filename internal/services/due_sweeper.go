package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"boardflow/internal/automation"
	"boardflow/internal/config"
	"boardflow/internal/models"
)

// DueTaskLister finds unfinished tasks due inside a window.
type DueTaskLister interface {
	ListDueTasks(ctx context.Context, from, to time.Time) ([]models.Task, error)
}

// EventProcessor is the engine entry point the sweeper feeds.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, evt automation.Event) ([]automation.ExecutionResult, error)
}

// DueSweeper periodically emits due_date_approaching events. Each task is
// announced once per due date; moving the due date re-arms it.
type DueSweeper struct {
	tasks    DueTaskLister
	engine   EventProcessor
	schedule string
	window   time.Duration
	logger   *logrus.Logger
	now      func() time.Time

	cron *cron.Cron

	mu        sync.Mutex
	announced map[string]time.Time
}

func NewDueSweeper(tasks DueTaskLister, engine EventProcessor, cfg config.DueSweepConfig, logger *logrus.Logger) *DueSweeper {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 */15 * * * *"
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	return &DueSweeper{
		tasks:     tasks,
		engine:    engine,
		schedule:  cfg.Schedule,
		window:    cfg.Window,
		logger:    logger,
		now:       time.Now,
		cron:      cron.New(cron.WithSeconds()),
		announced: make(map[string]time.Time),
	}
}

// Start schedules the sweep. The job runs until Stop.
func (s *DueSweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Warn("due-date sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule due-date sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{"schedule": s.schedule, "window": s.window.String()}).Info("due-date sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *DueSweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep emits one event per newly approaching task and returns how many were emitted.
func (s *DueSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	tasks, err := s.tasks.ListDueTasks(ctx, now, now.Add(s.window))
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}

	s.mu.Lock()
	seen := make(map[string]bool, len(tasks))
	var pending []models.Task
	for _, task := range tasks {
		if task.DueDate == nil {
			continue
		}
		seen[task.ID] = true
		if prev, ok := s.announced[task.ID]; ok && prev.Equal(*task.DueDate) {
			continue
		}
		s.announced[task.ID] = *task.DueDate
		pending = append(pending, task)
	}
	for id := range s.announced {
		if !seen[id] {
			delete(s.announced, id)
		}
	}
	s.mu.Unlock()

	emitted := 0
	for _, task := range pending {
		evt := automation.Event{
			Type:     models.TriggerDueDateApproaching,
			ScopeID:  task.BoardID,
			EntityID: task.ID,
			Field:    "due_date",
			NewValue: task.DueDate.UTC().Format(time.RFC3339),
			Metadata: map[string]interface{}{
				"hours_until_due": task.DueDate.Sub(now).Hours(),
				"source":          "due_sweeper",
			},
		}
		results, err := s.engine.ProcessEvent(ctx, evt)
		if err != nil {
			// Forget the task so the next sweep retries it.
			s.mu.Lock()
			delete(s.announced, task.ID)
			s.mu.Unlock()
			s.logger.WithError(err).WithField("task_id", task.ID).Warn("due-date event rejected")
			continue
		}
		emitted++
		s.logger.WithFields(logrus.Fields{
			"task_id":    task.ID,
			"board_id":   task.BoardID,
			"executions": len(results),
		}).Debug("due-date event processed")
	}
	return emitted, nil
}
