package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"boardflow/internal/automation"
	"boardflow/internal/config"
	"boardflow/internal/providers"
	"boardflow/internal/services"
	"boardflow/internal/store"
	"boardflow/pkg/synseekr"
)

// app holds the wired components shared by the run and dry-run commands.
type app struct {
	cfg          *config.Config
	db           *gorm.DB
	store        *store.Store
	engine       *automation.Engine
	rules        *services.AutomationService
	completion   *providers.OpenAICompletion
	intelligence *synseekr.Client
	hub          *providers.NotificationHub
	breakers     map[string]*providers.CircuitBreaker
}

// newApp opens the database and builds the engine. The notification hub is
// created but not started.
func newApp(ctx context.Context, cfg *config.Config, tracing bool) (*app, error) {
	logger := logrus.StandardLogger()

	db, err := store.Open(cfg.Database, tracing)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st := store.New(db, logger)
	hub := providers.NewNotificationHub(st, logger)

	completionBreaker := providers.NewCircuitBreaker("completion", cfg.Fallback.CircuitBreaker)
	synseekrBreaker := providers.NewCircuitBreaker("synseekr", cfg.Fallback.CircuitBreaker)

	completion := providers.NewOpenAICompletion(cfg.AI.OpenAI, completionBreaker, logger)

	var breaker synseekr.Breaker
	if synseekrBreaker != nil {
		breaker = synseekrBreaker
	}
	intel := synseekr.NewClient(&synseekr.Config{
		Enabled:    cfg.SynSeekr.Enabled,
		BaseURL:    cfg.SynSeekr.BaseURL,
		APIKey:     cfg.SynSeekr.APIKey,
		TenantID:   cfg.SynSeekr.TenantID,
		Timeout:    cfg.SynSeekr.Timeout,
		MaxRetries: cfg.SynSeekr.MaxRetries,
		RetryDelay: cfg.SynSeekr.RetryDelay,
	}, breaker, logger)

	permissions, err := loadPermissions(ctx, cfg.Automation.PolicyFile)
	if err != nil {
		return nil, err
	}

	collab := automation.Collaborators{
		Store:        st,
		Timers:       st,
		Notifier:     hub,
		Completion:   completion,
		Intelligence: intel,
	}

	engine := automation.New(collab, st, automation.Options{
		MaxCascadeDepth:  cfg.Automation.MaxCascadeDepth,
		RecentCapacity:   cfg.Automation.RecentCapacity,
		DryRunSampleSize: cfg.Automation.DryRunSampleSize,
		ErrorTruncate:    cfg.Automation.ErrorTruncate,
		Permissions:      permissions,
	}, logger)

	return &app{
		cfg:          cfg,
		db:           db,
		store:        st,
		engine:       engine,
		rules:        services.NewAutomationService(db, engine, logger),
		completion:   completion,
		intelligence: intel,
		hub:          hub,
		breakers: map[string]*providers.CircuitBreaker{
			"completion": completionBreaker,
			"synseekr":   synseekrBreaker,
		},
	}, nil
}

func loadPermissions(ctx context.Context, path string) (*automation.PolicyPermissionChecker, error) {
	var policy string
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		policy = string(raw)
	}
	checker, err := automation.NewPolicyPermissionChecker(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("compile permission policy: %w", err)
	}
	return checker, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
