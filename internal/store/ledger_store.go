package store

import (
	"context"
	"fmt"

	"boardflow/internal/models"
)

func (s *Store) CreateExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// FinalizeExecution moves a pending record to its terminal state. A record that
// is missing or already terminal is left untouched and reported as an error.
func (s *Store) FinalizeExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	result := s.db.WithContext(ctx).Model(&models.ExecutionRecord{}).
		Where("id = ? AND status = ?", rec.ID, models.ExecutionPending).
		Updates(map[string]interface{}{
			"status":        rec.Status,
			"success":       rec.Success,
			"message":       rec.Message,
			"error":         rec.Error,
			"action_result": rec.ActionResult,
			"completed_at":  rec.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("execution %s is not pending", rec.ID)
	}
	return nil
}

func (s *Store) listExecutions(ctx context.Context, column, value string, limit int) ([]models.ExecutionRecord, error) {
	q := s.db.WithContext(ctx).Where(column+" = ?", value).Order("started_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	records := []models.ExecutionRecord{}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ListExecutionsByRule returns the rule's records, newest first.
func (s *Store) ListExecutionsByRule(ctx context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error) {
	return s.listExecutions(ctx, "rule_id", ruleID, limit)
}

func (s *Store) ListExecutionsByEntity(ctx context.Context, entityID string, limit int) ([]models.ExecutionRecord, error) {
	return s.listExecutions(ctx, "entity_id", entityID, limit)
}

func (s *Store) ListExecutionsByScope(ctx context.Context, scopeID string, limit int) ([]models.ExecutionRecord, error) {
	return s.listExecutions(ctx, "board_id", scopeID, limit)
}
