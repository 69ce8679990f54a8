package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"boardflow/internal/automation"
	"boardflow/internal/models"
	"boardflow/internal/services"
)

// AutomationEngine is the engine surface exposed over HTTP.
type AutomationEngine interface {
	ProcessEvent(ctx context.Context, evt automation.Event) ([]automation.ExecutionResult, error)
	DryRunRule(ctx context.Context, candidate models.AutomationRule, scopeID string) (*automation.DryRunResult, error)
	GetRecentExecutions(limit int) []automation.ExecutionResult
	ClearRecentExecutions()
	ExecutionsByRule(ctx context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error)
	ExecutionsByEntity(ctx context.Context, entityID string, limit int) ([]models.ExecutionRecord, error)
	ExecutionsByScope(ctx context.Context, scopeID string, limit int) ([]models.ExecutionRecord, error)
}

// AutomationHandler serves event intake, dry runs, execution history and rule management.
type AutomationHandler struct {
	engine AutomationEngine
	rules  *services.AutomationService
	logger *logrus.Logger
}

func NewAutomationHandler(engine AutomationEngine, rules *services.AutomationService, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{engine: engine, rules: rules, logger: logger}
}

// DryRunRequest names a stored rule or carries an unsaved one.
type DryRunRequest struct {
	RuleID  string                `json:"rule_id"`
	Rule    *services.RuleRequest `json:"rule"`
	BoardID string                `json:"board_id"`
}

// ProcessEvent runs the engine for one posted event.
func (h *AutomationHandler) ProcessEvent(c *gin.Context) {
	var evt automation.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid event", Message: err.Error()})
		return
	}
	// Cascade state is engine-owned.
	evt.Depth = 0
	evt.Chain = nil

	results, err := h.engine.ProcessEvent(c.Request.Context(), evt)
	if err != nil {
		abortWithError(c, "Failed to process event", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (h *AutomationHandler) DryRun(c *gin.Context) {
	var req DryRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	var candidate models.AutomationRule
	switch {
	case req.RuleID != "":
		rule, err := h.rules.GetRule(c.Request.Context(), req.RuleID)
		if err != nil {
			abortWithError(c, "Failed to load rule", err)
			return
		}
		candidate = *rule
	case req.Rule != nil:
		candidate = req.Rule.Rule()
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "rule_id or rule is required"})
		return
	}

	result, err := h.engine.DryRunRule(c.Request.Context(), candidate, req.BoardID)
	if err != nil {
		abortWithError(c, "Dry run failed", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AutomationHandler) RecentExecutions(c *gin.Context) {
	results := h.engine.GetRecentExecutions(limitParam(c))
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (h *AutomationHandler) ClearRecentExecutions(c *gin.Context) {
	h.engine.ClearRecentExecutions()
	c.JSON(http.StatusOK, SuccessResponse{Message: "cleared"})
}

// executions builds a ledger query handler keyed on the :id path parameter.
func (h *AutomationHandler) executions(query func(ctx context.Context, id string, limit int) ([]models.ExecutionRecord, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := query(c.Request.Context(), c.Param("id"), limitParam(c))
		if err != nil {
			abortWithError(c, "Failed to load executions", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"executions": records, "count": len(records)})
	}
}

func (h *AutomationHandler) ListRules(c *gin.Context) {
	rules, err := h.rules.ListRules(c.Request.Context(), c.Param("id"), c.Query("include_inactive") == "true")
	if err != nil {
		abortWithError(c, "Failed to list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.CreateRule(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, "Failed to create rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutomationHandler) GetRule(c *gin.Context) {
	rule, err := h.rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, "Failed to load rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	var req services.RuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.rules.UpdateRule(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		abortWithError(c, "Failed to update rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeactivateRule backs DELETE; rules are disabled, not removed.
func (h *AutomationHandler) DeactivateRule(c *gin.Context) {
	if err := h.rules.DeactivateRule(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, "Failed to deactivate rule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deactivated"})
}

func (h *AutomationHandler) ConvertRecording(c *gin.Context) {
	var wf services.RecordedWorkflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rules, err := h.rules.ConvertRecording(c.Request.Context(), &wf)
	if err != nil {
		abortWithError(c, "Failed to convert recording", err)
		return
	}
	h.logger.WithFields(logrus.Fields{"board_id": wf.BoardID, "rules": len(rules)}).Info("recorded workflow converted")
	c.JSON(http.StatusCreated, SuccessResponse{Message: fmt.Sprintf("created %d rule(s)", len(rules)), Data: rules})
}

// RegisterAutomationRoutes mounts the automation API under r.
func RegisterAutomationRoutes(r *gin.RouterGroup, h *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.POST("/events", h.ProcessEvent)
		auto.POST("/dry-run", h.DryRun)

		auto.GET("/executions/recent", h.RecentExecutions)
		auto.DELETE("/executions/recent", h.ClearRecentExecutions)

		auto.GET("/rules/:id/executions", h.executions(h.engine.ExecutionsByRule))
		auto.GET("/tasks/:id/executions", h.executions(h.engine.ExecutionsByEntity))
		auto.GET("/boards/:id/executions", h.executions(h.engine.ExecutionsByScope))

		auto.GET("/boards/:id/rules", h.ListRules)
		auto.POST("/rules", h.CreateRule)
		auto.POST("/rules/convert", h.ConvertRecording)
		auto.GET("/rules/:id", h.GetRule)
		auto.PUT("/rules/:id", h.UpdateRule)
		auto.DELETE("/rules/:id", h.DeactivateRule)
	}
}
