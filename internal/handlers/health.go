package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// IntelligenceHealth is the health surface of the remote intelligence client.
type IntelligenceHealth interface {
	IsEnabled() bool
	HealthCheck(ctx context.Context) error
}

// CompletionStatus reports whether the completion provider is configured.
type CompletionStatus interface {
	Available() bool
}

// HealthHandler reports dependency health. Only the database is essential;
// AI and intelligence outages degrade the service without failing it.
type HealthHandler struct {
	db           *gorm.DB
	completion   CompletionStatus
	intelligence IntelligenceHealth
	hub          ClientCounter
	version      string
	startedAt    time.Time
	logger       *logrus.Logger
}

func NewHealthHandler(db *gorm.DB, completion CompletionStatus, intelligence IntelligenceHealth, hub ClientCounter, version string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthHandler{
		db:           db,
		completion:   completion,
		intelligence: intelligence,
		hub:          hub,
		version:      version,
		startedAt:    time.Now(),
		logger:       logger,
	}
}

type HealthResponse struct {
	Status    string                 `json:"status"` // healthy, degraded, unhealthy
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

// Health checks every dependency.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	db := h.checkDatabase(ctx)
	resp.Services["database"] = db
	if db.Status != "healthy" {
		resp.Status = "unhealthy"
	}

	ai := ServiceInfo{Status: "disabled"}
	if h.completion != nil && h.completion.Available() {
		ai.Status = "healthy"
	}
	resp.Services["completion"] = ai

	intel := h.checkIntelligence(ctx)
	resp.Services["synseekr"] = intel
	if intel.Status == "unhealthy" && resp.Status == "healthy" {
		resp.Status = "degraded"
	}

	if h.hub != nil {
		resp.Services["notifications"] = ServiceInfo{Status: "healthy", Details: map[string]int{"clients": h.hub.ClientCount()}}
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// Ready only checks the database.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	db := h.checkDatabase(ctx)
	ready := db.Status == "healthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  map[string]string{"database": db.Status},
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	start := time.Now()
	if h.db == nil {
		return ServiceInfo{Status: "unhealthy", Error: "database not initialized"}
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	info := ServiceInfo{
		Latency: time.Since(start).String(),
		Details: map[string]string{"dialect": h.db.Dialector.Name()},
	}
	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		h.logger.WithError(err).Warn("database health check failed")
		return info
	}
	info.Status = "healthy"
	return info
}

func (h *HealthHandler) checkIntelligence(ctx context.Context) ServiceInfo {
	if h.intelligence == nil || !h.intelligence.IsEnabled() {
		return ServiceInfo{Status: "disabled"}
	}
	start := time.Now()
	if err := h.intelligence.HealthCheck(ctx); err != nil {
		h.logger.WithError(err).Warn("synseekr health check failed")
		return ServiceInfo{Status: "unhealthy", Latency: time.Since(start).String(), Error: err.Error()}
	}
	return ServiceInfo{Status: "healthy", Latency: time.Since(start).String()}
}
