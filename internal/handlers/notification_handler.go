package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"boardflow/internal/models"
)

// NotificationLister reads back queued notifications for a board.
type NotificationLister interface {
	ListNotifications(ctx context.Context, boardID string, limit int) ([]models.Notification, error)
}

type NotificationHandler struct {
	store NotificationLister
}

func NewNotificationHandler(store NotificationLister) *NotificationHandler {
	return &NotificationHandler{store: store}
}

// ListBoardNotifications returns the newest notifications for :id.
func (h *NotificationHandler) ListBoardNotifications(c *gin.Context) {
	list, err := h.store.ListNotifications(c.Request.Context(), c.Param("id"), limitParam(c))
	if err != nil {
		abortWithError(c, "Failed to list notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "count": len(list)})
}
