package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, *models.Pagination, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	ClearAll(ctx context.Context, userID string) error
}

// NotificationHandler exposes the per-user notification inbox.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler builds a new handler.
func NewNotificationHandler(service notificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List godoc
// @Summary List the caller's notifications
// @Tags Notifications
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	page, pageSize := pageParams(c)
	items, pagination, err := h.service.List(c.Request.Context(), claims.UserID, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	unread, err := h.service.CountUnread(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, map[string]interface{}{"unread_count": unread})
}

// MarkAllRead godoc
// @Summary Mark every notification read
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	claims := claimsFromContext(c)
	affected, err := h.service.MarkAllRead(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"marked_read": affected}, nil)
}

// ClearAll godoc
// @Summary Delete every notification of the caller
// @Tags Notifications
// @Produce json
// @Success 204
// @Router /notifications [delete]
func (h *NotificationHandler) ClearAll(c *gin.Context) {
	claims := claimsFromContext(c)
	if err := h.service.ClearAll(c.Request.Context(), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
