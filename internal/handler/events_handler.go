package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/internal/push"
	"github.com/traveltour/important-info-api/internal/service"
)

// EventsHandler streams live-push events over server-sent events. Each
// connection subscribes to the broadcast channel, the caller's own channel,
// and the admin channel for admin principals.
type EventsHandler struct {
	gateway *push.Gateway
	metrics *service.MetricsService
}

// NewEventsHandler builds a new handler.
func NewEventsHandler(gateway *push.Gateway, metrics *service.MetricsService) *EventsHandler {
	return &EventsHandler{gateway: gateway, metrics: metrics}
}

// Stream godoc
// @Summary Subscribe to live notification events
// @Tags Events
// @Produce text/event-stream
// @Success 200
// @Router /events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	claims := claimsFromContext(c)
	ctx := c.Request.Context()

	sub := h.gateway.Subscribe(ctx, claims.UserID, claims.Role == models.RoleAdmin)
	defer sub.Close() //nolint:errcheck

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if h.metrics != nil {
		h.metrics.SSEClientConnected()
		defer h.metrics.SSEClientDisconnected()
	}

	// Comment heartbeats keep intermediaries from closing idle streams.
	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.Messages():
			if !ok {
				return false
			}
			c.SSEvent("message", msg.Payload)
			return true
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}
