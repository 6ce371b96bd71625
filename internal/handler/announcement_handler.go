package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/traveltour/important-info-api/internal/models"
	"github.com/traveltour/important-info-api/internal/service"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
	"github.com/traveltour/important-info-api/pkg/response"
)

type announcementSender interface {
	Create(ctx context.Context, req service.CreateAnnouncementRequest, sender *models.JWTClaims, bearerToken string) (*service.CreateResult, error)
	Status(announcementID string) (service.FanoutState, bool)
}

type announcementQueries interface {
	Get(ctx context.Context, id string) (*models.Announcement, error)
	GetVisible(ctx context.Context, id, userID string, role models.UserRole) (*models.Announcement, error)
	ListAll(ctx context.Context, page, pageSize int) ([]models.Announcement, *models.Pagination, error)
	ListVisible(ctx context.Context, userID string, role models.UserRole, page, pageSize int) ([]models.AnnouncementWithReadState, *models.Pagination, error)
	UnreadCount(ctx context.Context, userID string, role models.UserRole) (int, error)
	MarkRead(ctx context.Context, id, userID string) error
	SoftDeleteFor(ctx context.Context, id, userID string) error
	Purge(ctx context.Context, id string) error
}

// AnnouncementHandler exposes the announcement endpoints.
type AnnouncementHandler struct {
	sender  announcementSender
	queries announcementQueries
	uploads *service.UploadService
}

// NewAnnouncementHandler builds a new handler.
func NewAnnouncementHandler(sender announcementSender, queries announcementQueries, uploads *service.UploadService) *AnnouncementHandler {
	return &AnnouncementHandler{sender: sender, queries: queries, uploads: uploads}
}

// Create godoc
// @Summary Create and send an announcement
// @Tags Announcements
// @Accept json
// @Accept mpfd
// @Produce json
// @Param payload body service.CreateAnnouncementRequest true "Announcement payload"
// @Success 201 {object} response.Envelope
// @Router /announcements [post]
func (h *AnnouncementHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)

	var req service.CreateAnnouncementRequest
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		parsed, err := h.bindMultipart(c)
		if err != nil {
			response.Error(c, err)
			return
		}
		req = *parsed
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid announcement payload"))
		return
	}

	result, err := h.sender.Create(c.Request.Context(), req, claims, tokenFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result.Announcement, map[string]interface{}{
		"fanout_status":      string(result.Status),
		"notification_count": result.NotificationCount,
	})
}

// bindMultipart decodes the multipart create form. Recipients may appear as
// repeated "recipients" fields or one comma-separated value; files are stored
// before the announcement is created so their refs are durable.
func (h *AnnouncementHandler) bindMultipart(c *gin.Context) (*service.CreateAnnouncementRequest, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart payload")
	}

	req := service.CreateAnnouncementRequest{
		Title:  c.PostForm("title"),
		Body:   c.PostForm("body"),
		Urgent: c.PostForm("urgent") == "true",
	}
	for _, raw := range form.Value["recipients"] {
		for _, token := range strings.Split(raw, ",") {
			if token = strings.TrimSpace(token); token != "" {
				req.Recipients = append(req.Recipients, token)
			}
		}
	}

	files := form.File["files"]
	if h.uploads != nil && len(files) > h.uploads.MaxFiles() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "too many files")
	}
	for _, header := range files {
		if h.uploads == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "file uploads are not enabled")
		}
		stored, err := h.uploads.Store(header)
		if err != nil {
			return nil, err
		}
		req.Attachments = append(req.Attachments, service.AttachmentInput{
			Filename:     stored.Filename,
			OriginalName: stored.OriginalName,
			ContentRef:   stored.ContentRef,
			Kind:         stored.Kind,
			SizeBytes:    stored.SizeBytes,
		})
	}
	return &req, nil
}

// List godoc
// @Summary List all announcements
// @Tags Announcements
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /announcements [get]
func (h *AnnouncementHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)
	items, pagination, err := h.queries.ListAll(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Feed godoc
// @Summary List announcements visible to the caller
// @Tags Announcements
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /announcements/feed [get]
func (h *AnnouncementHandler) Feed(c *gin.Context) {
	claims := claimsFromContext(c)
	page, pageSize := pageParams(c)
	items, pagination, err := h.queries.ListVisible(c.Request.Context(), claims.UserID, claims.Role, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get one announcement
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id} [get]
func (h *AnnouncementHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)

	// Non-admin callers go through the visibility predicate; an announcement
	// outside their selector or one they soft-deleted reads as missing. The
	// fan-out meta is part of the admin send summary only.
	if claims == nil || claims.Role != models.RoleAdmin {
		userID, role := "", models.UserRole("")
		if claims != nil {
			userID, role = claims.UserID, claims.Role
		}
		announcement, err := h.queries.GetVisible(c.Request.Context(), c.Param("id"), userID, role)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, announcement, nil)
		return
	}

	announcement, err := h.queries.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{}
	if state, ok := h.sender.Status(announcement.ID); ok {
		meta["fanout_status"] = string(state.Status)
		meta["recipient_count"] = state.RecipientCount
	}
	response.JSON(c, http.StatusOK, announcement, nil, meta)
}

// UnreadCount godoc
// @Summary Unread announcement count for the caller
// @Tags Announcements
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /announcements/unread-count [get]
func (h *AnnouncementHandler) UnreadCount(c *gin.Context) {
	claims := claimsFromContext(c)
	count, err := h.queries.UnreadCount(c.Request.Context(), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"unread_count": count}, nil)
}

// MarkRead godoc
// @Summary Mark an announcement read for the caller
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id}/read [post]
func (h *AnnouncementHandler) MarkRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if err := h.queries.MarkRead(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"read": true}, nil)
}

// Delete godoc
// @Summary Hide an announcement for the caller
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id} [delete]
func (h *AnnouncementHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if err := h.queries.SoftDeleteFor(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": true}, nil)
}

// Purge godoc
// @Summary Permanently remove an announcement for everyone
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 204
// @Router /announcements/{id}/purge [delete]
func (h *AnnouncementHandler) Purge(c *gin.Context) {
	if err := h.queries.Purge(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "10"))
	return page, pageSize
}
