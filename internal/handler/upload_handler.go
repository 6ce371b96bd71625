package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traveltour/important-info-api/internal/service"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
	"github.com/traveltour/important-info-api/pkg/response"
)

// UploadHandler stores attachment files ahead of announcement creation and
// serves signed downloads.
type UploadHandler struct {
	uploads *service.UploadService
}

// NewUploadHandler builds a new handler.
func NewUploadHandler(uploads *service.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// Upload godoc
// @Summary Store attachment files
// @Tags Files
// @Accept mpfd
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /uploads [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart payload"))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "no files provided"))
		return
	}
	if len(files) > h.uploads.MaxFiles() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "too many files"))
		return
	}

	stored := make([]*service.StoredFile, 0, len(files))
	for _, header := range files {
		file, err := h.uploads.Store(header)
		if err != nil {
			response.Error(c, err)
			return
		}
		stored = append(stored, file)
	}
	response.Created(c, stored)
}

// Download godoc
// @Summary Download a stored file via a signed token
// @Tags Files
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200
// @Router /files/{token} [get]
func (h *UploadHandler) Download(c *gin.Context) {
	file, name, err := h.uploads.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.FileAttachment(file.Name(), name)
}
