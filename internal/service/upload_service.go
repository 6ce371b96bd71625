package service

import (
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/models"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
	"github.com/traveltour/important-info-api/pkg/storage"
)

// UploadConfig bounds what the upload endpoints accept.
type UploadConfig struct {
	MaxFileSizeBytes   int64
	MaxFilesPerRequest int
	AllowedMIMEs       []string
}

// StoredFile describes one persisted upload, ready to be attached to an
// announcement.
type StoredFile struct {
	ID           string                `json:"id"`
	Filename     string                `json:"filename"`
	OriginalName string                `json:"original_name"`
	ContentRef   string                `json:"content_ref"`
	Kind         models.AttachmentKind `json:"kind"`
	SizeBytes    int64                 `json:"size_bytes"`
	DownloadURL  string                `json:"download_url,omitempty"`
	ExpiresAt    time.Time             `json:"expires_at,omitempty"`
}

// UploadService stores attachment files on disk and issues signed download
// tokens for them.
type UploadService struct {
	files  *storage.LocalStorage
	signer *storage.SignedURLSigner
	config UploadConfig
	logger *zap.Logger
}

// NewUploadService constructs the service.
func NewUploadService(files *storage.LocalStorage, signer *storage.SignedURLSigner, config UploadConfig, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxFileSizeBytes <= 0 {
		config.MaxFileSizeBytes = 10 << 20
	}
	if config.MaxFilesPerRequest <= 0 {
		config.MaxFilesPerRequest = 5
	}
	return &UploadService{files: files, signer: signer, config: config, logger: logger}
}

// MaxFiles reports how many files one request may carry.
func (s *UploadService) MaxFiles() int {
	return s.config.MaxFilesPerRequest
}

// Store validates and persists one uploaded file. The stored name is a fresh
// uuid with the original extension; the original name survives as metadata
// only and never touches the filesystem.
func (s *UploadService) Store(header *multipart.FileHeader) (*StoredFile, error) {
	if header.Size > s.config.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}
	mimeType := header.Header.Get("Content-Type")
	if !s.mimeAllowed(mimeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file type not allowed")
	}

	kind := storage.KindFromMIME(mimeType)
	id := uuid.NewString()
	storedName := id + sanitizeExt(header.Filename)
	relPath := path.Join(storage.KindDir(kind), storedName)

	src, err := header.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	defer src.Close() //nolint:errcheck

	if _, err := s.files.SaveStream(relPath, src); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store upload")
	}

	stored := &StoredFile{
		ID:           id,
		Filename:     storedName,
		OriginalName: filepath.Base(header.Filename),
		ContentRef:   relPath,
		Kind:         kind,
		SizeBytes:    header.Size,
	}
	if s.signer != nil {
		if token, expires, err := s.signer.Generate(id, relPath); err == nil {
			stored.DownloadURL = "/files/" + token
			stored.ExpiresAt = expires
		} else {
			s.logger.Warn("sign download url", zap.String("file_id", id), zap.Error(err))
		}
	}
	return stored, nil
}

// Open resolves a signed download token to a readable file handle.
func (s *UploadService) Open(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}
	if strings.Contains(relPath, "..") || path.IsAbs(relPath) {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "invalid file reference")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return file, path.Base(relPath), nil
}

func (s *UploadService) mimeAllowed(mimeType string) bool {
	if len(s.config.AllowedMIMEs) == 0 {
		return true
	}
	base := mimeType
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	for _, allowed := range s.config.AllowedMIMEs {
		if strings.EqualFold(allowed, base) {
			return true
		}
		if strings.HasSuffix(allowed, "/*") && strings.HasPrefix(base, strings.TrimSuffix(allowed, "*")) {
			return true
		}
	}
	return false
}

func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(ext) > 10 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
