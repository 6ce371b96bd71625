package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/traveltour/important-info-api/internal/models"
)

// Kind subdirectories under the upload base directory.
const (
	dirPDF       = "pdf"
	dirImages    = "images"
	dirDocuments = "documents"
)

// LocalStorage persists attachment files on disk under a base directory,
// split into per-kind subdirectories.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory and kind subdirectories exist.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	for _, sub := range []string{dirPDF, dirImages, dirDocuments} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create upload directory: %w", err)
		}
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// KindFromMIME classifies an upload the same way the legacy service did:
// PDFs and images get dedicated folders, everything else is a document.
func KindFromMIME(mimeType string) models.AttachmentKind {
	switch {
	case mimeType == "application/pdf":
		return models.AttachmentKindPDF
	case strings.HasPrefix(mimeType, "image/"):
		return models.AttachmentKindImage
	default:
		return models.AttachmentKindDocument
	}
}

// KindDir returns the subdirectory files of the given kind are stored in.
func KindDir(kind models.AttachmentKind) string {
	switch kind {
	case models.AttachmentKindPDF:
		return dirPDF
	case models.AttachmentKindImage:
		return dirImages
	default:
		return dirDocuments
	}
}

// SaveStream copies the reader into a file at the given relative path and
// returns the relative path.
func (s *LocalStorage) SaveStream(relPath string, r io.Reader) (string, error) {
	path := s.resolve(relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare upload directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("write upload stream: %w", err)
	}
	return relPath, nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(relPath string) (*os.File, error) {
	file, err := os.Open(s.resolve(relPath))
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file if present.
func (s *LocalStorage) Delete(relPath string) error {
	if err := os.Remove(s.resolve(relPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete upload file: %w", err)
	}
	return nil
}

// Path exposes the underlying absolute path.
func (s *LocalStorage) Path(relPath string) string {
	return s.resolve(relPath)
}

func (s *LocalStorage) resolve(relPath string) string {
	if filepath.IsAbs(relPath) {
		return relPath
	}
	return filepath.Join(s.baseDir, relPath)
}
