package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
)

// ObjectStore stores uploaded media and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

type uploadKind struct {
	name       string
	mimePrefix string
	keyPrefix  string
	maxBytes   int
}

var (
	videoUpload = uploadKind{name: "video", mimePrefix: "video/", keyPrefix: "uploads/videos/", maxBytes: models.MaxVideoFileSize}
	imageUpload = uploadKind{name: "image", mimePrefix: "image/", keyPrefix: "uploads/images/", maxBytes: models.MaxImageFileSize}
)

// UploadService validates base64 media uploads and writes them to object storage.
type UploadService struct {
	store  ObjectStore
	newID  func() string
	logger *slog.Logger
}

// NewUploadService creates an UploadService. logger may be nil.
func NewUploadService(store ObjectStore, logger *slog.Logger) *UploadService {
	if logger == nil {
		logger = slog.Default()
	}

	return &UploadService{store: store, newID: uuid.NewString, logger: logger}
}

// UploadVideo stores a video (video/*, at most 500MB) under uploads/videos/.
func (s *UploadService) UploadVideo(ctx context.Context, req models.UploadRequest) (*models.UploadResponse, error) {
	return s.upload(ctx, videoUpload, req)
}

// UploadImage stores an image (image/*, at most 50MB) under uploads/images/.
func (s *UploadService) UploadImage(ctx context.Context, req models.UploadRequest) (*models.UploadResponse, error) {
	return s.upload(ctx, imageUpload, req)
}

func (s *UploadService) upload(ctx context.Context, kind uploadKind, req models.UploadRequest) (*models.UploadResponse, error) {
	mimeType := strings.ToLower(strings.TrimSpace(req.MimeType))
	if !strings.HasPrefix(mimeType, kind.mimePrefix) {
		return nil, galleryerrors.NewInvalidArgumentError("mimeType",
			fmt.Sprintf("mimeType must be %s*, got %q", kind.mimePrefix, req.MimeType))
	}

	encoded := stripDataURL(req.FileBase64)
	if base64.StdEncoding.DecodedLen(len(encoded)) > kind.maxBytes+2 {
		return nil, tooLarge(kind)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, galleryerrors.NewInvalidArgumentError("fileBase64", "fileBase64 is not valid base64")
	}

	if len(data) == 0 {
		return nil, galleryerrors.NewInvalidArgumentError("fileBase64", "file is empty")
	}

	if len(data) > kind.maxBytes {
		return nil, tooLarge(kind)
	}

	key := kind.keyPrefix + s.newID() + extension(req.FileName, mimeType)

	url, err := s.store.Put(ctx, key, mimeType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Error("upload failed", "kind", kind.name, "key", key, "error", err)

		return nil, fmt.Errorf("upload %s: %w", kind.name, err)
	}

	s.logger.Info("upload stored", "kind", kind.name, "key", key, "bytes", len(data))

	return &models.UploadResponse{URL: url}, nil
}

func tooLarge(kind uploadKind) error {
	return galleryerrors.NewInvalidArgumentError("fileBase64",
		fmt.Sprintf("%s exceeds the %dMB limit", kind.name, kind.maxBytes/(1024*1024)))
}

// stripDataURL accepts both raw base64 and "data:<mime>;base64,<payload>".
func stripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			return payload
		}
	}

	return s
}

// extension prefers the file name's extension and falls back to the MIME type.
func extension(fileName, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" && len(ext) <= 8 {
		return ext
	}

	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}

	return ""
}
