package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/logger"
	"wayfarer-backend/pkg/sanitize"
)

// ObjectStorage is the subset of MinIO used for attachments
type ObjectStorage interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	StatObject(ctx context.Context, bucketName, objectName string) (bool, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Service resolves chat attachment refs. Uploads happen elsewhere and land
// under users/{uploader}/...; this service only checks refs and signs downloads.
type Service struct {
	storage    ObjectStorage
	bucketName string
	urlTTL     time.Duration
}

// NewService verifies the bucket is reachable. It does not create it.
func NewService(storage ObjectStorage, bucketName string, urlTTL time.Duration) (*Service, error) {
	exists, err := storage.BucketExists(context.Background(), bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("attachment bucket %q does not exist", bucketName)
	}
	return &Service{storage: storage, bucketName: bucketName, urlTTL: urlTTL}, nil
}

// ValidateRef checks that ref names an uploaded object owned by the sender
func (s *Service) ValidateRef(ctx context.Context, senderID uuid.UUID, ref string) (string, error) {
	clean, ok := sanitize.AttachmentRef(ref)
	if !ok {
		return "", apperrors.ValidationError("invalid attachment reference")
	}
	if !strings.HasPrefix(clean, fmt.Sprintf("users/%s/", senderID)) {
		return "", apperrors.ForbiddenError("attachment belongs to another user")
	}

	exists, err := s.storage.StatObject(ctx, s.bucketName, clean)
	if err != nil {
		return "", apperrors.StorageError(err)
	}
	if !exists {
		return "", apperrors.NotFoundError("Attachment")
	}
	return clean, nil
}

// ResolveURLs fills Attachment.URL on every message that carries one.
// Signing failures leave the URL empty rather than failing the page.
func (s *Service) ResolveURLs(ctx context.Context, messages ...*domain.Message) {
	for _, msg := range messages {
		if msg == nil || msg.Attachment == nil || msg.Attachment.Ref == "" {
			continue
		}
		u, err := s.storage.PresignedGetObject(ctx, s.bucketName, msg.Attachment.Ref, s.urlTTL, nil)
		if err != nil {
			logger.Warn("Failed to sign attachment URL",
				zap.String("message_id", msg.ID.String()),
				zap.Error(err))
			continue
		}
		msg.Attachment.URL = u.String()
	}
}
