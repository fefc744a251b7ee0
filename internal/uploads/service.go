package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrMediaNotFound       = errors.New("media not found")
	ErrUnsupportedMimeType = errors.New("unsupported media type")
)

// MediaLibrary stores tenants' creatives and resolves them to URLs the ads
// platform can download from.
type MediaLibrary struct {
	Driver    StorageDriver
	db        *gorm.DB
	urlExpiry time.Duration
}

// NewMediaLibrary creates the library and migrates its metadata table.
func NewMediaLibrary(db *gorm.DB, driver StorageDriver, urlExpiry time.Duration) (*MediaLibrary, error) {
	if err := db.AutoMigrate(&FileMetadata{}); err != nil {
		return nil, fmt.Errorf("failed to migrate media files: %w", err)
	}
	return &MediaLibrary{Driver: driver, db: db, urlExpiry: urlExpiry}, nil
}

// Upload saves the file via the driver and records its metadata
func (s *MediaLibrary) Upload(ctx context.Context, tenantID string, kind Kind, filename string, reader io.Reader, size int64, mime string) (*FileMetadata, error) {
	if mime == "" {
		mime = "application/octet-stream"
	}
	if !kind.accepts(mime) {
		return nil, fmt.Errorf("%w: %s is not a %s", ErrUnsupportedMimeType, mime, kind)
	}

	id := uuid.New()
	key := fmt.Sprintf("%s/%s%s", kind, id.String(), strings.ToLower(filepath.Ext(filename)))

	if err := s.Driver.Save(ctx, key, reader, mime); err != nil {
		return nil, fmt.Errorf("storage driver failed: %w", err)
	}

	metadata := &FileMetadata{
		ID:       id,
		TenantID: tenantID,
		Kind:     kind,
		Name:     filename,
		Key:      key,
		Size:     size,
		MimeType: mime,
	}
	if err := s.db.WithContext(ctx).Create(metadata).Error; err != nil {
		if delErr := s.Driver.Delete(ctx, key); delErr != nil {
			slog.WarnContext(ctx, "failed to cleanup orphaned file", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("failed to record media file: %w", err)
	}

	slog.InfoContext(ctx, "File uploaded successfully", "id", id, "key", key, "tenantID", tenantID)
	return metadata, nil
}

// Open retrieves a file's content and MIME type by kind and id
func (s *MediaLibrary) Open(ctx context.Context, kind Kind, id uuid.UUID) (io.ReadCloser, string, error) {
	var metadata FileMetadata
	err := s.db.WithContext(ctx).Where("id = ? AND kind = ?", id, kind).First(&metadata).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", fmt.Errorf("%w: %s/%s", ErrMediaNotFound, kind, id)
		}
		return nil, "", fmt.Errorf("failed to get media file: %w", err)
	}
	return s.Driver.Open(ctx, metadata.Key)
}

// ProfileImageURL resolves a tenant's image to a downloadable URL.
func (s *MediaLibrary) ProfileImageURL(ctx context.Context, tenantID, id string) (string, error) {
	return s.url(ctx, tenantID, KindImage, id)
}

// VideoCreativeURL resolves a tenant's video to a downloadable URL.
func (s *MediaLibrary) VideoCreativeURL(ctx context.Context, tenantID, id string) (string, error) {
	return s.url(ctx, tenantID, KindVideo, id)
}

func (s *MediaLibrary) url(ctx context.Context, tenantID string, kind Kind, id string) (string, error) {
	mediaID, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %s %q", ErrMediaNotFound, kind, id)
	}

	var metadata FileMetadata
	err = s.db.WithContext(ctx).
		Where("id = ? AND kind = ? AND tenant_id = ?", mediaID, kind, tenantID).
		First(&metadata).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s %s", ErrMediaNotFound, kind, id)
		}
		return "", fmt.Errorf("failed to get media file: %w", err)
	}

	url, err := s.Driver.URL(ctx, metadata.Key, s.urlExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}
	return url, nil
}
