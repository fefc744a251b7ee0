package uploads

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the category of a media file.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// ParseKind accepts the route segment naming a kind.
func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindVideo, KindImage:
		return Kind(value), true
	}
	return "", false
}

// accepts reports whether mime is a content type this kind stores.
func (k Kind) accepts(mime string) bool {
	return strings.HasPrefix(mime, string(k)+"/")
}

// FileMetadata represents the metadata of an uploaded media file
type FileMetadata struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  string    `gorm:"type:varchar(100);index;not null" json:"-"`
	Kind      Kind      `gorm:"type:varchar(20);not null" json:"kind"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Key       string    `gorm:"type:varchar(512);not null" json:"key"`
	Size      int64     `json:"size"`
	MimeType  string    `gorm:"type:varchar(100)" json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the database table name for FileMetadata
func (FileMetadata) TableName() string {
	return "media_files"
}
