package uploads

import (
	"context"
	"io"
	"time"
)

// StorageDriver is the binary store behind the media library. Keys are
// slash-separated, "<kind>/<file>".
type StorageDriver interface {
	// Save writes the content under key
	Save(ctx context.Context, key string, body io.Reader, contentType string) error

	// Open streams the content back with its content type.
	// Returns drivers.ErrNotFound for unknown keys.
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)

	Delete(ctx context.Context, key string) error

	// URL returns a URL the ads platform can download the object from,
	// valid for at least expires where the driver signs URLs.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}
