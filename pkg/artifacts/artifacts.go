// Package artifacts stores large task outputs outside the mission log.
// Events carry only a handle; the blob lives here with a TTL. Two backends:
// memory for tests and single-node runs, redis for deployments that need the
// blobs to survive a process restart.
package artifacts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HandlePrefix marks artifact references embedded in event payloads.
const HandlePrefix = "artifact:"

// Sentinel errors shared by both backends.
var (
	// ErrNotFound is returned for unknown or expired handles.
	ErrNotFound = errors.New("artifact not found")

	// ErrBadHandle is returned for references without the artifact prefix.
	ErrBadHandle = errors.New("malformed artifact handle")
)

// Artifact is one stored blob with its metadata.
type Artifact struct {
	Handle      string    `json:"handle"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists task result blobs behind opaque handles.
type Store interface {
	// Put stores the blob and returns its handle.
	Put(ctx context.Context, contentType string, data []byte) (string, error)

	// Get retrieves a blob by handle. Expired artifacts return ErrNotFound.
	Get(ctx context.Context, handle string) (*Artifact, error)

	// Delete removes a blob; deleting an unknown handle is not an error.
	Delete(ctx context.Context, handle string) error

	// Close releases backend resources.
	Close() error
}

// NewHandle generates a fresh artifact handle.
func NewHandle() string {
	return HandlePrefix + uuid.New().String()
}

// IsHandle reports whether the string is an artifact reference.
func IsHandle(s string) bool {
	return strings.HasPrefix(s, HandlePrefix)
}
