package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Sentinel errors returned by Store implementations. Backends wrap their
// native failures so callers can classify without importing SDK types.
var (
	ErrObjectNotFound = errors.New("storage: object not found")
	ErrTransient      = errors.New("storage: transient backend failure")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Store is the gateway to the object storage backend. Put is idempotent: when
// the key already exists the call succeeds without re-uploading, which makes
// retries and concurrent uploads of identical content safe. Delete is
// best-effort and succeeds for missing keys.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ObjectKey returns the content-addressed key for an attachment owned by the
// given item: {itemID}/{checksum}. Identical bytes under the same item always
// map to the same key.
func ObjectKey(itemID, checksum string) string {
	return fmt.Sprintf("%s/%s", itemID, strings.ToLower(checksum))
}

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
