package objectstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by HeadObject when the key does not exist.
var ErrNotFound = errors.New("objectstore: object not found")

// DispositionAttachment forces browsers to download the object.
const DispositionAttachment = "attachment"

// PutOptions describes the metadata attached to an uploaded object.
type PutOptions struct {
	ContentType        string
	ContentDisposition string
	PublicRead         bool
}

// MultipartOptions configures a multipart upload.
type MultipartOptions struct {
	PutOptions

	// PartSize is the size of every part except the last, in bytes.
	PartSize int64

	// Concurrency is the number of parts in flight.
	Concurrency int
}

// ObjectInfo is the subset of object metadata the service relies on.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Store is an object store bound to a single bucket.
type Store interface {
	// PutObject uploads the file at path in a single request.
	PutObject(ctx context.Context, key, path string, opts PutOptions) error

	// MultipartPut uploads the file at path in parts.
	MultipartPut(ctx context.Context, key, path string, opts MultipartOptions) error

	// HeadObject returns metadata for key, or ErrNotFound.
	HeadObject(ctx context.Context, key string) (ObjectInfo, error)

	// DeleteObject removes key. A missing key is not an error.
	DeleteObject(ctx context.Context, key string) error
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// PublicURL joins the public base URL of the bucket with key.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

func partCount(size, partSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + partSize - 1) / partSize)
}
