// Package uploader sends a local file to the object store and verifies the
// stored size.
//
// Files smaller than the part size go up in one request; anything at or
// above it is sent as a multipart upload with four parts in flight. Every
// send first deletes the existing object so the new upload replaces it.
// The uploader never retries; that is the caller's decision.
package uploader

import (
	"context"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/ligustah/relay/internal/config"
	"github.com/ligustah/relay/internal/objectstore"
)

// Options configures the uploader.
type Options struct {
	// PartSize is the multipart threshold and part size in bytes.
	// Values below 5 MiB are raised to 5 MiB.
	PartSize int64

	// Concurrency is the number of multipart parts in flight.
	// Default: 4
	Concurrency int

	// Logger defaults to log.Log.
	Logger log.Interface
}

// Uploader moves local files into an object store.
type Uploader struct {
	store objectstore.Store
	opts  Options
	log   log.Interface
}

// New returns an Uploader writing to store.
func New(store objectstore.Store, opts Options) *Uploader {
	const minPart = config.MinPartSizeMB * 1024 * 1024
	if opts.PartSize < minPart {
		opts.PartSize = minPart
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = config.MultipartConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	return &Uploader{store: store, opts: opts, log: opts.Logger}
}

// PartSize returns the effective part size.
func (u *Uploader) PartSize() int64 {
	return u.opts.PartSize
}

// Send uploads the file at localPath to key and returns the wall-clock time
// spent uploading. Failures from the store are *UploadTransportError.
func (u *Uploader) Send(ctx context.Context, localPath, key, mimeType string) (time.Duration, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return 0, errors.Wrap(err, "stat upload source")
	}
	size := fi.Size()
	logger := u.log.WithFields(log.Fields{"key": key, "size": size})

	if err := u.store.DeleteObject(ctx, key); err != nil {
		logger.WithError(err).Warn("pre-upload delete failed")
	}

	put := objectstore.PutOptions{
		ContentType:        mimeType,
		ContentDisposition: objectstore.DispositionAttachment,
		PublicRead:         true,
	}

	start := time.Now()
	multipart := size >= u.opts.PartSize
	if multipart {
		logger.WithField("part_size", u.opts.PartSize).Debug("multipart upload")
		err = u.store.MultipartPut(ctx, key, localPath, objectstore.MultipartOptions{
			PutOptions:  put,
			PartSize:    u.opts.PartSize,
			Concurrency: u.opts.Concurrency,
		})
	} else {
		logger.Debug("single upload")
		err = u.store.PutObject(ctx, key, localPath, put)
	}
	elapsed := time.Since(start)

	if err != nil {
		return elapsed, &UploadTransportError{Key: key, Multipart: multipart, Err: err}
	}
	return elapsed, nil
}

// Verify compares the stored size of key with expected. Any difference, or
// a failure to read the object's metadata, is a *VerificationMismatchError.
func (u *Uploader) Verify(ctx context.Context, key string, expected int64) error {
	info, err := u.store.HeadObject(ctx, key)
	if err != nil {
		return &VerificationMismatchError{Key: key, Expected: expected, Actual: -1, Err: err}
	}
	if info.Size != expected {
		return &VerificationMismatchError{Key: key, Expected: expected, Actual: info.Size}
	}
	return nil
}

// Discard deletes key after a failed verification. Errors are logged.
func (u *Uploader) Discard(ctx context.Context, key string) {
	if err := u.store.DeleteObject(ctx, key); err != nil {
		u.log.WithError(err).WithField("key", key).Warn("delete of corrupt object failed")
	}
}
