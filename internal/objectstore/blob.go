package objectstore

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BlobStore implements Store on a gocloud.dev/blob bucket.
type BlobStore struct {
	bucket *blob.Bucket
}

// OpenBlobStore opens the bucket at url ("s3://name?endpoint=...",
// "file:///path", "mem://").
func OpenBlobStore(ctx context.Context, url string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %s", url)
	}
	return NewBlobStore(bucket), nil
}

// NewBlobStore wraps an already opened bucket.
func NewBlobStore(bucket *blob.Bucket) *BlobStore {
	return &BlobStore{bucket: bucket}
}

// Bucket exposes the underlying bucket.
func (s *BlobStore) Bucket() *blob.Bucket {
	return s.bucket
}

// Close closes the underlying bucket.
func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func writerOptions(opts PutOptions) *blob.WriterOptions {
	wo := &blob.WriterOptions{
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
	}
	if opts.PublicRead {
		// Only the S3 driver understands canned ACLs; other drivers
		// report false from asFunc and the option is skipped.
		wo.BeforeWrite = func(asFunc func(any) bool) error {
			var in *s3.PutObjectInput
			if asFunc(&in) {
				in.ACL = types.ObjectCannedACLPublicRead
			}
			return nil
		}
	}
	return wo
}

// PutObject uploads the file at path in a single write.
func (s *BlobStore) PutObject(ctx context.Context, key, path string, opts PutOptions) error {
	return s.upload(ctx, key, path, writerOptions(opts))
}

// MultipartPut uploads the file at path letting the driver split it into
// parts of opts.PartSize with opts.Concurrency parts in flight.
func (s *BlobStore) MultipartPut(ctx context.Context, key, path string, opts MultipartOptions) error {
	wo := writerOptions(opts.PutOptions)
	wo.BufferSize = int(opts.PartSize)
	wo.MaxConcurrency = opts.Concurrency
	return s.upload(ctx, key, path, wo)
}

func (s *BlobStore) upload(ctx context.Context, key, path string, wo *blob.WriterOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open upload source")
	}
	defer f.Close()

	if err := s.bucket.Upload(ctx, key, f, wo); err != nil {
		return errors.Wrapf(err, "blob upload %s", key)
	}
	return nil
}

// HeadObject returns metadata for key.
func (s *BlobStore) HeadObject(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return ObjectInfo{}, errors.Wrapf(ErrNotFound, "blob head %s", key)
		}
		return ObjectInfo{}, errors.Wrapf(err, "blob head %s", key)
	}
	return ObjectInfo{
		Key:         key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}, nil
}

// DeleteObject removes key.
func (s *BlobStore) DeleteObject(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return errors.Wrapf(err, "blob delete %s", key)
	}
	return nil
}
