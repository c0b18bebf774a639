package objectstore

import (
	"context"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Options configures the S3-compatible client.
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds a path-style S3 client with static credentials, as
// required by R2 and MinIO.
func NewS3Client(opts S3Options) *s3.Client {
	region := opts.Region
	if region == "" {
		region = "auto"
	}
	o := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		UsePathStyle: true,
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return s3.New(o)
}

// S3Store implements Store on an S3-compatible API.
type S3Store struct {
	client S3API
	bucket string
	log    log.Interface
}

// NewS3Store returns a Store for bucket.
func NewS3Store(client S3API, bucket string, logger log.Interface) *S3Store {
	if logger == nil {
		logger = log.Log
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		log:    logger.WithField("bucket", bucket),
	}
}

// Bucket returns the bound bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

func acl(publicRead bool) types.ObjectCannedACL {
	if publicRead {
		return types.ObjectCannedACLPublicRead
	}
	return ""
}

// PutObject uploads the file at path in a single request.
func (s *S3Store) PutObject(ctx context.Context, key, path string, opts PutOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open upload source")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat upload source")
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		ACL:           acl(opts.PublicRead),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		input.ContentDisposition = aws.String(opts.ContentDisposition)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return errors.Wrapf(err, "s3 put %s/%s", s.bucket, key)
	}
	return nil
}

// MultipartPut uploads the file at path in parts of opts.PartSize, with up
// to opts.Concurrency parts in flight. The upload is aborted on failure.
func (s *S3Store) MultipartPut(ctx context.Context, key, path string, opts MultipartOptions) error {
	if opts.PartSize <= 0 {
		return errors.New("multipart: part size must be positive")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open upload source")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat upload source")
	}
	size := fi.Size()

	createInput := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		ACL:    acl(opts.PublicRead),
	}
	if opts.ContentType != "" {
		createInput.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		createInput.ContentDisposition = aws.String(opts.ContentDisposition)
	}

	created, err := s.client.CreateMultipartUpload(ctx, createInput)
	if err != nil {
		return errors.Wrapf(err, "s3 create multipart %s/%s", s.bucket, key)
	}
	uploadID := aws.ToString(created.UploadId)

	parts, err := s.uploadParts(ctx, key, uploadID, f, size, opts)
	if err != nil {
		s.abort(ctx, key, uploadID)
		return err
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		s.abort(ctx, key, uploadID)
		return errors.Wrapf(err, "s3 complete multipart %s/%s", s.bucket, key)
	}
	return nil
}

func (s *S3Store) uploadParts(ctx context.Context, key, uploadID string, r io.ReaderAt, size int64, opts MultipartOptions) ([]types.CompletedPart, error) {
	numParts := partCount(size, opts.PartSize)
	parts := make([]types.CompletedPart, numParts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i := 0; i < numParts; i++ {
		partNumber := int32(i + 1)
		offset := int64(i) * opts.PartSize
		length := opts.PartSize
		if offset+length > size {
			length = size - offset
		}

		g.Go(func() error {
			out, err := s.client.UploadPart(gctx, &s3.UploadPartInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(key),
				UploadId:      aws.String(uploadID),
				PartNumber:    aws.Int32(partNumber),
				Body:          io.NewSectionReader(r, offset, length),
				ContentLength: aws.Int64(length),
			})
			if err != nil {
				return errors.Wrapf(err, "s3 upload part %d of %s/%s", partNumber, s.bucket, key)
			}
			parts[partNumber-1] = types.CompletedPart{
				ETag:       out.ETag,
				PartNumber: aws.Int32(partNumber),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (s *S3Store) abort(ctx context.Context, key, uploadID string) {
	_, err := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("abort multipart upload failed")
	}
}

// HeadObject returns metadata for key.
func (s *S3Store) HeadObject(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ObjectInfo{}, errors.Wrapf(ErrNotFound, "s3 head %s/%s", s.bucket, key)
		}
		return ObjectInfo{}, errors.Wrapf(err, "s3 head %s/%s", s.bucket, key)
	}

	return ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// DeleteObject removes key.
func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return errors.Wrapf(err, "s3 delete %s/%s", s.bucket, key)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
