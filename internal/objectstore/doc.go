// Package objectstore provides the object storage capabilities a transfer
// needs: single-shot put, multipart put, head, delete and public URL
// derivation.
//
// Two implementations bind a Store to one bucket at construction:
//
//   - S3Store drives an S3-compatible API (Cloudflare R2, MinIO, AWS) through
//     aws-sdk-go-v2 and performs multipart uploads itself, reading parts
//     straight from the local file.
//   - BlobStore wraps a gocloud.dev/blob bucket so any registered URL scheme
//     (s3://, gs://, file://, mem://) can be used.
//
// Deleting a key that does not exist is not an error.
package objectstore
