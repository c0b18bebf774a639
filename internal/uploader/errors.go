package uploader

import "fmt"

// UploadTransportError wraps a failure returned by the object store while
// sending a file.
type UploadTransportError struct {
	Key       string
	Multipart bool
	Err       error
}

func (e *UploadTransportError) Error() string {
	return e.Err.Error()
}

func (e *UploadTransportError) Unwrap() error {
	return e.Err
}

// VerificationMismatchError reports that the stored object's size differs
// from the local file. Actual is -1 when the object could not be inspected.
type VerificationMismatchError struct {
	Key      string
	Expected int64
	Actual   int64
	Err      error // HEAD failure, if any
}

func (e *VerificationMismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify %s: expected %d bytes, head failed: %v", e.Key, e.Expected, e.Err)
	}
	return fmt.Sprintf("verify %s: expected %d bytes, got %d", e.Key, e.Expected, e.Actual)
}

func (e *VerificationMismatchError) Unwrap() error {
	return e.Err
}
