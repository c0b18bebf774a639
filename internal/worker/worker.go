package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ligustah/relay/internal/backoff"
	"github.com/ligustah/relay/internal/config"
	"github.com/ligustah/relay/internal/downloader"
	"github.com/ligustah/relay/internal/objectkey"
	"github.com/ligustah/relay/internal/objectstore"
	"github.com/ligustah/relay/internal/status"
)

// Status messages shown on the dashboard.
const (
	MsgPreparing    = "Preparing download"
	MsgUploading    = "Uploading to R2"
	MsgUploaded     = "Uploaded successfully"
	MsgCorrupted    = "Upload corrupted after retries"
	msgUploadFailed = "Upload failed after retries: %v"
	msgRetryR2      = "R2 error: %v — retrying (%d/%d)…"
	msgRetryCorrupt = "Corruption detected. Retrying upload (%d/%d)…"
	defaultRetries  = 3
)

// Fetcher downloads a source URL into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url string, maxAttempts int) (*downloader.Result, error)
}

// Sender uploads a local file and checks the stored copy.
type Sender interface {
	Send(ctx context.Context, localPath, key, mimeType string) (time.Duration, error)
	Verify(ctx context.Context, key string, expected int64) error
	Discard(ctx context.Context, key string)
}

// StatusWriter records transfer state.
type StatusWriter interface {
	Upsert(ctx context.Context, u status.Update) error
}

// Options configures a Worker.
type Options struct {
	// DownloadRetry is the number of download attempts.
	// Default: 3
	DownloadRetry int

	// UploadRetry is the shared budget for send failures and size
	// mismatches.
	// Default: 3
	UploadRetry int

	// PublicBaseURL prefixes the object key in the stored file URL.
	PublicBaseURL string

	// Sleep waits between upload attempts.
	// Default: backoff.Sleep
	Sleep backoff.SleepFunc

	// Logger defaults to log.Log.
	Logger log.Interface
}

// Result summarizes one run. It is printed as JSON by the worker command.
type Result struct {
	Success         bool
	RunID           string
	Key             string
	FileURL         string
	SizeBytes       int64
	DownloadTimeSec uint
	UploadTimeSec   uint
	Attempts        int
	Error           string
}

type successJSON struct {
	Success         bool   `json:"success"`
	RunID           string `json:"run_id"`
	Key             string `json:"key"`
	FileURL         string `json:"file_url"`
	SizeBytes       int64  `json:"size_bytes"`
	DownloadTimeSec uint   `json:"download_time_sec"`
	UploadTimeSec   uint   `json:"upload_time_sec"`
	Attempts        int    `json:"attempts"`
}

type failureJSON struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id"`
	Key     string `json:"key,omitempty"`
	Error   string `json:"error"`
}

// MarshalJSON emits the success shape with every measurement present, even
// when zero, or the failure shape carrying the error.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(successJSON{
			Success:         true,
			RunID:           r.RunID,
			Key:             r.Key,
			FileURL:         r.FileURL,
			SizeBytes:       r.SizeBytes,
			DownloadTimeSec: r.DownloadTimeSec,
			UploadTimeSec:   r.UploadTimeSec,
			Attempts:        r.Attempts,
		})
	}
	return json.Marshal(failureJSON{
		RunID: r.RunID,
		Key:   r.Key,
		Error: r.Error,
	})
}

// Worker moves one remote file into the object store and keeps its status
// row current.
type Worker struct {
	fetcher Fetcher
	sender  Sender
	status  StatusWriter
	opts    Options
	log     log.Interface
}

// New creates a Worker.
func New(fetcher Fetcher, sender Sender, st StatusWriter, opts Options) *Worker {
	if opts.DownloadRetry <= 0 {
		opts.DownloadRetry = defaultRetries
	}
	if opts.UploadRetry <= 0 {
		opts.UploadRetry = defaultRetries
	}
	if opts.Sleep == nil {
		opts.Sleep = backoff.Sleep
	}
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	return &Worker{
		fetcher: fetcher,
		sender:  sender,
		status:  st,
		opts:    opts,
		log:     opts.Logger,
	}
}

// run carries the state of a single transfer.
type run struct {
	w   *Worker
	log log.Interface
	key string

	size    uint64
	dlSec   uint
	ulSec   uint
	attempt int
}

// Run transfers sourceURL to objectKey. The key is reduced to its base
// name. The returned error is nil only when the object was stored and
// verified; every failure after validation is also recorded as a failed
// status row.
func (w *Worker) Run(ctx context.Context, sourceURL, objectKey string) (Result, error) {
	res := Result{RunID: uuid.NewString()}

	sourceURL = strings.TrimSpace(sourceURL)
	key := objectkey.Sanitize(objectKey)
	res.Key = key

	if sourceURL == "" {
		return res.fail(&config.ConfigurationError{Field: "url", Reason: "is required"})
	}
	if key == "" {
		return res.fail(&config.ConfigurationError{Field: "object key", Reason: "is required"})
	}

	r := &run{
		w:   w,
		key: key,
		log: w.log.WithFields(log.Fields{
			"run": res.RunID,
			"key": key,
			"url": sourceURL,
		}),
	}
	r.log.Info("transfer started")

	r.progress(ctx, MsgPreparing)

	dl, err := w.fetcher.Fetch(ctx, sourceURL, w.opts.DownloadRetry)
	if err != nil {
		r.log.WithError(err).Error("download failed")
		return res.fail(r.terminal(ctx, err, err.Error()))
	}
	defer func() {
		if rmErr := os.Remove(dl.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			r.log.WithError(rmErr).Warn("remove temp file")
		}
	}()

	r.size = uint64(dl.Size)
	r.dlSec = status.Seconds(dl.Elapsed)
	res.SizeBytes = dl.Size
	res.DownloadTimeSec = r.dlSec

	r.progress(ctx, MsgUploading)

	err = r.upload(ctx, dl.Path, dl.Size)
	res.UploadTimeSec = r.ulSec
	res.Attempts = r.attempt
	if err != nil {
		return res.fail(err)
	}

	res.Success = true
	res.FileURL = objectstore.PublicURL(w.opts.PublicBaseURL, key)
	r.log.WithFields(log.Fields{
		"file_url": res.FileURL,
		"size":     res.SizeBytes,
		"attempts": res.Attempts,
	}).Info("transfer completed")
	return res, nil
}

func (res Result) fail(err error) (Result, error) {
	res.Success = false
	res.Error = err.Error()
	return res, err
}

// upload sends and verifies the file, retrying within the upload budget.
func (r *run) upload(ctx context.Context, path string, size int64) error {
	w := r.w
	budget := w.opts.UploadRetry
	mime := objectkey.ContentType(r.key)

	for r.attempt = 1; r.attempt <= budget; r.attempt++ {
		logger := r.log.WithFields(log.Fields{"attempt": r.attempt, "max": budget})

		elapsed, err := w.sender.Send(ctx, path, r.key, mime)
		if err != nil {
			logger.WithError(err).Warn("upload failed")
			if r.attempt >= budget || ctx.Err() != nil {
				return r.terminal(ctx, err, fmt.Sprintf(msgUploadFailed, err))
			}
			r.progress(ctx, fmt.Sprintf(msgRetryR2, err, r.attempt, budget))
			if err := w.opts.Sleep(ctx, backoff.Delay(r.attempt)); err != nil {
				return r.terminal(ctx, err, fmt.Sprintf(msgUploadFailed, err))
			}
			continue
		}
		r.ulSec = status.Seconds(elapsed)

		verr := w.sender.Verify(ctx, r.key, size)
		if verr == nil {
			return r.complete(ctx)
		}

		logger.WithError(verr).Warn("verification failed")
		w.sender.Discard(ctx, r.key)
		if r.attempt >= budget {
			return r.terminal(ctx, verr, MsgCorrupted)
		}
		r.progress(ctx, fmt.Sprintf(msgRetryCorrupt, r.attempt, budget))
		if err := w.opts.Sleep(ctx, backoff.Delay(r.attempt)); err != nil {
			return r.terminal(ctx, err, MsgCorrupted)
		}
	}

	// unreachable with budget >= 1
	return r.terminal(ctx, errors.New("no upload attempts"), MsgCorrupted)
}

func (r *run) update(st status.State, msg string) status.Update {
	return status.Update{
		ObjectKey:       r.key,
		Status:          st,
		Message:         msg,
		SizeBytes:       r.size,
		DownloadTimeSec: r.dlSec,
		UploadTimeSec:   r.ulSec,
	}
}

// progress records an intermediate pending state. Failures are logged
// and do not interrupt the transfer.
func (r *run) progress(ctx context.Context, msg string) {
	if err := r.w.status.Upsert(ctx, r.update(status.Pending, msg)); err != nil {
		r.log.WithError(err).WithField("message", msg).Warn("status write failed")
	}
}

// terminal records the failed state and returns cause, joined with the
// status write error if that failed too.
func (r *run) terminal(ctx context.Context, cause error, msg string) error {
	// the transfer may have been cancelled; the row must still be written
	wctx := context.WithoutCancel(ctx)
	if err := r.w.status.Upsert(wctx, r.update(status.Failed, msg)); err != nil {
		r.log.WithError(err).Error("failed status write failed")
		return &TerminalWriteError{Cause: cause, WriteErr: err}
	}
	r.log.WithError(cause).WithField("message", msg).Error("transfer failed")
	return cause
}

func (r *run) complete(ctx context.Context) error {
	u := r.update(status.Completed, MsgUploaded)
	u.FileURL = objectstore.PublicURL(r.w.opts.PublicBaseURL, r.key)
	if err := r.w.status.Upsert(context.WithoutCancel(ctx), u); err != nil {
		return errors.Wrap(err, "record completed status")
	}
	return nil
}

// TerminalWriteError is returned when a transfer failed and recording the
// failure failed as well.
type TerminalWriteError struct {
	Cause    error
	WriteErr error
}

func (e *TerminalWriteError) Error() string {
	return fmt.Sprintf("%v (status write failed: %v)", e.Cause, e.WriteErr)
}

func (e *TerminalWriteError) Unwrap() []error {
	return []error{e.Cause, e.WriteErr}
}
