package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/ligustah/relay/internal/backoff"
	relayhttp "github.com/ligustah/relay/internal/http"
	"github.com/ligustah/relay/internal/progress"
)

// Options configures the downloader.
type Options struct {
	// TempDir is where downloads are staged. Empty means os.TempDir().
	TempDir string

	// Sleep waits between attempts.
	// Default: backoff.Sleep
	Sleep backoff.SleepFunc

	// Logger receives attempt and progress entries.
	// Default: log.Log
	Logger log.Interface

	// ProgressInterval is how often download progress is logged.
	// Default: 5s
	ProgressInterval time.Duration
}

// Result describes a completed download.
type Result struct {
	Path       string
	Size       int64
	Elapsed    time.Duration
	StatusCode int
}

// DownloadFailedError is returned when every attempt failed.
type DownloadFailedError struct {
	URL      string
	Attempts int
	Err      error // last attempt's error
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("download failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *DownloadFailedError) Unwrap() error {
	return e.Err
}

// ErrEmptyBody is recorded when a request succeeded but wrote no bytes.
var ErrEmptyBody = errors.New("downloader: empty response body")

// Downloader fetches remote files into local temporary files.
type Downloader struct {
	client *relayhttp.Client
	opts   Options
	log    log.Interface
}

// New creates a Downloader using client.
func New(client *relayhttp.Client, opts Options) *Downloader {
	if opts.Sleep == nil {
		opts.Sleep = backoff.Sleep
	}
	if opts.Logger == nil {
		opts.Logger = log.Log
	}
	return &Downloader{
		client: client,
		opts:   opts,
		log:    opts.Logger,
	}
}

// PeekRemoteSize asks the server for the size of url. The second result is
// false when the size is unknown; it never fails a transfer.
func (d *Downloader) PeekRemoteSize(ctx context.Context, url string) (int64, bool) {
	info, err := d.client.Head(ctx, url)
	if err != nil {
		d.log.WithError(err).WithField("url", url).Debug("remote size unavailable")
		return 0, false
	}
	if info.Size < 0 {
		return 0, false
	}
	return info.Size, true
}

// Fetch downloads url into a fresh temporary file, retrying up to
// maxAttempts times. Each attempt starts from a new file. On success the
// caller owns Result.Path and must remove it.
func (d *Downloader) Fetch(ctx context.Context, url string, maxAttempts int) (*Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := d.log.WithField("url", url)

	hint, known := d.PeekRemoteSize(ctx, url)
	if known {
		logger.WithField("size", progress.FormatBytes(hint)).Info("remote size")
	} else {
		hint = 0
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := d.attempt(ctx, url, hint)
		if err == nil {
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"size":    progress.FormatBytes(res.Size),
				"elapsed": res.Elapsed.Round(time.Millisecond).String(),
				"status":  res.StatusCode,
			}).Info("download complete")
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "download cancelled")
		}

		logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"max":     maxAttempts,
		}).Warn("download attempt failed")

		if attempt < maxAttempts {
			if err := d.opts.Sleep(ctx, backoff.Delay(attempt)); err != nil {
				return nil, errors.Wrap(err, "download cancelled")
			}
		}
	}

	return nil, &DownloadFailedError{URL: url, Attempts: maxAttempts, Err: lastErr}
}

// attempt performs a single download. The temp file is removed unless the
// attempt succeeds.
func (d *Downloader) attempt(ctx context.Context, url string, sizeHint int64) (res *Result, err error) {
	f, err := os.CreateTemp(d.opts.TempDir, "relay_*")
	if err != nil {
		return nil, errors.Wrap(err, "create temp file")
	}
	path := f.Name()
	defer func() {
		if err != nil {
			os.Remove(path)
		}
	}()

	reporter := progress.NewReporter(progress.Options{
		TotalSize:      sizeHint,
		Phase:          "download",
		Logger:         d.log.WithField("url", url),
		UpdateInterval: d.opts.ProgressInterval,
	})
	reporter.Start()

	start := time.Now()
	n, status, dlErr := d.client.Download(ctx, url, io.MultiWriter(f, reporter))
	elapsed := time.Since(start)
	reporter.Stop()

	closeErr := f.Close()
	if dlErr != nil {
		return nil, dlErr
	}
	if closeErr != nil {
		return nil, errors.Wrap(closeErr, "close temp file")
	}
	if n == 0 {
		return nil, errors.Wrapf(ErrEmptyBody, "status %d", status)
	}

	return &Result{
		Path:       path,
		Size:       n,
		Elapsed:    elapsed,
		StatusCode: status,
	}, nil
}
