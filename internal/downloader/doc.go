// Package downloader fetches a remote file into local temporary storage.
//
// Every attempt writes to a new temporary file; a failed attempt's file is
// removed before the next one starts. An attempt succeeds when the request
// completes without a transport error and at least one byte was written.
// The HTTP status code is logged but not enforced.
//
// # Usage
//
//	d := downloader.New(client, downloader.Options{TempDir: cfg.Transfer.TempDir})
//
//	res, err := d.Fetch(ctx, url, 3)
//	if err != nil {
//	    var failed *downloader.DownloadFailedError
//	    errors.As(err, &failed)
//	}
//	defer os.Remove(res.Path)
//
// # Retries
//
// Failed attempts wait min(10, attempt*2) seconds before the next one. There
// is no wait after the final attempt.
package downloader
