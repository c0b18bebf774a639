// Package http provides the HTTP client used to pull source files.
//
// This package handles:
//   - HEAD requests for the remote size
//   - Streaming GET bodies into a local writer
//   - Connect timeouts without an overall request deadline
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    ConnectTimeout: 30 * time.Second,
//	    UserAgent:      "R2-Uploader/1.0",
//	})
//
//	info, err := client.Head(ctx, url)
//	// info.Size is -1 when unknown
//
//	n, status, err := client.Download(ctx, url, file)
package http
