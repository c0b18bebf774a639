package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
)

// Options configures the HTTP client.
type Options struct {
	// ConnectTimeout bounds dialing and the TLS handshake. There is no
	// overall request timeout: large bodies may take as long as they take.
	// Default: 30s
	ConnectTimeout time.Duration

	// UserAgent is sent with every request.
	// Default: R2-Uploader/1.0
	UserAgent string

	// InsecureTLS disables certificate verification for sources with
	// broken chains.
	InsecureTLS bool

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:      30 * time.Second,
		UserAgent:           "R2-Uploader/1.0",
		MaxIdleConnsPerHost: 16,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	StatusCode int
	Size       int64
}

// Client is an HTTP client for pulling whole files from remote sources.
type Client struct {
	rc   *resty.Client
	opts Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultOptions().UserAgent
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // byte counts must match Content-Length
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: opts.InsecureTLS}, //nolint:gosec
	}

	rc := resty.New().
		SetTransport(transport).
		SetTimeout(0).
		SetHeader("User-Agent", opts.UserAgent)

	return &Client{rc: rc, opts: opts}
}

// Head performs a HEAD request to get file metadata. Size is -1 when the
// server does not report a length.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	resp, err := c.rc.R().SetContext(ctx).Head(url)
	if err != nil {
		return nil, errors.Wrap(err, "head request")
	}
	if err := checkStatusCode(resp.StatusCode()); err != nil {
		return nil, err
	}

	return &FileInfo{
		StatusCode: resp.StatusCode(),
		Size:       resp.RawResponse.ContentLength,
	}, nil
}

// Download streams the body of a GET request into w and returns the number
// of bytes written together with the response status. The status code is
// reported, not enforced: whatever the server sends is written out.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, int, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		return 0, 0, errors.Wrap(err, "get request")
	}

	body := resp.RawBody()
	defer body.Close()

	n, err := io.Copy(w, body)
	if err != nil {
		return n, resp.StatusCode(), errors.Wrapf(err, "read body after %d bytes", n)
	}
	return n, resp.StatusCode(), nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return errors.Wrapf(ErrServerError, "status %d", code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
