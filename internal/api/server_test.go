package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"

	"github.com/ligustah/relay/internal/config"
	"github.com/ligustah/relay/internal/dispatch"
	"github.com/ligustah/relay/internal/status"
)

var quiet = &log.Logger{Handler: discard.Default, Level: log.ErrorLevel}

type fakeDispatcher struct {
	started   [][2]string
	startErr  error
	retried   []string
	retryRes  []dispatch.RetryResult
	retryErr  error
	deleted   []string
	deleteRes *dispatch.DeleteResult
	deleteErr error
}

func (f *fakeDispatcher) Start(ctx context.Context, url, filename string) (string, error) {
	f.started = append(f.started, [2]string{url, filename})
	if f.startErr != nil {
		return "", f.startErr
	}
	if filename != "" {
		return filename, nil
	}
	return url[strings.LastIndex(url, "/")+1:], nil
}

func (f *fakeDispatcher) Retry(ctx context.Context, keys []string) ([]dispatch.RetryResult, error) {
	f.retried = keys
	return f.retryRes, f.retryErr
}

func (f *fakeDispatcher) Delete(ctx context.Context, keys []string) (*dispatch.DeleteResult, error) {
	f.deleted = keys
	return f.deleteRes, f.deleteErr
}

type testServer struct {
	*Server
	dispatcher *fakeDispatcher
	db         *status.Store
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	db, err := status.Open("sqlite", status.SqliteInMemoryDSN, logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	d := &fakeDispatcher{}
	opts.Logger = quiet
	return &testServer{Server: NewServer(d, db, opts), dispatcher: d, db: db}
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestStartTransfer(t *testing.T) {
	for _, path := range []string{"/", "/api/transfers"} {
		t.Run(path, func(t *testing.T) {
			ts := newTestServer(t, Options{})
			rec, body := ts.do(t, jsonRequest(http.MethodPost, path, `{"url":"https://example.com/a.zip"}`))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, true, body["success"])
			assert.Equal(t, "pending", body["status"])
			assert.Equal(t, "a.zip", body["key"])
			assert.Equal(t, "Upload started", body["message"])
			assert.Equal(t, [][2]string{{"https://example.com/a.zip", ""}}, ts.dispatcher.started)
		})
	}
}

func TestStartTransferMissingURL(t *testing.T) {
	tests := []string{``, `{}`, `{"url":"  "}`, `not json`}
	for _, payload := range tests {
		ts := newTestServer(t, Options{})
		rec, body := ts.do(t, jsonRequest(http.MethodPost, "/", payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Missing 'url' parameter", body["error"])
		assert.Empty(t, ts.dispatcher.started)
	}
}

func TestStartTransferErrors(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.dispatcher.startErr = &config.ConfigurationError{Field: "filename", Reason: "does not yield an object key"}
	rec, _ := ts.do(t, jsonRequest(http.MethodPost, "/", `{"url":"https://example.com/"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.dispatcher.startErr = errors.New("db down")
	rec, body := ts.do(t, jsonRequest(http.MethodPost, "/", `{"url":"https://example.com/a"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to start upload", body["error"])
}

func TestStartTransferAPIKey(t *testing.T) {
	ts := newTestServer(t, Options{APIKey: "secret"})

	rec, body := ts.do(t, jsonRequest(http.MethodPost, "/", `{"url":"https://example.com/a"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid API key", body["error"])

	req := jsonRequest(http.MethodPost, "/", `{"url":"https://example.com/a"}`)
	req.Header.Set("X-API-KEY", "secret")
	rec, _ = ts.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ts.dispatcher.started, 1)
}

func TestGetStatus(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, Options{})
	require.NoError(t, ts.db.Upsert(ctx, status.Update{
		ObjectKey:   "a.zip",
		Status:      status.Completed,
		FileURL:     "https://cdn.example.com/a.zip",
		Message:     "Uploaded successfully",
		SizeBytes:   42,
		OriginalURL: "https://example.com/a.zip",
	}))

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/status?key=dir/a.zip", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "https://cdn.example.com/a.zip", body["file_url"])
	assert.Equal(t, float64(42), body["size_bytes"])
	assert.Equal(t, "https://example.com/a.zip", body["original_url"])

	rec, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/transfers/a.zip", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
}

func TestGetStatusErrors(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing key", body["error"])

	rec, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/status?key=nope.bin", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No record found", body["error"])
}

func adminServer(t *testing.T) *testServer {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	return newTestServer(t, Options{AdminUser: "admin", AdminPassHash: string(hash)})
}

func adminRequest(method, target, body string) *http.Request {
	req := jsonRequest(method, target, body)
	req.SetBasicAuth("admin", "hunter2")
	return req
}

func TestAdminAuth(t *testing.T) {
	ts := adminServer(t)

	tests := []struct {
		name       string
		user, pass string
		set        bool
		code       int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "admin", "nope", true, http.StatusUnauthorized},
		{"wrong user", "root", "hunter2", true, http.StatusUnauthorized},
		{"valid", "admin", "hunter2", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/uploads", nil)
			if tt.set {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec, _ := ts.do(t, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	ts := newTestServer(t, Options{AdminUser: "admin"})
	req := httptest.NewRequest(http.MethodGet, "/admin/uploads", nil)
	req.SetBasicAuth("admin", "")
	rec, _ := ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminList(t *testing.T) {
	ctx := context.Background()
	ts := adminServer(t)
	for _, k := range []string{"a.bin", "b.bin", "c.bin"} {
		require.NoError(t, ts.db.Upsert(ctx, status.Update{ObjectKey: k, Status: status.Pending}))
	}
	require.NoError(t, ts.db.Upsert(ctx, status.Update{ObjectKey: "d.bin", Status: status.Failed}))

	rec, body := ts.do(t, adminRequest(http.MethodGet, "/admin/uploads?limit=2&status=pending&sort=object_key&dir=asc", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(2), body["last_page"])

	data := body["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "a.bin", data[0].(map[string]interface{})["object_key"])
	assert.Equal(t, "b.bin", data[1].(map[string]interface{})["object_key"])
}

func TestAdminListInvalidQuery(t *testing.T) {
	ts := adminServer(t)
	rec, _ := ts.do(t, adminRequest(http.MethodGet, "/admin/uploads?page=abc", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRetry(t *testing.T) {
	ts := adminServer(t)
	ts.dispatcher.retryRes = []dispatch.RetryResult{
		{Key: "a.bin", Status: dispatch.RetryQueued},
		{Key: "b.bin", Status: dispatch.RetrySkipped, Reason: "not found"},
	}

	rec, body := ts.do(t, adminRequest(http.MethodPost, "/admin/uploads/retry", `{"keys":["a.bin","b.bin"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []string{"a.bin", "b.bin"}, ts.dispatcher.retried)

	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "queued", first["status"])
	_, hasReason := first["reason"]
	assert.False(t, hasReason)
	assert.Equal(t, "not found", results[1].(map[string]interface{})["reason"])
}

func TestAdminRetryErrors(t *testing.T) {
	ts := adminServer(t)

	rec, body := ts.do(t, adminRequest(http.MethodPost, "/admin/uploads/retry", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing keys array", body["error"])

	ts.dispatcher.retryErr = dispatch.ErrNoKeys
	rec, body = ts.do(t, adminRequest(http.MethodPost, "/admin/uploads/retry", `{"keys":[""]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No valid keys", body["error"])
}

func TestAdminDelete(t *testing.T) {
	ts := adminServer(t)
	ts.dispatcher.deleteRes = &dispatch.DeleteResult{
		DeletedDB:      1,
		DeletedObjects: 1,
		Errors:         []dispatch.DeleteError{{Key: "b.bin", Error: "access denied"}},
	}

	rec, body := ts.do(t, adminRequest(http.MethodPost, "/admin/uploads/delete", `{"keys":["a.bin","b.bin"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["deleted_db"])
	assert.Equal(t, float64(1), body["deleted_r2"])
	assert.Len(t, body["errors"], 1)

	rec, body = ts.do(t, adminRequest(http.MethodPost, "/admin/uploads/delete", `{"keys":[]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No keys received", body["error"])
}
