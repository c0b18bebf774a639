//go:build integration

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/relay/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	big := testutils.SourceFile{Name: "big.mp4", Data: testutils.GenerateTestData(12 * 1024 * 1024)}
	flaky := testutils.SourceFile{Name: "flaky.zip", Data: testutils.GenerateTestData(256 * 1024), EmptyResponses: 1}
	source := testutils.StartFileServer(t, big, flaky)

	minio := testutils.StartMinioContainer(t, ctx, "relay-cli")

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", filepath.Join(t.TempDir(), "relay.db"))
	t.Setenv("R2_BUCKET", minio.Bucket)
	t.Setenv("R2_ENDPOINT", minio.Endpoint)
	t.Setenv("R2_REGION", "us-east-1")
	t.Setenv("R2_KEY_ID", minio.AccessKey)
	t.Setenv("R2_SECRET_KEY", minio.SecretKey)
	t.Setenv("R2_CUSTOM_DOMAIN", minio.Endpoint+"/"+minio.Bucket)
	t.Setenv("R2_PART_SIZE_MB", "5")
	t.Setenv("TMP_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	code, _, stderr := execTest("migrate")
	require.Equal(t, ExitSuccess, code, stderr)

	for _, f := range []testutils.SourceFile{big, flaky} {
		f := f
		t.Run(f.Name, func(t *testing.T) {
			code, stdout, stderr := execTest("worker", source.FileURL(f.Name), f.Name)
			require.Equal(t, ExitSuccess, code, stderr)

			var res struct {
				Success   bool   `json:"success"`
				FileURL   string `json:"file_url"`
				SizeBytes int64  `json:"size_bytes"`
			}
			require.NoError(t, json.Unmarshal([]byte(stdout), &res))
			assert.True(t, res.Success)
			assert.Equal(t, int64(len(f.Data)), res.SizeBytes)
			assert.Equal(t, f.EmptyResponses+1, source.Gets(f.Name))

			resp, err := http.Get(res.FileURL)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "attachment", resp.Header.Get("Content-Disposition"))
			testutils.CompareReaderToData(t, resp.Body, f.Data)
		})
	}

	code, stdout, _ := execTest("delete", big.Name)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, `"deleted_r2":1`)

	resp, err := http.Get(minio.Endpoint + "/" + minio.Bucket + "/" + big.Name)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
