//go:build integration

// Package testutils provides shared infrastructure for integration tests:
// an HTTP file source and a MinIO container standing in for R2.
package testutils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SourceFile is a file served by the test HTTP source.
type SourceFile struct {
	Name string
	Data []byte

	// EmptyResponses is the number of GET requests answered with an empty
	// body before the data is served.
	EmptyResponses int
}

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// FileServer serves SourceFiles and counts GET requests per path.
type FileServer struct {
	*httptest.Server

	mu   sync.Mutex
	gets map[string]int
}

// Gets returns the number of GET requests seen for name.
func (s *FileServer) Gets(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets["/"+name]
}

// FileURL returns the download URL for name.
func (s *FileServer) FileURL(name string) string {
	return s.Server.URL + "/" + name
}

// StartFileServer starts an HTTP source serving files. It is closed when
// the test ends.
func StartFileServer(t *testing.T, files ...SourceFile) *FileServer {
	t.Helper()

	byPath := make(map[string]SourceFile, len(files))
	for _, f := range files {
		byPath["/"+f.Name] = f
	}

	fs := &FileServer{gets: make(map[string]int)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := byPath[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		size := strconv.Itoa(len(f.Data))
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", size)
			return
		}

		fs.mu.Lock()
		fs.gets[r.URL.Path]++
		n := fs.gets[r.URL.Path]
		fs.mu.Unlock()

		if n <= f.EmptyResponses {
			return
		}
		w.Header().Set("Content-Length", size)
		w.Write(f.Data)
	}))
	t.Cleanup(fs.Close)
	return fs
}

// MinioEnv contains connection information for a MinIO test environment.
type MinioEnv struct {
	Container testcontainers.Container
	Bucket    string
	// Endpoint is the S3 API base URL, e.g. http://localhost:32768.
	Endpoint  string
	AccessKey string
	SecretKey string
	// BucketURL opens the same bucket through gocloud's s3blob driver.
	BucketURL string
}

// Close terminates the MinIO container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// StartMinioContainer starts MinIO with a pre-created, publicly readable
// bucket. The container is terminated when the test ends.
func StartMinioContainer(t *testing.T, ctx context.Context, bucket string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	networkName := fmt.Sprintf("relay-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minio, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Networks:     []string{networkName},
			NetworkAliases: map[string][]string{
				networkName: {"minio"},
			},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	env := &MinioEnv{Container: minio, Bucket: bucket, AccessKey: accessKey, SecretKey: secretKey}
	t.Cleanup(func() { env.Close(context.Background()) })

	createBucket(t, ctx, networkName, accessKey, secretKey, bucket)

	host, err := minio.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := minio.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}

	hostPort := fmt.Sprintf("%s:%s", host, port.Port())
	env.Endpoint = "http://" + hostPort
	env.BucketURL = fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
		bucket, hostPort)

	// s3blob reads credentials from the environment
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)
	return env
}

// createBucket runs a one-shot minio/mc container that creates bucket and
// allows anonymous downloads from it.
func createBucket(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucket string) {
	t.Helper()

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{fmt.Sprintf(
				"mc alias set relay http://minio:9000 %s %s && mc mb relay/%s && mc anonymous set download relay/%s",
				accessKey, secretKey, bucket, bucket,
			)},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mc.Terminate(ctx)

	state, err := mc.State(ctx)
	if err != nil {
		t.Fatalf("mc state: %v", err)
	}
	if state.ExitCode != 0 {
		t.Fatalf("create bucket %s: mc exited with %d", bucket, state.ExitCode)
	}
}

// CompareReaderToData reads r to the end and fails the test at the first
// byte that differs from expected.
func CompareReaderToData(t *testing.T, r io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 1024*1024)
	offset := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read past expected length %d", len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch in [%d, %d)", offset, offset+n)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}
	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
