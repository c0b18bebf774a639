package dispatch

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
	"gorm.io/gorm/logger"

	"github.com/ligustah/relay/internal/config"
	"github.com/ligustah/relay/internal/objectstore"
	"github.com/ligustah/relay/internal/objectstore/storetest"
	"github.com/ligustah/relay/internal/status"
	"github.com/ligustah/relay/internal/worker"
)

var quiet = &log.Logger{Handler: discard.Default, Level: log.ErrorLevel}

type spawned struct{ url, key string }

type fakeSpawner struct {
	mu    sync.Mutex
	calls []spawned
	err   error
}

func (f *fakeSpawner) Spawn(url, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, spawned{url, key})
	return f.err
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *status.Store, *storetest.Store, *fakeSpawner) {
	t.Helper()
	db, err := status.Open("sqlite", status.SqliteInMemoryDSN, logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	objects := storetest.New(objectstore.NewBlobStore(bucket))

	sp := &fakeSpawner{}
	return New(db, objects, sp, quiet), db, objects, sp
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	d, db, _, sp := newTestDispatcher(t)

	key, err := d.Start(ctx, "  https://example.com/dl/archive.zip?token=1 ", "")
	require.NoError(t, err)
	assert.Equal(t, "archive.zip", key)

	rec, err := db.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, status.Pending, rec.Status)
	require.NotNil(t, rec.Message)
	assert.Equal(t, MsgStarted, *rec.Message)
	require.NotNil(t, rec.OriginalURL)
	assert.Equal(t, "https://example.com/dl/archive.zip?token=1", *rec.OriginalURL)

	require.Len(t, sp.calls, 1)
	assert.Equal(t, spawned{"https://example.com/dl/archive.zip?token=1", "archive.zip"}, sp.calls[0])
}

func TestStartCustomFilename(t *testing.T) {
	d, _, _, sp := newTestDispatcher(t)

	key, err := d.Start(context.Background(), "https://example.com/x", "nested/dir/video.mp4")
	require.NoError(t, err)
	assert.Equal(t, "video.mp4", key)
	assert.Equal(t, "video.mp4", sp.calls[0].key)
}

func TestStartResetsRetries(t *testing.T) {
	ctx := context.Background()
	d, db, _, _ := newTestDispatcher(t)

	_, err := d.Start(ctx, "https://example.com/a.bin", "")
	require.NoError(t, err)
	require.NoError(t, db.MarkRetry(ctx, "a.bin"))

	_, err = d.Start(ctx, "https://example.com/a.bin", "")
	require.NoError(t, err)
	rec, err := db.Get(ctx, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, uint(0), rec.Retries)
}

func TestStartMissingURL(t *testing.T) {
	d, _, _, sp := newTestDispatcher(t)

	_, err := d.Start(context.Background(), "   ", "a.bin")
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, sp.calls)
}

func TestStartSpawnFailure(t *testing.T) {
	d, db, _, sp := newTestDispatcher(t)
	sp.err = errors.New("fork failed")

	key, err := d.Start(context.Background(), "https://example.com/a.bin", "")
	require.Error(t, err)

	rec, err := db.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, status.Failed, rec.Status)
	require.NotNil(t, rec.Message)
	assert.Equal(t, MsgSpawnFailed+": fork failed", *rec.Message)
	require.NotNil(t, rec.OriginalURL)
	assert.Equal(t, "https://example.com/a.bin", *rec.OriginalURL, "the row stays retryable")
}

func TestRetrySpawnFailure(t *testing.T) {
	ctx := context.Background()
	d, db, _, sp := newTestDispatcher(t)
	require.NoError(t, db.Upsert(ctx, status.Update{
		ObjectKey: "a.bin", Status: status.Failed, OriginalURL: "https://example.com/a.bin",
	}))
	sp.err = errors.New("fork failed")

	results, err := d.Retry(ctx, []string{"a.bin"})
	require.NoError(t, err)
	assert.Equal(t, []RetryResult{{Key: "a.bin", Status: RetrySkipped, Reason: "fork failed"}}, results)

	rec, err := db.Get(ctx, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, status.Failed, rec.Status)
	require.NotNil(t, rec.Message)
	assert.Equal(t, MsgSpawnFailed+": fork failed", *rec.Message)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	d, db, _, sp := newTestDispatcher(t)

	require.NoError(t, db.Upsert(ctx, status.Update{
		ObjectKey: "done.bin", Status: status.Failed, OriginalURL: "https://example.com/done.bin",
	}))
	require.NoError(t, db.Upsert(ctx, status.Update{
		ObjectKey: "orphan.bin", Status: status.Failed,
	}))

	results, err := d.Retry(ctx, []string{"done.bin", "", "missing.bin", "orphan.bin", "done.bin"})
	require.NoError(t, err)

	assert.Equal(t, []RetryResult{
		{Key: "done.bin", Status: RetryQueued},
		{Key: "missing.bin", Status: RetrySkipped, Reason: "not found"},
		{Key: "orphan.bin", Status: RetrySkipped, Reason: "original_url missing"},
	}, results)

	require.Len(t, sp.calls, 1)
	assert.Equal(t, spawned{"https://example.com/done.bin", "done.bin"}, sp.calls[0])

	rec, err := db.Get(ctx, "done.bin")
	require.NoError(t, err)
	assert.Equal(t, status.Pending, rec.Status)
	assert.Equal(t, uint(1), rec.Retries)
	require.NotNil(t, rec.Message)
	assert.Equal(t, "Retry queued", *rec.Message)
}

func TestRetryNoKeys(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	_, err := d.Retry(context.Background(), []string{"", "  "})
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	d, db, objects, _ := newTestDispatcher(t)

	require.NoError(t, db.Upsert(ctx, status.Update{ObjectKey: "a.bin", Status: status.Completed}))

	res, err := d.Delete(ctx, []string{"a.bin", "never.bin", "a.bin"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeletedDB)
	assert.Equal(t, 2, res.DeletedObjects)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, objects.Count("delete"))

	_, err = db.Get(ctx, "a.bin")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestDeleteCollectsObjectErrors(t *testing.T) {
	ctx := context.Background()
	d, db, objects, _ := newTestDispatcher(t)
	objects.DeleteErr = errors.New("access denied")

	require.NoError(t, db.Upsert(ctx, status.Update{ObjectKey: "a.bin", Status: status.Failed}))

	res, err := d.Delete(ctx, []string{"a.bin"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeletedDB)
	assert.Equal(t, 0, res.DeletedObjects)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "a.bin", res.Errors[0].Key)
	assert.Contains(t, res.Errors[0].Error, "access denied")
}

type countingRunner struct {
	runs atomic.Int32
	ctxs chan context.Context
}

func (r *countingRunner) Run(ctx context.Context, url, key string) (worker.Result, error) {
	r.runs.Add(1)
	r.ctxs <- ctx
	return worker.Result{Key: key}, errors.New("boom")
}

func TestGoroutineSpawnerDetachesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &countingRunner{ctxs: make(chan context.Context, 2)}
	sp := NewGoroutineSpawner(ctx, runner, quiet)
	cancel()

	require.NoError(t, sp.Spawn("https://example.com/a", "a"))
	require.NoError(t, sp.Spawn("https://example.com/b", "b"))
	sp.Wait()

	assert.Equal(t, int32(2), runner.runs.Load())
	assert.NoError(t, (<-runner.ctxs).Err())
}

func TestProcessSpawnerCommand(t *testing.T) {
	sp, err := NewProcessSpawner("/usr/local/bin/relay", []string{"--config", "relay.yaml"}, quiet)
	require.NoError(t, err)

	cmd := sp.command("https://example.com/a.bin", "a.bin")
	assert.Equal(t, "/usr/local/bin/relay", cmd.Path)
	assert.Equal(t, []string{
		"/usr/local/bin/relay", "--config", "relay.yaml", "worker", "https://example.com/a.bin", "a.bin",
	}, cmd.Args)
	// building a command must not alias the configured args
	assert.Equal(t, []string{"--config", "relay.yaml"}, sp.Args)
}

func TestProcessSpawnerStarts(t *testing.T) {
	exe, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	sp, err := NewProcessSpawner(exe, nil, quiet)
	require.NoError(t, err)

	require.NoError(t, sp.Spawn("https://example.com/a.bin", "a.bin"))
	sp.Wait()
}

func TestProcessSpawnerMissingBinary(t *testing.T) {
	sp, err := NewProcessSpawner("/nonexistent/relay", nil, quiet)
	require.NoError(t, err)
	assert.Error(t, sp.Spawn("https://example.com/a.bin", "a.bin"))
}
