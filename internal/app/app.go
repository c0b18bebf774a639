// Package app builds the relay components from a config.Config.
package app

import (
	"context"
	"io"

	"github.com/apex/log"
	"github.com/pkg/errors"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ligustah/relay/internal/api"
	"github.com/ligustah/relay/internal/config"
	"github.com/ligustah/relay/internal/dispatch"
	"github.com/ligustah/relay/internal/downloader"
	relayhttp "github.com/ligustah/relay/internal/http"
	"github.com/ligustah/relay/internal/objectstore"
	"github.com/ligustah/relay/internal/status"
	"github.com/ligustah/relay/internal/uploader"
	"github.com/ligustah/relay/internal/worker"
)

// Spawn modes.
const (
	SpawnGoroutine = "goroutine"
	SpawnProcess   = "process"
)

// App holds the long-lived components shared by every command.
type App struct {
	Config  config.Config
	Log     log.Interface
	Status  *status.Store
	Objects objectstore.Store

	closers []io.Closer
}

// New validates cfg and opens the status database and the object store.
func New(ctx context.Context, cfg config.Config, logger log.Interface) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Log
	}

	st, err := OpenStatus(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: logger, Status: st, closers: []io.Closer{st}}

	objects, err := OpenObjects(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Objects = objects
	if c, ok := objects.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	return a, nil
}

// OpenStatus opens the status store described by cfg.Database.
func OpenStatus(cfg config.Config) (*status.Store, error) {
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	return status.Open(cfg.Database.Driver, cfg.DatabaseDSN(), gormlogger.Default.LogMode(gormlogger.Warn))
}

// OpenObjects opens the object store. A bucket URL selects the gocloud
// backend; otherwise the S3 API is used against the R2 endpoint.
func OpenObjects(ctx context.Context, cfg config.Config, logger log.Interface) (objectstore.Store, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	if cfg.Storage.BucketURL != "" {
		bs, err := objectstore.OpenBlobStore(ctx, cfg.Storage.BucketURL)
		if err != nil {
			return nil, err
		}
		return bs, nil
	}
	client := objectstore.NewS3Client(objectstore.S3Options{
		Endpoint:        cfg.R2Endpoint(),
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	})
	return objectstore.NewS3Store(client, cfg.Storage.Bucket, logger), nil
}

// HTTPClient builds the download client from the transfer settings.
func HTTPClient(cfg config.Config) *relayhttp.Client {
	opts := relayhttp.DefaultOptions()
	opts.ConnectTimeout = cfg.Transfer.ConnectTimeout
	opts.InsecureTLS = cfg.Transfer.InsecureTLS
	if cfg.Transfer.UserAgent != "" {
		opts.UserAgent = cfg.Transfer.UserAgent
	}
	return relayhttp.NewClient(opts)
}

// Downloader builds a downloader for cfg.
func Downloader(cfg config.Config, logger log.Interface) *downloader.Downloader {
	return downloader.New(HTTPClient(cfg), downloader.Options{
		TempDir: cfg.Transfer.TempDir,
		Logger:  logger,
	})
}

// Worker builds a transfer worker.
func (a *App) Worker() *worker.Worker {
	up := uploader.New(a.Objects, uploader.Options{
		PartSize:    a.Config.PartSize(),
		Concurrency: config.MultipartConcurrency,
		Logger:      a.Log,
	})
	return worker.New(Downloader(a.Config, a.Log), up, a.Status, worker.Options{
		DownloadRetry: a.Config.Transfer.DownloadRetry,
		UploadRetry:   a.Config.Transfer.UploadRetry,
		PublicBaseURL: a.Config.Storage.PublicBaseURL,
		Logger:        a.Log,
	})
}

// Spawner is a dispatch.Spawner that can wait for its workers.
type Spawner interface {
	dispatch.Spawner
	Wait()
}

// Spawner builds the spawner selected by the server's spawn mode. args
// are passed to child processes ahead of the worker command.
func (a *App) Spawner(ctx context.Context, args []string) (Spawner, error) {
	switch a.Config.Server.SpawnMode {
	case "", SpawnGoroutine:
		return dispatch.NewGoroutineSpawner(ctx, a.Worker(), a.Log), nil
	case SpawnProcess:
		return dispatch.NewProcessSpawner("", args, a.Log)
	default:
		return nil, &config.ConfigurationError{Field: "server.spawn_mode", Reason: "must be goroutine or process"}
	}
}

// Dispatcher builds a dispatcher using spawner.
func (a *App) Dispatcher(spawner dispatch.Spawner) *dispatch.Dispatcher {
	return dispatch.New(a.Status, a.Objects, spawner, a.Log)
}

// Server builds the HTTP API.
func (a *App) Server(d api.Dispatcher) *api.Server {
	return api.NewServer(d, a.Status, api.Options{
		APIKey:        a.Config.Server.APIKey,
		AdminUser:     a.Config.Server.AdminUser,
		AdminPassHash: a.Config.Server.AdminPassHash,
		Logger:        a.Log,
	})
}

// Close releases the database and the object store.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = errors.Wrap(err, "close")
		}
	}
	a.closers = nil
	return first
}
