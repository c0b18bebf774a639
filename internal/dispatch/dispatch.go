package dispatch

import (
	"context"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/ligustah/relay/internal/config"
	"github.com/ligustah/relay/internal/objectkey"
	"github.com/ligustah/relay/internal/objectstore"
	"github.com/ligustah/relay/internal/status"
)

// MsgStarted is recorded when a transfer is accepted.
const MsgStarted = "Upload started"

// MsgSpawnFailed prefixes the message recorded when no worker could be
// launched.
const MsgSpawnFailed = "Failed to start worker"

// Retry outcomes.
const (
	RetryQueued  = "queued"
	RetrySkipped = "skipped"
)

var (
	// ErrNoKeys is returned when a retry or delete request carries no
	// usable key.
	ErrNoKeys = errors.New("no valid keys")
)

// StatusStore is the subset of the status table used by the dispatcher.
type StatusStore interface {
	Upsert(ctx context.Context, u status.Update) error
	GetMany(ctx context.Context, keys []string) (map[string]status.Record, error)
	MarkRetry(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) (bool, error)
}

// Dispatcher accepts transfers and administrative actions.
type Dispatcher struct {
	status  StatusStore
	objects objectstore.Store
	spawner Spawner
	log     log.Interface
}

// New creates a Dispatcher.
func New(st StatusStore, objects objectstore.Store, spawner Spawner, logger log.Interface) *Dispatcher {
	if logger == nil {
		logger = log.Log
	}
	return &Dispatcher{status: st, objects: objects, spawner: spawner, log: logger}
}

// Start records a pending row for url and launches a worker for it. The
// object key is the base name of filename, or of the URL path when
// filename is empty.
func (d *Dispatcher) Start(ctx context.Context, url, filename string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", &config.ConfigurationError{Field: "url", Reason: "is required"}
	}
	key := objectkey.FromSource(url, strings.TrimSpace(filename))
	if key == "" {
		return "", &config.ConfigurationError{Field: "filename", Reason: "does not yield an object key"}
	}

	var zero uint
	err := d.status.Upsert(ctx, status.Update{
		ObjectKey:   key,
		Status:      status.Pending,
		Message:     MsgStarted,
		Retries:     &zero,
		OriginalURL: url,
	})
	if err != nil {
		return key, errors.Wrap(err, "record pending transfer")
	}

	if err := d.spawner.Spawn(url, key); err != nil {
		d.spawnFailed(ctx, key, err)
		return key, err
	}
	d.log.WithFields(log.Fields{"key": key, "url": url}).Info("transfer dispatched")
	return key, nil
}

// spawnFailed marks key failed when no worker could be launched for it.
func (d *Dispatcher) spawnFailed(ctx context.Context, key string, cause error) {
	l := d.log.WithError(cause).WithField("key", key)
	l.Error("spawn worker")
	err := d.status.Upsert(context.WithoutCancel(ctx), status.Update{
		ObjectKey: key,
		Status:    status.Failed,
		Message:   MsgSpawnFailed + ": " + cause.Error(),
	})
	if err != nil {
		l.WithField("write_error", err.Error()).Error("record spawn failure")
	}
}

// RetryResult is the outcome for one key of a retry request.
type RetryResult struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Retry re-queues every known key that still has its source URL. Unknown
// keys and keys without a source are skipped.
func (d *Dispatcher) Retry(ctx context.Context, keys []string) ([]RetryResult, error) {
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	records, err := d.status.GetMany(ctx, keys)
	if err != nil {
		return nil, errors.Wrap(err, "load records")
	}

	results := make([]RetryResult, 0, len(keys))
	for _, key := range keys {
		rec, ok := records[key]
		switch {
		case !ok:
			results = append(results, RetryResult{Key: key, Status: RetrySkipped, Reason: "not found"})
			continue
		case rec.OriginalURL == nil || *rec.OriginalURL == "":
			results = append(results, RetryResult{Key: key, Status: RetrySkipped, Reason: "original_url missing"})
			continue
		}

		if err := d.status.MarkRetry(ctx, key); err != nil {
			return results, errors.Wrapf(err, "mark %s for retry", key)
		}
		if err := d.spawner.Spawn(*rec.OriginalURL, key); err != nil {
			d.spawnFailed(ctx, key, err)
			results = append(results, RetryResult{Key: key, Status: RetrySkipped, Reason: err.Error()})
			continue
		}
		results = append(results, RetryResult{Key: key, Status: RetryQueued})
	}
	return results, nil
}

// DeleteError reports an object-store failure for one key.
type DeleteError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// DeleteResult summarizes a delete request.
type DeleteResult struct {
	DeletedDB      int           `json:"deleted_db"`
	DeletedObjects int           `json:"deleted_r2"`
	Errors         []DeleteError `json:"errors"`
}

// Delete removes the status row and the stored object of every key.
// Object-store failures are collected per key; a database failure aborts
// the request.
func (d *Dispatcher) Delete(ctx context.Context, keys []string) (*DeleteResult, error) {
	keys = uniqueKeys(keys)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	res := &DeleteResult{Errors: []DeleteError{}}
	for _, key := range keys {
		deleted, err := d.status.Delete(ctx, key)
		if err != nil {
			return res, errors.Wrapf(err, "delete record %s", key)
		}
		if deleted {
			res.DeletedDB++
		}

		if err := d.objects.DeleteObject(ctx, key); err != nil {
			d.log.WithError(err).WithField("key", key).Warn("delete object")
			res.Errors = append(res.Errors, DeleteError{Key: key, Error: err.Error()})
			continue
		}
		res.DeletedObjects++
	}
	d.log.WithFields(log.Fields{
		"keys":       len(keys),
		"deleted_db": res.DeletedDB,
		"deleted_r2": res.DeletedObjects,
	}).Info("delete finished")
	return res, nil
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
