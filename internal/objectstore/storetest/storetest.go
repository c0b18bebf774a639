// Package storetest provides an instrumented objectstore.Store for tests.
package storetest

import (
	"context"
	"sync"

	"github.com/ligustah/relay/internal/objectstore"
)

// Call records one invocation against the store.
type Call struct {
	Op   string // "put", "multipart", "head", "delete"
	Key  string
	Opts objectstore.MultipartOptions
}

// Store wraps a real Store, recording calls and letting tests inject
// failures or tamper with reported sizes.
type Store struct {
	Inner objectstore.Store

	// PutErr, when set, is consulted before every put or multipart put.
	// A non-nil result fails the call without touching Inner.
	PutErr func(attempt int) error

	// HeadSize, when set, replaces the size reported by Inner.
	HeadSize func(attempt int, actual int64) int64

	// HeadErr, when set, fails HeadObject for the given attempt.
	HeadErr func(attempt int) error

	// DeleteErr, when set, fails DeleteObject.
	DeleteErr error

	mu    sync.Mutex
	calls []Call
	puts  int
	heads int
}

var _ objectstore.Store = (*Store)(nil)

// New wraps inner.
func New(inner objectstore.Store) *Store {
	return &Store{Inner: inner}
}

func (s *Store) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

// Calls returns a copy of the recorded calls.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns the number of calls for op.
func (s *Store) Count(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (s *Store) nextPut() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	return s.puts
}

func (s *Store) nextHead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads++
	return s.heads
}

func (s *Store) PutObject(ctx context.Context, key, path string, opts objectstore.PutOptions) error {
	s.record(Call{Op: "put", Key: key, Opts: objectstore.MultipartOptions{PutOptions: opts}})
	attempt := s.nextPut()
	if s.PutErr != nil {
		if err := s.PutErr(attempt); err != nil {
			return err
		}
	}
	return s.Inner.PutObject(ctx, key, path, opts)
}

func (s *Store) MultipartPut(ctx context.Context, key, path string, opts objectstore.MultipartOptions) error {
	s.record(Call{Op: "multipart", Key: key, Opts: opts})
	attempt := s.nextPut()
	if s.PutErr != nil {
		if err := s.PutErr(attempt); err != nil {
			return err
		}
	}
	return s.Inner.MultipartPut(ctx, key, path, opts)
}

func (s *Store) HeadObject(ctx context.Context, key string) (objectstore.ObjectInfo, error) {
	s.record(Call{Op: "head", Key: key})
	attempt := s.nextHead()
	if s.HeadErr != nil {
		if err := s.HeadErr(attempt); err != nil {
			return objectstore.ObjectInfo{}, err
		}
	}
	info, err := s.Inner.HeadObject(ctx, key)
	if err != nil {
		return info, err
	}
	if s.HeadSize != nil {
		info.Size = s.HeadSize(attempt, info.Size)
	}
	return info, nil
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	s.record(Call{Op: "delete", Key: key})
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return s.Inner.DeleteObject(ctx, key)
}
