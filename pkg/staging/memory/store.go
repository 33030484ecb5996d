// Package memory implements the staging capability in process memory.
// It exists for tests and for the intake's direct-dispatch fallback when the
// object store is disabled.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
)

type object struct {
	data           []byte
	meta           staging.Metadata
	uploadedAt     time.Time
	lastAccessedAt time.Time
	expiresAt      time.Time
}

// Store is the in-memory staging store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object

	// Disabled makes every Put fail with staging.ErrDisabled, mirroring the
	// S3 store's credential-less mode in tests.
	Disabled bool

	// now is swappable in tests.
	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string]*object),
		now:     time.Now,
	}
}

// Put stores a copy of the data.
func (s *Store) Put(ctx context.Context, key string, data []byte, meta staging.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Disabled {
		return staging.ErrDisabled
	}

	now := s.now()
	uploadedAt := meta.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = now
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[key] = &object{
		data:           buf,
		meta:           meta,
		uploadedAt:     uploadedAt,
		lastAccessedAt: now,
		expiresAt:      now.Add(staging.RetentionWindow),
	}
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the stored bytes and refreshes access tags.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, staging.ErrNotFound
	}

	now := s.now()
	obj.lastAccessedAt = now
	obj.expiresAt = now.Add(staging.RetentionWindow)

	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// Head reports whether the object exists.
func (s *Store) Head(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Delete removes the object. Missing objects are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Touch refreshes the object's lifecycle tags.
func (s *Store) Touch(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return staging.ErrNotFound
	}

	now := s.now()
	obj.lastAccessedAt = now
	obj.expiresAt = now.Add(staging.RetentionWindow)
	return nil
}

// Rename moves the object, refreshing its expiry.
func (s *Store) Rename(ctx context.Context, oldKey, newKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[oldKey]
	if !ok {
		return staging.ErrNotFound
	}

	now := s.now()
	obj.lastAccessedAt = now
	obj.expiresAt = now.Add(staging.RetentionWindow)

	s.objects[newKey] = obj
	delete(s.objects, oldKey)
	return nil
}

// Len returns the number of stored objects. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ExpiresAt returns the expiry of a key, or false. Test helper.
func (s *Store) ExpiresAt(key string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return time.Time{}, false
	}
	return obj.expiresAt, true
}
