// Package memstore is an in-memory objectstore.ObjectStore fake used by
// every core unit test: buckets are just nested maps, guarded by a mutex.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tenantsqld/tenantsqld/internal/objectstore"
)

type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

func New() *Store {
	return &Store{buckets: make(map[string]map[string][]byte)}
}

func (s *Store) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("memstore: bucket %q: %w", bucket, objectstore.ErrNotExist)
	}
	data, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("memstore: %s/%s: %w", bucket, key, objectstore.ErrNotExist)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return io.NopCloser(bytes.NewReader(cp)), nil
}

func (s *Store) GetToFile(ctx context.Context, bucket, key, destPath string) error {
	rc, err := s.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("memstore: create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("memstore: write %s: %w", destPath, err)
	}
	return nil
}

func (s *Store) PutFile(_ context.Context, bucket, key, srcPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("memstore: read %s: %w", srcPath, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string][]byte)
	}
	s.buckets[bucket][key] = data
	return nil
}

func (s *Store) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[bucket]; ok {
		delete(b, key)
	}
	return nil
}

// Has reports whether bucket/key exists, a test-only convenience.
func (s *Store) Has(bucket, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return false
	}
	_, ok = b[key]
	return ok
}

// Bytes returns a copy of the stored bytes, a test-only convenience.
func (s *Store) Bytes(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucket]
	if !ok {
		return nil, false
	}
	data, ok := b[key]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true
}
