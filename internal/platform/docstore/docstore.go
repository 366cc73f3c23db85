// Package docstore checks that document references exist before the lifecycle
// engine links them to a claim. Uploading and serving documents happen
// elsewhere.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidID        = errors.New("invalid document id")
)

// Verifier reports whether a document id refers to a stored object.
type Verifier interface {
	Exists(ctx context.Context, id string) error
}

// KeyPrefix is where claim documents live in the bucket.
const KeyPrefix = "claims/"

// Key maps a document id to its object key.
func Key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return KeyPrefix + id, nil
}

// NopVerifier accepts every id. Used when no bucket is configured.
type NopVerifier struct{}

func (NopVerifier) Exists(context.Context, string) error { return nil }

// MemoryStore is an in-process set of document ids for development and tests.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewMemoryStore(ids ...string) *MemoryStore {
	s := &MemoryStore{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *MemoryStore) Put(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *MemoryStore) Exists(_ context.Context, id string) error {
	if _, err := Key(id); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ids[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return nil
}

// VerifyAll checks every id and returns the first failure.
func VerifyAll(ctx context.Context, v Verifier, ids []string) error {
	if v == nil {
		return nil
	}
	for _, id := range ids {
		if err := v.Exists(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
