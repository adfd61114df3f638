package storefake

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-cluster-gateway/token/refresh"
)

var _ refresh.Store = (*FakeStore)(nil)

// FakeStore is an in-memory refresh.Store for tests. Entries never expire;
// the ttl of the last Put for each key is recorded instead.
type FakeStore struct {
	results map[string]*refresh.Result
	ttls    map[string]time.Duration
	lock    sync.RWMutex
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		results: make(map[string]*refresh.Result),
		ttls:    make(map[string]time.Duration),
	}
}

func (s *FakeStore) Get(_ context.Context, key string) (*refresh.Result, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.results[key], nil
}

func (s *FakeStore) Put(_ context.Context, key string, result *refresh.Result, ttl time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.results[key] = result
	s.ttls[key] = ttl
	return nil
}

// TTL returns the ttl recorded for key.
func (s *FakeStore) TTL(key string) time.Duration {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.ttls[key]
}

// Len returns the number of stored results.
func (s *FakeStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.results)
}
