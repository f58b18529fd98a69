// Package memstore is an in-process Store implementation backed by a
// mutex-guarded map. It is used by the unit tests of other packages, where a
// real etcd cluster would be overkill, and as the runtime backend when
// STORE_BACKEND is "mem".
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/nimbusblock/control-plane/pkg/store"
)

// Store is a Store implementation that keeps everything in memory. The
// zero value is not usable; construct with New.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	leaseID int64
	lockKey string
	fenced  bool

	watchMu sync.Mutex
	watches map[string][]chan store.WatchEvent
}

// New creates an empty memstore.
func New() *Store {
	return &Store{
		data:    make(map[string][]byte),
		watches: make(map[string][]chan store.WatchEvent),
	}
}

// WithLease returns a Store view fenced to the given lease id / lock key.
// Puts and Deletes on the returned Store fail with store.ErrLostLeadership
// once the lock key's held lease no longer matches leaseID (simulated via
// SimulateLeaseLoss below — memstore has no real lease TTL).
func (s *Store) WithLease(leaseID int64, lockKey string) store.Store {
	return &Store{data: s.data, mu: sync.RWMutex{}, watches: s.watches, leaseID: leaseID, lockKey: lockKey, fenced: true, watchMu: sync.Mutex{}}
}

// SimulateLeaseLoss marks the lock key as held by a different lease,
// causing subsequent fenced Puts/Deletes to fail. Test-only helper.
func (s *Store) SimulateLeaseLoss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockKey != "" {
		s.data[s.lockKey] = []byte("stolen")
	}
}

func (s *Store) checkFence() error {
	if !s.fenced {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if held, ok := s.data[s.lockKey]; ok && string(held) == "stolen" {
		return store.ErrLostLeadership
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.checkFence(); err != nil {
		return err
	}
	s.mu.Lock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	s.mu.Unlock()
	s.notify(store.WatchEvent{Kind: store.WatchPut, Key: key, Value: cp})
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkFence(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	s.notify(store.WatchEvent{Kind: store.WatchDelete, Key: key})
	return nil
}

func (s *Store) GetPrefix(ctx context.Context, prefix string) ([]store.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.KV
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, store.KV{Key: k, Value: cp})
		}
	}
	return out, nil
}

func (s *Store) Watch(ctx context.Context, key string) (<-chan store.WatchEvent, error) {
	ch := make(chan store.WatchEvent, 8)
	s.watchMu.Lock()
	s.watches[key] = append(s.watches[key], ch)
	s.watchMu.Unlock()
	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		subs := s.watches[key]
		for i, c := range subs {
			if c == ch {
				s.watches[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (s *Store) notify(ev store.WatchEvent) {
	s.watchMu.Lock()
	subs := append([]chan store.WatchEvent(nil), s.watches[ev.Key]...)
	s.watchMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
