package store

import (
	"context"
	"time"

	"github.com/nimbusblock/control-plane/internal/telemetry"
)

// Instrument wraps base so every call records its duration against
// telemetry.StoreOpDuration, independent of which concrete binding
// (etcdstore, memstore) is underneath.
func Instrument(base Store) Store {
	return &instrumentedStore{base: base}
}

type instrumentedStore struct{ base Store }

func observe(op string, start time.Time) {
	telemetry.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *instrumentedStore) Put(ctx context.Context, key string, value []byte) error {
	defer observe("put", time.Now())
	return s.base.Put(ctx, key, value)
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe("get", time.Now())
	return s.base.Get(ctx, key)
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	defer observe("delete", time.Now())
	return s.base.Delete(ctx, key)
}

func (s *instrumentedStore) GetPrefix(ctx context.Context, prefix string) ([]KV, error) {
	defer observe("get_prefix", time.Now())
	return s.base.GetPrefix(ctx, prefix)
}

func (s *instrumentedStore) Watch(ctx context.Context, key string) (<-chan WatchEvent, error) {
	defer observe("watch", time.Now())
	return s.base.Watch(ctx, key)
}

// WithLease forwards to base if it supports lease fencing, re-wrapping the
// result so the fenced Store stays instrumented too.
func (s *instrumentedStore) WithLease(leaseID int64, lockKey string) Store {
	fenced, ok := s.base.(LeaseFenced)
	if !ok {
		return s
	}
	return &instrumentedStore{base: fenced.WithLease(leaseID, lockKey)}
}

var _ Store = (*instrumentedStore)(nil)
var _ LeaseFenced = (*instrumentedStore)(nil)
