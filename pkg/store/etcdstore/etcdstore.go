// Package etcdstore binds pkg/store.Store to a real etcd cluster via
// go.etcd.io/etcd/client/v3. Lease-conditioned writes use etcd's native
// compare-on-lease transaction: the put or delete only commits if the lock
// key's currently attached lease still matches the one this process holds,
// which is exactly the fencing token the abstract Store contract (spec
// §4.1) asks for.
package etcdstore

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nimbusblock/control-plane/pkg/store"
)

// Store is a Store implementation backed by an etcd client.
type Store struct {
	client    *clientv3.Client
	opTimeout time.Duration

	leaseID int64
	lockKey string
	fenced  bool
}

// New connects to the given etcd endpoints, applying opTimeout to every
// individual KV operation.
func New(endpoints []string, dialTimeout, opTimeout time.Duration) (*Store, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Store{client: cli, opTimeout: opTimeout}, nil
}

// Close shuts down the underlying etcd client connection.
func (s *Store) Close() error { return s.client.Close() }

// WithLease returns a Store view fenced to the given lease id / lock key.
// It shares the underlying etcd client connection.
func (s *Store) WithLease(leaseID int64, lockKey string) store.Store {
	return &Store{client: s.client, opTimeout: s.opTimeout, leaseID: leaseID, lockKey: lockKey, fenced: leaseID != 0}
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.opTimeout)
}

func (s *Store) Put(parent context.Context, key string, value []byte) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	if !s.fenced {
		_, err := s.client.Put(ctx, key, string(value))
		return err
	}

	cmp := clientv3.Compare(clientv3.LeaseValue(s.lockKey), "=", s.leaseID)
	put := clientv3.OpPut(key, string(value))
	resp, err := s.client.Txn(ctx).If(cmp).Then(put).Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return store.ErrLostLeadership
	}
	return nil
}

func (s *Store) Get(parent context.Context, key string) ([]byte, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, store.ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *Store) Delete(parent context.Context, key string) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	if !s.fenced {
		_, err := s.client.Delete(ctx, key)
		return err
	}

	cmp := clientv3.Compare(clientv3.LeaseValue(s.lockKey), "=", s.leaseID)
	del := clientv3.OpDelete(key)
	resp, err := s.client.Txn(ctx).If(cmp).Then(del).Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return store.ErrLostLeadership
	}
	return nil
}

func (s *Store) GetPrefix(parent context.Context, prefix string) ([]store.KV, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]store.KV, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, store.KV{Key: string(kv.Key), Value: kv.Value})
	}
	return out, nil
}

// Watch streams Put/Delete events for key. The stream terminates after the
// first Delete event, per the abstract Store contract.
func (s *Store) Watch(ctx context.Context, key string) (<-chan store.WatchEvent, error) {
	out := make(chan store.WatchEvent, 16)
	wch := s.client.Watch(ctx, key)

	go func() {
		defer close(out)
		for resp := range wch {
			if resp.Err() != nil {
				return
			}
			for _, ev := range resp.Events {
				switch ev.Type {
				case clientv3.EventTypePut:
					select {
					case out <- store.WatchEvent{Kind: store.WatchPut, Key: string(ev.Kv.Key), Value: ev.Kv.Value}:
					case <-ctx.Done():
						return
					}
				case clientv3.EventTypeDelete:
					select {
					case out <- store.WatchEvent{Kind: store.WatchDelete, Key: string(ev.Kv.Key)}:
					case <-ctx.Done():
					}
					return
				}
			}
		}
	}()

	return out, nil
}
