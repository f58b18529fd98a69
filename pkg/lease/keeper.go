// Package lease implements the control plane's singleton-writer election
// protocol (spec §4.2): grant a lease, claim a well-known lock key
// conditioned on that lease, keep the lease alive, and broadcast a Lost()
// signal the moment that stops being true.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nimbusblock/control-plane/internal/telemetry"
	"github.com/nimbusblock/control-plane/pkg/store"
)

// Keeper owns one etcd lease and the lock key attached to it. While Lost()
// has not fired, the (LeaseID, LockKey) pair it exposes fences every write
// the control plane makes through pkg/store.
type Keeper struct {
	client  *clientv3.Client
	logger  *slog.Logger
	lockKey string
	leaseID clientv3.LeaseID
	ttl     time.Duration

	lostOnce sync.Once
	lost     chan struct{}

	releasing atomic.Bool
	cancelKeepAlive context.CancelFunc
}

// Acquire grants a lease with the given TTL and claims lockKey, failing if
// the key already exists with a still-live lease held by someone else. On
// success it starts the keep-alive goroutine described in spec §4.2 step 3.
func Acquire(ctx context.Context, client *clientv3.Client, lockKey string, ttl time.Duration, logger *slog.Logger) (*Keeper, error) {
	grant, err := client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("granting lease: %w", err)
	}

	cmp := clientv3.Compare(clientv3.CreateRevision(lockKey), "=", 0)
	put := clientv3.OpPut(lockKey, "", clientv3.WithLease(grant.ID))
	resp, err := client.Txn(ctx).If(cmp).Then(put).Commit()
	if err != nil {
		return nil, fmt.Errorf("claiming lock key %q: %w", lockKey, err)
	}
	if !resp.Succeeded {
		// The key exists. It may be held by a lease that has since expired
		// (its TTL ran out and etcd garbage-collected the key — in which case
		// we'd have succeeded above) or it's genuinely held by a live writer.
		_, _ = client.Revoke(ctx, grant.ID)
		return nil, fmt.Errorf("lock key %q already held by an active writer", lockKey)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	k := &Keeper{
		client:          client,
		logger:          logger,
		lockKey:         lockKey,
		leaseID:         grant.ID,
		ttl:             ttl,
		lost:            make(chan struct{}),
		cancelKeepAlive: cancel,
	}

	kaCh, err := client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("starting keep-alive: %w", err)
	}
	go k.drainKeepAlive(kaCh)

	logger.Info("lease acquired", "lock_key", lockKey, "lease_id", grant.ID, "ttl", ttl)
	return k, nil
}

func (k *Keeper) drainKeepAlive(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for range ch {
		// etcd's client refreshes at ~TTL/3 internally; draining the channel
		// is all a caller needs to do to keep the lease alive.
		telemetry.LeaseRenewalsTotal.WithLabelValues("ok").Inc()
	}
	// The channel closes when the lease expires, is revoked, or the
	// keep-alive context is cancelled. Only the first two represent a loss
	// of leadership; Release() sets releasing before cancelling so this
	// closure is not mistaken for one.
	if k.releasing.Load() {
		return
	}
	k.lostOnce.Do(func() {
		k.logger.Warn("lease keep-alive stream closed", "lock_key", k.lockKey, "lease_id", k.leaseID)
		telemetry.LeaseRenewalsTotal.WithLabelValues("lost").Inc()
		telemetry.LeaseLostTotal.Inc()
		close(k.lost)
	})
}

// LeaseID returns the etcd lease id this keeper holds.
func (k *Keeper) LeaseID() int64 { return int64(k.leaseID) }

// LockKey returns the well-known lock key this lease holds.
func (k *Keeper) LockKey() string { return k.lockKey }

// Lost returns a channel that is closed when the keep-alive stream ends
// other than through Release (the lease was revoked or expired). A
// conditional write failing with store.ErrLostLeadership does not close it.
// Once closed, the executor rejects all further mutating calls with
// ctlerr.KindNotReady.
func (k *Keeper) Lost() <-chan struct{} { return k.lost }

// Fence returns a store.Store bound to this keeper's (lease, lock) pair, so
// every Put/Delete through it is conditioned on this keeper still holding
// the lease.
func (k *Keeper) Fence(base store.LeaseFenced) store.Store {
	return base.WithLease(int64(k.leaseID), k.lockKey)
}

// Release deletes the lock key and revokes the lease, per spec §4.2 step 5.
// It is idempotent with loss detection: Release does not treat the
// resulting keep-alive channel closure as a Lost() signal.
func (k *Keeper) Release(ctx context.Context) error {
	k.releasing.Store(true)
	k.cancelKeepAlive()

	cmp := clientv3.Compare(clientv3.LeaseValue(k.lockKey), "=", k.leaseID)
	del := clientv3.OpDelete(k.lockKey)
	if _, err := k.client.Txn(ctx).If(cmp).Then(del).Commit(); err != nil {
		k.logger.Error("deleting lock key on release", "error", err)
	}
	if _, err := k.client.Revoke(ctx, k.leaseID); err != nil {
		return fmt.Errorf("revoking lease: %w", err)
	}
	return nil
}
