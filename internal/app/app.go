// Package app wires every component into one running process: the store
// binding, the lease keeper, the five specs registries, the node cache, the
// reconcile engine, the transport binding, the domain services, and the
// admin server. Its Run mirrors the teacher's app.Run in shape: build
// dependencies top-down, start background loops, block until ctx is
// cancelled, then shut down in reverse order.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/nimbusblock/control-plane/internal/adminserver"
	"github.com/nimbusblock/control-plane/internal/config"
	"github.com/nimbusblock/control-plane/internal/telemetry"
	"github.com/nimbusblock/control-plane/pkg/dataplane"
	"github.com/nimbusblock/control-plane/pkg/executor"
	"github.com/nimbusblock/control-plane/pkg/lease"
	"github.com/nimbusblock/control-plane/pkg/nodecache"
	"github.com/nimbusblock/control-plane/pkg/ops"
	"github.com/nimbusblock/control-plane/pkg/reconcile"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store"
	"github.com/nimbusblock/control-plane/pkg/store/etcdstore"
	"github.com/nimbusblock/control-plane/pkg/store/memstore"
	"github.com/nimbusblock/control-plane/pkg/transport/redistransport"
)

// App holds every long-lived dependency, for Run to start and Shutdown to
// tear down in reverse order.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	etcdClient *clientv3.Client
	keeper     *lease.Keeper

	redis *redis.Client

	nodes    *registry.Registry[spec.NodeSpec]
	pools    *registry.Registry[spec.PoolSpec]
	replicas *registry.Registry[spec.ReplicaSpec]
	nexuses  *registry.Registry[spec.NexusSpec]
	volumes  *registry.Registry[spec.VolumeSpec]

	nodeCache *nodecache.Cache
	engine    *reconcile.Engine

	Pools    *ops.PoolService
	Replicas *ops.ReplicaService
	Nexuses  *ops.NexusService
	Volumes  *ops.VolumeService

	admin *adminserver.Server
}

// poolLookup adapts the pools registry and node cache to
// scheduler.PoolLookup, without either package depending on the other.
type poolLookup struct {
	pools *registry.Registry[spec.PoolSpec]
	nodes *nodecache.Cache
}

func (p poolLookup) PoolNode(poolID string) (string, bool) {
	h, err := p.pools.Get(poolID)
	if err != nil {
		return "", false
	}
	return h.Read().Node, true
}

func (p poolLookup) NodeOnline(nodeID string) bool {
	snap, ok := p.nodes.Get(nodeID)
	return ok && snap.Status == nodecache.NodeOnline
}

// Build constructs every dependency but starts nothing: the store
// connection, lease acquisition, registry loads, and service wiring all
// happen here so Build's caller can inspect the App (e.g. in tests) before
// Run starts the background loops.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	kb := store.NewKeyBuilder("nimbusblock", cfg.ClusterUID, cfg.StoreNamespace)

	var backing store.Store
	switch cfg.StoreBackend {
	case "mem":
		backing = memstore.New()
	default:
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.StoreEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to store endpoints %v: %w", cfg.StoreEndpoints, err)
		}
		a.etcdClient = cli

		es, err := etcdstore.New(cfg.StoreEndpoints, 5*time.Second, cfg.StoreOpTimeout)
		if err != nil {
			return nil, fmt.Errorf("building etcd store: %w", err)
		}
		backing = es
	}

	unfenced := store.Instrument(backing)

	var fenced store.Store = unfenced
	if cfg.StoreBackend != "mem" {
		keeper, err := lease.Acquire(ctx, a.etcdClient, kb.LockKey("control-plane"), cfg.LeaseTTL, logger)
		if err != nil {
			return nil, fmt.Errorf("acquiring lease: %w", err)
		}
		a.keeper = keeper
		if lf, ok := backing.(store.LeaseFenced); ok {
			fenced = store.Instrument(keeper.Fence(lf))
		}
	}

	a.nodes = registry.New[spec.NodeSpec](spec.KindNode, kb.NodeSpecKey)
	a.pools = registry.New[spec.PoolSpec](spec.KindPool, kb.PoolSpecKey)
	a.replicas = registry.New[spec.ReplicaSpec](spec.KindReplica, kb.ReplicaSpecKey)
	a.nexuses = registry.New[spec.NexusSpec](spec.KindNexus, kb.NexusSpecKey)
	a.volumes = registry.New[spec.VolumeSpec](spec.KindVolume, kb.VolumeSpecKey)

	if err := a.nodes.LoadAll(ctx, unfenced, kb.SpecPrefix("node")); err != nil {
		return nil, fmt.Errorf("loading nodes: %w", err)
	}
	if err := a.pools.LoadAll(ctx, unfenced, kb.SpecPrefix("pool")); err != nil {
		return nil, fmt.Errorf("loading pools: %w", err)
	}
	if err := a.replicas.LoadAll(ctx, unfenced, kb.SpecPrefix("replica")); err != nil {
		return nil, fmt.Errorf("loading replicas: %w", err)
	}
	if err := a.nexuses.LoadAll(ctx, unfenced, kb.SpecPrefix("nexus")); err != nil {
		return nil, fmt.Errorf("loading nexuses: %w", err)
	}
	if err := a.volumes.LoadAll(ctx, unfenced, kb.SpecPrefix("volume")); err != nil {
		return nil, fmt.Errorf("loading volumes: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url %q: %w", cfg.RedisURL, err)
	}
	a.redis = redis.NewClient(redisOpts)
	tport := redistransport.New(a.redis, cfg.TransportMajor)
	client := dataplane.New(tport)

	a.nodeCache = nodecache.New(client, logger, cfg.NodeCachePeriod, cfg.NodeKeepAliveDeadline, cfg.NodeCacheMaxInFlight)
	for _, h := range a.nodes.List() {
		a.nodeCache.Register(h.Read())
	}

	pools := poolLookup{pools: a.pools, nodes: a.nodeCache}

	nexusInfo := func(nexusUUID string) (*spec.NexusInfo, error) {
		b, err := fenced.Get(ctx, kb.NexusInfoKey(nexusUUID))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		var info spec.NexusInfo
		if err := json.Unmarshal(b, &info); err != nil {
			return nil, err
		}
		return &info, nil
	}

	keeperStatus := leaseStatus(a.keeper)

	deps := &reconcile.Deps{
		Nexuses:    a.nexuses,
		Replicas:   a.replicas,
		Nodes:      a.nodeCache,
		Pools:      pools,
		NexusInfo:  nexusInfo,
		Client:     client,
		Logger:     logger,
		Store:      fenced,
		NexusKey:   kb.NexusSpecKey,
		ReplicaKey: kb.ReplicaSpecKey,
	}

	a.engine = reconcile.NewEngine(logger, cfg.ReconcilePeriod, cfg.ReconcileIdlePeriod,
		reconcile.NewFaultedChildrenRemover(deps),
		reconcile.NewUnknownChildrenRemover(deps),
		reconcile.NewMissingChildrenRemover(deps),
		reconcile.NewMissingNexusRecreate(deps, cfg.MaxConcurrentRebuilds),
		reconcile.NewShareProtocolFixup(deps),
		reconcile.NewFaultedNexusRemover(deps),
		reconcile.NewGarbageCollector(deps),
	)

	a.Pools = ops.NewPoolService(a.pools, keeperStatus, fenced, kb.PoolSpecKey, logger, client, cfg.DefaultRequestTimeout)
	a.Replicas = ops.NewReplicaService(a.replicas, keeperStatus, fenced, kb.ReplicaSpecKey, logger, client, cfg.DefaultRequestTimeout)
	a.Nexuses = ops.NewNexusService(a.nexuses, keeperStatus, fenced, kb.NexusSpecKey, logger, client, cfg.DefaultRequestTimeout)
	a.Volumes = ops.NewVolumeService(a.volumes, keeperStatus, fenced, kb.VolumeSpecKey, logger, a.Nexuses, reconcile.DisownReplica(deps), cfg.DefaultRequestTimeout)

	if err := replayAll(ctx, a, fenced, kb, logger); err != nil {
		return nil, fmt.Errorf("replaying pending operations: %w", err)
	}

	metricsReg := prometheus.NewRegistry()
	for _, c := range telemetry.All() {
		metricsReg.MustRegister(c)
	}
	a.admin = adminserver.NewServer(logger, metricsReg, fenced, keeperStatus, kb.LockKey("control-plane"))

	return a, nil
}

// leaseStatus adapts a possibly-nil *lease.Keeper (standalone/mem-backend
// runs have none) to executor.LeaseStatus: with no keeper, mutations are
// never rejected for lease loss since there is no lease to lose.
func leaseStatus(k *lease.Keeper) executor.LeaseStatus {
	if k == nil {
		return alwaysHeld{}
	}
	return k
}

type alwaysHeld struct{}

func (alwaysHeld) Lost() <-chan struct{} { return nil }

func replayAll(ctx context.Context, a *App, fenced store.Store, kb store.KeyBuilder, logger *slog.Logger) error {
	if err := executor.ReplayPending(ctx, a.pools, fenced, kb.PoolSpecKey, logger,
		func(p spec.PoolSpec) *spec.PendingOp { return p.Operation },
		func(p *spec.PoolSpec, op *spec.PendingOp) { p.Operation = op }); err != nil {
		return err
	}
	if err := executor.ReplayPending(ctx, a.replicas, fenced, kb.ReplicaSpecKey, logger,
		func(r spec.ReplicaSpec) *spec.PendingOp { return r.Operation },
		func(r *spec.ReplicaSpec, op *spec.PendingOp) { r.Operation = op }); err != nil {
		return err
	}
	if err := executor.ReplayPending(ctx, a.nexuses, fenced, kb.NexusSpecKey, logger,
		func(n spec.NexusSpec) *spec.PendingOp { return n.Operation },
		func(n *spec.NexusSpec, op *spec.PendingOp) { n.Operation = op }); err != nil {
		return err
	}
	if err := executor.ReplayPending(ctx, a.volumes, fenced, kb.VolumeSpecKey, logger,
		func(v spec.VolumeSpec) *spec.PendingOp { return v.Operation },
		func(v *spec.VolumeSpec, op *spec.PendingOp) { v.Operation = op }); err != nil {
		return err
	}
	return nil
}

// ErrLeaseLost is returned by Run when this process held the leader lease,
// lost it, and cfg.ExitOnLeaseLoss is set. Without ExitOnLeaseLoss, Run keeps
// running after the loss with mutations rejected as NotReady; nothing
// reacquires the lease.
var ErrLeaseLost = errors.New("lease lost")

// Run starts the node cache refresh loop, the reconcile engine, and the
// admin server, blocking until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 4)

	go func() { errCh <- a.nodeCache.Run(ctx) }()
	go func() { errCh <- a.engine.Run(ctx) }()
	go func() {
		a.logger.Info("admin server listening", "addr", a.cfg.ListenAddr())
		errCh <- http.ListenAndServe(a.cfg.ListenAddr(), a.admin)
	}()
	if a.keeper != nil && a.cfg.ExitOnLeaseLoss {
		go func() {
			select {
			case <-ctx.Done():
			case <-a.keeper.Lost():
				errCh <- ErrLeaseLost
			}
		}()
	}

	select {
	case <-ctx.Done():
		return a.Shutdown(context.Background())
	case err := <-errCh:
		if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil {
			a.logger.Error("shutdown after run error", "error", shutdownErr)
		}
		return err
	}
}

// Shutdown releases the lease (if held) and closes the backing
// connections.
func (a *App) Shutdown(ctx context.Context) error {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.keeper != nil {
		if err := a.keeper.Release(ctx); err != nil {
			a.logger.Error("releasing lease", "error", err)
		}
	}
	if a.etcdClient != nil {
		_ = a.etcdClient.Close()
	}
	return nil
}
