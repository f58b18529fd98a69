// Package nodecache implements the node registry/cache (spec §4.5): a
// periodically refreshed view of what each data-plane node currently
// reports about its pools, replicas and nexuses, plus the node's own
// Online/Unknown/Offline state.
//
// The ticker-driven refresh loop follows the shape of Engine.Run in the
// escalation package this module was built from; the fan-out across nodes
// uses golang.org/x/sync/errgroup, bounding how many nodes are probed at
// once instead of spawning one goroutine per node unconditionally.
package nodecache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimbusblock/control-plane/pkg/spec"
)

// NodeStatus is the observed reachability of a data-plane node.
type NodeStatus int

const (
	NodeUnknown NodeStatus = iota
	NodeOnline
	NodeOffline
)

func (s NodeStatus) String() string {
	switch s {
	case NodeOnline:
		return "Online"
	case NodeOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// Snapshot is one node's observed state as of the last successful probe.
type Snapshot struct {
	Node     spec.NodeSpec
	Status   NodeStatus
	Pools    []spec.PoolState
	Replicas []spec.ReplicaState
	Nexuses  []spec.NexusState
	AsOf     time.Time
}

// NodeClient probes a single data-plane node for its current reported
// state. Implementations bind this over the transport capability (spec
// §4.8); tests supply a fake.
type NodeClient interface {
	ListPools(ctx context.Context, node spec.NodeSpec) ([]spec.PoolState, error)
	ListReplicas(ctx context.Context, node spec.NodeSpec) ([]spec.ReplicaState, error)
	ListNexuses(ctx context.Context, node spec.NodeSpec) ([]spec.NexusState, error)
}

// Cache holds the latest Snapshot per node and refreshes them on a timer.
type Cache struct {
	client   NodeClient
	logger   *slog.Logger
	period   time.Duration
	deadline time.Duration // how long a node may go unprobed before Offline
	maxInFlight int

	mu    sync.RWMutex
	nodes map[string]Snapshot
}

// New creates a Cache. period is how often Run probes every known node;
// deadline is how long since a node's last successful probe before a failed
// probe marks it Offline rather than Unknown; maxInFlight bounds how many
// nodes are probed concurrently per refresh pass.
func New(client NodeClient, logger *slog.Logger, period, deadline time.Duration, maxInFlight int) *Cache {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	return &Cache{
		client:      client,
		logger:      logger,
		period:      period,
		deadline:    deadline,
		maxInFlight: maxInFlight,
		nodes:       make(map[string]Snapshot),
	}
}

// Register adds node to the set the cache refreshes, starting it in
// NodeUnknown until the first probe completes.
func (c *Cache) Register(node spec.NodeSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[node.ID]; ok {
		return
	}
	c.nodes[node.ID] = Snapshot{Node: node, Status: NodeUnknown}
}

// Unregister drops node from the cache entirely.
func (c *Cache) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, id)
}

// Get returns the latest snapshot for id.
func (c *Cache) Get(id string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.nodes[id]
	return s, ok
}

// All returns every known snapshot.
func (c *Cache) All() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, 0, len(c.nodes))
	for _, s := range c.nodes {
		out = append(out, s)
	}
	return out
}

// Run refreshes every registered node on a ticker until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	c.logger.Info("node cache started", "period", c.period)
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("node cache stopped")
			return nil
		case <-ticker.C:
			c.refreshAll(ctx)
		}
	}
}

// Refresh runs one refresh pass immediately, outside the normal ticker
// cadence. Useful right after a node registers, and in tests.
func (c *Cache) Refresh(ctx context.Context) {
	c.refreshAll(ctx)
}

func (c *Cache) refreshAll(ctx context.Context) {
	c.mu.RLock()
	targets := make([]spec.NodeSpec, 0, len(c.nodes))
	for _, s := range c.nodes {
		targets = append(targets, s.Node)
	}
	c.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxInFlight)

	for _, node := range targets {
		node := node
		g.Go(func() error {
			c.refreshOne(gctx, node)
			return nil
		})
	}
	_ = g.Wait() // refreshOne never returns an error; failures are recorded per-node
}

func (c *Cache) refreshOne(ctx context.Context, node spec.NodeSpec) {
	pools, err := c.client.ListPools(ctx, node)
	if err != nil {
		c.markUnreachable(node, err)
		return
	}
	replicas, err := c.client.ListReplicas(ctx, node)
	if err != nil {
		c.markUnreachable(node, err)
		return
	}
	nexuses, err := c.client.ListNexuses(ctx, node)
	if err != nil {
		c.markUnreachable(node, err)
		return
	}

	c.mu.Lock()
	c.nodes[node.ID] = Snapshot{Node: node, Status: NodeOnline, Pools: pools, Replicas: replicas, Nexuses: nexuses, AsOf: now()}
	c.mu.Unlock()
}

func (c *Cache) markUnreachable(node spec.NodeSpec, probeErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.nodes[node.ID]
	status := NodeUnknown
	if ok && !prev.AsOf.IsZero() && now().Sub(prev.AsOf) > c.deadline {
		status = NodeOffline
	} else if ok && prev.Status == NodeOffline {
		status = NodeOffline
	}

	c.logger.Warn("node probe failed", "node", node.ID, "error", probeErr, "status", status.String())
	c.nodes[node.ID] = Snapshot{Node: node, Status: status, AsOf: prev.AsOf}
}

// Touch marks id Online immediately, independent of the poll ticker: spec
// §4.5's "an incoming liveness registration returns a node to Online",
// driven by a node's own heartbeat publish rather than waiting for the
// next refresh pass to notice it answering again.
func (c *Cache) Touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.nodes[id]
	if !ok {
		return
	}
	prev.Status = NodeOnline
	prev.AsOf = now()
	c.nodes[id] = prev
}

// now is a var so tests can freeze time without reaching for a clock
// abstraction across the whole package.
var now = time.Now
