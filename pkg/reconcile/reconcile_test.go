package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nimbusblock/control-plane/pkg/nodecache"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store/memstore"
)

func testDeps(nexuses *registry.Registry[spec.NexusSpec], replicas *registry.Registry[spec.ReplicaSpec], cache *nodecache.Cache, client *fakeClient) *Deps {
	return &Deps{
		Nexuses:    nexuses,
		Replicas:   replicas,
		Nodes:      cache,
		Pools:      fakePools{},
		NexusInfo:  func(string) (*spec.NexusInfo, error) { return nil, nil },
		Client:     client,
		Logger:     discardLogger(),
		Store:      memstore.New(),
		NexusKey:   func(id string) string { return "spec/nexus/" + id },
		ReplicaKey: func(id string) string { return "spec/replica/" + id },
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordedCall struct {
	method string
	args   []string
}

type fakeClient struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeClient) record(method string, args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{method: method, args: args})
}

func (f *fakeClient) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (f *fakeClient) RemoveNexusChild(ctx context.Context, node, nexusUUID, childURI string) error {
	f.record("RemoveNexusChild", node, nexusUUID, childURI)
	return nil
}
func (f *fakeClient) CreateNexus(ctx context.Context, node, nexusUUID string, sizeBytes uint64, children []string) error {
	f.record("CreateNexus", node, nexusUUID)
	return nil
}
func (f *fakeClient) DestroyNexus(ctx context.Context, node, nexusUUID string) error {
	f.record("DestroyNexus", node, nexusUUID)
	return nil
}
func (f *fakeClient) ShareNexus(ctx context.Context, node, nexusUUID, protocol string) error {
	f.record("ShareNexus", node, nexusUUID, protocol)
	return nil
}
func (f *fakeClient) UnshareNexus(ctx context.Context, node, nexusUUID string) error {
	f.record("UnshareNexus", node, nexusUUID)
	return nil
}
func (f *fakeClient) DestroyReplica(ctx context.Context, node, replicaUUID string) error {
	f.record("DestroyReplica", node, replicaUUID)
	return nil
}

type fakeNodeClient struct {
	pools    map[string][]spec.PoolState
	replicas map[string][]spec.ReplicaState
	nexuses  map[string][]spec.NexusState
}

func (f *fakeNodeClient) ListPools(ctx context.Context, node spec.NodeSpec) ([]spec.PoolState, error) {
	return f.pools[node.ID], nil
}
func (f *fakeNodeClient) ListReplicas(ctx context.Context, node spec.NodeSpec) ([]spec.ReplicaState, error) {
	return f.replicas[node.ID], nil
}
func (f *fakeNodeClient) ListNexuses(ctx context.Context, node spec.NodeSpec) ([]spec.NexusState, error) {
	return f.nexuses[node.ID], nil
}

type fakePools struct{}

func (fakePools) PoolNode(poolID string) (string, bool) { return "node-a", true }
func (fakePools) NodeOnline(nodeID string) bool         { return true }

func TestR1RemovesFaultedChildAndDisownsReplica(t *testing.T) {
	ctx := context.Background()

	nexuses := registry.New[spec.NexusSpec](spec.KindNexus, func(id string) string { return "spec/nexus/" + id })
	replicas := registry.New[spec.ReplicaSpec](spec.KindReplica, func(id string) string { return "spec/replica/" + id })

	nexuses.InsertOrGetExisting(spec.NexusSpec{
		UUID: "nexus-1", Node: "node-a", SizeBytes: 1024, Status: spec.StatusCreated,
		Children: []spec.NexusChild{{URI: "bdev:///r1", ReplicaUUID: "r1"}, {URI: "bdev:///r2", ReplicaUUID: "r2"}},
	})
	replicas.InsertOrGetExisting(spec.ReplicaSpec{UUID: "r1", Pool: "pool-a", Node: "node-a", Owners: spec.Owners{Nexuses: []string{"nexus-1"}}})
	replicas.InsertOrGetExisting(spec.ReplicaSpec{UUID: "r2", Pool: "pool-a", Node: "node-a", Owners: spec.Owners{Nexuses: []string{"nexus-1"}}})

	nodeClient := &fakeNodeClient{
		nexuses: map[string][]spec.NexusState{
			"node-a": {{
				UUID: "nexus-1", Node: "node-a", Status: spec.NexusDegraded,
				Children: []spec.Child{
					{URI: "bdev:///r1", State: spec.ChildOnline},
					{URI: "bdev:///r2", State: spec.ChildFaulted},
				},
			}},
		},
	}
	cache := nodecache.New(nodeClient, discardLogger(), time.Hour, time.Hour, 4)
	cache.Register(spec.NodeSpec{ID: "node-a"})
	cache.Refresh(ctx)

	client := &fakeClient{}
	deps := testDeps(nexuses, replicas, cache, client)

	r1 := NewFaultedChildrenRemover(deps)
	if res := r1.Poll(ctx); res != Idle {
		t.Fatalf("expected Idle, got %v", res)
	}

	if client.count("RemoveNexusChild") != 1 {
		t.Fatalf("expected 1 RemoveNexusChild call, got %d", client.count("RemoveNexusChild"))
	}
	if client.count("DestroyReplica") != 1 {
		t.Fatalf("expected orphaned replica r2 to be destroyed, got %d calls", client.count("DestroyReplica"))
	}

	h, err := nexuses.Get("nexus-1")
	if err != nil {
		t.Fatalf("Get nexus-1: %v", err)
	}
	if h.Read().HasChild("bdev:///r2") {
		t.Fatalf("expected faulted child removed from spec")
	}
	if _, err := replicas.Get("r2"); err == nil {
		t.Fatalf("expected orphaned replica r2 removed from registry")
	}
}

func TestR4RecreatesMissingNexus(t *testing.T) {
	ctx := context.Background()

	nexuses := registry.New[spec.NexusSpec](spec.KindNexus, func(id string) string { return "spec/nexus/" + id })
	replicas := registry.New[spec.ReplicaSpec](spec.KindReplica, func(id string) string { return "spec/replica/" + id })

	nexuses.InsertOrGetExisting(spec.NexusSpec{
		UUID: "nexus-1", Node: "node-a", SizeBytes: 1024, Status: spec.StatusCreated,
		Children: []spec.NexusChild{{URI: "bdev:///r1", ReplicaUUID: "r1"}},
	})
	replicas.InsertOrGetExisting(spec.ReplicaSpec{UUID: "r1", Pool: "pool-a", Node: "node-a", SizeBytes: 1024})

	nodeClient := &fakeNodeClient{} // no nexuses reported: nexus-1 is missing
	cache := nodecache.New(nodeClient, discardLogger(), time.Hour, time.Hour, 4)
	cache.Register(spec.NodeSpec{ID: "node-a"})
	cache.Refresh(ctx)

	client := &fakeClient{}
	deps := testDeps(nexuses, replicas, cache, client)

	r4 := NewMissingNexusRecreate(deps, 0)
	if res := r4.Poll(ctx); res != Idle {
		t.Fatalf("expected Idle, got %v", res)
	}
	if client.count("CreateNexus") != 1 {
		t.Fatalf("expected 1 CreateNexus call, got %d", client.count("CreateNexus"))
	}
}

func TestR4AdmissionLimitDefersExtraRebuilds(t *testing.T) {
	ctx := context.Background()

	nexuses := registry.New[spec.NexusSpec](spec.KindNexus, func(id string) string { return "spec/nexus/" + id })
	replicas := registry.New[spec.ReplicaSpec](spec.KindReplica, func(id string) string { return "spec/replica/" + id })

	for _, id := range []string{"nexus-1", "nexus-2"} {
		nexuses.InsertOrGetExisting(spec.NexusSpec{
			UUID: id, Node: "node-a", SizeBytes: 1024, Status: spec.StatusCreated,
			Children: []spec.NexusChild{{URI: "bdev:///r1", ReplicaUUID: "r1"}},
		})
	}
	replicas.InsertOrGetExisting(spec.ReplicaSpec{UUID: "r1", Pool: "pool-a", Node: "node-a", SizeBytes: 1024})

	nodeClient := &fakeNodeClient{} // no nexuses reported: both are missing
	cache := nodecache.New(nodeClient, discardLogger(), time.Hour, time.Hour, 4)
	cache.Register(spec.NodeSpec{ID: "node-a"})
	cache.Refresh(ctx)

	client := &fakeClient{}
	deps := testDeps(nexuses, replicas, cache, client)

	r4 := NewMissingNexusRecreate(deps, 1)
	if res := r4.Poll(ctx); res != Busy {
		t.Fatalf("expected Busy once the admission limit defers the second rebuild, got %v", res)
	}
	if client.count("CreateNexus") != 1 {
		t.Fatalf("expected exactly 1 CreateNexus call under a limit of 1, got %d", client.count("CreateNexus"))
	}
}

func TestR7CollectsOrphanReplicaAndDeletingNexus(t *testing.T) {
	ctx := context.Background()

	nexuses := registry.New[spec.NexusSpec](spec.KindNexus, func(id string) string { return "spec/nexus/" + id })
	replicas := registry.New[spec.ReplicaSpec](spec.KindReplica, func(id string) string { return "spec/replica/" + id })

	nexuses.InsertOrGetExisting(spec.NexusSpec{UUID: "nexus-gone", Node: "node-a", Status: spec.StatusDeleting})
	replicas.InsertOrGetExisting(spec.ReplicaSpec{UUID: "orphan", Node: "node-a", Pool: "pool-a"}) // empty owners

	nodeClient := &fakeNodeClient{} // nexus-gone not reported anywhere: collectible
	cache := nodecache.New(nodeClient, discardLogger(), time.Hour, time.Hour, 4)
	cache.Register(spec.NodeSpec{ID: "node-a"})
	cache.Refresh(ctx)

	client := &fakeClient{}
	deps := testDeps(nexuses, replicas, cache, client)

	r7 := NewGarbageCollector(deps)
	if res := r7.Poll(ctx); res != Idle {
		t.Fatalf("expected Idle, got %v", res)
	}

	if _, err := nexuses.Get("nexus-gone"); err == nil {
		t.Fatalf("expected deleting nexus to be collected")
	}
	if client.count("DestroyReplica") != 1 {
		t.Fatalf("expected orphan replica destroyed, got %d calls", client.count("DestroyReplica"))
	}
	if _, err := replicas.Get("orphan"); err == nil {
		t.Fatalf("expected orphan replica removed from registry")
	}
}
