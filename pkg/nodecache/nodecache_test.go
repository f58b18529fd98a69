package nodecache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nimbusblock/control-plane/pkg/spec"
)

type fakeClient struct {
	mu      sync.Mutex
	failing map[string]bool
}

func (f *fakeClient) fail(nodeID string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing == nil {
		f.failing = make(map[string]bool)
	}
	f.failing[nodeID] = v
}

func (f *fakeClient) shouldFail(nodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing[nodeID]
}

func (f *fakeClient) ListPools(ctx context.Context, node spec.NodeSpec) ([]spec.PoolState, error) {
	if f.shouldFail(node.ID) {
		return nil, errors.New("unreachable")
	}
	return []spec.PoolState{{ID: "pool-1", Node: node.ID, CapacityBytes: 100, Online: true}}, nil
}

func (f *fakeClient) ListReplicas(ctx context.Context, node spec.NodeSpec) ([]spec.ReplicaState, error) {
	if f.shouldFail(node.ID) {
		return nil, errors.New("unreachable")
	}
	return nil, nil
}

func (f *fakeClient) ListNexuses(ctx context.Context, node spec.NodeSpec) ([]spec.NexusState, error) {
	if f.shouldFail(node.ID) {
		return nil, errors.New("unreachable")
	}
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRefreshMarksNodeOnline(t *testing.T) {
	client := &fakeClient{}
	c := New(client, discardLogger(), time.Hour, time.Hour, 4)
	c.Register(spec.NodeSpec{ID: "node-a", Endpoint: "tcp://a"})

	c.refreshAll(context.Background())

	snap, ok := c.Get("node-a")
	if !ok {
		t.Fatalf("expected node-a to be present")
	}
	if snap.Status != NodeOnline {
		t.Fatalf("expected Online, got %s", snap.Status)
	}
	if len(snap.Pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(snap.Pools))
	}
}

func TestFailedProbeStaysUnknownBeforeDeadline(t *testing.T) {
	client := &fakeClient{}
	c := New(client, discardLogger(), time.Hour, time.Hour, 4)
	c.Register(spec.NodeSpec{ID: "node-a"})
	client.fail("node-a", true)

	c.refreshAll(context.Background())

	snap, _ := c.Get("node-a")
	if snap.Status != NodeUnknown {
		t.Fatalf("expected Unknown before deadline, got %s", snap.Status)
	}
}

func TestFailedProbePastDeadlineGoesOffline(t *testing.T) {
	client := &fakeClient{}
	c := New(client, discardLogger(), time.Hour, time.Millisecond, 4)
	c.Register(spec.NodeSpec{ID: "node-a"})

	c.refreshAll(context.Background()) // succeeds once, sets AsOf
	time.Sleep(5 * time.Millisecond)
	client.fail("node-a", true)
	c.refreshAll(context.Background())

	snap, _ := c.Get("node-a")
	if snap.Status != NodeOffline {
		t.Fatalf("expected Offline past deadline, got %s", snap.Status)
	}
}

func TestUnregisterRemovesNode(t *testing.T) {
	client := &fakeClient{}
	c := New(client, discardLogger(), time.Hour, time.Hour, 4)
	c.Register(spec.NodeSpec{ID: "node-a"})
	c.Unregister("node-a")
	if _, ok := c.Get("node-a"); ok {
		t.Fatalf("expected node-a to be gone")
	}
}
