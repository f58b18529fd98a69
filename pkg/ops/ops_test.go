package ops

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store/memstore"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type neverLost struct{ ch chan struct{} }

func (n neverLost) Lost() <-chan struct{} { return n.ch }

type fakeClient struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeClient) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeClient) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeClient) CreatePool(ctx context.Context, node, poolID string, disks []string) error {
	f.record("CreatePool")
	return nil
}
func (f *fakeClient) DestroyPool(ctx context.Context, node, poolID string) error {
	f.record("DestroyPool")
	return nil
}
func (f *fakeClient) CreateReplica(ctx context.Context, node, poolID, replicaUUID string, sizeBytes uint64, thin bool) (string, error) {
	f.record("CreateReplica")
	return "bdev:///" + replicaUUID, nil
}
func (f *fakeClient) ShareReplica(ctx context.Context, node, replicaUUID, protocol string) (string, error) {
	f.record("ShareReplica")
	return "nvmf://" + replicaUUID, nil
}
func (f *fakeClient) UnshareReplica(ctx context.Context, node, replicaUUID string) error {
	f.record("UnshareReplica")
	return nil
}
func (f *fakeClient) DestroyReplica(ctx context.Context, node, replicaUUID string) error {
	f.record("DestroyReplica")
	return nil
}
func (f *fakeClient) CreateNexus(ctx context.Context, node, nexusUUID string, sizeBytes uint64, children []string) error {
	f.record("CreateNexus")
	return nil
}
func (f *fakeClient) AddNexusChild(ctx context.Context, node, nexusUUID, childURI string) error {
	f.record("AddNexusChild")
	return nil
}
func (f *fakeClient) RemoveNexusChild(ctx context.Context, node, nexusUUID, childURI string) error {
	f.record("RemoveNexusChild")
	return nil
}
func (f *fakeClient) ShareNexus(ctx context.Context, node, nexusUUID, protocol string) error {
	f.record("ShareNexus")
	return nil
}
func (f *fakeClient) UnshareNexus(ctx context.Context, node, nexusUUID string) error {
	f.record("UnshareNexus")
	return nil
}
func (f *fakeClient) DestroyNexus(ctx context.Context, node, nexusUUID string) error {
	f.record("DestroyNexus")
	return nil
}

var _ Client = (*fakeClient)(nil)

func newPoolService(client Client) (*PoolService, *registry.Registry[spec.PoolSpec]) {
	reg := registry.New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	st := memstore.New()
	svc := NewPoolService(reg, neverLost{make(chan struct{})}, st, func(id string) string { return "spec/pool/" + id }, discardLogger(), client, 0)
	return svc, reg
}

func TestPoolCreateIsIdempotent(t *testing.T) {
	client := &fakeClient{}
	svc, _ := newPoolService(client)
	req := CreatePoolRequest{ID: "pool-1", Node: "node-a", Disks: []string{"/dev/sdb"}}

	if err := svc.Create(context.Background(), req); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := svc.Create(context.Background(), req); err != nil {
		t.Fatalf("second identical create should succeed: %v", err)
	}
	if client.count("CreatePool") != 1 {
		t.Fatalf("expected 1 data-plane call, got %d", client.count("CreatePool"))
	}
}

func TestPoolCreateMismatchedParamsIsAlreadyExists(t *testing.T) {
	client := &fakeClient{}
	svc, _ := newPoolService(client)
	if err := svc.Create(context.Background(), CreatePoolRequest{ID: "pool-1", Node: "node-a", Disks: []string{"/dev/sdb"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := svc.Create(context.Background(), CreatePoolRequest{ID: "pool-1", Node: "node-a", Disks: []string{"/dev/sdc"}})
	if !ctlerr.Is(err, ctlerr.KindAlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestPoolCreateRejectsInvalidRequest(t *testing.T) {
	client := &fakeClient{}
	svc, _ := newPoolService(client)
	err := svc.Create(context.Background(), CreatePoolRequest{ID: "", Node: "node-a"})
	if !ctlerr.Is(err, ctlerr.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestPoolDestroyOfMissingSucceeds(t *testing.T) {
	client := &fakeClient{}
	svc, _ := newPoolService(client)
	if err := svc.Destroy(context.Background(), "no-such-pool"); err != nil {
		t.Fatalf("destroy of missing pool should succeed, got %v", err)
	}
	if client.count("DestroyPool") != 0 {
		t.Fatalf("expected no data-plane call for a missing pool")
	}
}

func TestPoolDestroyRemovesFromRegistry(t *testing.T) {
	client := &fakeClient{}
	svc, reg := newPoolService(client)
	req := CreatePoolRequest{ID: "pool-1", Node: "node-a", Disks: []string{"/dev/sdb"}}
	if err := svc.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Destroy(context.Background(), "pool-1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := reg.Get("pool-1"); err == nil {
		t.Fatalf("expected pool removed from registry")
	}
	if client.count("DestroyPool") != 1 {
		t.Fatalf("expected 1 DestroyPool call, got %d", client.count("DestroyPool"))
	}
}

func TestVolumePublishUnpublishDestroyCascades(t *testing.T) {
	client := &fakeClient{}
	volReg := registry.New[spec.VolumeSpec](spec.KindVolume, func(id string) string { return "spec/volume/" + id })
	nexusReg := registry.New[spec.NexusSpec](spec.KindNexus, func(id string) string { return "spec/nexus/" + id })
	replicaReg := registry.New[spec.ReplicaSpec](spec.KindReplica, func(id string) string { return "spec/replica/" + id })
	replicaReg.InsertOrGetExisting(spec.ReplicaSpec{UUID: "r1", Pool: "pool-a", Node: "node-a", Status: spec.StatusCreated})

	st := memstore.New()
	keeper := neverLost{make(chan struct{})}
	nexusSvc := NewNexusService(nexusReg, keeper, st, func(id string) string { return "spec/nexus/" + id }, discardLogger(), client, 0)

	disownCalls := 0
	disown := func(ctx context.Context, replicaUUID, nexusUUID string) { disownCalls++ }

	volSvc := NewVolumeService(volReg, keeper, st, func(id string) string { return "spec/volume/" + id }, discardLogger(), nexusSvc, disown, 0)

	ctx := context.Background()
	if err := volSvc.Create(ctx, CreateVolumeRequest{UUID: "vol-1", SizeBytes: 1024, ReplicaCount: 1}); err != nil {
		t.Fatalf("create volume: %v", err)
	}

	children := []spec.NexusChild{{URI: "bdev:///r1", ReplicaUUID: "r1"}}
	if err := volSvc.Publish(ctx, "vol-1", "nexus-1", "node-a", children); err != nil {
		t.Fatalf("publish: %v", err)
	}
	h, err := volReg.Get("vol-1")
	if err != nil {
		t.Fatalf("get volume: %v", err)
	}
	if h.Read().Nexus != "nexus-1" {
		t.Fatalf("expected volume to reference nexus-1, got %q", h.Read().Nexus)
	}
	if client.count("CreateNexus") != 1 {
		t.Fatalf("expected 1 CreateNexus call, got %d", client.count("CreateNexus"))
	}

	if err := volSvc.Destroy(ctx, "vol-1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if client.count("DestroyNexus") != 1 {
		t.Fatalf("expected destroy to unpublish the nexus, got %d calls", client.count("DestroyNexus"))
	}
	if disownCalls != 1 {
		t.Fatalf("expected 1 replica disowned, got %d", disownCalls)
	}
	if _, err := volReg.Get("vol-1"); err == nil {
		t.Fatalf("expected volume removed from registry")
	}
	if _, err := nexusReg.Get("nexus-1"); err == nil {
		t.Fatalf("expected nexus removed from registry")
	}
}
