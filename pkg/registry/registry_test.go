package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store"
	"github.com/nimbusblock/control-plane/pkg/store/memstore"
)

func TestLoadAllPopulatesFromStore(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	p1 := spec.PoolSpec{ID: "pool-1", Node: "node-a", Status: spec.StatusCreated}
	p2 := spec.PoolSpec{ID: "pool-2", Node: "node-b", Status: spec.StatusCreated}
	for _, p := range []spec.PoolSpec{p1, p2} {
		b, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := st.Put(ctx, "spec/pool/"+p.ID, b); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	r := New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	if err := r.LoadAll(ctx, st, "spec/pool/"); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 loaded handles, got %d", r.Len())
	}

	h, err := r.Get("pool-1")
	if err != nil {
		t.Fatalf("Get pool-1: %v", err)
	}
	if h.Read().Node != "node-a" {
		t.Fatalf("unexpected node: %q", h.Read().Node)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	r := New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	_, err := r.Get("absent")
	if !ctlerr.Is(err, ctlerr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestInsertOrGetExistingIsIdempotent(t *testing.T) {
	r := New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	a := r.InsertOrGetExisting(spec.PoolSpec{ID: "pool-1", Node: "node-a"})
	b := r.InsertOrGetExisting(spec.PoolSpec{ID: "pool-1", Node: "node-should-be-ignored"})
	if a != b {
		t.Fatalf("expected the same handle back on a racing insert")
	}
	if a.Read().Node != "node-a" {
		t.Fatalf("first writer should win: got node %q", a.Read().Node)
	}
}

func TestRemoveDeletesHandle(t *testing.T) {
	r := New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	r.InsertOrGetExisting(spec.PoolSpec{ID: "pool-1"})
	r.Remove("pool-1")
	if _, err := r.Get("pool-1"); !ctlerr.Is(err, ctlerr.KindNotFound) {
		t.Fatalf("expected NotFound after remove, got %v", err)
	}
}

func TestPendingHandlesFiltersByPredicate(t *testing.T) {
	r := New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	r.InsertOrGetExisting(spec.PoolSpec{ID: "idle"})
	r.InsertOrGetExisting(spec.PoolSpec{ID: "pending", Operation: &spec.PendingOp{Operation: "Create"}})

	pending := PendingHandles(r, func(p spec.PoolSpec) bool { return p.Operation != nil && !p.Operation.Done() })
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending handle, got %d", len(pending))
	}
	if pending[0].Read().ID != "pending" {
		t.Fatalf("unexpected pending handle: %q", pending[0].Read().ID)
	}
}

var _ store.Store = (*memstore.Store)(nil)
