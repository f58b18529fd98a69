// Package registry implements the specs registry (spec §4.3): an in-memory,
// per-kind map of resource specs loaded from the store at startup, each
// wrapped in a Handle that pairs the spec with the sequencer guarding it.
//
// The map/InsertOrGetExisting/Get/List shape follows the provider registry
// in pkg/messaging of the example this module was built from. LoadAll
// rebuilds the map from the store at startup; crash-recovery replay over
// PendingHandles lives in pkg/executor's ReplayPending.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store"
)

// Resource is the constraint every spec type in pkg/spec satisfies.
type Resource interface {
	ResourceID() string
}

// Handle pairs one resource spec with the sequencer serialising access to
// it. Callers mutate Spec only while holding a sequencer guard.
type Handle[T Resource] struct {
	mu   sync.RWMutex
	Spec T
	Seq  *sequencer.Sequencer
}

// Read returns a copy of the spec taken under a read lock.
func (h *Handle[T]) Read() T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Spec
}

// Update replaces the spec under a write lock.
func (h *Handle[T]) Update(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Spec = v
}

// Registry is a per-kind map of resource handles, keyed by resource id.
type Registry[T Resource] struct {
	mu      sync.RWMutex
	kind    spec.Kind
	keyPfx  func(id string) string
	handles map[string]*Handle[T]
}

// New creates an empty registry for one resource kind. keyFn builds the
// store key for a given id (e.g. a KeyBuilder.PoolSpecKey).
func New[T Resource](kind spec.Kind, keyFn func(id string) string) *Registry[T] {
	return &Registry[T]{kind: kind, keyPfx: keyFn, handles: make(map[string]*Handle[T])}
}

// LoadAll replaces the registry's contents with every spec found under
// prefix in st, per spec §4.3 step "load all specs of this kind at
// startup". Each loaded handle starts with a fresh, Idle sequencer.
func (r *Registry[T]) LoadAll(ctx context.Context, st store.Store, prefix string) error {
	kvs, err := st.GetPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("loading %s specs: %w", r.kind, err)
	}

	loaded := make(map[string]*Handle[T], len(kvs))
	for _, kv := range kvs {
		var v T
		if err := json.Unmarshal(kv.Value, &v); err != nil {
			return fmt.Errorf("decoding %s spec at %q: %w", r.kind, kv.Key, err)
		}
		loaded[v.ResourceID()] = &Handle[T]{Spec: v, Seq: &sequencer.Sequencer{}}
	}

	r.mu.Lock()
	r.handles = loaded
	r.mu.Unlock()
	return nil
}

// Get returns the handle for id, or ctlerr.KindNotFound if it is not
// registered.
func (r *Registry[T]) Get(id string) (*Handle[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	if !ok {
		return nil, ctlerr.New(ctlerr.KindNotFound, string(r.kind), "registry", "%s %q not found", r.kind, id)
	}
	return h, nil
}

// List returns every handle currently registered, in no particular order.
func (r *Registry[T]) List() []*Handle[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle[T], 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// InsertOrGetExisting registers v if no handle for its id exists yet, and
// returns the (possibly pre-existing) handle. This implements the
// idempotent-create semantics operations need: a retried create that races
// with itself must land on the same handle, not silently replace it.
func (r *Registry[T]) InsertOrGetExisting(v T) *Handle[T] {
	id := v.ResourceID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[id]; ok {
		return h
	}
	h := &Handle[T]{Spec: v, Seq: &sequencer.Sequencer{}}
	r.handles[id] = h
	return h
}

// Remove deletes the handle for id from the in-memory registry. It does not
// touch the store; deleting the persisted spec is up to the caller (the
// reconcilers in pkg/reconcile do so, the pkg/ops Destroy paths do not).
func (r *Registry[T]) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Len reports how many handles are currently registered.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// PendingHandles returns every handle whose spec satisfies pending. With a
// predicate that selects specs carrying a pending operation, as
// executor.ReplayPending passes, this is the crash-recovery replay set
// described in spec §4.3.
func PendingHandles[T Resource](r *Registry[T], pending func(T) bool) []*Handle[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Handle[T]
	for _, h := range r.handles {
		if pending(h.Read()) {
			out = append(out, h)
		}
	}
	return out
}
