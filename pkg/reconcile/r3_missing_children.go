package reconcile

import (
	"context"

	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
)

// MissingChildrenRemover is R3: any spec child not present in observed
// state is dropped from the spec; if it was backed by a replica, that
// replica is disowned and destroyed. The data plane removed it for a
// reason — R4 will reconstitute the nexus from scratch if needed.
type MissingChildrenRemover struct{ deps *Deps }

func NewMissingChildrenRemover(deps *Deps) *MissingChildrenRemover {
	return &MissingChildrenRemover{deps: deps}
}

func (r *MissingChildrenRemover) Name() string { return "r3-missing-children-remover" }

func (r *MissingChildrenRemover) Poll(ctx context.Context) PollResult {
	result := Idle
	for _, h := range r.deps.Nexuses.List() {
		guard, err := h.Seq.Acquire(sequencer.ModeReconcileStart, 0)
		if err != nil {
			result = Busy
			continue
		}
		r.reconcileOne(ctx, h)
		guard.Release()
	}
	return result
}

func (r *MissingChildrenRemover) reconcileOne(ctx context.Context, h *registry.Handle[spec.NexusSpec]) {
	ns := h.Read()
	snap, ok := r.deps.Nodes.Get(ns.Node)
	if !ok {
		return
	}
	observed, ok := findNexus(snap.Nexuses, ns.UUID)
	if !ok {
		return
	}

	for _, sc := range ns.Children {
		found := false
		for _, oc := range observed.Children {
			if oc.URI == sc.URI {
				found = true
				break
			}
		}
		if found {
			continue
		}
		r.removeOne(ctx, h, ns.UUID, sc.URI)
	}
}

func (r *MissingChildrenRemover) removeOne(ctx context.Context, h *registry.Handle[spec.NexusSpec], nexusUUID, childURI string) {
	stepGuard, err := h.Seq.Acquire(sequencer.ModeReconcileStep, 0)
	if err != nil {
		return
	}
	defer stepGuard.Release()

	current := h.Read()
	replicaUUID, removed := current.RemoveChild(childURI)
	h.Update(current)
	persistNexus(ctx, r.deps, current)
	if removed && replicaUUID != "" {
		disownAndDestroyReplica(ctx, r.deps, replicaUUID, nexusUUID)
	}
}
