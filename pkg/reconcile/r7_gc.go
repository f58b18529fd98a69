package reconcile

import (
	"context"

	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
)

// GarbageCollector is R7: an independent poller that removes Deleting
// specs whose data-plane object is already gone, and destroys orphan
// replicas whose owners are empty.
type GarbageCollector struct{ deps *Deps }

func NewGarbageCollector(deps *Deps) *GarbageCollector {
	return &GarbageCollector{deps: deps}
}

func (r *GarbageCollector) Name() string { return "r7-garbage-collector" }

func (r *GarbageCollector) Poll(ctx context.Context) PollResult {
	result := Idle
	if r.collectNexuses(ctx) == Busy {
		result = Busy
	}
	if r.collectReplicas(ctx) == Busy {
		result = Busy
	}
	return result
}

func (r *GarbageCollector) collectNexuses(ctx context.Context) PollResult {
	result := Idle
	for _, h := range r.deps.Nexuses.List() {
		ns := h.Read()
		if ns.Status != spec.StatusDeleting {
			continue
		}

		snap, ok := r.deps.Nodes.Get(ns.Node)
		if ok {
			if _, present := findNexus(snap.Nexuses, ns.UUID); present {
				continue // still alive on the data plane; not yet collectible
			}
		}

		guard, err := h.Seq.Acquire(sequencer.ModeReconcileStart, 0)
		if err != nil {
			result = Busy
			continue
		}
		r.deps.Nexuses.Remove(ns.UUID)
		deleteNexus(ctx, r.deps, ns.UUID)
		guard.Release()
	}
	return result
}

func (r *GarbageCollector) collectReplicas(ctx context.Context) PollResult {
	result := Idle
	for _, h := range r.deps.Replicas.List() {
		rep := h.Read()
		if !rep.Owners.Empty() {
			continue
		}

		guard, err := h.Seq.Acquire(sequencer.ModeReconcileStart, 0)
		if err != nil {
			result = Busy
			continue
		}

		if err := r.deps.Client.DestroyReplica(ctx, rep.Node, rep.UUID); err != nil {
			r.deps.Logger.Error("R7: destroying orphan replica", "replica", rep.UUID, "error", err)
			guard.Release()
			continue
		}
		r.deps.Replicas.Remove(rep.UUID)
		deleteReplica(ctx, r.deps, rep.UUID)
		guard.Release()
	}
	return result
}
