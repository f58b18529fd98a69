package reconcile

import (
	"context"

	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
)

// FaultedChildrenRemover is R1: if a nexus is Degraded with more than one
// child, every Faulted child is removed; a removed child backed by a
// replica is also disowned and destroyed.
type FaultedChildrenRemover struct{ deps *Deps }

func NewFaultedChildrenRemover(deps *Deps) *FaultedChildrenRemover {
	return &FaultedChildrenRemover{deps: deps}
}

func (r *FaultedChildrenRemover) Name() string { return "r1-faulted-children-remover" }

func (r *FaultedChildrenRemover) Poll(ctx context.Context) PollResult {
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

func (r *FaultedChildrenRemover) reconcileOne(ctx context.Context, h *registry.Handle[spec.NexusSpec]) {
	ns := h.Read()
	snap, ok := r.deps.Nodes.Get(ns.Node)
	if !ok {
		return
	}
	observed, ok := findNexus(snap.Nexuses, ns.UUID)
	if !ok || observed.Status != spec.NexusDegraded || len(observed.Children) <= 1 {
		return
	}

	for _, c := range observed.Children {
		if !c.State.Faulted() {
			continue
		}
		r.removeOne(ctx, h, ns.Node, ns.UUID, c.URI)
	}
}

func (r *FaultedChildrenRemover) removeOne(ctx context.Context, h *registry.Handle[spec.NexusSpec], node, nexusUUID, childURI string) {
	stepGuard, err := h.Seq.Acquire(sequencer.ModeReconcileStep, 0)
	if err != nil {
		return
	}
	defer stepGuard.Release()

	if err := r.deps.Client.RemoveNexusChild(ctx, node, nexusUUID, childURI); err != nil {
		r.deps.Logger.Error("R1: removing faulted child", "nexus", nexusUUID, "child", childURI, "error", err)
		return
	}

	current := h.Read()
	replicaUUID, removed := current.RemoveChild(childURI)
	h.Update(current)
	persistNexus(ctx, r.deps, current)
	if removed && replicaUUID != "" {
		disownAndDestroyReplica(ctx, r.deps, replicaUUID, nexusUUID)
	}
}
