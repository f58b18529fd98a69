package reconcile

import (
	"context"

	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
)

// UnknownChildrenRemover is R2: any observed child whose URI is not present
// in the spec is removed from the nexus. Its backing storage, if any, is
// left alone — it was never ours to destroy.
type UnknownChildrenRemover struct{ deps *Deps }

func NewUnknownChildrenRemover(deps *Deps) *UnknownChildrenRemover {
	return &UnknownChildrenRemover{deps: deps}
}

func (r *UnknownChildrenRemover) Name() string { return "r2-unknown-children-remover" }

func (r *UnknownChildrenRemover) Poll(ctx context.Context) PollResult {
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

func (r *UnknownChildrenRemover) reconcileOne(ctx context.Context, h *registry.Handle[spec.NexusSpec]) {
	ns := h.Read()
	snap, ok := r.deps.Nodes.Get(ns.Node)
	if !ok {
		return
	}
	observed, ok := findNexus(snap.Nexuses, ns.UUID)
	if !ok {
		return
	}

	for _, c := range observed.Children {
		if h.Read().HasChild(c.URI) {
			continue
		}
		r.removeOne(ctx, h, ns.Node, ns.UUID, c.URI)
	}
}

func (r *UnknownChildrenRemover) removeOne(ctx context.Context, h *registry.Handle[spec.NexusSpec], node, nexusUUID, childURI string) {
	stepGuard, err := h.Seq.Acquire(sequencer.ModeReconcileStep, 0)
	if err != nil {
		return
	}
	defer stepGuard.Release()

	if err := r.deps.Client.RemoveNexusChild(ctx, node, nexusUUID, childURI); err != nil {
		r.deps.Logger.Error("R2: removing unknown child", "nexus", nexusUUID, "child", childURI, "error", err)
		return
	}
	// childURI wasn't in the spec to begin with, so there is nothing to
	// update there; this step exists purely to let the data plane's
	// observed state converge back toward the spec.
}
