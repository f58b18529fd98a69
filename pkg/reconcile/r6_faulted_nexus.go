package reconcile

import (
	"context"

	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/scheduler"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
)

// FaultedNexusRemover is R6: a Faulted nexus is destroyed outright, as long
// as the owning node is Online and at least one healthy candidate replica
// exists to rebuild from. R4 recreates it on a later tick.
type FaultedNexusRemover struct{ deps *Deps }

func NewFaultedNexusRemover(deps *Deps) *FaultedNexusRemover {
	return &FaultedNexusRemover{deps: deps}
}

func (r *FaultedNexusRemover) Name() string { return "r6-faulted-nexus-remover" }

func (r *FaultedNexusRemover) Poll(ctx context.Context) PollResult {
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

func (r *FaultedNexusRemover) reconcileOne(ctx context.Context, h *registry.Handle[spec.NexusSpec]) {
	ns := h.Read()
	if !r.deps.Pools.NodeOnline(ns.Node) {
		return
	}

	snap, ok := r.deps.Nodes.Get(ns.Node)
	if !ok {
		return
	}
	observed, ok := findNexus(snap.Nexuses, ns.UUID)
	if !ok || observed.Status != spec.NexusFaulted {
		return
	}

	replicas := make(map[string]*spec.ReplicaSpec, len(ns.Children))
	for _, c := range ns.Children {
		if c.ReplicaUUID == "" {
			continue
		}
		rh, err := r.deps.Replicas.Get(c.ReplicaUUID)
		if err != nil {
			continue
		}
		rep := rh.Read()
		replicas[c.ReplicaUUID] = &rep
	}

	info, _ := r.deps.NexusInfo(ns.UUID)
	result := scheduler.HealthyReplicas(&ns, replicas, info, r.deps.Pools, r.deps.Logger)
	if result.Mode == scheduler.ModeNone {
		return
	}

	stepGuard, err := h.Seq.Acquire(sequencer.ModeReconcileStep, 0)
	if err != nil {
		return
	}
	defer stepGuard.Release()

	if err := r.deps.Client.DestroyNexus(ctx, ns.Node, ns.UUID); err != nil {
		r.deps.Logger.Error("R6: destroying faulted nexus", "nexus", ns.UUID, "error", err)
	}
}
