package reconcile

import (
	"context"

	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
)

// ShareProtocolFixup is R5: when observed share state disagrees with the
// spec, unshare first if both are shared but differ, then share with the
// spec's requested protocol if one is wanted.
type ShareProtocolFixup struct{ deps *Deps }

func NewShareProtocolFixup(deps *Deps) *ShareProtocolFixup {
	return &ShareProtocolFixup{deps: deps}
}

func (r *ShareProtocolFixup) Name() string { return "r5-share-protocol-fixup" }

func (r *ShareProtocolFixup) Poll(ctx context.Context) PollResult {
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

func (r *ShareProtocolFixup) reconcileOne(ctx context.Context, h *registry.Handle[spec.NexusSpec]) {
	ns := h.Read()
	if ns.Status != spec.StatusCreated {
		return
	}

	snap, ok := r.deps.Nodes.Get(ns.Node)
	if !ok {
		return
	}
	observed, ok := findNexus(snap.Nexuses, ns.UUID)
	if !ok || observed.Share == ns.Share {
		return
	}

	stepGuard, err := h.Seq.Acquire(sequencer.ModeReconcileStep, 0)
	if err != nil {
		return
	}
	defer stepGuard.Release()

	if observed.Share != "" && ns.Share != "" && observed.Share != ns.Share {
		if err := r.deps.Client.UnshareNexus(ctx, ns.Node, ns.UUID); err != nil {
			r.deps.Logger.Error("R5: unsharing before re-sharing", "nexus", ns.UUID, "error", err)
			return
		}
	}

	if ns.Share == "" {
		if observed.Share != "" {
			if err := r.deps.Client.UnshareNexus(ctx, ns.Node, ns.UUID); err != nil {
				r.deps.Logger.Error("R5: unsharing", "nexus", ns.UUID, "error", err)
			}
		}
		return
	}

	if err := r.deps.Client.ShareNexus(ctx, ns.Node, ns.UUID, ns.Share); err != nil {
		r.deps.Logger.Error("R5: sharing", "nexus", ns.UUID, "protocol", ns.Share, "error", err)
	}
}
