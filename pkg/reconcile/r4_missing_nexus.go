package reconcile

import (
	"context"

	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/scheduler"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
)

// MissingNexusRecreate is R4: if a nexus spec is Created but the nexus is
// absent from its node's observed state, it is rebuilt via the scheduler's
// healthy-children decision. maxInFlight admission-gates how many rebuilds
// this poller starts in a single tick (spec §6's MaxConcurrentRebuilds);
// nexuses left over once the limit is hit are deferred to the next tick
// rather than skipped outright.
type MissingNexusRecreate struct {
	deps        *Deps
	maxInFlight int
}

func NewMissingNexusRecreate(deps *Deps, maxInFlight int) *MissingNexusRecreate {
	return &MissingNexusRecreate{deps: deps, maxInFlight: maxInFlight}
}

func (r *MissingNexusRecreate) Name() string { return "r4-missing-nexus-recreate" }

func (r *MissingNexusRecreate) Poll(ctx context.Context) PollResult {
	result := Idle
	inFlight := 0
	for _, h := range r.deps.Nexuses.List() {
		guard, err := h.Seq.Acquire(sequencer.ModeReconcileStart, 0)
		if err != nil {
			result = Busy
			continue
		}

		ns := h.Read()
		if r.needsRecreate(ns) {
			if r.maxInFlight > 0 && inFlight >= r.maxInFlight {
				guard.Release()
				result = Busy
				r.deps.Logger.Debug("R4: admission limit reached, deferring rebuild", "nexus", ns.UUID, "max_in_flight", r.maxInFlight)
				continue
			}
			inFlight++
		}
		r.reconcileOne(ctx, h, ns)
		guard.Release()
	}
	return result
}

// needsRecreate is a cheap, side-effect-free check of whether ns is a
// rebuild candidate, used to admission-gate Poll before reconcileOne runs
// the full (NodeOnline + scheduler) decision.
func (r *MissingNexusRecreate) needsRecreate(ns spec.NexusSpec) bool {
	if ns.Status != spec.StatusCreated {
		return false
	}
	snap, ok := r.deps.Nodes.Get(ns.Node)
	if ok {
		if _, present := findNexus(snap.Nexuses, ns.UUID); present {
			return false
		}
	}
	return true
}

func (r *MissingNexusRecreate) reconcileOne(ctx context.Context, h *registry.Handle[spec.NexusSpec], ns spec.NexusSpec) {
	if !r.needsRecreate(ns) {
		return
	}

	if !r.deps.Pools.NodeOnline(ns.Node) {
		r.deps.Logger.Warn("R4: owning node offline, skipping recreate", "nexus", ns.UUID, "node", ns.Node)
		return
	}

	replicas := r.collectReplicas(ns)
	info, _ := r.deps.NexusInfo(ns.UUID)
	result := scheduler.HealthyReplicas(&ns, replicas, info, r.deps.Pools, r.deps.Logger)

	switch result.Mode {
	case scheduler.ModeNone:
		r.deps.Logger.Error("R4: no healthy replicas, manual intervention required", "nexus", ns.UUID)
		return
	case scheduler.ModeOne, scheduler.ModeAll:
		r.recreate(ctx, h, ns, result)
	}
}

func (r *MissingNexusRecreate) collectReplicas(ns spec.NexusSpec) map[string]*spec.ReplicaSpec {
	out := make(map[string]*spec.ReplicaSpec, len(ns.Children))
	for _, c := range ns.Children {
		if c.ReplicaUUID == "" {
			continue
		}
		rh, err := r.deps.Replicas.Get(c.ReplicaUUID)
		if err != nil {
			continue
		}
		rep := rh.Read()
		out[c.ReplicaUUID] = &rep
	}
	return out
}

func (r *MissingNexusRecreate) recreate(ctx context.Context, h *registry.Handle[spec.NexusSpec], ns spec.NexusSpec, result scheduler.Result) {
	stepGuard, err := h.Seq.Acquire(sequencer.ModeReconcileStep, 0)
	if err != nil {
		return
	}
	defer stepGuard.Release()

	uris := make([]string, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		uris = append(uris, c.URI)
	}

	if err := r.deps.Client.CreateNexus(ctx, ns.Node, ns.UUID, ns.SizeBytes, uris); err != nil {
		r.deps.Logger.Error("R4: recreating missing nexus", "nexus", ns.UUID, "error", err)
	}
}
