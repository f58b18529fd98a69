// Package reconcile implements the seven reconcilers of spec §4.7: R1
// faulted-children remover, R2 unknown-children remover, R3 missing-
// children remover, R4 missing-nexus recreate, R5 share-protocol fixup, R6
// faulted-nexus remover, R7 garbage collector.
//
// The timer-driven Engine.Run loop mirrors pkg/escalation's Engine.Run in
// the example this module was built from: a single goroutine, a
// time.Timer reset after each pass, and a select over ctx.Done()/timer.C
// with no global event loop.
package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nimbusblock/control-plane/pkg/nodecache"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/scheduler"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store"
)

// PollResult is a single poller's outcome for one tick.
type PollResult int

const (
	Idle PollResult = iota
	Busy
	PollError
)

// Poller is one reconciler, invoked once per Engine tick.
type Poller interface {
	Name() string
	Poll(ctx context.Context) PollResult
}

// DataPlaneClient is the corrective-action surface reconcilers call. They
// call it directly under their own sequencer guards, not through
// pkg/executor's Mutate pipeline. It binds to a node over the transport
// capability; a fake implements it in tests.
type DataPlaneClient interface {
	RemoveNexusChild(ctx context.Context, node, nexusUUID, childURI string) error
	CreateNexus(ctx context.Context, node, nexusUUID string, sizeBytes uint64, children []string) error
	DestroyNexus(ctx context.Context, node, nexusUUID string) error
	ShareNexus(ctx context.Context, node, nexusUUID, protocol string) error
	UnshareNexus(ctx context.Context, node, nexusUUID string) error
	DestroyReplica(ctx context.Context, node, replicaUUID string) error
}

// Deps bundles everything a reconciler needs: the two registries it reads
// and mutates, the node cache for observed state, a pool lookup for the
// scheduler, the persisted nexus-info accessor, the data-plane client, and
// a logger.
type Deps struct {
	Nexuses   *registry.Registry[spec.NexusSpec]
	Replicas  *registry.Registry[spec.ReplicaSpec]
	Nodes     *nodecache.Cache
	Pools     scheduler.PoolLookup
	NexusInfo func(nexusUUID string) (*spec.NexusInfo, error)
	Client    DataPlaneClient
	Logger    *slog.Logger

	// Store and the two key builders let reconcilers write spec mutations
	// through to the lease-fenced store (spec §4.1), the same way the
	// executor's persist step does, instead of only updating the in-memory
	// registry handle.
	Store      store.Store
	NexusKey   func(uuid string) string
	ReplicaKey func(uuid string) string
}

// Engine runs a fixed set of pollers sequentially, once per tick. It ticks
// at period while any poller reports Busy or PollError, and backs off to the
// slower idlePeriod once a full pass comes back all-Idle (spec §4.7/§6),
// until a poller reports Busy or PollError again. A poller that took
// corrective action in a pass still reports Idle for it.
type Engine struct {
	logger     *slog.Logger
	period     time.Duration
	idlePeriod time.Duration
	pollers    []Poller
}

// NewEngine builds an Engine over the given pollers, ticking every period
// while busy and idlePeriod once idle. idlePeriod <= 0 disables the
// backoff (every tick uses period, matching the old fixed-rate behaviour).
func NewEngine(logger *slog.Logger, period, idlePeriod time.Duration, pollers ...Poller) *Engine {
	if idlePeriod <= 0 {
		idlePeriod = period
	}
	return &Engine{logger: logger, period: period, idlePeriod: idlePeriod, pollers: pollers}
}

// Run ticks every poller in order until ctx is cancelled. A Busy result
// just defers that poller to the next tick; it is not retried within the
// same tick.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("reconcile engine started", "period", e.period, "idle_period", e.idlePeriod, "pollers", len(e.pollers))
	timer := time.NewTimer(e.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("reconcile engine stopped")
			return nil
		case <-timer.C:
			next := e.period
			if e.tick(ctx) {
				next = e.idlePeriod
			}
			timer.Reset(next)
		}
	}
}

// tick runs one pass over every poller and reports whether all of them came
// back Idle.
func (e *Engine) tick(ctx context.Context) bool {
	allIdle := true
	for _, p := range e.pollers {
		switch p.Poll(ctx) {
		case Busy:
			allIdle = false
			e.logger.Debug("poller busy, deferred to next tick", "poller", p.Name())
		case PollError:
			allIdle = false
			e.logger.Warn("poller reported an error this tick", "poller", p.Name())
		}
	}
	return allIdle
}

// findNexus locates uuid's observed state within a node snapshot's nexus
// list.
func findNexus(nexuses []spec.NexusState, uuid string) (spec.NexusState, bool) {
	for _, n := range nexuses {
		if n.UUID == uuid {
			return n, true
		}
	}
	return spec.NexusState{}, false
}

// persistNexus writes ns through to the store, logging (not returning) on
// failure: a reconciler's spec mutation has already been applied to the
// in-memory handle by the time this is called, and a failed persist will
// simply be retried next tick when the reconciler re-reads stale state.
func persistNexus(ctx context.Context, deps *Deps, ns spec.NexusSpec) {
	b, err := json.Marshal(ns)
	if err != nil {
		deps.Logger.Error("encoding nexus spec", "nexus", ns.UUID, "error", err)
		return
	}
	if err := deps.Store.Put(ctx, deps.NexusKey(ns.UUID), b); err != nil {
		deps.Logger.Error("persisting nexus spec", "nexus", ns.UUID, "error", err)
	}
}

func deleteNexus(ctx context.Context, deps *Deps, uuid string) {
	if err := deps.Store.Delete(ctx, deps.NexusKey(uuid)); err != nil {
		deps.Logger.Error("deleting nexus spec", "nexus", uuid, "error", err)
	}
}

func persistReplica(ctx context.Context, deps *Deps, rep spec.ReplicaSpec) {
	b, err := json.Marshal(rep)
	if err != nil {
		deps.Logger.Error("encoding replica spec", "replica", rep.UUID, "error", err)
		return
	}
	if err := deps.Store.Put(ctx, deps.ReplicaKey(rep.UUID), b); err != nil {
		deps.Logger.Error("persisting replica spec", "replica", rep.UUID, "error", err)
	}
}

func deleteReplica(ctx context.Context, deps *Deps, uuid string) {
	if err := deps.Store.Delete(ctx, deps.ReplicaKey(uuid)); err != nil {
		deps.Logger.Error("deleting replica spec", "replica", uuid, "error", err)
	}
}

// DisownReplica exposes disownAndDestroyReplica to callers outside this
// package (pkg/ops's NexusService/VolumeService Destroy paths), bound to a
// concrete Deps via a closure at wiring time, so replica disownership on
// direct API-driven teardown goes through the exact same owners-empty-then-
// destroy logic the reconcilers use on the corrective path.
func DisownReplica(deps *Deps) func(ctx context.Context, replicaUUID, nexusUUID string) {
	return func(ctx context.Context, replicaUUID, nexusUUID string) {
		disownAndDestroyReplica(ctx, deps, replicaUUID, nexusUUID)
	}
}

// disownAndDestroyReplica removes nexusUUID from a replica's owners and,
// if that leaves it with no owners at all, destroys it on the data plane
// and drops it from the registry. Shared by R1, R3 and R7 (spec §3
// invariant 5: owners is the sole source of truth for GC eligibility).
func disownAndDestroyReplica(ctx context.Context, deps *Deps, replicaUUID, nexusUUID string) {
	rh, err := deps.Replicas.Get(replicaUUID)
	if err != nil {
		return
	}
	guard, err := rh.Seq.Acquire(sequencer.ModeReconcileStep, 0)
	if err != nil {
		return
	}
	defer guard.Release()

	rep := rh.Read()
	rep.Owners.RemoveNexus(nexusUUID)
	if !rep.Owners.Empty() {
		rh.Update(rep)
		persistReplica(ctx, deps, rep)
		return
	}

	if err := deps.Client.DestroyReplica(ctx, rep.Node, rep.UUID); err != nil {
		deps.Logger.Error("destroying orphaned replica", "replica", rep.UUID, "error", err)
		rh.Update(rep)
		persistReplica(ctx, deps, rep)
		return
	}
	deps.Replicas.Remove(replicaUUID)
	deleteReplica(ctx, deps, replicaUUID)
}
