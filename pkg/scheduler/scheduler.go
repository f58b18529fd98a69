// Package scheduler implements healthy-children selection for nexus
// (re)creation (spec §4.6): given a nexus spec and the current registry
// snapshot, it keeps the candidate replicas whose node is online, orders
// them by persisted health info (unhealthy ones are kept, sorted last) and
// returns the ordered candidate list, gating whether the caller may bring
// the nexus up with one child or all of them.
//
// Grounded in original_source's nexus/scheduling.rs (the clean_shutdown ->
// One-vs-All split) and core/reconciler/nexus/mod.rs (no-healthy-replicas ->
// manual intervention).
package scheduler

import (
	"log/slog"
	"sort"

	"github.com/nimbusblock/control-plane/pkg/spec"
)

// Mode says how many candidates the caller may safely use to (re)build a
// nexus.
type Mode int

const (
	// ModeNone means no usable candidates exist; manual intervention is
	// required and the caller must not attempt to create the nexus.
	ModeNone Mode = iota
	// ModeOne means the nexus must come up with exactly its first
	// candidate child, then rely on rebuild for the rest — the
	// clean_shutdown == false, split-brain-avoidance path.
	ModeOne
	// ModeAll means every candidate may be attached at once.
	ModeAll
)

// Candidate is one replica eligible to back a nexus child.
type Candidate struct {
	ReplicaUUID string
	Pool        string
	Node        string
	SizeBytes   uint64
	URI         string
	Healthy     bool
}

// Result is the scheduler's decision for one nexus (re)creation attempt.
type Result struct {
	Mode       Mode
	Candidates []Candidate
}

// PoolLookup resolves which node a pool lives on and whether that node is
// currently online, from the node cache's perspective.
type PoolLookup interface {
	PoolNode(poolID string) (node string, ok bool)
	NodeOnline(nodeID string) bool
}

// HealthyReplicas runs the algorithm of spec §4.6 against nexusSpec, using
// info (the persisted nexus-info record, nil if none exists yet) and pools
// to resolve node liveness.
func HealthyReplicas(nexusSpec *spec.NexusSpec, replicas map[string]*spec.ReplicaSpec, info *spec.NexusInfo, pools PoolLookup, logger *slog.Logger) Result {
	var candidates []Candidate

	for _, child := range nexusSpec.Children {
		if child.ReplicaUUID == "" {
			continue // an opaque/unknown child URI is never a scheduling candidate
		}
		r, ok := replicas[child.ReplicaUUID]
		if !ok {
			continue
		}

		node, ok := pools.PoolNode(r.Pool)
		if !ok || !pools.NodeOnline(node) {
			continue
		}

		healthy := true
		if info != nil {
			healthy = info.Healthy(r.UUID)
		}

		candidates = append(candidates, Candidate{
			ReplicaUUID: r.UUID,
			Pool:        r.Pool,
			Node:        node,
			SizeBytes:   r.SizeBytes,
			URI:         child.URI,
			Healthy:     healthy,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Healthy != b.Healthy {
			return a.Healthy // healthy first
		}
		aMatch := a.SizeBytes == nexusSpec.SizeBytes
		bMatch := b.SizeBytes == nexusSpec.SizeBytes
		if aMatch != bMatch {
			return aMatch // size-matching candidates before mismatched ones
		}
		return a.ReplicaUUID < b.ReplicaUUID // stable tie-break
	})

	if len(candidates) == 0 {
		if info == nil || info.NoHealthyReplicas() {
			logger.Error("no healthy replicas available for nexus; manual intervention required", "nexus", nexusSpec.UUID)
		}
		return Result{Mode: ModeNone}
	}

	if info != nil && !info.CleanShutdown {
		return Result{Mode: ModeOne, Candidates: candidates[:1]}
	}
	return Result{Mode: ModeAll, Candidates: candidates}
}
