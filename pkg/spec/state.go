package spec

// Observed-state objects are never persisted — they are refreshed by the
// node cache (pkg/nodecache) from each node's NodeClient.

// PoolState is the observed state of a pool as reported by a node.
type PoolState struct {
	ID            string `json:"id"`
	Node          string `json:"node"`
	CapacityBytes uint64 `json:"capacity_bytes"`
	UsedBytes     uint64 `json:"used_bytes"`
	Online        bool   `json:"online"`
}

// ReplicaState is the observed state of a replica as reported by a node.
type ReplicaState struct {
	UUID      string `json:"uuid"`
	Pool      string `json:"pool"`
	SizeBytes uint64 `json:"size_bytes"`
	Share     string `json:"share,omitempty"`
	URI       string `json:"uri"`
}

// ChildState is the health of a nexus child, ordered worst-to-best as
// Unknown < Online < Degraded < Faulted is NOT the intended order; the
// correct clinical order used for comparisons is Online (best) down to
// Faulted (worst), with Unknown treated as "no information yet". Less
// exposes the ordering explicitly rather than relying on declaration order.
type ChildState int

const (
	ChildUnknown ChildState = iota
	ChildOnline
	ChildDegraded
	ChildFaulted
)

func (c ChildState) String() string {
	switch c {
	case ChildOnline:
		return "Online"
	case ChildDegraded:
		return "Degraded"
	case ChildFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// Faulted reports whether the child is in the unrecoverable Faulted state.
func (c ChildState) Faulted() bool { return c == ChildFaulted }

// rank gives each state a severity rank matching the original comparison
// table: Faulted always sorts as the worst outcome, Unknown as "less than"
// everything but Faulted, Online/Degraded in between.
func (c ChildState) rank() int {
	switch c {
	case ChildUnknown:
		return 0
	case ChildOnline:
		return 2
	case ChildDegraded:
		return 1
	case ChildFaulted:
		return 3
	default:
		return 0
	}
}

// Less reports whether c is ranked below other, matching the PartialOrd
// implementation on the original ChildState enum (Faulted always greatest).
func (c ChildState) Less(other ChildState) bool { return c.rank() < other.rank() }

// Child is an observed nexus child.
type Child struct {
	URI              string     `json:"uri"`
	State            ChildState `json:"state"`
	RebuildProgress  *uint8     `json:"rebuild_progress,omitempty"`
}

// NexusStatus is the observed health of a nexus as a whole.
type NexusStatus int

const (
	NexusUnknown NexusStatus = iota
	NexusOnline
	NexusDegraded
	NexusFaulted
)

func (s NexusStatus) String() string {
	switch s {
	case NexusOnline:
		return "Online"
	case NexusDegraded:
		return "Degraded"
	case NexusFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// NexusState is the observed state of a nexus as reported by a node.
type NexusState struct {
	UUID     string      `json:"uuid"`
	Node     string      `json:"node"`
	Share    string      `json:"share,omitempty"`
	Status   NexusStatus `json:"status"`
	Children []Child     `json:"children"`
}

// ReplicaHealth is a single replica's health entry within a NexusInfo record.
type ReplicaHealth struct {
	ReplicaUUID string `json:"replica_uuid"`
	Healthy     bool   `json:"healthy"`
}

// NexusInfo is the persisted record written by the data plane describing
// clean-shutdown state and per-replica health. It is consulted by the
// scheduler to decide which replicas are safe to reuse when a nexus must be
// recreated.
type NexusInfo struct {
	NexusUUID     string          `json:"nexus_uuid"`
	CleanShutdown bool            `json:"clean_shutdown"`
	Replicas      []ReplicaHealth `json:"replicas"`
}

// Healthy reports whether the given replica uuid is marked healthy in this
// record. A replica absent from the record is treated as unhealthy: the
// data plane has no information about it.
func (n *NexusInfo) Healthy(replicaUUID string) bool {
	if n == nil {
		return false
	}
	for _, r := range n.Replicas {
		if r.ReplicaUUID == replicaUUID {
			return r.Healthy
		}
	}
	return false
}

// NoHealthyReplicas reports whether the record has at least one tracked
// replica but none of them are healthy — the scheduler's "manual
// intervention required" signal.
func (n *NexusInfo) NoHealthyReplicas() bool {
	if n == nil || len(n.Replicas) == 0 {
		return false
	}
	for _, r := range n.Replicas {
		if r.Healthy {
			return false
		}
	}
	return true
}
