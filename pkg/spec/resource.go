package spec

// Kind identifies one of the five resource kinds the registry tracks.
type Kind string

const (
	KindNode    Kind = "node"
	KindPool    Kind = "pool"
	KindReplica Kind = "replica"
	KindNexus   Kind = "nexus"
	KindVolume  Kind = "volume"
)

// PoolSpec is the desired state of a storage pool (disk-backed capacity on
// a worker node).
type PoolSpec struct {
	ID        string            `json:"id"`
	Node      string            `json:"node"`
	Disks     []string          `json:"disks"`
	Labels    map[string]string `json:"labels,omitempty"`
	Status    Status            `json:"status"`
	Operation *PendingOp        `json:"operation,omitempty"`
}

func (p PoolSpec) ResourceID() string { return p.ID }

// ReplicaSpec is the desired state of a thin/thick block allocation carved
// from a pool.
type ReplicaSpec struct {
	UUID      string     `json:"uuid"`
	Pool      string     `json:"pool"`
	Node      string     `json:"node"`
	SizeBytes uint64     `json:"size_bytes"`
	Thin      bool       `json:"thin"`
	Share     string     `json:"share,omitempty"` // "" | "nvmf" | "iscsi"
	Owners    Owners     `json:"owners"`
	Status    Status     `json:"status"`
	Operation *PendingOp `json:"operation,omitempty"`
}

func (r ReplicaSpec) ResourceID() string { return r.UUID }

// Owners is the sole source of truth for replica garbage collection
// (invariant 5, spec §3): a replica with no volume and no owning nexuses
// after its volume is destroyed is eligible for disown-and-destroy.
type Owners struct {
	Volume  string   `json:"volume,omitempty"`
	Nexuses []string `json:"nexuses,omitempty"`
}

func (o *Owners) Empty() bool { return o.Volume == "" && len(o.Nexuses) == 0 }

// RemoveNexus removes a nexus uuid from the owners list, if present.
func (o *Owners) RemoveNexus(nexusUUID string) {
	out := o.Nexuses[:0]
	for _, n := range o.Nexuses {
		if n != nexusUUID {
			out = append(out, n)
		}
	}
	o.Nexuses = out
}

// NexusChild is a spec-level child reference: either a known replica
// (recorded with its replica uuid) or an opaque URI.
type NexusChild struct {
	URI         string `json:"uri"`
	ReplicaUUID string `json:"replica_uuid,omitempty"`
}

// NexusSpec is the desired state of a network-exported block device
// mirroring one or more replicas.
type NexusSpec struct {
	UUID       string       `json:"uuid"`
	Node       string       `json:"node"`
	SizeBytes  uint64       `json:"size_bytes"`
	Children   []NexusChild `json:"children"`
	Share      string       `json:"share,omitempty"`
	Managed    bool         `json:"managed"`
	OwnerVol   string       `json:"owner_volume,omitempty"` // "" if unowned
	Status     Status       `json:"status"`
	Operation  *PendingOp   `json:"operation,omitempty"`
}

func (n NexusSpec) ResourceID() string { return n.UUID }

// Owned reports whether this nexus is owned by a volume. No reconciler in
// pkg/reconcile consults it: owned and unowned nexuses are reconciled alike.
func (n *NexusSpec) Owned() bool { return n.OwnerVol != "" }

// HasChild reports whether the given URI is present in the spec's children.
func (n *NexusSpec) HasChild(uri string) bool {
	for _, c := range n.Children {
		if c.URI == uri {
			return true
		}
	}
	return false
}

// RemoveChild removes the child with the given URI from the spec, if present.
// It reports the removed child's replica uuid, if it had one.
func (n *NexusSpec) RemoveChild(uri string) (replicaUUID string, removed bool) {
	out := n.Children[:0]
	for _, c := range n.Children {
		if c.URI == uri {
			replicaUUID, removed = c.ReplicaUUID, true
			continue
		}
		out = append(out, c)
	}
	n.Children = out
	return replicaUUID, removed
}

// VolumeSpec is the user-visible block device, realised as a nexus over a
// set of replicas.
type VolumeSpec struct {
	UUID         string     `json:"uuid"`
	SizeBytes    uint64     `json:"size_bytes"`
	ReplicaCount int        `json:"replica_count"`
	Nexus        string     `json:"nexus,omitempty"` // owning nexus uuid, "" if none yet
	Status       Status     `json:"status"`
	Operation    *PendingOp `json:"operation,omitempty"`
}

func (v VolumeSpec) ResourceID() string { return v.UUID }

// NodeSpec tracks a known data-plane node's desired registration.
type NodeSpec struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

func (n NodeSpec) ResourceID() string { return n.ID }
