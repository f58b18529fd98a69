// Package ops implements the per-kind Create/Mutate/Destroy lifecycle
// (spec §3 "Lifecycle (per resource)") on top of pkg/executor's generic
// pipeline: one Mutator + request-validated Service per resource kind,
// mirroring spec §3's generic rules (idempotent create, destroy-of-missing
// is success, crash replay clears unresolved ops) concretely for Pool,
// Replica, Nexus and Volume.
package ops

import "context"

// Client is the data-plane operations surface the per-kind mutators call
// through. It is the create-side counterpart of pkg/reconcile's
// DataPlaneClient, which only covers corrective actions; both are expected
// to be bound to the same underlying transport/NodeClient implementation.
type Client interface {
	CreatePool(ctx context.Context, node, poolID string, disks []string) error
	DestroyPool(ctx context.Context, node, poolID string) error

	CreateReplica(ctx context.Context, node, poolID, replicaUUID string, sizeBytes uint64, thin bool) (uri string, err error)
	ShareReplica(ctx context.Context, node, replicaUUID, protocol string) (uri string, err error)
	UnshareReplica(ctx context.Context, node, replicaUUID string) error
	DestroyReplica(ctx context.Context, node, replicaUUID string) error

	CreateNexus(ctx context.Context, node, nexusUUID string, sizeBytes uint64, children []string) error
	AddNexusChild(ctx context.Context, node, nexusUUID, childURI string) error
	RemoveNexusChild(ctx context.Context, node, nexusUUID, childURI string) error
	ShareNexus(ctx context.Context, node, nexusUUID, protocol string) error
	UnshareNexus(ctx context.Context, node, nexusUUID string) error
	DestroyNexus(ctx context.Context, node, nexusUUID string) error
}
