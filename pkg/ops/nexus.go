package ops

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
	"github.com/nimbusblock/control-plane/pkg/executor"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store"
)

type NexusOpKind string

const (
	NexusOpCreate      NexusOpKind = "CreateNexus"
	NexusOpAddChild    NexusOpKind = "AddNexusChild"
	NexusOpRemoveChild NexusOpKind = "RemoveNexusChild"
	NexusOpShare       NexusOpKind = "ShareNexus"
	NexusOpUnshare     NexusOpKind = "UnshareNexus"
	NexusOpDestroy     NexusOpKind = "DestroyNexus"
)

type NexusOp struct {
	Kind     NexusOpKind
	Children []spec.NexusChild // CreateNexus
	Child    spec.NexusChild   // AddNexusChild
	ChildURI string            // RemoveNexusChild
	Protocol string            // ShareNexus
}

// CreateNexusRequest builds a nexus over an explicit set of already-created
// replicas. Picking which replicas to use is the caller's job (CSI-level
// provisioning is out of scope); this only validates and wires the result
// through the executor.
type CreateNexusRequest struct {
	UUID      string            `validate:"required"`
	Node      string            `validate:"required"`
	SizeBytes uint64            `validate:"required,gt=0"`
	Children  []spec.NexusChild `validate:"required,min=1"`
}

type NexusMutator struct{ Client Client }

func (m *NexusMutator) Validate(current spec.NexusSpec, op NexusOp) error { return nil }

func (m *NexusMutator) Invoke(ctx context.Context, current spec.NexusSpec, op NexusOp) error {
	switch op.Kind {
	case NexusOpCreate:
		uris := make([]string, 0, len(op.Children))
		for _, c := range op.Children {
			uris = append(uris, c.URI)
		}
		return m.Client.CreateNexus(ctx, current.Node, current.UUID, current.SizeBytes, uris)
	case NexusOpAddChild:
		return m.Client.AddNexusChild(ctx, current.Node, current.UUID, op.Child.URI)
	case NexusOpRemoveChild:
		return m.Client.RemoveNexusChild(ctx, current.Node, current.UUID, op.ChildURI)
	case NexusOpShare:
		return m.Client.ShareNexus(ctx, current.Node, current.UUID, op.Protocol)
	case NexusOpUnshare:
		return m.Client.UnshareNexus(ctx, current.Node, current.UUID)
	case NexusOpDestroy:
		return m.Client.DestroyNexus(ctx, current.Node, current.UUID)
	default:
		return ctlerr.New(ctlerr.KindUnimplemented, "nexus", "nexus_mutator", "unknown op %q", op.Kind)
	}
}

func (m *NexusMutator) Apply(current *spec.NexusSpec, op NexusOp) {
	switch op.Kind {
	case NexusOpCreate:
		current.Children = op.Children
		current.Status = spec.StatusCreated
	case NexusOpAddChild:
		current.Children = append(current.Children, op.Child)
	case NexusOpRemoveChild:
		current.RemoveChild(op.ChildURI)
	case NexusOpShare:
		current.Share = op.Protocol
	case NexusOpUnshare:
		current.Share = ""
	case NexusOpDestroy:
		current.Status = spec.StatusDeleted
	}
}

func (m *NexusMutator) OpName(op NexusOp) string { return string(op.Kind) }

func nexusGetOp(n spec.NexusSpec) *spec.PendingOp        { return n.Operation }
func nexusSetOp(n *spec.NexusSpec, op *spec.PendingOp) { n.Operation = op }

// NexusService is the Create/AddChild/RemoveChild/Share/Unshare/Destroy
// entry point for nexuses.
type NexusService struct {
	reg  *registry.Registry[spec.NexusSpec]
	exec *executor.Executor[spec.NexusSpec, NexusOp]
}

func NewNexusService(reg *registry.Registry[spec.NexusSpec], keeper executor.LeaseStatus, fencedStore store.Store, keyFn func(string) string, logger *slog.Logger, client Client, defaultTimeout time.Duration) *NexusService {
	exec := executor.New[spec.NexusSpec, NexusOp](reg, keeper, fencedStore, keyFn, logger, &NexusMutator{Client: client}, defaultTimeout)
	return &NexusService{reg: reg, exec: exec}
}

func (s *NexusService) Create(ctx context.Context, req CreateNexusRequest) error {
	if err := reqvalidateErr("nexus", req); err != nil {
		return err
	}

	if h, err := s.reg.Get(req.UUID); err == nil {
		cur := h.Read()
		if cur.Node == req.Node && cur.SizeBytes == req.SizeBytes && slices.Equal(cur.Children, req.Children) {
			return nil
		}
		return ctlerr.New(ctlerr.KindAlreadyExists, "nexus", "nexus_service", "nexus %q already exists with different parameters", req.UUID)
	}

	s.reg.InsertOrGetExisting(spec.NexusSpec{UUID: req.UUID, Node: req.Node, SizeBytes: req.SizeBytes, Status: spec.StatusCreating})
	return s.exec.Mutate(ctx, req.UUID, NexusOp{Kind: NexusOpCreate, Children: req.Children}, nexusGetOp, nexusSetOp)
}

func (s *NexusService) Share(ctx context.Context, uuid, protocol string) error {
	h, err := s.reg.Get(uuid)
	if err != nil {
		return err
	}
	if h.Read().Share == protocol {
		return nil
	}
	return s.exec.Mutate(ctx, uuid, NexusOp{Kind: NexusOpShare, Protocol: protocol}, nexusGetOp, nexusSetOp)
}

func (s *NexusService) Unshare(ctx context.Context, uuid string) error {
	h, err := s.reg.Get(uuid)
	if err != nil {
		return err
	}
	if h.Read().Share == "" {
		return nil
	}
	return s.exec.Mutate(ctx, uuid, NexusOp{Kind: NexusOpUnshare}, nexusGetOp, nexusSetOp)
}

// Destroy tears the nexus down on the data plane, persists its spec as
// Deleted, disowns every replica it was mirroring, and drops it from the
// registry. The spec goes straight to Deleted with no Deleting step, and the
// Deleted spec is not removed from the store.
func (s *NexusService) Destroy(ctx context.Context, uuid string, disown func(ctx context.Context, replicaUUID, nexusUUID string)) error {
	h, err := s.reg.Get(uuid)
	if err != nil {
		return nil
	}
	current := h.Read()
	if current.Status == spec.StatusDeleted {
		return nil
	}
	if err := s.exec.Mutate(ctx, uuid, NexusOp{Kind: NexusOpDestroy}, nexusGetOp, nexusSetOp); err != nil {
		return err
	}
	for _, c := range current.Children {
		if c.ReplicaUUID != "" && disown != nil {
			disown(ctx, c.ReplicaUUID, uuid)
		}
	}
	s.reg.Remove(uuid)
	return nil
}
