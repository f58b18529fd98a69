package ops

import (
	"context"
	"log/slog"
	"time"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
	"github.com/nimbusblock/control-plane/pkg/executor"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store"
)

type ReplicaOpKind string

const (
	ReplicaOpCreate  ReplicaOpKind = "CreateReplica"
	ReplicaOpShare   ReplicaOpKind = "ShareReplica"
	ReplicaOpUnshare ReplicaOpKind = "UnshareReplica"
	ReplicaOpDestroy ReplicaOpKind = "DestroyReplica"
)

type ReplicaOp struct {
	Kind     ReplicaOpKind
	Pool     string // CreateReplica
	SizeBytes uint64 // CreateReplica
	Thin     bool   // CreateReplica
	Protocol string // ShareReplica
}

// CreateReplicaRequest is the external request for carving a replica out of
// a pool.
type CreateReplicaRequest struct {
	UUID      string `validate:"required,uuid"`
	Pool      string `validate:"required"`
	Node      string `validate:"required"`
	SizeBytes uint64 `validate:"required,gt=0"`
	Thin      bool
}

type ReplicaMutator struct{ Client Client }

func (m *ReplicaMutator) Validate(current spec.ReplicaSpec, op ReplicaOp) error { return nil }

func (m *ReplicaMutator) Invoke(ctx context.Context, current spec.ReplicaSpec, op ReplicaOp) error {
	switch op.Kind {
	case ReplicaOpCreate:
		_, err := m.Client.CreateReplica(ctx, current.Node, op.Pool, current.UUID, op.SizeBytes, op.Thin)
		return err
	case ReplicaOpShare:
		_, err := m.Client.ShareReplica(ctx, current.Node, current.UUID, op.Protocol)
		return err
	case ReplicaOpUnshare:
		return m.Client.UnshareReplica(ctx, current.Node, current.UUID)
	case ReplicaOpDestroy:
		return m.Client.DestroyReplica(ctx, current.Node, current.UUID)
	default:
		return ctlerr.New(ctlerr.KindUnimplemented, "replica", "replica_mutator", "unknown op %q", op.Kind)
	}
}

func (m *ReplicaMutator) Apply(current *spec.ReplicaSpec, op ReplicaOp) {
	switch op.Kind {
	case ReplicaOpCreate:
		current.Pool = op.Pool
		current.SizeBytes = op.SizeBytes
		current.Thin = op.Thin
		current.Status = spec.StatusCreated
	case ReplicaOpShare:
		current.Share = op.Protocol
	case ReplicaOpUnshare:
		current.Share = ""
	case ReplicaOpDestroy:
		current.Status = spec.StatusDeleted
	}
}

func (m *ReplicaMutator) OpName(op ReplicaOp) string { return string(op.Kind) }

func replicaGetOp(r spec.ReplicaSpec) *spec.PendingOp        { return r.Operation }
func replicaSetOp(r *spec.ReplicaSpec, op *spec.PendingOp) { r.Operation = op }

// ReplicaService is the Create/Share/Unshare/Destroy entry point for
// replicas.
type ReplicaService struct {
	reg  *registry.Registry[spec.ReplicaSpec]
	exec *executor.Executor[spec.ReplicaSpec, ReplicaOp]
}

func NewReplicaService(reg *registry.Registry[spec.ReplicaSpec], keeper executor.LeaseStatus, fencedStore store.Store, keyFn func(string) string, logger *slog.Logger, client Client, defaultTimeout time.Duration) *ReplicaService {
	exec := executor.New[spec.ReplicaSpec, ReplicaOp](reg, keeper, fencedStore, keyFn, logger, &ReplicaMutator{Client: client}, defaultTimeout)
	return &ReplicaService{reg: reg, exec: exec}
}

func (s *ReplicaService) Create(ctx context.Context, req CreateReplicaRequest) error {
	if err := reqvalidateErr("replica", req); err != nil {
		return err
	}

	if h, err := s.reg.Get(req.UUID); err == nil {
		cur := h.Read()
		if cur.Pool == req.Pool && cur.Node == req.Node && cur.SizeBytes == req.SizeBytes && cur.Thin == req.Thin {
			return nil
		}
		return ctlerr.New(ctlerr.KindAlreadyExists, "replica", "replica_service", "replica %q already exists with different parameters", req.UUID)
	}

	s.reg.InsertOrGetExisting(spec.ReplicaSpec{UUID: req.UUID, Pool: req.Pool, Node: req.Node, Status: spec.StatusCreating})
	return s.exec.Mutate(ctx, req.UUID, ReplicaOp{Kind: ReplicaOpCreate, Pool: req.Pool, SizeBytes: req.SizeBytes, Thin: req.Thin}, replicaGetOp, replicaSetOp)
}

func (s *ReplicaService) Share(ctx context.Context, uuid, protocol string) error {
	h, err := s.reg.Get(uuid)
	if err != nil {
		return err
	}
	if h.Read().Share == protocol {
		return nil
	}
	return s.exec.Mutate(ctx, uuid, ReplicaOp{Kind: ReplicaOpShare, Protocol: protocol}, replicaGetOp, replicaSetOp)
}

func (s *ReplicaService) Unshare(ctx context.Context, uuid string) error {
	h, err := s.reg.Get(uuid)
	if err != nil {
		return err
	}
	if h.Read().Share == "" {
		return nil
	}
	return s.exec.Mutate(ctx, uuid, ReplicaOp{Kind: ReplicaOpUnshare}, replicaGetOp, replicaSetOp)
}

// Destroy tears down a replica directly. It refuses while the replica is
// still owned (spec §3 invariant 5); callers that want cascading teardown
// should disown it first (e.g. via VolumeService.Destroy).
func (s *ReplicaService) Destroy(ctx context.Context, uuid string) error {
	h, err := s.reg.Get(uuid)
	if err != nil {
		return nil
	}
	cur := h.Read()
	if cur.Status == spec.StatusDeleted {
		return nil
	}
	if !cur.Owners.Empty() {
		return ctlerr.New(ctlerr.KindInUse, "replica", "replica_service", "replica %q is still owned", uuid)
	}
	if err := s.exec.Mutate(ctx, uuid, ReplicaOp{Kind: ReplicaOpDestroy}, replicaGetOp, replicaSetOp); err != nil {
		return err
	}
	s.reg.Remove(uuid)
	return nil
}
