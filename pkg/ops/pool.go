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

// PoolOpKind is the PoolSpec-specific operation enum named in spec §3's
// PendingOp envelope.
type PoolOpKind string

const (
	PoolOpCreate  PoolOpKind = "CreatePool"
	PoolOpDestroy PoolOpKind = "DestroyPool"
)

// PoolOp is the Op parameter the pool Executor carries through the pipeline.
type PoolOp struct {
	Kind  PoolOpKind
	Disks []string // only meaningful for PoolOpCreate
}

// CreatePoolRequest is the external request shape, struct-tag validated
// with pkg/reqvalidate the same way the teacher validates its request
// DTOs.
type CreatePoolRequest struct {
	ID    string   `validate:"required"`
	Node  string   `validate:"required"`
	Disks []string `validate:"required,min=1"`
}

// PoolMutator implements executor.Mutator[spec.PoolSpec, PoolOp].
type PoolMutator struct{ Client Client }

func (m *PoolMutator) Validate(current spec.PoolSpec, op PoolOp) error {
	return nil // the executor's own opsGetter conflict check covers concurrency
}

func (m *PoolMutator) Invoke(ctx context.Context, current spec.PoolSpec, op PoolOp) error {
	switch op.Kind {
	case PoolOpCreate:
		return m.Client.CreatePool(ctx, current.Node, current.ID, op.Disks)
	case PoolOpDestroy:
		return m.Client.DestroyPool(ctx, current.Node, current.ID)
	default:
		return ctlerr.New(ctlerr.KindUnimplemented, "pool", "pool_mutator", "unknown op %q", op.Kind)
	}
}

func (m *PoolMutator) Apply(current *spec.PoolSpec, op PoolOp) {
	switch op.Kind {
	case PoolOpCreate:
		current.Disks = op.Disks
		current.Status = spec.StatusCreated
	case PoolOpDestroy:
		current.Status = spec.StatusDeleted
	}
}

func (m *PoolMutator) OpName(op PoolOp) string { return string(op.Kind) }

func poolGetOp(p spec.PoolSpec) *spec.PendingOp        { return p.Operation }
func poolSetOp(p *spec.PoolSpec, op *spec.PendingOp) { p.Operation = op }

// PoolService is the Create/Destroy entry point for pools: request
// validation, idempotent-create, and destroy-of-missing-is-success (spec
// §4.8's idempotence rule) wrapped around the generic executor pipeline.
type PoolService struct {
	reg  *registry.Registry[spec.PoolSpec]
	exec *executor.Executor[spec.PoolSpec, PoolOp]
}

func NewPoolService(reg *registry.Registry[spec.PoolSpec], keeper executor.LeaseStatus, fencedStore store.Store, keyFn func(string) string, logger *slog.Logger, client Client, defaultTimeout time.Duration) *PoolService {
	exec := executor.New[spec.PoolSpec, PoolOp](reg, keeper, fencedStore, keyFn, logger, &PoolMutator{Client: client}, defaultTimeout)
	return &PoolService{reg: reg, exec: exec}
}

// Create allocates a new pool spec and invokes the data-plane create call.
// Calling Create again with identical parameters is a no-op success; with
// different parameters it returns AlreadyExists.
func (s *PoolService) Create(ctx context.Context, req CreatePoolRequest) error {
	if err := reqvalidateErr("pool", req); err != nil {
		return err
	}

	if h, err := s.reg.Get(req.ID); err == nil {
		cur := h.Read()
		if cur.Node == req.Node && slices.Equal(cur.Disks, req.Disks) {
			return nil
		}
		return ctlerr.New(ctlerr.KindAlreadyExists, "pool", "pool_service", "pool %q already exists with different parameters", req.ID)
	}

	s.reg.InsertOrGetExisting(spec.PoolSpec{ID: req.ID, Node: req.Node, Status: spec.StatusCreating})
	return s.exec.Mutate(ctx, req.ID, PoolOp{Kind: PoolOpCreate, Disks: req.Disks}, poolGetOp, poolSetOp)
}

// Destroy tears down a pool. Destroying a pool that does not exist succeeds.
func (s *PoolService) Destroy(ctx context.Context, id string) error {
	h, err := s.reg.Get(id)
	if err != nil {
		return nil
	}
	if h.Read().Status == spec.StatusDeleted {
		return nil
	}
	if err := s.exec.Mutate(ctx, id, PoolOp{Kind: PoolOpDestroy}, poolGetOp, poolSetOp); err != nil {
		return err
	}
	s.reg.Remove(id)
	return nil
}
