// Package executor implements the operation executor (spec §4.8): the
// entry point every mutating operation from pkg/ops's services passes
// through. Reconciler corrective actions do not use it: pkg/reconcile calls
// the data-plane client directly under its own sequencer guards and writes
// its spec changes to the store itself.
//
// A small Mutator[S, Op] interface stands in for the spec's per-resource
// "apply" logic, kept as a plain interface rather than a deep generic tree
// to stay close to the teacher's idiom of small, concrete interfaces.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/sequencer"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store"
)

// LeaseStatus is the subset of *lease.Keeper the executor depends on. A
// plain interface rather than the concrete type keeps pkg/executor testable
// without an etcd cluster behind it.
type LeaseStatus interface {
	Lost() <-chan struct{}
}

// Mutator is the kind-specific behaviour the executor drives through its
// six-step pipeline for one resource kind S with operation parameter Op.
type Mutator[S registry.Resource, Op any] interface {
	// Validate checks the operation is legal against the current spec
	// snapshot, before anything is persisted. Returning an error aborts the
	// pipeline before step 3.
	Validate(current S, op Op) error
	// Apply mutates current in place to reflect the operation having
	// succeeded on the data plane. Called only after a successful Invoke.
	Apply(current *S, op Op)
	// Invoke performs the data-plane side effect. If it fails, Apply is
	// skipped, the pending op is cleared and the spec is persisted without
	// it; the error is returned to the caller and is not stored.
	Invoke(ctx context.Context, current S, op Op) error
	// OpName is the PendingOp.Operation string recorded for this op, used
	// for logging and crash-recovery replay.
	OpName(op Op) string
}

// Executor runs the six-step mutation pipeline against one resource kind.
type Executor[S registry.Resource, Op any] struct {
	reg            *registry.Registry[S]
	keeper         LeaseStatus
	st             store.Store
	keyFn          func(id string) string
	logger         *slog.Logger
	mutator        Mutator[S, Op]
	defaultTimeout time.Duration
}

// New builds an Executor. st must already be the lease-fenced view returned
// by keeper.Fence, so every persist call is conditioned on still holding
// the lease. defaultTimeout bounds step 4's data-plane Invoke call (spec §5
// Cancellation); a caller-supplied ctx deadline still wins if it is
// tighter. Zero disables the timeout.
func New[S registry.Resource, Op any](reg *registry.Registry[S], keeper LeaseStatus, fencedStore store.Store, keyFn func(id string) string, logger *slog.Logger, mutator Mutator[S, Op], defaultTimeout time.Duration) *Executor[S, Op] {
	return &Executor[S, Op]{reg: reg, keeper: keeper, st: fencedStore, keyFn: keyFn, logger: logger, mutator: mutator, defaultTimeout: defaultTimeout}
}

// Mutate runs the six-step pipeline against the handle for id: acquire
// Exclusive, validate, persist pending, invoke, persist result/apply,
// clear. It returns ctlerr.KindNotReady immediately if the lease has
// already been lost.
func (e *Executor[S, Op]) Mutate(ctx context.Context, id string, op Op, opsGetter func(S) *spec.PendingOp, opsSetter func(*S, *spec.PendingOp)) error {
	select {
	case <-e.keeper.Lost():
		return ctlerr.New(ctlerr.KindNotReady, "", "executor", "lease lost, rejecting mutating call")
	default:
	}

	h, err := e.reg.Get(id)
	if err != nil {
		return err
	}

	guard, err := h.Seq.Acquire(sequencer.ModeExclusive, 0)
	if err != nil {
		return err
	}
	defer guard.Release()

	current := h.Read()

	// Step 2: validate no operation already in flight.
	if existing := opsGetter(current); existing != nil && !existing.Done() {
		return ctlerr.New(ctlerr.KindConflict, "", "executor", "operation %q already in progress", existing.Operation)
	}
	if err := e.mutator.Validate(current, op); err != nil {
		return err
	}

	// Step 3: persist the pending op.
	paramsJSON, err := json.Marshal(op)
	if err != nil {
		return ctlerr.New(ctlerr.KindInvalidArgument, "", "executor", "encoding op params: %v", err)
	}
	pending := &spec.PendingOp{Operation: e.mutator.OpName(op), Params: paramsJSON}
	opsSetter(&current, pending)
	if err := e.persist(ctx, id, current); err != nil {
		return err
	}
	h.Update(current)

	// Step 4: data-plane call, bounded by the configured default deadline
	// unless the caller already supplied a tighter one.
	invokeCtx := ctx
	if e.defaultTimeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			invokeCtx, cancel = context.WithTimeout(ctx, e.defaultTimeout)
			defer cancel()
		}
	}
	invokeErr := e.mutator.Invoke(invokeCtx, current, op)

	// Step 5: record result, apply on success, persist, clear.
	ok := invokeErr == nil
	pending.Result = &ok
	if ok {
		e.mutator.Apply(&current, op)
	}
	opsSetter(&current, nil)
	if err := e.persist(ctx, id, current); err != nil {
		return err
	}
	h.Update(current)

	if invokeErr != nil {
		e.logger.Error("data-plane call failed", "resource", id, "operation", pending.Operation, "error", invokeErr)
		if errors.Is(invokeErr, context.DeadlineExceeded) {
			return ctlerr.New(ctlerr.KindDeadlineExceeded, "", "executor", "deadline exceeded invoking %q: %v", pending.Operation, invokeErr)
		}
		return ctlerr.New(ctlerr.KindAborted, "", "executor", "%v", invokeErr)
	}
	return nil
}

func (e *Executor[S, Op]) persist(ctx context.Context, id string, s S) error {
	b, err := json.Marshal(s)
	if err != nil {
		return ctlerr.New(ctlerr.KindInternal, "", "executor", "encoding spec: %v", err)
	}
	if err := e.st.Put(ctx, e.keyFn(id), b); err != nil {
		if err == store.ErrLostLeadership {
			return ctlerr.New(ctlerr.KindNotReady, "", "executor", "lost leadership persisting %q", id)
		}
		return ctlerr.New(ctlerr.KindFailedPersist, "", "executor", "%v", err)
	}
	return nil
}

// ReplayPending implements crash recovery (spec §3 "Crash recovery replays
// any spec with a lingering PendingOp"): for every handle with an unfinished
// op, if its result is known-successful, commit (the caller's apply
// callback has already been baked into the persisted spec by a prior
// Mutate call that crashed between persist and clear — so here we only
// clear); otherwise clear without applying.
func ReplayPending[S registry.Resource](ctx context.Context, reg *registry.Registry[S], st store.Store, keyFn func(id string) string, logger *slog.Logger, getOp func(S) *spec.PendingOp, setOp func(*S, *spec.PendingOp)) error {
	pending := registry.PendingHandles(reg, func(s S) bool {
		op := getOp(s)
		return op != nil
	})

	for _, h := range pending {
		current := h.Read()
		op := getOp(current)
		id := current.ResourceID()

		if op.Done() {
			logger.Info("replaying completed pending op", "resource", id, "operation", op.Operation, "succeeded", op.Succeeded())
		} else {
			logger.Warn("clearing unresolved pending op on startup", "resource", id, "operation", op.Operation)
		}

		setOp(&current, nil)
		b, err := json.Marshal(current)
		if err != nil {
			return ctlerr.New(ctlerr.KindInternal, "", "executor", "encoding spec during replay: %v", err)
		}
		if err := st.Put(ctx, keyFn(id), b); err != nil {
			return ctlerr.New(ctlerr.KindFailedPersist, "", "executor", "persisting replay clear for %q: %v", id, err)
		}
		h.Update(current)
	}
	return nil
}
