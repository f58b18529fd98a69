package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
	"github.com/nimbusblock/control-plane/pkg/registry"
	"github.com/nimbusblock/control-plane/pkg/spec"
	"github.com/nimbusblock/control-plane/pkg/store/memstore"
)

type neverLost struct{ ch chan struct{} }

func (n neverLost) Lost() <-chan struct{} { return n.ch }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type shareOp struct {
	Protocol string
}

type fakeMutator struct {
	invokeErr  error
	invokeHits int
	blockOnCtx bool // if set, Invoke waits for ctx to be done and returns ctx.Err()
}

func (m *fakeMutator) Validate(current spec.PoolSpec, op shareOp) error { return nil }
func (m *fakeMutator) Apply(current *spec.PoolSpec, op shareOp) {
	current.Labels = map[string]string{"share": op.Protocol}
}
func (m *fakeMutator) Invoke(ctx context.Context, current spec.PoolSpec, op shareOp) error {
	m.invokeHits++
	if m.blockOnCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.invokeErr
}
func (m *fakeMutator) OpName(op shareOp) string { return "ShareOp" }

func getOp(p spec.PoolSpec) *spec.PendingOp      { return p.Operation }
func setOp(p *spec.PoolSpec, op *spec.PendingOp) { p.Operation = op }

func newTestExecutor(t *testing.T, mutator *fakeMutator) (*Executor[spec.PoolSpec, shareOp], *registry.Registry[spec.PoolSpec]) {
	t.Helper()
	reg := registry.New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	reg.InsertOrGetExisting(spec.PoolSpec{ID: "pool-1", Node: "node-a", Status: spec.StatusCreated})

	st := memstore.New()
	ex := New[spec.PoolSpec, shareOp](reg, neverLost{ch: make(chan struct{})}, st, func(id string) string { return "spec/pool/" + id }, discardLogger(), mutator, 0)
	return ex, reg
}

func TestMutateSuccessAppliesAndClearsOp(t *testing.T) {
	mutator := &fakeMutator{}
	ex, reg := newTestExecutor(t, mutator)

	err := ex.Mutate(context.Background(), "pool-1", shareOp{Protocol: "nvmf"}, getOp, setOp)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if mutator.invokeHits != 1 {
		t.Fatalf("expected exactly 1 invoke, got %d", mutator.invokeHits)
	}

	h, err := reg.Get("pool-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	final := h.Read()
	if final.Operation != nil {
		t.Fatalf("expected operation cleared, got %+v", final.Operation)
	}
	if final.Labels["share"] != "nvmf" {
		t.Fatalf("expected Apply to have run, got labels %+v", final.Labels)
	}
}

func TestMutateInvokeFailureClearsOpWithoutApply(t *testing.T) {
	mutator := &fakeMutator{invokeErr: errors.New("data plane unreachable")}
	ex, reg := newTestExecutor(t, mutator)

	err := ex.Mutate(context.Background(), "pool-1", shareOp{Protocol: "nvmf"}, getOp, setOp)
	if !ctlerr.Is(err, ctlerr.KindAborted) {
		t.Fatalf("expected Aborted, got %v", err)
	}

	h, _ := reg.Get("pool-1")
	final := h.Read()
	if final.Operation != nil {
		t.Fatalf("expected operation cleared even on failure, got %+v", final.Operation)
	}
	if final.Labels["share"] == "nvmf" {
		t.Fatalf("Apply must not have run on invoke failure")
	}
}

func TestMutateRejectsConcurrentOperation(t *testing.T) {
	mutator := &fakeMutator{}
	ex, reg := newTestExecutor(t, mutator)

	h, _ := reg.Get("pool-1")
	p := h.Read()
	p.Operation = &spec.PendingOp{Operation: "AlreadyRunning"}
	h.Update(p)

	err := ex.Mutate(context.Background(), "pool-1", shareOp{Protocol: "nvmf"}, getOp, setOp)
	if !ctlerr.Is(err, ctlerr.KindConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestMutateRejectsWhenLeaseLost(t *testing.T) {
	mutator := &fakeMutator{}
	reg := registry.New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	reg.InsertOrGetExisting(spec.PoolSpec{ID: "pool-1"})

	lost := make(chan struct{})
	close(lost)
	st := memstore.New()
	ex := New[spec.PoolSpec, shareOp](reg, neverLost{ch: lost}, st, func(id string) string { return "spec/pool/" + id }, discardLogger(), mutator, 0)

	err := ex.Mutate(context.Background(), "pool-1", shareOp{Protocol: "nvmf"}, getOp, setOp)
	if !ctlerr.Is(err, ctlerr.KindNotReady) {
		t.Fatalf("expected NotReady, got %v", err)
	}
	if mutator.invokeHits != 0 {
		t.Fatalf("expected no invoke once lease is lost")
	}
}

func TestMutateReturnsDeadlineExceededOnTimeout(t *testing.T) {
	mutator := &fakeMutator{blockOnCtx: true}
	reg := registry.New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	reg.InsertOrGetExisting(spec.PoolSpec{ID: "pool-1", Node: "node-a", Status: spec.StatusCreated})

	st := memstore.New()
	ex := New[spec.PoolSpec, shareOp](reg, neverLost{ch: make(chan struct{})}, st, func(id string) string { return "spec/pool/" + id }, discardLogger(), mutator, time.Millisecond)

	err := ex.Mutate(context.Background(), "pool-1", shareOp{Protocol: "nvmf"}, getOp, setOp)
	if !ctlerr.Is(err, ctlerr.KindDeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	h, _ := reg.Get("pool-1")
	if h.Read().Operation != nil {
		t.Fatalf("expected operation cleared after a timed-out invoke")
	}
}

func TestReplayPendingClearsUnresolvedOp(t *testing.T) {
	reg := registry.New[spec.PoolSpec](spec.KindPool, func(id string) string { return "spec/pool/" + id })
	reg.InsertOrGetExisting(spec.PoolSpec{ID: "pool-1", Operation: &spec.PendingOp{Operation: "Create"}})

	st := memstore.New()
	if err := ReplayPending(context.Background(), reg, st, func(id string) string { return "spec/pool/" + id }, discardLogger(), getOp, setOp); err != nil {
		t.Fatalf("ReplayPending: %v", err)
	}

	h, _ := reg.Get("pool-1")
	if h.Read().Operation != nil {
		t.Fatalf("expected pending op cleared by replay")
	}
}
