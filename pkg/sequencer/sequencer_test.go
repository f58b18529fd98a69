package sequencer

import (
	"testing"

	"github.com/nimbusblock/control-plane/pkg/ctlerr"
)

func TestExclusiveExcludesEverything(t *testing.T) {
	s := &Sequencer{}
	g, err := s.Acquire(ModeExclusive, 1)
	if err != nil {
		t.Fatalf("first exclusive acquire: %v", err)
	}

	for _, m := range []Mode{ModeExclusive, ModeReconcileStart, ModeReconcileStep, ModeShared} {
		if _, err := s.Acquire(m, 2); !ctlerr.Is(err, ctlerr.KindBusy) {
			t.Fatalf("mode %d: expected busy while exclusive held, got %v", m, err)
		}
	}

	g.Release()
	if _, err := s.Acquire(ModeExclusive, 3); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestReconcileStepReentrantUnderSameOwner(t *testing.T) {
	s := &Sequencer{}
	outer, err := s.Acquire(ModeReconcileStart, 42)
	if err != nil {
		t.Fatalf("reconcile start: %v", err)
	}

	inner, err := s.Acquire(ModeReconcileStep, 42)
	if err != nil {
		t.Fatalf("reentrant step under same owner should succeed: %v", err)
	}
	inner.Release()

	if !s.Busy() {
		t.Fatalf("outer reconcile start should still be held after inner release")
	}

	if _, err := s.Acquire(ModeReconcileStep, 99); !ctlerr.Is(err, ctlerr.KindBusy) {
		t.Fatalf("step from a different owner should be busy, got %v", err)
	}

	outer.Release()
	if s.Busy() {
		t.Fatalf("sequencer should be idle after outer release")
	}
}

func TestSharedAllowsMultipleReaders(t *testing.T) {
	s := &Sequencer{}
	g1, err := s.Acquire(ModeShared, 1)
	if err != nil {
		t.Fatalf("first shared acquire: %v", err)
	}
	g2, err := s.Acquire(ModeShared, 2)
	if err != nil {
		t.Fatalf("second shared acquire: %v", err)
	}

	if _, err := s.Acquire(ModeExclusive, 3); !ctlerr.Is(err, ctlerr.KindBusy) {
		t.Fatalf("exclusive should be busy while shared held, got %v", err)
	}

	g1.Release()
	if !s.Busy() {
		t.Fatalf("sequencer should still be busy: one shared holder remains")
	}
	g2.Release()
	if s.Busy() {
		t.Fatalf("sequencer should be idle once all shared holders release")
	}
}

func TestUnknownModeIsInvalidArgument(t *testing.T) {
	s := &Sequencer{}
	if _, err := s.Acquire(Mode(99), 1); !ctlerr.Is(err, ctlerr.KindInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
