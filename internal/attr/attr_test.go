package attr

import (
	"testing"

	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/regs"
)

// instantSim completes every attribute-access program immediately, the
// way simrig.Rig's hook does for transport-level tests.
func instantSim() *regs.Sim {
	s := regs.NewSim()
	s.Hook = func(offset uint32, write bool, val uint32) (uint32, bool) {
		if offset == regs.A2DAttracsMstrCtrl && write {
			s.Write32(regs.A2DAttracsIntBef, 1)
		}
		return 0, false
	}
	return s
}

func TestWriteLocalThenReadLocal(t *testing.T) {
	sim := instantSim()
	bus := New(sim)

	if err := bus.WriteLocal(0x1571, 42); err != nil {
		t.Fatalf("WriteLocal failed: %v", err)
	}

	// The simulated register file does not model the write-through to
	// the data-status register; seed it directly to exercise ReadLocal's
	// success path independent of WriteLocal's internals.
	sim.Write32(regs.A2DAttracsDataSts00, 42)
	got, err := bus.ReadLocal(0x1571)
	if err != nil {
		t.Fatalf("ReadLocal failed: %v", err)
	}
	if got != 42 {
		t.Errorf("ReadLocal = %d, want 42", got)
	}
}

func TestReadNonZeroResultIsError(t *testing.T) {
	sim := instantSim()
	sim.Write32(regs.A2DAttracsSts00, 1) // non-zero: access failed
	bus := New(sim)

	if _, err := bus.ReadLocal(0x1571); !errs.IsCode(err, errs.CodeIoError) {
		t.Errorf("ReadLocal with a non-zero result register should fail with CodeIoError, got %v", err)
	}
}

func TestPollTimeoutSurfacesAsIoError(t *testing.T) {
	bus := New(regs.NewSim()) // INT_BEF never set: the access machine never completes
	if _, err := bus.ReadLocal(0x1571); !errs.IsCode(err, errs.CodeIoError) {
		t.Errorf("a wedged access machine should surface as CodeIoError, got %v", err)
	}
}

func TestES1WritePeerFailsLoud(t *testing.T) {
	bus := NewES1(instantSim())
	if err := bus.WritePeer(0x1571, 1); err != errs.ErrNotSupported {
		t.Errorf("ES1 WritePeer = %v, want errs.ErrNotSupported", err)
	}
}

func TestES1WriteLocalStillWorks(t *testing.T) {
	bus := NewES1(instantSim())
	if err := bus.WriteLocal(0x1571, 1); err != nil {
		t.Errorf("ES1 WriteLocal should still use the program/poll/clear path, got %v", err)
	}
}
