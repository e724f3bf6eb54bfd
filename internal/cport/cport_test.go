package cport

import (
	"errors"
	"testing"

	"github.com/projectara/greybus-bridgefw/internal/errs"
)

func TestNewRejectsReservedIDs(t *testing.T) {
	for _, id := range []uint16{ReservedCPortLow, ReservedCPortHigh} {
		if _, err := New(id); !errs.IsCode(err, errs.CodeProtocolBad) {
			t.Errorf("New(%d) should reject a reserved cport id, got %v", id, err)
		}
	}
}

func TestBusAllocatesExpectedCount(t *testing.T) {
	gp := NewBus(KindGPBridge)
	if got := len(gp.CPorts); got != CPortCountGP {
		t.Errorf("GP bus len = %d, want %d", got, CPortCountGP)
	}
	ap := NewBus(KindAPBridge)
	if got := len(ap.CPorts); got != CPortCountAP {
		t.Errorf("AP bus len = %d, want %d", got, CPortCountAP)
	}
	if gp.Get(ReservedCPortLow) != nil || gp.Get(ReservedCPortHigh) != nil {
		t.Error("reserved cport ids must not be allocated")
	}
	if gp.Get(0) == nil {
		t.Error("cport 0 should be allocated")
	}
}

func TestRegisterDriverAtMostOnce(t *testing.T) {
	cp, err := New(5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := cp.RegisterDriver(nopDriver{}); err != nil {
		t.Fatalf("first RegisterDriver failed: %v", err)
	}
	if err := cp.RegisterDriver(nopDriver{}); !errs.IsCode(err, errs.CodeAlreadyRegistered) {
		t.Errorf("second RegisterDriver should fail with CodeAlreadyRegistered, got %v", err)
	}
}

type nopDriver struct{}

func (nopDriver) FastDispatch(uint16, uint8, []byte) bool { return false }
func (nopDriver) HasSlow(uint8) bool                       { return false }
func (nopDriver) Protocol() string                         { return "nop" }

type fakeSendable struct {
	payload []byte
	done    error
}

func (f *fakeSendable) Payload() []byte   { return f.payload }
func (f *fakeSendable) Complete(err error) { f.done = err }

func TestQueueFIFOOrderAndRemove(t *testing.T) {
	q := &Queue{}
	a := &fakeSendable{payload: []byte("a")}
	b := &fakeSendable{payload: []byte("b")}
	q.Push(a)
	q.Push(b)

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	removed, found := q.Remove(func(s Sendable) bool { return s == b })
	if !found || removed != Sendable(b) {
		t.Fatal("Remove should find and return b")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() after Remove = %d, want 1", q.Len())
	}

	front, ok := q.PopFront()
	if !ok || front != Sendable(a) {
		t.Fatal("PopFront should return the remaining entry a, in FIFO order")
	}
}

func TestSemaphoreSignalIsIdempotent(t *testing.T) {
	sem := NewSemaphore()
	sem.Signal()
	sem.Signal() // second signal before a Wait must not block or panic
	select {
	case <-sem.C():
	default:
		t.Fatal("expected the first signal to be observable")
	}
	select {
	case <-sem.C():
		t.Fatal("a coalesced second signal should not produce a second wakeup")
	default:
	}
}

func TestTxBufferCompleteInvokesCallback(t *testing.T) {
	var gotErr error
	var gotPriv any
	buf := &TxBuffer{
		Data:     []byte{1, 2, 3},
		UserPriv: "marker",
		Callback: func(err error, data []byte, priv any) {
			gotErr = err
			gotPriv = priv
		},
	}
	sentinel := errors.New("boom")
	buf.Complete(sentinel)
	if gotErr != sentinel {
		t.Errorf("callback err = %v, want %v", gotErr, sentinel)
	}
	if gotPriv != "marker" {
		t.Errorf("callback priv = %v, want marker", gotPriv)
	}
}
