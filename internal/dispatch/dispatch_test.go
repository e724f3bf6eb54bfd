package dispatch

import (
	"testing"

	"github.com/projectara/greybus-bridgefw/internal/engine"
	"github.com/projectara/greybus-bridgefw/internal/errs"
)

func TestFastAndSlowDispatchExclusive(t *testing.T) {
	table := NewTable("TestProtocol")

	fastCalled := false
	table.RegisterFast(0x01, func(cportID uint16, buf []byte) bool {
		fastCalled = true
		return true
	})

	slowCalled := false
	table.RegisterSlow(0x02, func(op *engine.Operation) ([]byte, errs.Result) {
		slowCalled = true
		return nil, errs.ResultSuccess
	})

	if !table.FastDispatch(0, 0x01, nil) || !fastCalled {
		t.Error("FastDispatch should invoke the registered fast handler")
	}
	if table.FastDispatch(0, 0x02, nil) {
		t.Error("FastDispatch should return false for a slow-only type")
	}

	if table.HasSlow(0x01) {
		t.Error("HasSlow should be false for a fast-only type")
	}
	if !table.HasSlow(0x02) {
		t.Error("HasSlow should be true for a registered slow type")
	}

	handler, found := table.Lookup(0x02)
	if !found {
		t.Fatal("Lookup should find the slow handler for 0x02")
	}
	handler(&engine.Operation{})
	if !slowCalled {
		t.Error("Lookup'd handler should be the one registered via RegisterSlow")
	}
}

func TestLookupUnknownTypeNotFound(t *testing.T) {
	table := NewTable("TestProtocol")
	table.RegisterSlow(0x05, func(op *engine.Operation) ([]byte, errs.Result) { return nil, errs.ResultSuccess })

	if _, found := table.Lookup(0xFF); found {
		t.Error("Lookup should report not-found for an unregistered type")
	}
}

func TestBinarySearchFindsOutOfOrderInserts(t *testing.T) {
	table := NewTable("TestProtocol")
	order := []uint8{0x09, 0x01, 0x05, 0x02}
	for _, opType := range order {
		opType := opType
		table.RegisterSlow(opType, func(op *engine.Operation) ([]byte, errs.Result) { return []byte{opType}, errs.ResultSuccess })
	}
	for _, opType := range order {
		h, found := table.Lookup(opType)
		if !found {
			t.Fatalf("Lookup(%#x) not found after insertion in scrambled order", opType)
		}
		body, _ := h(&engine.Operation{})
		if len(body) != 1 || body[0] != opType {
			t.Errorf("Lookup(%#x) returned handler for a different type: %v", opType, body)
		}
	}
}
