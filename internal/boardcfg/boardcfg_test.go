package boardcfg

import (
	"testing"

	"github.com/projectara/greybus-bridgefw/internal/cport"
)

func TestDefaultGPBridgeParamsKind(t *testing.T) {
	p := DefaultGPBridgeParams()
	if p.Kind != cport.KindGPBridge {
		t.Errorf("Kind = %v, want KindGPBridge", p.Kind)
	}
	if len(p.MphyRegister1) == 0 || len(p.MphyRegister2) == 0 {
		t.Error("GP bridge params should carry non-empty M-PHY fixup tables")
	}
}

func TestDefaultAPBridgeParamsKind(t *testing.T) {
	p := DefaultAPBridgeParams()
	if p.Kind != cport.KindAPBridge {
		t.Errorf("Kind = %v, want KindAPBridge", p.Kind)
	}
}

func TestDefaultInterfacePowerOnOrderIsStable(t *testing.T) {
	a := DefaultInterfacePowerOn()
	b := DefaultInterfacePowerOn()
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("entry %d differs between calls: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestDefaultRoutingTableCoversEveryInterface(t *testing.T) {
	interfaces := DefaultInterfacePowerOn()
	routes := DefaultRoutingTable()
	if len(routes) != len(interfaces) {
		t.Fatalf("routing table has %d entries, want one per interface (%d)", len(routes), len(interfaces))
	}
	seen := make(map[uint8]bool)
	for _, r := range routes {
		if seen[r.DeviceID] {
			t.Errorf("duplicate device id %d in routing table", r.DeviceID)
		}
		seen[r.DeviceID] = true
	}
}
