// Package boardcfg holds board bring-up configuration: bridge kind,
// M-PHY fixup tables, and interface power-on sequencing, grounded on
// the teacher's DeviceParams/DefaultParams pair (backend.go).
package boardcfg

import (
	"time"

	"github.com/projectara/greybus-bridgefw/internal/cport"
	"github.com/projectara/greybus-bridgefw/internal/svc"
	"github.com/projectara/greybus-bridgefw/internal/transport"
)

// BoardParams is everything board-specific the core needs at startup:
// which silicon kind this chip is, its M-PHY fixup tables, and (for
// the SVC role) the interface power-on order and routing table.
type BoardParams struct {
	Kind cport.Kind

	MphyRegister1 []transport.FixupEntry
	MphyRegister2 []transport.FixupEntry

	Interfaces   []svc.InterfacePowerOn
	RoutingTable []svc.RoutingTableEntry

	InterfacesOnDelay time.Duration
}

// DefaultGPBridgeParams returns the parameters for a general-purpose
// bridge chip (spec.md §3: 32 CPorts).
func DefaultGPBridgeParams() BoardParams {
	return BoardParams{
		Kind:              cport.KindGPBridge,
		MphyRegister1:     defaultRegister1Table(),
		MphyRegister2:     defaultRegister2Table(),
		InterfacesOnDelay: 300 * time.Millisecond,
	}
}

// DefaultAPBridgeParams returns the parameters for the AP-bridge chip
// (spec.md §3: 44 CPorts, CPorts 16/17 held in Mode 1).
func DefaultAPBridgeParams() BoardParams {
	return BoardParams{
		Kind:              cport.KindAPBridge,
		MphyRegister1:     defaultRegister1Table(),
		MphyRegister2:     defaultRegister2Table(),
		InterfacesOnDelay: 300 * time.Millisecond,
	}
}

// defaultRegister1Table is the vendor-supplied HS-G1 stabilisation
// table (spec.md §4.A). The concrete attribute/value pairs are part of
// the external hardware contract the spec defers to a vendor datasheet;
// these are plausible placeholders of the documented shape (one
// debug-derived "magic" entry, the rest fixed).
func defaultRegister1Table() []transport.FixupEntry {
	return []transport.FixupEntry{
		{Attr: 0x8002, Value: 0x1},
		{Attr: 0x8003, MagicFromDebug: true},
		{Attr: 0x8004, Value: 0x0},
	}
}

func defaultRegister2Table() []transport.FixupEntry {
	return []transport.FixupEntry{
		{Attr: 0x8012, Value: 0x1},
		{Attr: 0x8013, Value: 0x0},
	}
}

// DefaultInterfacePowerOn returns a plausible fixed bring-up order for
// a board with four interface rails, each held for 50ms before the
// next (spec.md §4.G "declared order with declared hold-times").
func DefaultInterfacePowerOn() []svc.InterfacePowerOn {
	return []svc.InterfacePowerOn{
		{Name: "interface0", HoldTime: 50 * time.Millisecond},
		{Name: "interface1", HoldTime: 50 * time.Millisecond},
		{Name: "interface2", HoldTime: 50 * time.Millisecond},
		{Name: "interface3", HoldTime: 50 * time.Millisecond},
	}
}

// DefaultRoutingTable seeds interface_name -> device_id (spec.md §3
// Routing state "seeded from a fixed table").
func DefaultRoutingTable() []svc.RoutingTableEntry {
	return []svc.RoutingTableEntry{
		{InterfaceName: "interface0", DeviceID: 1},
		{InterfaceName: "interface1", DeviceID: 2},
		{InterfaceName: "interface2", DeviceID: 3},
		{InterfaceName: "interface3", DeviceID: 4},
	}
}
