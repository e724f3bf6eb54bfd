package transport

import (
	"github.com/projectara/greybus-bridgefw/internal/cport"
	"github.com/projectara/greybus-bridgefw/internal/regs"
)

// MphyMapSelect is the DME attribute that selects which fixup table is
// currently addressed (spec.md §4.A, §6 TSB_MPHY_MAP).
const MphyMapSelect uint16 = 0x7F

const (
	MphyMapNormal    uint32 = 0x00
	MphyMapRegister1 uint32 = 0x01
	MphyMapRegister2 uint32 = 0x81
)

// DebugRegisterOffset is where the silicon debug word lives; bits
// [5:1] seed the one "magic" register-1 entry (spec.md §4.A).
const DebugRegisterOffset = 0x0B00

// FixupEntry is one vendor-supplied attribute write in an M-PHY
// stabilisation table. A MagicFromDebug entry's Value is ignored; it is
// computed at apply time from bits [5:1] of the debug register.
type FixupEntry struct {
	Attr           uint16
	Value          uint32
	MagicFromDebug bool
}

// AttrWriter is the minimal attribute-access capability ApplyMphyFixups
// needs; internal/attr.Bus satisfies it without this package importing
// attr.
type AttrWriter interface {
	WriteLocal(attr uint16, value uint32) error
}

// ApplyMphyFixups runs the two vendor fixup tables once before any
// CPort is enabled (spec.md §4.A). The map-select attribute is toggled
// to the target table before each table's writes and back to normal
// after.
func (b *Bus) ApplyMphyFixups(aw AttrWriter, register1, register2 []FixupEntry) error {
	if err := applyTable(aw, MphyMapRegister1, register1, b.debugMagic()); err != nil {
		return err
	}
	if err := applyTable(aw, MphyMapRegister2, register2, b.debugMagic()); err != nil {
		return err
	}
	return nil
}

func applyTable(aw AttrWriter, sel uint32, table []FixupEntry, magic uint32) error {
	if err := aw.WriteLocal(MphyMapSelect, sel); err != nil {
		return err
	}
	for _, e := range table {
		v := e.Value
		if e.MagicFromDebug {
			v = magic
		}
		if err := aw.WriteLocal(e.Attr, v); err != nil {
			return err
		}
	}
	return aw.WriteLocal(MphyMapSelect, MphyMapNormal)
}

func (b *Bus) debugMagic() uint32 {
	if b.Regs == nil {
		return 0
	}
	raw := b.Regs.Read32(DebugRegisterOffset)
	return (raw >> 1) & 0x1F // bits [5:1]
}

// Transfer mode control-register values, spec.md §4.A.
const (
	ModeCtrl0Mode2    uint32 = 0xAAAAAAAA
	ModeCtrl1APBridge uint32 = 0xAAAAAAA5
	ModeCtrl2APBridge uint32 = 0x00AAAAAA
)

// ProgramTransferMode writes AHM_MODE_CTRL_{0,1,2} for the bus kind
// (spec.md §4.A): every CPort runs Mode 2, with CPorts 16/17 kept in
// Mode 1 on the AP-bridge by the vendor-fixed register-1 mask.
func (b *Bus) ProgramTransferMode() {
	if b.Regs == nil {
		return
	}
	b.Regs.Write32(regs.AHMModeCtrl0, ModeCtrl0Mode2)
	if b.CPorts.Kind == cport.KindAPBridge {
		b.Regs.Write32(regs.AHMModeCtrl1, ModeCtrl1APBridge)
		b.Regs.Write32(regs.AHMModeCtrl2, ModeCtrl2APBridge)
	}
}
