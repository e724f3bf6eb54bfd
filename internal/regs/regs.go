// Package regs provides access to the UniPro/silicon MMIO register
// window (spec.md §6 "UniPro silicon registers used"). Two backends
// exist: a real one that memory-maps physical register space, and a
// simulated one used by tests and the tape replay path — the same
// real/stub split the teacher keeps between internal/uring's real
// io_uring ring and its stub ring.
package regs

// Byte offsets from the UniPro device base, spec.md §6. "_n" registers
// are per-CPort; OffsetN computes the per-instance address.
const (
	AHMModeCtrl0 = 0x0000
	AHMModeCtrl1 = 0x0004
	AHMModeCtrl2 = 0x0008

	AHMAddressBase = 0x0100 // AHM_ADDRESS_n, 4 bytes per CPort

	AHMRxEOMIntBef0 = 0x0200
	AHMRxEOMIntBef1 = 0x0204
	AHMRxEOMIntBef2 = 0x0208
	AHMRxEOMIntEn0  = 0x020C
	AHMRxEOMIntEn1  = 0x0210
	AHMRxEOMIntEn2  = 0x0214

	CPBRxTransferredDataSizeBase = 0x0300 // CPB_RX_TRANSFERRED_DATA_SIZE_n
	CPBTxBufferSpaceBase         = 0x0400 // CPB_TX_BUFFER_SPACE_n
	RegTxBufferSpaceOffsetBase   = 0x0500 // REG_TX_BUFFER_SPACE_OFFSET_n
	RegRxPauseSizeBase           = 0x0600 // REG_RX_PAUSE_SIZE_n

	CPBTxE2EFCEn0 = 0x0700
	CPBTxE2EFCEn1 = 0x0704
	CPBRxE2EFCEn0 = 0x0708
	CPBRxE2EFCEn1 = 0x070C

	CPortStatus0 = 0x0800
	CPortStatus1 = 0x0804
	CPortStatus2 = 0x0808

	A2DAttracsCtrl00     = 0x0900
	A2DAttracsDataCtrl00 = 0x0904
	A2DAttracsMstrCtrl   = 0x0908
	A2DAttracsIntBef     = 0x090C
	A2DAttracsSts00      = 0x0910
	A2DAttracsDataSts00  = 0x0914

	UniproIntEn  = 0x0A00
	UniproIntBef = 0x0A04
)

// RegisterWindowSize bounds the MMIO window this package maps.
const RegisterWindowSize = 0x1000

// OffsetN returns the per-CPort register offset for a "_n" register
// base, spec.md §6. Each instance occupies 4 bytes.
func OffsetN(base uint32, n uint16) uint32 {
	return base + uint32(n)*4
}

// Registers is the MMIO access contract. Both the real (mmap) and
// simulated backends implement it; internal/transport and internal/attr
// depend only on this interface.
type Registers interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, val uint32)
	Close() error
}
