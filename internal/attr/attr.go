// Package attr implements DME attribute access (component B): single-shot
// blocking reads and writes over the attribute-access machine, local or
// peer.
package attr

import (
	"sync"
	"time"

	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/regs"
)

// Selector chooses which endpoint an attribute access targets.
type Selector uint8

const (
	SelectorLocal Selector = 0
	SelectorPeer  Selector = 1
)

// Control-register bit layout for the attribute-access machine
// (spec.md §4.B). Exact bit positions are part of the external silicon
// contract; these are placeholders consistent with the one-shot
// program/poll/clear protocol the spec describes.
const (
	ctrlBitWrite    uint32 = 1 << 0
	ctrlBitPeer     uint32 = 1 << 1
	ctrlBitUpdate   uint32 = 1 << 2
	ctrlAttrShift          = 8
	ctrlSelectShift        = 24
)

// PollInterval bounds the busy-wait between INT_BEF polls. Each
// transaction completes in microseconds (spec.md §4.B), so a short
// fixed interval is sufficient and never suspends the caller.
const PollInterval = time.Microsecond

// MaxPollAttempts bounds the busy-wait so a stuck attribute machine
// returns IoError instead of hanging the caller forever.
const MaxPollAttempts = 100000

// Revision identifies which UniPro link driver backs a Bus. The two
// silicon revisions the firmware supports differ in what the
// attribute-access machine can actually do (spec.md §9).
type Revision int

const (
	// RevisionDefault is the full-featured link driver: local and peer
	// reads/writes all go through the one-shot program/poll/clear
	// protocol in this package.
	RevisionDefault Revision = iota
	// RevisionES1 is the first-silicon link driver. On this revision
	// WritePeer fails with errs.ErrNotSupported; local writes and all
	// reads go through the same program/poll/clear protocol as
	// RevisionDefault.
	RevisionES1
)

// Bus serialises all attribute-access transactions on one UniPro
// device: spec.md requires operations never overlap.
type Bus struct {
	mu       sync.Mutex
	regs     regs.Registers
	revision Revision
}

func New(r regs.Registers) *Bus {
	return &Bus{regs: r}
}

// NewES1 builds a Bus over the first-silicon link driver, whose writes
// must fail loudly instead of attempting the program/poll/clear
// protocol (spec.md §9 open question on peer attribute writes).
func NewES1(r regs.Registers) *Bus {
	return &Bus{regs: r, revision: RevisionES1}
}

// ReadLocal reads a local DME attribute.
func (b *Bus) ReadLocal(attrID uint16) (uint32, error) {
	return b.read(SelectorLocal, attrID)
}

// ReadPeer reads a peer DME attribute.
func (b *Bus) ReadPeer(attrID uint16) (uint32, error) {
	return b.read(SelectorPeer, attrID)
}

// WriteLocal writes a local DME attribute.
func (b *Bus) WriteLocal(attrID uint16, value uint32) error {
	return b.write(SelectorLocal, attrID, value)
}

// WritePeer writes a peer DME attribute. On the ES1 link driver this
// always fails: the real driver returns -ENOSYS unconditionally from
// its peer write path, and whether that's a hardware limitation or
// simply dead code is unresolved (spec.md §9) — rather than guess, the
// first call surfaces ErrNotSupported so the caller gets a diagnostic
// instead of a silently wrong write.
func (b *Bus) WritePeer(attrID uint16, value uint32) error {
	if b.revision == RevisionES1 {
		return errs.ErrNotSupported
	}
	return b.write(SelectorPeer, attrID, value)
}

func (b *Bus) read(sel Selector, attrID uint16) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.program(sel, attrID, false, 0)
	if err := b.pollAndClear(); err != nil {
		return 0, err
	}
	result := b.regs.Read32(regs.A2DAttracsSts00)
	if result != 0 {
		return 0, errs.New("attr.read", errs.CodeIoError, "non-zero attribute access result")
	}
	return b.regs.Read32(regs.A2DAttracsDataSts00), nil
}

func (b *Bus) write(sel Selector, attrID uint16, value uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.regs.Write32(regs.A2DAttracsDataCtrl00, value)
	b.program(sel, attrID, true, value)
	if err := b.pollAndClear(); err != nil {
		return err
	}
	result := b.regs.Read32(regs.A2DAttracsSts00)
	if result != 0 {
		return errs.New("attr.write", errs.CodeIoError, "non-zero attribute access result")
	}
	return nil
}

func (b *Bus) program(sel Selector, attrID uint16, write bool, _ uint32) {
	ctrl := ctrlBitUpdate | uint32(attrID)<<ctrlAttrShift
	if write {
		ctrl |= ctrlBitWrite
	}
	if sel == SelectorPeer {
		ctrl |= ctrlBitPeer
		ctrl |= uint32(sel) << ctrlSelectShift
	}
	b.regs.Write32(regs.A2DAttracsCtrl00, ctrl)
	b.regs.Write32(regs.A2DAttracsMstrCtrl, ctrlBitUpdate)
}

// pollAndClear busy-waits for INT_BEF then clears it, bounded by
// MaxPollAttempts so a wedged attribute machine surfaces as IoError.
func (b *Bus) pollAndClear() error {
	for i := 0; i < MaxPollAttempts; i++ {
		if b.regs.Read32(regs.A2DAttracsIntBef) != 0 {
			b.regs.Write32(regs.A2DAttracsIntBef, 0)
			return nil
		}
		time.Sleep(PollInterval)
	}
	return errs.New("attr.pollAndClear", errs.CodeIoError, "attribute access machine did not complete")
}
