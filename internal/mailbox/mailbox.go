// Package mailbox implements the SVC↔bridge "connection ready"
// rendezvous on TSB_MAILBOX (component C).
package mailbox

import (
	"context"
	"time"

	"github.com/projectara/greybus-bridgefw/internal/attr"
	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/interfaces"
	"github.com/projectara/greybus-bridgefw/internal/logging"
	"github.com/projectara/greybus-bridgefw/internal/regs"
	"github.com/projectara/greybus-bridgefw/internal/transport"
)

// InterruptPollInterval is how often PollInterrupts checks the generic
// UniPro interrupt-pending register in the absence of a real IRQ line.
const InterruptPollInterval = 5 * time.Millisecond

// Attribute IDs and sentinel values, spec.md §3 "Mailbox state", §6.
const (
	TSBMailbox            uint16 = 0x0090
	TSBInterruptStatus    uint16 = 0x0091
	TSBInterruptEnable    uint16 = 0x0092
	TSBInterruptEnableBit uint32 = 1 << 15

	TSBMailReadyAP uint32 = 0x7FFF // AP firmware → SVC: enumeration done
	TSBMailReset   uint32 = 0xFFFF // terminates the SVC poll loop
)

// ENG436Delay is the fixed delay the bridge inserts between its
// TSB_MAILBOX write and its next read of that attribute, working
// around silicon bug ENG-436 (spec.md §4.C, §9). Named so it can be
// tuned or removed when hardware changes.
const ENG436Delay = 100 * time.Millisecond

// PollInterval and MaxPollAttempts bound the SVC's post-write poll of
// TSB_MAILBOX for the bridge's zero-ack (spec.md scenario 4: "reads 0
// within 200 ms").
const (
	PollInterval    = 2 * time.Millisecond
	MaxPollAttempts = 150
)

// Bridge runs the bridge side of the handshake: it reacts to the
// generic UniPro interrupt the SVC's mailbox write raises.
type Bridge struct {
	attr      *attr.Bus
	transport *transport.Bus
	regsIO    regs.Registers
	logger    *logging.Logger
	observer  interfaces.Observer
	sleep     func(time.Duration)
}

// NewBridge constructs a bridge-side mailbox handshake handler. observer
// may be nil, in which case handshake telemetry is discarded.
func NewBridge(a *attr.Bus, t *transport.Bus, r regs.Registers, observer interfaces.Observer) *Bridge {
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}
	return &Bridge{
		attr:      a,
		transport: t,
		regsIO:    r,
		logger:    logging.Default().WithComponent("mailbox"),
		observer:  observer,
		sleep:     time.Sleep,
	}
}

// HandleInterrupt runs the bridge-side protocol steps 3-4 (spec.md
// §4.C): read status, read the mailbox value, enable FCT RX for
// cport_id-1 (0 means "no cport"), mark it connected, unmask its EOM
// interrupt, delay for the ENG-436 workaround, then release the SVC.
func (b *Bridge) HandleInterrupt() error {
	start := time.Now()

	status, err := b.attr.ReadLocal(TSBInterruptStatus)
	if err != nil {
		return err
	}
	if status&TSBInterruptEnableBit == 0 {
		return nil // not a mailbox interrupt
	}

	val, err := b.attr.ReadLocal(TSBMailbox)
	if err != nil {
		return err
	}
	if val == 0 || val == TSBMailReadyAP || val == TSBMailReset {
		return nil
	}

	cportID := uint16(val - 1)
	b.enableFCTRX(cportID)
	cp := b.transport.CPorts.Get(cportID)
	if cp == nil {
		return errs.NewForCPort("mailbox.HandleInterrupt", int(cportID), errs.CodeProtocolBad, "mailbox named unknown cport")
	}
	cp.SetConnected(true)
	b.enableEOMInterrupt(cportID)

	b.sleep(ENG436Delay)
	err = b.attr.WriteLocal(TSBMailbox, 0)
	b.observer.ObserveMailbox(cportID, uint64(time.Since(start).Nanoseconds()))
	return err
}

// PollInterrupts stands in for a real IRQ line: it watches
// UNIPRO_INT_BEF and, each time the silicon latches a pending
// interrupt, clears it and runs HandleInterrupt. It returns when ctx
// is cancelled.
func (b *Bridge) PollInterrupts(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = InterruptPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.regsIO == nil {
				continue
			}
			if b.regsIO.Read32(regs.UniproIntBef) == 0 {
				continue
			}
			b.regsIO.Write32(regs.UniproIntBef, 0)
			if err := b.HandleInterrupt(); err != nil {
				b.logger.Warnf("mailbox interrupt handling failed: %v", err)
			}
		}
	}
}

func (b *Bridge) enableFCTRX(cportID uint16) {
	if b.regsIO == nil {
		return
	}
	reg := regs.CPBRxE2EFCEn0
	bit := cportID
	if cportID >= 32 {
		reg = regs.CPBRxE2EFCEn1
		bit = cportID - 32
	}
	cur := b.regsIO.Read32(uint32(reg))
	b.regsIO.Write32(uint32(reg), cur|(1<<bit))
}

func (b *Bridge) enableEOMInterrupt(cportID uint16) {
	if b.regsIO == nil {
		return
	}
	base := regs.AHMRxEOMIntEn0
	n := cportID
	if n >= 64 {
		base = regs.AHMRxEOMIntEn2
		n -= 64
	} else if n >= 32 {
		base = regs.AHMRxEOMIntEn1
		n -= 32
	}
	cur := b.regsIO.Read32(uint32(base))
	b.regsIO.Write32(uint32(base), cur|(1<<n))
}

// SVC runs the SVC side of the handshake: programming the peer's
// routing table is internal/svc's job; this type owns only the mailbox
// rendezvous itself.
type SVC struct {
	attr     *attr.Bus
	observer interfaces.Observer
	sleep    func(time.Duration)
}

// NewSVC constructs the SVC side of the handshake. observer may be nil,
// in which case handshake telemetry is discarded.
func NewSVC(a *attr.Bus, observer interfaces.Observer) *SVC {
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}
	return &SVC{attr: a, observer: observer, sleep: time.Sleep}
}

// Activate issues TSB_MAILBOX ← cport_id+1 on the target bridge and
// polls until it reads back zero (spec.md §4.C step 2, scenario 4).
func (s *SVC) Activate(cportID uint16) error {
	start := time.Now()
	if err := s.attr.WritePeer(TSBMailbox, uint32(cportID)+1); err != nil {
		return err
	}
	for i := 0; i < MaxPollAttempts; i++ {
		v, err := s.attr.ReadPeer(TSBMailbox)
		if err != nil {
			return err
		}
		if v == 0 {
			s.observer.ObserveMailbox(cportID, uint64(time.Since(start).Nanoseconds()))
			return nil
		}
		s.sleep(PollInterval)
	}
	return errs.NewForCPort("mailbox.Activate", int(cportID), errs.CodeTimeout, "bridge did not ack mailbox")
}
