// Package cport implements the CPort and TxBuffer data model (spec.md
// §3) and the small FIFO/semaphore primitives the transport and
// operation engine layer on top of.
package cport

import (
	"sync"

	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/interfaces"
)

// Kind identifies which silicon revision a bus belongs to; it decides
// CPort count and the Mode-2/Mode-1 split (spec.md §4.A Transfer mode).
type Kind int

const (
	KindGPBridge Kind = iota
	KindAPBridge
)

// CPort counts and reserved-ID range, spec.md §3, §6.
const (
	CPortCountGP = 32
	CPortCountAP = 44

	ReservedCPortLow  = 16 // display
	ReservedCPortHigh = 17 // camera
)

// Silicon-fixed buffer geometry, spec.md §3: "two DMA-addressable
// regions at silicon-fixed addresses CPORT_RX_BUF_BASE + id·BUF_SIZE
// and CPORT_TX_BUF_BASE + id·TX_BUF_SIZE". The exact base addresses are
// part of the external hardware contract (spec.md §6); internal/regs
// uses these as mmap offsets into the MMIO window.
const (
	CPortBufSize   = 2048 // CPORT_BUF_SIZE: max single-message payload
	CPortRXBufBase = 0x40081000
	CPortTXBufBase = 0x40089000
)

func CountFor(kind Kind) int {
	if kind == KindAPBridge {
		return CPortCountAP
	}
	return CPortCountGP
}

// IsReserved reports whether id is reserved for display/camera and must
// never be brought up by the core (spec.md §6, §9 open question).
func IsReserved(id uint16) bool {
	return id == ReservedCPortLow || id == ReservedCPortHigh
}

// Sendable is anything a CPort's TX FIFO can hold. Both engine
// Operations and raw TxBuffers implement it, letting the transport
// drain one FIFO without importing the operation engine (which in turn
// imports cport), avoiding an import cycle — the same reason the
// teacher kept a standalone internal/interfaces package.
type Sendable interface {
	// Payload returns the full frame bytes (header + body) to send.
	Payload() []byte
	// Complete is invoked exactly once when the send finishes: nil on
	// success, or the failure reason (including cancellation).
	Complete(err error)
}

// TxBuffer is the independent async-send descriptor, spec.md §3: used
// by clients that want chunked, zero-copy sends outside the
// request/response operation engine.
type TxBuffer struct {
	Data      []byte
	BytesSent int
	IsSOM     bool
	Callback  func(err error, data []byte, priv any)
	UserPriv  any
}

func (b *TxBuffer) Payload() []byte { return b.Data }

func (b *TxBuffer) Complete(err error) {
	if b.Callback != nil {
		b.Callback(err, b.Data, b.UserPriv)
	}
}

// Queue is a small mutex-protected FIFO of Sendable entries.
type Queue struct {
	mu    sync.Mutex
	items []Sendable
}

func (q *Queue) Push(s Sendable) {
	q.mu.Lock()
	q.items = append(q.items, s)
	q.mu.Unlock()
}

func (q *Queue) PopFront() (Sendable, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	s := q.items[0]
	q.items = q.items[1:]
	return s, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Remove deletes the first entry for which match returns true. Used by
// the engine to pull a timed-out or responded-to operation out of the
// FIFO (spec.md §4.D).
func (q *Queue) Remove(match func(Sendable) bool) (Sendable, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, s := range q.items {
		if match(s) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return s, true
		}
	}
	return nil, false
}

// Snapshot returns a copy of the current queue contents for read-only
// scans (e.g. the watchdog sweep), without holding the lock during the
// scan.
func (q *Queue) Snapshot() []Sendable {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Sendable, len(q.items))
	copy(out, q.items)
	return out
}

// Semaphore is a one-slot wakeup channel: Signal is idempotent between
// consecutive Waits, matching the "sleeps on a semaphore incremented
// by ..." language throughout spec.md §5.
type Semaphore struct {
	ch chan struct{}
}

func NewSemaphore() *Semaphore {
	return &Semaphore{ch: make(chan struct{}, 1)}
}

func (s *Semaphore) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *Semaphore) C() <-chan struct{} { return s.ch }

// CPort is one logical UniPro endpoint, spec.md §3.
type CPort struct {
	ID uint16

	mu          sync.RWMutex
	isConnected bool
	driver      interfaces.Driver

	RXBuf []byte // fixed DMA region, see CPortRXBufBase
	TXBuf []byte // fixed DMA region, see CPortTXBufBase

	TXFifo *Queue
	// RXFrames holds fully-assembled inbound frames awaiting a slow
	// handler; entries are raw bytes, not yet wrapped as an engine
	// Operation (that wrapping is the engine's job, spec.md §4.D RX
	// dispatch), again to keep cport free of an engine import.
	RXFrames *Queue
	RXSem    *Semaphore

	WatchdogArmed bool
}

// New constructs a CPort. It refuses reserved IDs per spec.md §6/§9.
func New(id uint16) (*CPort, error) {
	if IsReserved(id) {
		return nil, errs.NewForCPort("cport.New", int(id), errs.CodeProtocolBad, "cport id is reserved for display/camera")
	}
	return &CPort{
		ID:       id,
		RXBuf:    make([]byte, CPortBufSize),
		TXBuf:    make([]byte, CPortBufSize),
		TXFifo:   &Queue{},
		RXFrames: &Queue{},
		RXSem:    NewSemaphore(),
	}, nil
}

func (c *CPort) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// SetConnected flips the connected flag. Only the mailbox handshake
// (internal/mailbox) may call this with true; CPort teardown calls it
// with false.
func (c *CPort) SetConnected(connected bool) {
	c.mu.Lock()
	c.isConnected = connected
	c.mu.Unlock()
}

// RegisterDriver binds d to this CPort. It fails with
// errs.CodeAlreadyRegistered if a driver is already bound (spec.md
// §4.A, "at-most-one").
func (c *CPort) RegisterDriver(d interfaces.Driver) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver != nil {
		return errs.NewForCPort("register_driver", int(c.ID), errs.CodeAlreadyRegistered, "driver already bound to cport")
	}
	c.driver = d
	return nil
}

func (c *CPort) Driver() interfaces.Driver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driver
}

// Bus owns the ordered CPort array for one silicon device (spec.md §3
// "UniPro Device").
type Bus struct {
	Kind   Kind
	CPorts []*CPort
}

// NewBus allocates every non-reserved CPort for kind.
func NewBus(kind Kind) *Bus {
	n := CountFor(kind)
	b := &Bus{Kind: kind, CPorts: make([]*CPort, n)}
	for id := 0; id < n; id++ {
		if IsReserved(uint16(id)) {
			continue
		}
		cp, err := New(uint16(id))
		if err != nil {
			continue // unreachable: New only rejects reserved IDs, filtered above
		}
		b.CPorts[id] = cp
	}
	return b
}

// Get returns the CPort for id, or nil if id is out of range or
// reserved.
func (b *Bus) Get(id uint16) *CPort {
	if int(id) >= len(b.CPorts) {
		return nil
	}
	return b.CPorts[id]
}
