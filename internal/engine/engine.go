// Package engine implements the Greybus operation engine (component
// D): request/response correlation, ID allocation, timeouts,
// refcounted operation lifetimes, and RX dispatch.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectara/greybus-bridgefw/internal/cport"
	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/interfaces"
	"github.com/projectara/greybus-bridgefw/internal/logging"
	"github.com/projectara/greybus-bridgefw/internal/transport"
	"github.com/projectara/greybus-bridgefw/internal/wire"
)

// WatchdogTimeout bounds how long an outstanding request may wait for
// a response before the watchdog fails it synthetically (spec.md §4.D).
const WatchdogTimeout = 1000 * time.Millisecond

// SlowHandlerFunc runs in the per-CPort worker task and may block
// (spec.md §4.E). It returns the response body and result code; a nil
// body with ResultSuccess means "no payload, success".
type SlowHandlerFunc func(op *Operation) ([]byte, errs.Result)

// HandlerLookup resolves an operation type to its slow handler. dispatch.Table
// implements this; engine never imports dispatch to avoid a cycle (dispatch
// depends on engine for the Operation and SlowHandlerFunc types).
type HandlerLookup interface {
	Lookup(opType uint8) (SlowHandlerFunc, bool)
}

// Operation is a request/response pair (spec.md §3 Operation). It
// implements cport.Sendable so it can sit directly in a CPort's
// tx_fifo.
type Operation struct {
	CPort          uint16
	ID             uint16
	Type           uint8
	RequestBody    []byte
	RequestBuffer  []byte
	ResponseBuffer []byte

	refcount int32

	Callback     func(op *Operation, err error)
	syncSem      *cport.Semaphore
	SubmitTime   time.Time
	Response     *Operation
	HasResponded bool

	observer interfaces.Observer

	mu sync.Mutex
}

// NewOperation creates a request operation with refcount=1 (spec.md
// §4.D lifecycle).
func NewOperation(cportID uint16, opType uint8, body []byte) *Operation {
	return &Operation{
		CPort:       cportID,
		Type:        opType,
		RequestBody: body,
		refcount:    1,
	}
}

func (op *Operation) ref() { atomic.AddInt32(&op.refcount, 1) }

// markResponded flips HasResponded and reports whether this call was
// the one that did it, so a handler that (mis)fires its response path
// twice for the same request can't send the wire response twice
// (spec.md §3).
func (op *Operation) markResponded() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.HasResponded {
		return false
	}
	op.HasResponded = true
	return true
}

// unref decrements refcount; at zero it releases the response child, if
// any, exactly once (spec.md §4.D "Zero frees request, response, and
// any attached response child (recursively once)").
func (op *Operation) unref() {
	if atomic.AddInt32(&op.refcount, -1) == 0 {
		op.mu.Lock()
		resp := op.Response
		op.Response = nil
		op.mu.Unlock()
		if resp != nil {
			resp.unref()
		}
	}
}

// Destroy is the client-visible decrement; memory is not actually
// freed (Go's GC owns that) until the last reference drops, matching
// the cancellation semantics of spec.md §5: no forced cancellation in
// the IRQ path.
func (op *Operation) Destroy() { op.unref() }

func (op *Operation) Payload() []byte { return op.RequestBuffer }

// Complete implements cport.Sendable: invoked exactly once when the
// operation leaves a tx_fifo, whether by response, timeout, or
// teardown.
func (op *Operation) Complete(err error) {
	if op.observer != nil && !op.SubmitTime.IsZero() {
		latency := uint64(time.Since(op.SubmitTime).Nanoseconds())
		op.observer.ObserveSend(op.CPort, op.Type, len(op.RequestBody), latency, err == nil)
	}
	if op.Callback != nil {
		op.Callback(op, err)
	}
	op.unref()
}

// Bus drives the operation lifecycle for one UniPro device, layered
// on a transport.Bus.
type Bus struct {
	transport *transport.Bus
	idCounter uint32

	mu       sync.RWMutex
	handlers map[uint16]HandlerLookup

	wmu       sync.Mutex
	watchdogs map[uint16]*time.Timer

	logger   *logging.Logger
	observer interfaces.Observer
}

func New(t *transport.Bus, observer interfaces.Observer) *Bus {
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}
	return &Bus{
		transport: t,
		handlers:  make(map[uint16]HandlerLookup),
		watchdogs: make(map[uint16]*time.Timer),
		logger:    logging.Default().WithComponent("engine"),
		observer:  observer,
	}
}

// RegisterHandlers binds a cport's slow-handler table for RX dispatch.
func (b *Bus) RegisterHandlers(cportID uint16, h HandlerLookup) {
	b.mu.Lock()
	b.handlers[cportID] = h
	b.mu.Unlock()
}

// nextID allocates the next 16-bit correlation ID, skipping 0 on wrap
// (spec.md §4.D ID allocation).
func (b *Bus) nextID() uint16 {
	for {
		v := atomic.AddUint32(&b.idCounter, 1)
		if id := uint16(v); id != 0 {
			return id
		}
	}
}

// SendRequest implements send_request (spec.md §4.D). When
// needResponse is true the operation is enqueued on its CPort's
// tx_fifo and the watchdog armed before the wire send is attempted.
func (b *Bus) SendRequest(op *Operation, cb func(op *Operation, err error), needResponse bool) error {
	cp := b.transport.CPorts.Get(op.CPort)
	if cp == nil {
		return errs.NewForCPort("engine.SendRequest", int(op.CPort), errs.CodeProtocolBad, "unknown cport")
	}

	if needResponse {
		op.ID = b.nextID()
		op.Callback = cb
		op.SubmitTime = time.Now()
		op.observer = b.observer
		op.ref()
		op.RequestBuffer = wire.Frame(wire.Header{ID: op.ID, Type: op.Type}, op.RequestBody)
		cp.TXFifo.Push(op)
		b.armWatchdog(cp.ID)
	} else {
		op.RequestBuffer = wire.Frame(wire.Header{ID: 0, Type: op.Type}, op.RequestBody)
	}

	err := b.transport.Send(op.CPort, op.RequestBuffer)
	if err != nil && needResponse {
		cp.TXFifo.Remove(func(s cport.Sendable) bool { return s == op })
		op.unref()
		b.rearmOrDisarmWatchdog(cp.ID)
		b.observer.ObserveSend(op.CPort, op.Type, len(op.RequestBody), 0, false)
		return err
	}
	if !needResponse {
		b.observer.ObserveSend(op.CPort, op.Type, len(op.RequestBody), 0, err == nil)
	}
	return err
}

// SendRequestSync implements send_request_sync (spec.md §4.D): blocks
// on the operation's own semaphore, which the watchdog's synthetic
// timeout response also signals.
func (b *Bus) SendRequestSync(op *Operation) error {
	op.syncSem = cport.NewSemaphore()
	var sendErr error
	err := b.SendRequest(op, func(_ *Operation, cbErr error) {
		sendErr = cbErr
		op.syncSem.Signal()
	}, true)
	if err != nil {
		return err
	}
	<-op.syncSem.C()
	return sendErr
}

// HandleFrame implements RX dispatch (spec.md §4.D). Response frames
// are correlated by ID against the CPort's tx_fifo; request frames are
// looked up in the registered handler table and, if a response is
// owed, sent back.
func (b *Bus) HandleFrame(cportID uint16, frame []byte) error {
	hdr, err := wire.Unmarshal(frame)
	if err != nil {
		b.logger.Warnf("dropping malformed frame on cport %d: %v", cportID, err)
		return nil
	}
	body := frame[wire.HeaderSize:]

	if hdr.IsResponse() {
		return b.handleResponse(cportID, hdr, body)
	}
	return b.handleRequest(cportID, hdr, body)
}

func (b *Bus) handleResponse(cportID uint16, hdr wire.Header, body []byte) error {
	cp := b.transport.CPorts.Get(cportID)
	if cp == nil {
		return nil
	}
	match, found := cp.TXFifo.Remove(func(s cport.Sendable) bool {
		op, ok := s.(*Operation)
		return ok && op.ID == hdr.ID
	})
	if !found {
		// No matching entry: either never sent, or already timed out
		// (spec.md §8 scenario 3 — silently dropped).
		return nil
	}
	req := match.(*Operation)

	resp := NewOperation(cportID, hdr.BaseType(), body)
	resp.ID = hdr.ID
	resp.ResponseBuffer = append([]byte(nil), body...)

	req.mu.Lock()
	req.Response = resp
	req.mu.Unlock()
	req.ref()

	b.rearmOrDisarmWatchdog(cportID)
	req.Complete(resultError(hdr.Result))
	b.observer.ObserveReceive(cportID, hdr.Type, len(body))
	return nil
}

func (b *Bus) handleRequest(cportID uint16, hdr wire.Header, body []byte) error {
	b.mu.RLock()
	table, ok := b.handlers[cportID]
	b.mu.RUnlock()

	op := &Operation{CPort: cportID, ID: hdr.ID, Type: hdr.BaseType(), RequestBody: body}

	var respBody []byte
	result := errs.ResultInvalid
	if ok {
		if handler, found := table.Lookup(hdr.BaseType()); found {
			respBody, result = handler(op)
		}
	}

	if hdr.ID == 0 {
		return nil // unsolicited, no response expected
	}
	if !op.markResponded() {
		return nil // handler already sent a response for this request
	}
	return b.sendResponse(cportID, hdr.ID, hdr.BaseType(), result, respBody)
}

func (b *Bus) sendResponse(cportID uint16, id uint16, reqType uint8, result errs.Result, body []byte) error {
	h := wire.Header{ID: id, Type: wire.ResponseType(reqType), Result: uint8(result)}
	frame := wire.Frame(h, body)
	if err := b.transport.Send(cportID, frame); err != nil {
		// Out of memory or disconnected mid-response: fall back to the
		// static OOM-synthetic response so the peer never hangs
		// (spec.md §4.D).
		synthetic := wire.Frame(wire.Header{ID: id, Type: wire.ResponseType(reqType), Result: uint8(errs.ResultNoMemory)}, nil)
		_ = b.transport.Send(cportID, synthetic)
		return err
	}
	return nil
}

// armWatchdog arms the per-CPort watchdog if it is not already
// running (spec.md §4.D).
func (b *Bus) armWatchdog(cportID uint16) {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, exists := b.watchdogs[cportID]; exists {
		return
	}
	b.watchdogs[cportID] = time.AfterFunc(WatchdogTimeout, func() { b.sweepTimeouts(cportID) })
}

// rearmOrDisarmWatchdog drops the timer if the CPort's tx_fifo is now
// empty, otherwise leaves it running (a fresh sweep will re-evaluate
// remaining deadlines).
func (b *Bus) rearmOrDisarmWatchdog(cportID uint16) {
	cp := b.transport.CPorts.Get(cportID)
	if cp == nil || cp.TXFifo.Len() > 0 {
		return
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if t, ok := b.watchdogs[cportID]; ok {
		t.Stop()
		delete(b.watchdogs, cportID)
	}
}

// sweepTimeouts fails every operation in cportID's tx_fifo whose
// deadline has passed, then rearms if work remains (spec.md §4.D).
func (b *Bus) sweepTimeouts(cportID uint16) {
	cp := b.transport.CPorts.Get(cportID)
	if cp == nil {
		return
	}
	deadline := time.Now().Add(-WatchdogTimeout)

	for {
		victim, found := cp.TXFifo.Remove(func(s cport.Sendable) bool {
			op, ok := s.(*Operation)
			return ok && !op.SubmitTime.After(deadline)
		})
		if !found {
			break
		}
		op := victim.(*Operation)
		b.observer.ObserveTimeout(cportID)
		op.Complete(errs.ErrTimeout)
	}

	b.wmu.Lock()
	delete(b.watchdogs, cportID)
	b.wmu.Unlock()
	if cp.TXFifo.Len() > 0 {
		b.armWatchdog(cportID)
	}
}

func resultError(result uint8) error {
	if errs.Result(result) == errs.ResultSuccess {
		return nil
	}
	return errs.New("engine.response", errs.CodeProtocolBad, "peer returned non-success result")
}
