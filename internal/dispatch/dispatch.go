// Package dispatch implements per-CPort handler dispatch (component
// E): a sorted type→handler table with binary-search lookup, and the
// fast (IRQ-context) vs slow (worker-task) handler split.
package dispatch

import (
	"sort"
	"sync"

	"github.com/projectara/greybus-bridgefw/internal/engine"
	"github.com/projectara/greybus-bridgefw/internal/errs"
)

// FastHandlerFunc runs in IRQ context; it must neither block nor
// allocate (spec.md §4.E, §5).
type FastHandlerFunc func(cportID uint16, buf []byte) (handled bool)

// entry holds exactly one of Fast or Slow, per spec.md §4.E ("exactly
// one of handler and fast_handler is non-null").
type entry struct {
	opType uint8
	fast   FastHandlerFunc
	slow   engine.SlowHandlerFunc
}

// Table is a per-CPort, binary-searched handler table. It implements
// interfaces.Driver (for the fast path, consumed by internal/transport)
// and engine.HandlerLookup (for the slow path, consumed by
// internal/engine) without either of those packages importing this one.
type Table struct {
	protocol string

	mu      sync.RWMutex
	entries []entry // kept sorted by opType
}

func NewTable(protocol string) *Table {
	return &Table{protocol: protocol}
}

// RegisterFast installs an IRQ-context handler for opType.
func (t *Table) RegisterFast(opType uint8, h FastHandlerFunc) {
	t.insert(entry{opType: opType, fast: h})
}

// RegisterSlow installs a worker-task handler for opType.
func (t *Table) RegisterSlow(opType uint8, h engine.SlowHandlerFunc) {
	t.insert(entry{opType: opType, slow: h})
}

func (t *Table) insert(e entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].opType < t.entries[j].opType })
}

func (t *Table) find(opType uint8) (entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].opType >= opType })
	if i < len(t.entries) && t.entries[i].opType == opType {
		return t.entries[i], true
	}
	return entry{}, false
}

// Protocol implements interfaces.Driver.
func (t *Table) Protocol() string { return t.protocol }

// HasSlow implements interfaces.Driver: reports whether opType has a
// registered slow handler (used to decide whether a frame needs
// copying into the RX FIFO at all).
func (t *Table) HasSlow(opType uint8) bool {
	e, found := t.find(opType)
	return found && e.slow != nil
}

// FastDispatch implements interfaces.Driver. It returns false (not
// handled) for unknown types or slow-only types, leaving the frame to
// fall through to the slow RX path.
func (t *Table) FastDispatch(cportID uint16, opType uint8, buf []byte) bool {
	e, found := t.find(opType)
	if !found || e.fast == nil {
		return false
	}
	return e.fast(cportID, buf)
}

// Lookup implements engine.HandlerLookup. Unknown types report
// found=false so the engine can respond with ResultInvalid (spec.md
// §4.E "unknown type on a request yields INVALID").
func (t *Table) Lookup(opType uint8) (engine.SlowHandlerFunc, bool) {
	e, found := t.find(opType)
	if !found || e.slow == nil {
		return nil, false
	}
	return e.slow, true
}

// InvalidResult is what the engine substitutes when Lookup reports
// found=false; kept here so callers constructing a standalone slow
// response for an unregistered type stay consistent with the table.
var InvalidResult = errs.ResultInvalid
