// Package interfaces holds the small, dependency-free interfaces shared
// between internal packages, so that lower-level packages (cport,
// transport) can reference what higher-level packages (dispatch,
// metrics) implement without importing them back.
package interfaces

// Driver is the per-CPort registered Greybus protocol handler set. It is
// implemented by internal/dispatch and referenced (never implemented)
// by internal/cport, which only needs to hold an at-most-one reference
// per CPort (spec.md §3 "driver — optional reference ... at-most-one").
type Driver interface {
	// FastDispatch invokes the fast-path handler for opType if one is
	// registered and reports whether it ran. Fast handlers execute in
	// the IRQ-context goroutine and must not block or allocate.
	FastDispatch(cportID uint16, opType uint8, buf []byte) (handled bool)

	// HasSlow reports whether a slow-path handler is registered for
	// opType, without invoking it.
	HasSlow(opType uint8) bool

	// Protocol names the Greybus protocol this driver implements, for
	// logging and the tape format.
	Protocol() string
}

// Observer receives operation-engine and transport telemetry.
// Implementations must be safe for concurrent use: methods are called
// from the IRQ-context goroutine, per-CPort workers, and client tasks.
type Observer interface {
	ObserveSend(cportID uint16, opType uint8, bytes int, latencyNs uint64, success bool)
	ObserveReceive(cportID uint16, opType uint8, bytes int)
	ObserveTimeout(cportID uint16)
	ObserveMailbox(cportID uint16, latencyNs uint64)
}

// NoOpObserver discards all telemetry. It is the default when no
// Observer is supplied.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint16, uint8, int, uint64, bool) {}
func (NoOpObserver) ObserveReceive(uint16, uint8, int)            {}
func (NoOpObserver) ObserveTimeout(uint16)                        {}
func (NoOpObserver) ObserveMailbox(uint16, uint64)                {}

var _ Observer = NoOpObserver{}
