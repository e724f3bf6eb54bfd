package gbproto

import (
	"time"

	"github.com/projectara/greybus-bridgefw/internal/dispatch"
	"github.com/projectara/greybus-bridgefw/internal/engine"
	"github.com/projectara/greybus-bridgefw/internal/errs"
)

// Loopback protocol operation types, supplemented from the original
// firmware: a peer sends a sized payload, the bridge transfers and/or
// echoes it back, exercising exactly the split-send and RX-dispatch
// paths this core specifies without needing any real hardware.
const (
	LoopbackTypeProtocolVersion uint8 = 0x01
	LoopbackTypePing            uint8 = 0x02
	LoopbackTypeTransfer        uint8 = 0x03
	LoopbackTypeSink            uint8 = 0x04
)

// LoopbackStats is exported so a test or a shell command can read
// cumulative counts without reaching into the handler's closure.
type LoopbackStats struct {
	PingCount     int
	TransferCount int
	SinkCount     int
	LastLatency   time.Duration
}

// NewLoopbackTable builds the Loopback protocol handler table,
// recording request counts and per-request latency into stats.
func NewLoopbackTable(stats *LoopbackStats) *dispatch.Table {
	t := dispatch.NewTable("GreybusLoopbackProtocol")

	t.RegisterSlow(LoopbackTypeProtocolVersion, func(op *engine.Operation) ([]byte, errs.Result) {
		return []byte{ProtocolVersionMajor, ProtocolVersionMinor}, errs.ResultSuccess
	})

	t.RegisterSlow(LoopbackTypePing, func(op *engine.Operation) ([]byte, errs.Result) {
		start := time.Now()
		stats.PingCount++
		stats.LastLatency = time.Since(start)
		return nil, errs.ResultSuccess
	})

	t.RegisterSlow(LoopbackTypeTransfer, func(op *engine.Operation) ([]byte, errs.Result) {
		start := time.Now()
		stats.TransferCount++
		echo := append([]byte(nil), op.RequestBody...)
		stats.LastLatency = time.Since(start)
		return echo, errs.ResultSuccess
	})

	t.RegisterSlow(LoopbackTypeSink, func(op *engine.Operation) ([]byte, errs.Result) {
		stats.SinkCount++
		return nil, errs.ResultSuccess
	})

	return t
}
