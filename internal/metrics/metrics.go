// Package metrics implements interfaces.Observer with counters and a
// latency histogram, grounded on the teacher's Metrics/Observer split
// (metrics.go) but tracking send/receive/timeout/mailbox events
// instead of block-device I/O.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/projectara/greybus-bridgefw/internal/interfaces"
)

// LatencyBuckets covers 1us to 10s with logarithmic spacing, matching
// the range needed for both CPort send latency and the ~100ms mailbox
// handshake delay.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks per-bus send/receive/timeout/mailbox counters.
type Metrics struct {
	SendOps      CounterPair
	ReceiveOps   CounterPair
	Timeouts     atomic.Uint64
	MailboxOps   atomic.Uint64
	SendBytes    atomic.Uint64
	ReceiveBytes atomic.Uint64

	totalLatencyNs atomic.Uint64
	opCount        atomic.Uint64
	latencyBuckets [numLatencyBuckets]atomic.Uint64

	mailboxLatencyNs atomic.Uint64
	mailboxCount     atomic.Uint64

	startTime atomic.Int64
}

// CounterPair splits a counter into success/failure totals.
type CounterPair struct {
	Success atomic.Uint64
	Failure atomic.Uint64
}

func New() *Metrics {
	m := &Metrics{}
	m.startTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordSend(bytes int, latencyNs uint64, success bool) {
	if success {
		m.SendOps.Success.Add(1)
		m.SendBytes.Add(uint64(bytes))
	} else {
		m.SendOps.Failure.Add(1)
	}
	m.totalLatencyNs.Add(latencyNs)
	m.opCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.latencyBuckets[i].Add(1)
		}
	}
}

func (m *Metrics) recordReceive(bytes int) {
	m.ReceiveOps.Success.Add(1)
	m.ReceiveBytes.Add(uint64(bytes))
}

func (m *Metrics) recordTimeout() { m.Timeouts.Add(1) }

func (m *Metrics) recordMailbox(latencyNs uint64) {
	m.MailboxOps.Add(1)
	m.mailboxLatencyNs.Add(latencyNs)
	m.mailboxCount.Add(1)
}

// Snapshot is a point-in-time read of Metrics, safe to render or log.
type Snapshot struct {
	SendSuccess, SendFailure       uint64
	ReceiveSuccess                 uint64
	Timeouts                       uint64
	MailboxOps                     uint64
	SendBytes, ReceiveBytes        uint64
	AvgSendLatencyNs               uint64
	AvgMailboxLatencyNs            uint64
	UptimeNs                       uint64
	LatencyHistogram [numLatencyBuckets]uint64
}

func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		SendSuccess:    m.SendOps.Success.Load(),
		SendFailure:    m.SendOps.Failure.Load(),
		ReceiveSuccess: m.ReceiveOps.Success.Load(),
		Timeouts:       m.Timeouts.Load(),
		MailboxOps:     m.MailboxOps.Load(),
		SendBytes:      m.SendBytes.Load(),
		ReceiveBytes:   m.ReceiveBytes.Load(),
		UptimeNs:       uint64(time.Now().UnixNano() - m.startTime.Load()),
	}
	if n := m.opCount.Load(); n > 0 {
		s.AvgSendLatencyNs = m.totalLatencyNs.Load() / n
	}
	if n := m.mailboxCount.Load(); n > 0 {
		s.AvgMailboxLatencyNs = m.mailboxLatencyNs.Load() / n
	}
	for i := 0; i < numLatencyBuckets; i++ {
		s.LatencyHistogram[i] = m.latencyBuckets[i].Load()
	}
	return s
}

// Observer adapts Metrics to interfaces.Observer, the same
// Metrics/Observer split the teacher keeps between a counters struct
// and its pluggable collection interface.
type Observer struct {
	metrics *Metrics
}

func NewObserver(m *Metrics) *Observer {
	return &Observer{metrics: m}
}

func (o *Observer) ObserveSend(_ uint16, _ uint8, bytes int, latencyNs uint64, success bool) {
	o.metrics.recordSend(bytes, latencyNs, success)
}

func (o *Observer) ObserveReceive(_ uint16, _ uint8, bytes int) {
	o.metrics.recordReceive(bytes)
}

func (o *Observer) ObserveTimeout(_ uint16) {
	o.metrics.recordTimeout()
}

func (o *Observer) ObserveMailbox(_ uint16, latencyNs uint64) {
	o.metrics.recordMailbox(latencyNs)
}

var _ interfaces.Observer = (*Observer)(nil)
