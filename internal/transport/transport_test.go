package transport

import (
	"bytes"
	"testing"

	"github.com/projectara/greybus-bridgefw/internal/cport"
	"github.com/projectara/greybus-bridgefw/internal/regs"
	"github.com/projectara/greybus-bridgefw/internal/tape"
)

type recordingWriter struct {
	frames [][]byte
}

func (w *recordingWriter) WriteFrame(_ uint16, data []byte) error {
	w.frames = append(w.frames, append([]byte(nil), data...))
	return nil
}
func (w *recordingWriter) Close() error { return nil }

func newConnectedBus(t *testing.T, cportID uint16) *Bus {
	t.Helper()
	b := New(Config{Kind: cport.KindGPBridge, Regs: regs.NewSim()})
	cp := b.CPorts.Get(cportID)
	if cp == nil {
		t.Fatalf("cport %d should exist", cportID)
	}
	cp.SetConnected(true)
	return b
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	b := newConnectedBus(t, 1)
	oversized := make([]byte, cport.CPortBufSize+1)
	if err := b.Send(1, oversized); err == nil {
		t.Error("Send should reject a payload larger than CPORT_BUF_SIZE")
	}
}

func TestSendRejectsUnknownCPort(t *testing.T) {
	b := New(Config{Kind: cport.KindGPBridge, Regs: regs.NewSim()})
	if err := b.Send(9999, []byte("x")); err == nil {
		t.Error("Send should reject an out-of-range cport id")
	}
}

func TestSendZeroLengthPayloadStillWritesEOM(t *testing.T) {
	sim := regs.NewSim()
	b := New(Config{Kind: cport.KindGPBridge, Regs: sim})
	b.CPorts.Get(1).SetConnected(true)

	if err := b.Send(1, nil); err != nil {
		t.Fatalf("Send(nil) failed: %v", err)
	}
	if sim.Read32(regs.OffsetN(regs.CPortStatus0, 1)) == 0 {
		t.Error("a zero-length send must still raise EOM")
	}
}

func TestSplitSendReassemblesContiguously(t *testing.T) {
	sim := regs.NewSim()
	sim.Write32(regs.OffsetN(regs.CPBTxBufferSpaceBase, 1), 8) // window = 8*8 = 64 bytes
	b := New(Config{Kind: cport.KindGPBridge, Regs: sim})
	b.CPorts.Get(1).SetConnected(true)

	payload := bytes.Repeat([]byte{0x5A}, 200)
	if err := b.Send(1, payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	cp := b.CPorts.Get(1)
	if !bytes.Equal(cp.TXBuf[:len(payload)], payload) {
		t.Error("a payload spanning multiple tx-window chunks must land contiguously in the tx buffer")
	}
}

func TestSplitSendChunkSizesAndOffsetMatchScenario5(t *testing.T) {
	sim := regs.NewSim()
	sim.Write32(regs.OffsetN(regs.CPBTxBufferSpaceBase, 1), 8) // window = 8*8 = 64 bytes
	b := New(Config{Kind: cport.KindGPBridge, Regs: sim})
	b.CPorts.Get(1).SetConnected(true)

	var chunks []int
	var offsets []uint32
	prevSpace := sim.Read32(regs.OffsetN(regs.CPBTxBufferSpaceBase, 1))
	prevOffset := sim.Read32(regs.OffsetN(regs.RegTxBufferSpaceOffsetBase, 1))
	sim.Hook = func(offset uint32, write bool, val uint32) (uint32, bool) {
		if write && offset == regs.OffsetN(regs.RegTxBufferSpaceOffsetBase, 1) {
			chunks = append(chunks, int(val-prevOffset)*8)
			offsets = append(offsets, val)
			prevOffset = val
		}
		_ = prevSpace
		return 0, false
	}

	payload := bytes.Repeat([]byte{0x5A}, 200)
	if err := b.Send(1, payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := []int{64, 64, 64, 8}
	if len(chunks) != len(want) {
		t.Fatalf("got %d partial sends %v, want %d %v", len(chunks), chunks, len(want), want)
	}
	for i, c := range chunks {
		if c != want[i] {
			t.Errorf("chunk %d = %d bytes, want %d", i, c, want[i])
		}
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Errorf("TX_BUFFER_SPACE_OFFSET did not advance monotonically: %v", offsets)
		}
	}
	if sim.Read32(regs.OffsetN(regs.CPortStatus0, 1)) == 0 {
		t.Error("EOM must be written after the final chunk")
	}
}

func TestUnpauseRXIsIdempotent(t *testing.T) {
	sim := regs.NewSim()
	b := New(Config{Kind: cport.KindGPBridge, Regs: sim})
	b.UnpauseRX(1)
	b.UnpauseRX(1)
	if got := sim.Read32(regs.OffsetN(regs.RegRxPauseSizeBase, 1)); got != 0 {
		t.Errorf("RX pause size = %d, want 0 after UnpauseRX", got)
	}
}

type recordingDriver struct {
	protocol string
	fastFn   func(cportID uint16, opType uint8, buf []byte) bool
	hasSlow  bool
}

func (d recordingDriver) FastDispatch(cportID uint16, opType uint8, buf []byte) bool {
	if d.fastFn == nil {
		return false
	}
	return d.fastFn(cportID, opType, buf)
}
func (d recordingDriver) HasSlow(uint8) bool { return d.hasSlow }
func (d recordingDriver) Protocol() string   { return d.protocol }

func TestHandleEOMPrefersFastPathWhenHandled(t *testing.T) {
	sim := regs.NewSim()
	b := New(Config{Kind: cport.KindGPBridge, Regs: sim})
	cp := b.CPorts.Get(1)
	copy(cp.RXBuf, []byte{8, 0, 1, 0, 0x02, 0, 0, 0})
	sim.Write32(regs.OffsetN(regs.CPBRxTransferredDataSizeBase, 1), 8)

	fastCalled := false
	_ = b.RegisterDriver(1, recordingDriver{fastFn: func(cportID uint16, opType uint8, buf []byte) bool {
		fastCalled = true
		return true
	}})

	b.HandleEOM(1)

	if !fastCalled {
		t.Error("HandleEOM should try the fast path when a driver is registered")
	}
	if _, ok := b.PopRXFrame(1); ok {
		t.Error("a fast-handled frame must never also be queued for the slow path")
	}
}

func TestHandleEOMFallsBackToSlowPathQueue(t *testing.T) {
	sim := regs.NewSim()
	b := New(Config{Kind: cport.KindGPBridge, Regs: sim})
	cp := b.CPorts.Get(1)
	frame := []byte{8, 0, 1, 0, 0x02, 0, 0, 0}
	copy(cp.RXBuf, frame)
	sim.Write32(regs.OffsetN(regs.CPBRxTransferredDataSizeBase, 1), uint32(len(frame)))

	b.HandleEOM(1)

	got, ok := b.PopRXFrame(1)
	if !ok {
		t.Fatal("HandleEOM with no driver registered should queue the frame for the slow path")
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("queued frame = %v, want %v", got, frame)
	}
}

func TestHandleEOMCapturesFastPathFrameToTape(t *testing.T) {
	sim := regs.NewSim()
	rec := tape.NewRecorder()
	w := &recordingWriter{}
	rec.Register(w)
	b := New(Config{Kind: cport.KindGPBridge, Regs: sim, Tape: rec})
	cp := b.CPorts.Get(1)
	frame := []byte{8, 0, 1, 0, 0x02, 0, 0, 0}
	copy(cp.RXBuf, frame)
	sim.Write32(regs.OffsetN(regs.CPBRxTransferredDataSizeBase, 1), uint32(len(frame)))

	_ = b.RegisterDriver(1, recordingDriver{fastFn: func(uint16, uint8, []byte) bool { return true }})
	b.HandleEOM(1)

	if len(w.frames) != 1 || !bytes.Equal(w.frames[0], frame) {
		t.Errorf("tape frames = %v, want one frame %v", w.frames, frame)
	}
}

func TestHandleEOMCapturesSlowPathFrameToTape(t *testing.T) {
	sim := regs.NewSim()
	rec := tape.NewRecorder()
	w := &recordingWriter{}
	rec.Register(w)
	b := New(Config{Kind: cport.KindGPBridge, Regs: sim, Tape: rec})
	cp := b.CPorts.Get(1)
	frame := []byte{8, 0, 1, 0, 0x02, 0, 0, 0}
	copy(cp.RXBuf, frame)
	sim.Write32(regs.OffsetN(regs.CPBRxTransferredDataSizeBase, 1), uint32(len(frame)))

	b.HandleEOM(1)

	if len(w.frames) != 1 || !bytes.Equal(w.frames[0], frame) {
		t.Errorf("tape frames = %v, want one frame %v", w.frames, frame)
	}
}

func TestRegisterDriverAtMostOnce(t *testing.T) {
	b := New(Config{Kind: cport.KindGPBridge, Regs: regs.NewSim()})
	if err := b.RegisterDriver(1, recordingDriver{protocol: "a"}); err != nil {
		t.Fatalf("first RegisterDriver failed: %v", err)
	}
	if err := b.RegisterDriver(1, recordingDriver{protocol: "b"}); err == nil {
		t.Error("a second RegisterDriver on the same cport should fail")
	}
}
