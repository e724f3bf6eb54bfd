//go:build linux

package tape

import (
	"encoding/binary"
	"os"
	"sync"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/projectara/greybus-bridgefw/internal/errs"
)

// ringDepth bounds how many outstanding write SQEs IOUringWriter keeps
// in flight before it must wait for completions.
const ringDepth = 64

// IOUringWriter submits each tape record as one asynchronous io_uring
// write instead of a blocking write(2), keeping up to ringDepth writes
// in flight. It still writes the same {size,cport,data}
// record format FileWriter does, so ReadAll/Replay need no knowledge
// of which backend produced a tape.
type IOUringWriter struct {
	mu       sync.Mutex
	f        *os.File
	ring     *giouring.Ring
	offset   int64
	inFlight int
	pending  [][]byte // keeps in-flight write buffers alive until reaped
}

func NewIOUringWriter(path string) (Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.Wrap("tape.NewIOUringWriter", -1, err)
	}
	ring, err := giouring.CreateRing(ringDepth)
	if err != nil {
		f.Close()
		return nil, errs.Wrap("tape.NewIOUringWriter", -1, err)
	}
	return &IOUringWriter{f: f, ring: ring}, nil
}

// WriteFrame prepares and submits one write SQE for the record, first
// reaping one completion if ringDepth writes are already in flight,
// keeping the writer's in-flight window bounded.
func (w *IOUringWriter) WriteFrame(cportID uint16, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, recordHeaderSize+len(data))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(data)))
	binary.LittleEndian.PutUint16(buf[2:4], cportID)
	copy(buf[recordHeaderSize:], data)

	if w.inFlight >= ringDepth {
		if err := w.reapOne(); err != nil {
			return err
		}
	}

	sqe := w.ring.GetSQE()
	if sqe == nil {
		if err := w.reapOne(); err != nil {
			return err
		}
		sqe = w.ring.GetSQE()
	}
	sqe.PrepareWrite(int(w.f.Fd()), uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), uint64(w.offset))
	w.offset += int64(len(buf))
	w.pending = append(w.pending, buf)

	if _, err := w.ring.Submit(); err != nil {
		return errs.Wrap("tape.WriteFrame", -1, err)
	}
	w.inFlight++
	return nil
}

func (w *IOUringWriter) reapOne() error {
	cqe, err := w.ring.WaitCQE()
	if err != nil {
		return errs.Wrap("tape.reapOne", -1, err)
	}
	w.ring.CQESeen(cqe)
	w.inFlight--
	if len(w.pending) > 0 {
		w.pending = w.pending[1:]
	}
	return nil
}

func (w *IOUringWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.inFlight > 0 {
		if err := w.reapOne(); err != nil {
			break
		}
	}
	w.ring.QueueExit()
	return w.f.Close()
}

var _ Writer = (*IOUringWriter)(nil)
