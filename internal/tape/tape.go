// Package tape implements pluggable record/replay of received frames
// (component F). A tape, once registered, tees every frame delivered
// through the single RX entry point; replay feeds a captured stream
// back through that same entry point with no silicon interaction.
package tape

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/logging"
)

// recordHeaderSize is the {size:u16, cport:u16} prefix written ahead
// of every captured frame (spec.md §4.F).
const recordHeaderSize = 4

// Writer is the pluggable record backend: open/close/write. Two
// implementations exist — the default FileWriter (plain os.File) and,
// on Linux, the io_uring-backed IOUringWriter (tape_linux.go), which
// keeps several record writes in flight at once.
type Writer interface {
	WriteFrame(cportID uint16, data []byte) error
	Close() error
}

// Recorder is the registered tape; at most one is active at a time
// (spec.md §4.F "registered once").
type Recorder struct {
	mu     sync.Mutex
	writer Writer
	logger *logging.Logger
}

func NewRecorder() *Recorder {
	return &Recorder{logger: logging.Default().WithComponent("tape")}
}

// Register installs w as the active tape backend. Passing nil disables
// recording.
func (r *Recorder) Register(w Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer != nil {
		_ = r.writer.Close()
	}
	r.writer = w
}

// Active reports whether a tape backend is currently registered.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer != nil
}

// Capture writes one received frame to the active tape, if any. It is
// meant to be called from the same RX entry point every inbound frame
// already passes through (spec.md §4.F "the RX path is the single
// entry point").
func (r *Recorder) Capture(cportID uint16, data []byte) {
	r.mu.Lock()
	w := r.writer
	r.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.WriteFrame(cportID, data); err != nil {
		r.logger.Warnf("tape write failed: %v", err)
	}
}

// Close releases the active backend, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	return err
}

// FileWriter is the default tape backend: a plain sequential file of
// {size:u16, cport:u16, data[size]} records.
type FileWriter struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.Wrap("tape.NewFileWriter", -1, err)
	}
	return &FileWriter{f: f}, nil
}

func (w *FileWriter) WriteFrame(cportID uint16, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	hdr := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(len(data)))
	binary.LittleEndian.PutUint16(hdr[2:4], cportID)
	if _, err := w.f.Write(hdr); err != nil {
		return errs.Wrap("tape.WriteFrame", -1, err)
	}
	if _, err := w.f.Write(data); err != nil {
		return errs.Wrap("tape.WriteFrame", -1, err)
	}
	return nil
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ Writer = (*FileWriter)(nil)

// Record is one decoded tape entry, returned by ReadAll for replay.
type Record struct {
	CPort uint16
	Data  []byte
}

// ReadAll decodes every record in a tape file, in capture order.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap("tape.ReadAll", -1, err)
	}
	defer f.Close()

	var records []Record
	hdr := make([]byte, recordHeaderSize)
	for {
		_, err := io.ReadFull(f, hdr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap("tape.ReadAll", -1, err)
		}
		size := binary.LittleEndian.Uint16(hdr[0:2])
		cportID := binary.LittleEndian.Uint16(hdr[2:4])
		data := make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, errs.Wrap("tape.ReadAll", -1, err)
		}
		records = append(records, Record{CPort: cportID, Data: data})
	}
	return records, nil
}

// Replay feeds every record in path back through deliver, the same RX
// entry point live frames use (spec.md §4.F). No silicon interaction
// occurs.
func Replay(path string, deliver func(cportID uint16, data []byte)) error {
	records, err := ReadAll(path)
	if err != nil {
		return err
	}
	for _, rec := range records {
		deliver(rec.CPort, rec.Data)
	}
	return nil
}
