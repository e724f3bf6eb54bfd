//go:build linux

package regs

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/projectara/greybus-bridgefw/internal/errs"
)

// MMIO memory-maps a physical register window via /dev/mem (or a
// board-specific device node), the real-hardware counterpart of the
// simulated backend. Grounded on the teacher's raw
// syscall.Syscall6(SYS_MMAP, ...) in mmapQueues: here we use the typed
// golang.org/x/sys/unix wrapper instead of raw syscalls, since register
// access (unlike the teacher's descriptor array) needs no custom
// per-queue offset arithmetic.
type MMIO struct {
	data []byte
}

// NewMMIO maps size bytes of physical address space at physBase from
// path (typically "/dev/mem"). The caller must run as a principal with
// access to raw physical memory.
func NewMMIO(path string, physBase int64, size int) (*MMIO, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errs.Wrap("regs.NewMMIO", -1, err)
	}
	defer unix.Close(fd)

	data, err := unix.Mmap(fd, physBase, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errs.Wrap("regs.NewMMIO", -1, err)
	}
	return &MMIO{data: data}, nil
}

func (m *MMIO) Read32(offset uint32) uint32 {
	ptr := (*uint32)(unsafe.Pointer(&m.data[offset]))
	v := atomic.LoadUint32(ptr)
	runtime.KeepAlive(m)
	return v
}

func (m *MMIO) Write32(offset uint32, val uint32) {
	ptr := (*uint32)(unsafe.Pointer(&m.data[offset]))
	atomic.StoreUint32(ptr, val)
	runtime.KeepAlive(m)
}

func (m *MMIO) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	if err != nil {
		return errs.Wrap("regs.Close", -1, err)
	}
	return nil
}

var _ Registers = (*MMIO)(nil)
