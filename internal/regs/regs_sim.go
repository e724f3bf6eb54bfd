package regs

import "sync"

// Sim is an in-memory register window used by internal/simrig and by
// every test that does not run on real silicon, the simulated
// counterpart to MMIO. Reads return whatever was last written, except
// where a test installs a Hook to fake hardware side effects (e.g. a
// status register that self-clears, or an interrupt-pending bit set by
// the simulated UniPro fabric rather than software).
type Sim struct {
	mu    sync.Mutex
	words map[uint32]uint32

	// Hook, if set, is consulted before the default read/write behavior.
	// It returns handled=false to fall through to the plain word store.
	// It runs without the Sim's lock held, so it may itself call Read32
	// or Write32.
	Hook func(offset uint32, write bool, val uint32) (result uint32, handled bool)
}

func NewSim() *Sim {
	return &Sim{words: make(map[uint32]uint32)}
}

func (s *Sim) Read32(offset uint32) uint32 {
	if s.Hook != nil {
		if v, handled := s.Hook(offset, false, 0); handled {
			return v
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words[offset]
}

func (s *Sim) Write32(offset uint32, val uint32) {
	if s.Hook != nil {
		if _, handled := s.Hook(offset, true, val); handled {
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.words[offset] = val
}

func (s *Sim) Close() error { return nil }

var _ Registers = (*Sim)(nil)
