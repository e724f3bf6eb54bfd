// Package svc implements the SVC controller state machine (component
// G): manifest walk, device-ID allocation, route table programming,
// and connection creation.
package svc

import (
	"sync"
	"time"

	"github.com/projectara/greybus-bridgefw/internal/cport"
	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/logging"
	"github.com/projectara/greybus-bridgefw/internal/manifest"
	"github.com/projectara/greybus-bridgefw/internal/regs"
)

// State is one node in the SVC controller state machine (spec.md
// §4.G).
type State int

const (
	StateStopped State = iota
	StateBooting
	StateSwitchInit
	StateInterfacesOn
	StateRouting
	StateIRQOn
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateBooting:
		return "Booting"
	case StateSwitchInit:
		return "SwitchInit"
	case StateInterfacesOn:
		return "InterfacesOn"
	case StateRouting:
		return "Routing"
	case StateIRQOn:
		return "IRQOn"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// InterfacePowerOn names one interface rail bring-up step: power it on
// and hold for the declared settle time before moving to the next
// (spec.md §4.G "declared order with declared hold-times").
type InterfacePowerOn struct {
	Name     string
	HoldTime time.Duration
}

// RoutingTableEntry seeds interface_name → device_id (spec.md §3
// Routing state).
type RoutingTableEntry struct {
	InterfaceName string
	DeviceID      uint8
}

// Board is the board-specific bring-up data the state machine walks;
// it is supplied by internal/boardcfg.
type Board struct {
	RegulatorInit   func() error
	ReleaseSwitchReset func() error
	SwitchInit      func() error
	Interfaces      []InterfacePowerOn
	RoutingTable    []RoutingTableEntry
	InterfacesOnDelay time.Duration // spec.md: "300 ms elapsed"
}

// ConnectionCreate is the NCP switch_connection_create command payload
// (spec.md §4.G route construction step 3).
type ConnectionCreate struct {
	Port0, Dev0, CPort0 uint8
	Port1, Dev1, CPort1 uint8
	TC                  uint8
	Flags               uint8
}

// Flag bits for ConnectionCreate.Flags, spec.md §4.G default flags.
const (
	FlagCSDN uint8 = 1 << 0
	FlagCSVN uint8 = 1 << 1

	DefaultConnectionFlags = FlagCSDN | FlagCSVN
)

// Switch is the NCP command sink the controller programs; the real
// implementation issues register writes or UniPro NCP frames, the test
// double just records calls.
type Switch interface {
	SetDeviceID(port uint8, deviceID uint8) error
	ProgramRoute(peerDev, peerPort, localDev, localPort uint8) error
	CreateConnection(cc ConnectionCreate) error
	EnableIRQ() error
	EnablePortIRQ(port uint8) error
}

// Controller drives the SVC bring-up state machine.
type Controller struct {
	mu    sync.Mutex
	state State
	board Board
	sw    Switch
	regs  regs.Registers

	logger *logging.Logger
	wg     sync.WaitGroup

	// sleep is overridable so tests don't wait on real durations.
	sleep func(time.Duration)
}

func New(board Board, sw Switch, r regs.Registers) *Controller {
	return &Controller{
		state:  StateStopped,
		board:  board,
		sw:     sw,
		regs:   r,
		logger: logging.Default().WithComponent("svc"),
		sleep:  time.Sleep,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.logger.Infof("state %s -> %s", from, to)
}

// Start runs Stopped -> Booting -> SwitchInit -> InterfacesOn ->
// Routing -> IRQOn, spawning the bring-up as a background worker
// (spec.md §4.G "spawn worker").
func (c *Controller) Start(m *manifest.Manifest) {
	c.transition(StateBooting)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.runBringUp(m); err != nil {
			c.logger.Errorf("bring-up failed: %v", err)
			c.transition(StateStopped)
		}
	}()
}

func (c *Controller) runBringUp(m *manifest.Manifest) error {
	if c.board.RegulatorInit != nil {
		if err := c.board.RegulatorInit(); err != nil {
			return errs.Wrap("svc.runBringUp", -1, err)
		}
	}
	if c.board.ReleaseSwitchReset != nil {
		if err := c.board.ReleaseSwitchReset(); err != nil {
			return errs.Wrap("svc.runBringUp", -1, err)
		}
	}
	c.transition(StateSwitchInit)

	if c.board.SwitchInit != nil {
		if err := c.board.SwitchInit(); err != nil {
			return errs.Wrap("svc.runBringUp", -1, err)
		}
	}
	c.transition(StateInterfacesOn)

	for _, iface := range c.board.Interfaces {
		c.sleep(iface.HoldTime)
	}
	delay := c.board.InterfacesOnDelay
	if delay == 0 {
		delay = 300 * time.Millisecond
	}
	c.sleep(delay)
	c.transition(StateRouting)

	c.ProgramRoutes(m)
	c.transition(StateIRQOn)

	if err := c.sw.EnableIRQ(); err != nil {
		return errs.Wrap("svc.runBringUp", -1, err)
	}
	for _, entry := range c.board.RoutingTable {
		_ = c.sw.EnablePortIRQ(entry.DeviceID)
	}
	return nil
}

// Stop transitions IRQOn -> Stopping. The caller is responsible for
// tearing down any connections it created.
func (c *Controller) Stop() {
	c.transition(StateStopping)
	c.wg.Wait()
	c.transition(StateStopped)
}

// ProgramRoutes implements route construction (spec.md §4.G): set
// per-port device IDs from the routing table, then for every CPort in
// every bundle of every interface in the manifest, program a switch
// route and emit a connection-create command. The reserved CPort IDs
// (cport.IsReserved) are skipped. A single connection's
// failure is logged and does not abort the rest (best-effort
// enumeration).
func (c *Controller) ProgramRoutes(m *manifest.Manifest) {
	for i, entry := range c.board.RoutingTable {
		if err := c.sw.SetDeviceID(uint8(i), entry.DeviceID); err != nil {
			c.logger.Warnf("set device id for %s failed: %v", entry.InterfaceName, err)
		}
	}

	apCPortID := uint8(0)
	for _, bundle := range m.Bundles() {
		for _, cp := range m.CPortsForBundle(bundle.ID) {
			if cport.IsReserved(cp.ID) {
				continue
			}
			localPort := apCPortID
			apCPortID++

			if err := c.sw.ProgramRoute(0, uint8(cp.ID), 0, localPort); err != nil {
				c.logger.Warnf("program route for cport %d failed: %v", cp.ID, err)
				continue
			}

			cc := ConnectionCreate{
				Port0: 0, Dev0: 0, CPort0: uint8(cp.ID),
				Port1: 0, Dev1: 0, CPort1: localPort,
				TC:    0,
				Flags: DefaultConnectionFlags,
			}
			if err := c.sw.CreateConnection(cc); err != nil {
				c.logger.Warnf("create connection for cport %d failed: %v", cp.ID, err)
			}
		}
	}
}
