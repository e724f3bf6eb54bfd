// Package ap implements the AP-side protocol layer (component H):
// Interface/Bundle/CPort mirror objects built from a parsed manifest,
// and the Control-protocol bootstrap client.
package ap

import (
	"encoding/binary"
	"sync"

	"github.com/projectara/greybus-bridgefw/internal/dispatch"
	"github.com/projectara/greybus-bridgefw/internal/engine"
	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/interfaces"
	"github.com/projectara/greybus-bridgefw/internal/manifest"
)

// ControlCPortID is the manifest-fixed CPort carrying the Control
// protocol on every interface (spec.md §4.H).
const ControlCPortID uint16 = 0

// Control protocol operation types (spec.md §6).
const (
	ControlTypeProtocolVersion uint8 = 0x01
	ControlTypeProbeAP         uint8 = 0x02
	ControlTypeGetManifestSize uint8 = 0x03
	ControlTypeGetManifest     uint8 = 0x04
	ControlTypeConnected       uint8 = 0x05
	ControlTypeDisconnected    uint8 = 0x06
)

// DriverFactory builds a Greybus driver (a dispatch.Table, which
// satisfies interfaces.Driver directly) for one CPort's protocol number. Control
// is special-cased and never goes through the registry (spec.md
// §4.H).
type DriverFactory func(cportID uint16) *dispatch.Table

// ConnectionCreator asks the SVC to create the UniPro connection
// backing a newly enumerated CPort; internal/svc.Controller satisfies
// this narrowly, so ap need not import svc's full Switch contract.
type ConnectionCreator interface {
	CreateAPConnection(localCPortID uint16, peerCPortID uint16) error
}

// DriverRegistrar binds the fast-path driver capability for a CPort;
// internal/transport.Bus satisfies this.
type DriverRegistrar interface {
	RegisterDriver(cportID uint16, d interfaces.Driver) error
}

// CPort is the AP-side mirror of one manifest CPort descriptor.
type CPort struct {
	ID       uint16
	Protocol uint8
}

// Bundle mirrors a manifest bundle: a set of CPorts sharing a logical
// device.
type Bundle struct {
	ID      uint8
	Class   uint8
	CPorts  map[uint16]*CPort
}

// Interface mirrors a manifest interface: its bundles, keyed by ID.
type Interface struct {
	VendorID, ProductID uint8
	Bundles             map[uint8]*Bundle
}

// Registry is the global protocol → DriverFactory table (spec.md §9
// "process-wide but write-once").
type Registry struct {
	mu        sync.RWMutex
	factories map[uint8]DriverFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[uint8]DriverFactory)}
}

func (r *Registry) Register(protocol uint8, f DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[protocol] = f
}

func (r *Registry) Lookup(protocol uint8) (DriverFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[protocol]
	return f, ok
}

// Layer owns the mirror objects for every enumerated interface.
type Layer struct {
	engine   *engine.Bus
	registry *Registry
	conns    ConnectionCreator
	drivers  DriverRegistrar

	mu         sync.Mutex
	interfaces map[uint8]*Interface // keyed by device ID
	nextCPort  uint16
}

func New(eng *engine.Bus, registry *Registry, conns ConnectionCreator, drivers DriverRegistrar) *Layer {
	return &Layer{
		engine:     eng,
		registry:   registry,
		conns:      conns,
		drivers:    drivers,
		interfaces: make(map[uint8]*Interface),
		nextCPort:  1, // 0 is reserved for Control
	}
}

// FetchManifest runs the Control-protocol bootstrap: GET_MANIFEST_SIZE
// then GET_MANIFEST on CPort 0 of the interface, returning the parsed
// manifest (spec.md §4.H).
func (l *Layer) FetchManifest() (*manifest.Manifest, error) {
	sizeOp := engine.NewOperation(ControlCPortID, ControlTypeGetManifestSize, nil)
	if err := l.engine.SendRequestSync(sizeOp); err != nil {
		return nil, errs.Wrap("ap.FetchManifest", int(ControlCPortID), err)
	}
	if sizeOp.Response == nil || len(sizeOp.Response.ResponseBuffer) < 2 {
		return nil, errs.NewForCPort("ap.FetchManifest", int(ControlCPortID), errs.CodeProtocolBad, "short GET_MANIFEST_SIZE response")
	}
	size := binary.LittleEndian.Uint16(sizeOp.Response.ResponseBuffer[0:2])

	manifestOp := engine.NewOperation(ControlCPortID, ControlTypeGetManifest, nil)
	if err := l.engine.SendRequestSync(manifestOp); err != nil {
		return nil, errs.Wrap("ap.FetchManifest", int(ControlCPortID), err)
	}
	if manifestOp.Response == nil || len(manifestOp.Response.ResponseBuffer) < int(size) {
		return nil, errs.NewForCPort("ap.FetchManifest", int(ControlCPortID), errs.CodeProtocolBad, "short GET_MANIFEST response")
	}
	return manifest.Parse(manifestOp.Response.ResponseBuffer[:size])
}

// InitBundles implements init_bundles (spec.md §4.H): builds the
// Interface/Bundle/CPort mirror from m, and for every CPort whose
// protocol has a registered factory, allocates an AP-side CPort ID,
// asks the SVC for a connection, and registers the resulting driver.
func (l *Layer) InitBundles(deviceID uint8, m *manifest.Manifest) (*Interface, error) {
	ifaceDesc := m.Interface()
	iface := &Interface{Bundles: make(map[uint8]*Bundle)}
	if ifaceDesc != nil {
		iface.VendorID = ifaceDesc.VendorID
		iface.ProductID = ifaceDesc.ProductID
	}

	for _, bd := range m.Bundles() {
		bundle := &Bundle{ID: bd.ID, Class: bd.Class, CPorts: make(map[uint16]*CPort)}
		for _, cd := range m.CPortsForBundle(bd.ID) {
			factory, found := l.registry.Lookup(cd.Protocol)
			if !found {
				continue
			}
			localID := l.allocCPortID()
			if err := l.conns.CreateAPConnection(localID, cd.ID); err != nil {
				continue // best-effort enumeration, spec.md §4.G
			}
			table := factory(localID)
			l.engine.RegisterHandlers(localID, table)
			if l.drivers != nil {
				_ = l.drivers.RegisterDriver(localID, table)
			}
			bundle.CPorts[localID] = &CPort{ID: localID, Protocol: cd.Protocol}
		}
		iface.Bundles[bd.ID] = bundle
	}

	l.mu.Lock()
	l.interfaces[deviceID] = iface
	l.mu.Unlock()
	return iface, nil
}

func (l *Layer) allocCPortID() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextCPort
	l.nextCPort++
	return id
}

// Interface returns the mirror object for deviceID, if enumerated.
func (l *Layer) Interface(deviceID uint8) (*Interface, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	iface, ok := l.interfaces[deviceID]
	return iface, ok
}

var _ interfaces.Driver = (*dispatch.Table)(nil)
