package ap

import (
	"errors"
	"testing"

	"github.com/projectara/greybus-bridgefw/internal/cport"
	"github.com/projectara/greybus-bridgefw/internal/dispatch"
	"github.com/projectara/greybus-bridgefw/internal/engine"
	"github.com/projectara/greybus-bridgefw/internal/interfaces"
	"github.com/projectara/greybus-bridgefw/internal/manifest"
	"github.com/projectara/greybus-bridgefw/internal/regs"
	"github.com/projectara/greybus-bridgefw/internal/transport"
)

type fakeConns struct {
	calls      []uint16
	rejectPeer uint16 // peer cport id that always fails
}

func (f *fakeConns) CreateAPConnection(localCPortID, peerCPortID uint16) error {
	if peerCPortID == f.rejectPeer {
		return errors.New("svc route failed")
	}
	f.calls = append(f.calls, localCPortID)
	return nil
}

type fakeDrivers struct {
	registered map[uint16]interfaces.Driver
}

func (f *fakeDrivers) RegisterDriver(cportID uint16, d interfaces.Driver) error {
	if f.registered == nil {
		f.registered = make(map[uint16]interfaces.Driver)
	}
	f.registered[cportID] = d
	return nil
}

func testManifestWithProtocols() *manifest.Manifest {
	return &manifest.Manifest{
		Descriptors: []manifest.Descriptor{
			{Type: manifest.TypeInterface, Interface: &manifest.InterfaceDescriptor{VendorID: 1, ProductID: 2}},
			{Type: manifest.TypeBundle, Bundle: &manifest.BundleDescriptor{ID: 0, Class: 0}},
			{Type: manifest.TypeCPort, CPort: &manifest.CPortDescriptor{ID: 10, BundleID: 0, Protocol: 0xAA}},
			{Type: manifest.TypeCPort, CPort: &manifest.CPortDescriptor{ID: 11, BundleID: 0, Protocol: 0xFF}}, // no factory registered
			{Type: manifest.TypeCPort, CPort: &manifest.CPortDescriptor{ID: 12, BundleID: 0, Protocol: 0xAA}},
		},
	}
}

func newTestLayer(conns ConnectionCreator, drivers DriverRegistrar) *Layer {
	tp := transport.New(transport.Config{Kind: cport.KindGPBridge, Regs: regs.NewSim()})
	eng := engine.New(tp, interfaces.NoOpObserver{})
	registry := NewRegistry()
	registry.Register(0xAA, func(cportID uint16) *dispatch.Table {
		return dispatch.NewTable("fake-protocol")
	})
	return New(eng, registry, conns, drivers)
}

func TestInitBundlesSkipsUnregisteredProtocols(t *testing.T) {
	conns := &fakeConns{}
	drivers := &fakeDrivers{}
	l := newTestLayer(conns, drivers)

	iface, err := l.InitBundles(1, testManifestWithProtocols())
	if err != nil {
		t.Fatalf("InitBundles failed: %v", err)
	}
	if iface.VendorID != 1 || iface.ProductID != 2 {
		t.Errorf("interface mirror = %+v, want VendorID=1 ProductID=2", iface)
	}

	bundle, ok := iface.Bundles[0]
	if !ok {
		t.Fatal("expected bundle 0 in the mirror")
	}
	if len(bundle.CPorts) != 2 {
		t.Fatalf("bundle has %d cports, want 2 (protocol 0xFF has no factory)", len(bundle.CPorts))
	}
	if len(conns.calls) != 2 {
		t.Errorf("CreateAPConnection called %d times, want 2", len(conns.calls))
	}
	if len(drivers.registered) != 2 {
		t.Errorf("RegisterDriver called %d times, want 2", len(drivers.registered))
	}
}

func TestInitBundlesConnectionFailureIsBestEffort(t *testing.T) {
	conns := &fakeConns{rejectPeer: 10} // cport 10's route always fails
	drivers := &fakeDrivers{}
	l := newTestLayer(conns, drivers)

	iface, err := l.InitBundles(1, testManifestWithProtocols())
	if err != nil {
		t.Fatalf("InitBundles should be best-effort and never fail outright, got %v", err)
	}
	bundle := iface.Bundles[0]
	if len(bundle.CPorts) != 1 {
		t.Errorf("bundle has %d cports, want 1 (cport 10's connection failed, cport 12 still enumerated)", len(bundle.CPorts))
	}
}

func TestAllocCPortIDStartsAfterControl(t *testing.T) {
	l := newTestLayer(&fakeConns{}, &fakeDrivers{})
	first := l.allocCPortID()
	second := l.allocCPortID()
	if first == ControlCPortID || second == ControlCPortID {
		t.Error("allocCPortID must never hand out the reserved Control cport id")
	}
	if second != first+1 {
		t.Errorf("allocCPortID should increment monotonically: got %d then %d", first, second)
	}
}
