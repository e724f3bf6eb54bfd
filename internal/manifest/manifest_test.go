package manifest

import (
	"testing"

	"github.com/projectara/greybus-bridgefw/internal/errs"
)

func sampleManifest() *Manifest {
	return &Manifest{
		Major: 0, Minor: 1,
		Descriptors: []Descriptor{
			{Type: TypeInterface, Interface: &InterfaceDescriptor{VendorID: 0x42, ProductID: 0x01}},
			{Type: TypeString, String: &StringDescriptor{ID: 1, Value: "vendor"}},
			{Type: TypeBundle, Bundle: &BundleDescriptor{ID: 0, Class: 0x0A}},
			{Type: TypeCPort, CPort: &CPortDescriptor{ID: 1, BundleID: 0, Protocol: 0x02}},
			{Type: TypeCPort, CPort: &CPortDescriptor{ID: 2, BundleID: 0, Protocol: 0x03}},
		},
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	original := sampleManifest()
	data := Serialize(original)

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got.Major != original.Major || got.Minor != original.Minor {
		t.Errorf("version mismatch: got %d.%d, want %d.%d", got.Major, got.Minor, original.Major, original.Minor)
	}
	if len(got.Descriptors) != len(original.Descriptors) {
		t.Fatalf("descriptor count = %d, want %d", len(got.Descriptors), len(original.Descriptors))
	}

	if got.Interface() == nil || *got.Interface() != *original.Interface() {
		t.Errorf("Interface() = %+v, want %+v", got.Interface(), original.Interface())
	}
	if s, ok := got.String(1); !ok || s != "vendor" {
		t.Errorf("String(1) = %q, %v, want %q, true", s, ok, "vendor")
	}

	// Re-serializing the parsed result must reproduce the same bytes.
	again := Serialize(got)
	if len(again) != len(data) {
		t.Fatalf("re-serialized length = %d, want %d", len(again), len(data))
	}
	for i := range data {
		if again[i] != data[i] {
			t.Fatalf("re-serialized byte %d = %#x, want %#x", i, again[i], data[i])
		}
	}
}

func TestBundlesAndCPortsForBundle(t *testing.T) {
	m := sampleManifest()
	bundles := m.Bundles()
	if len(bundles) != 1 || bundles[0].ID != 0 {
		t.Fatalf("Bundles() = %+v, want one bundle with ID 0", bundles)
	}
	cports := m.CPortsForBundle(0)
	if len(cports) != 2 {
		t.Fatalf("CPortsForBundle(0) returned %d entries, want 2", len(cports))
	}
	if cports[0].ID != 1 || cports[1].ID != 2 {
		t.Errorf("CPortsForBundle order = %+v, want file order [1, 2]", cports)
	}
}

func TestParseRejectsUnknownDescriptorType(t *testing.T) {
	data := []byte{
		8, 0, 0, 1, // header: size=8, major=0, minor=1
		4, 0, 0xFF, 0, // one descriptor: size=4, type=0xFF (unknown), pad=0
	}
	if _, err := Parse(data); !errs.IsCode(err, errs.CodeProtocolBad) {
		t.Errorf("Parse should reject an unknown descriptor type, got %v", err)
	}
}

func TestParseRejectsShortBuffer(t *testing.T) {
	if _, err := Parse([]byte{1, 2}); !errs.IsCode(err, errs.CodeProtocolBad) {
		t.Errorf("Parse should reject a buffer shorter than the header, got %v", err)
	}
}

func TestParseRejectsTruncatedDescriptor(t *testing.T) {
	data := []byte{
		10, 0, 0, 1, // header claims size=10
		4, 0, TypeBundle, 0, // but only 8 bytes follow total
	}
	if _, err := Parse(data); !errs.IsCode(err, errs.CodeProtocolBad) {
		t.Errorf("Parse should reject a truncated descriptor, got %v", err)
	}
}
