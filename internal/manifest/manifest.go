// Package manifest parses and re-serialises the Greybus interface
// manifest (spec.md §3 Manifest, §6 manifest binary layout).
package manifest

import (
	"encoding/binary"

	"github.com/projectara/greybus-bridgefw/internal/errs"
)

// Descriptor type tags, spec.md §6.
const (
	TypeInterface uint8 = 1
	TypeString    uint8 = 2
	TypeBundle    uint8 = 3
	TypeCPort     uint8 = 4
)

const (
	headerSize     = 4 // size:u16, major:u8, minor:u8
	descHeaderSize = 4 // size:u16, type:u8, pad:u8
)

// InterfaceDescriptor identifies the physical module.
type InterfaceDescriptor struct {
	VendorID  uint8
	ProductID uint8
}

// StringDescriptor is a UTF-8 string referenced by ID from other
// descriptors (vendor string, product string, ...).
type StringDescriptor struct {
	ID    uint8
	Value string
}

// BundleDescriptor groups CPorts into one logical device.
type BundleDescriptor struct {
	ID    uint8
	Class uint8
}

// CPortDescriptor names one CPort's bundle membership and protocol.
type CPortDescriptor struct {
	ID       uint16
	BundleID uint8
	Protocol uint8
}

// Descriptor is one parsed manifest entry, tagged by Type. Exactly one
// of the typed fields is non-nil. Descriptors are kept in their
// original file order so Serialize can reproduce the byte stream
// exactly (spec.md §8 round-trip property).
type Descriptor struct {
	Type      uint8
	Interface *InterfaceDescriptor
	String    *StringDescriptor
	Bundle    *BundleDescriptor
	CPort     *CPortDescriptor
}

// Manifest is the parsed model: a flat descriptor list plus the
// conveniences (Interface, Bundles, CPortsForBundle, String) the AP-side protocol layer
// (internal/ap) needs to walk it as Interface → {Bundle*} → {CPort*}.
type Manifest struct {
	Major, Minor uint8
	Descriptors  []Descriptor
}

// Interface returns the manifest's single interface descriptor, or nil
// if none was present.
func (m *Manifest) Interface() *InterfaceDescriptor {
	for _, d := range m.Descriptors {
		if d.Type == TypeInterface {
			return d.Interface
		}
	}
	return nil
}

// Bundles returns all bundle descriptors in file order.
func (m *Manifest) Bundles() []BundleDescriptor {
	var out []BundleDescriptor
	for _, d := range m.Descriptors {
		if d.Type == TypeBundle {
			out = append(out, *d.Bundle)
		}
	}
	return out
}

// CPortsForBundle returns the CPort descriptors belonging to bundleID,
// in file order.
func (m *Manifest) CPortsForBundle(bundleID uint8) []CPortDescriptor {
	var out []CPortDescriptor
	for _, d := range m.Descriptors {
		if d.Type == TypeCPort && d.CPort.BundleID == bundleID {
			out = append(out, *d.CPort)
		}
	}
	return out
}

// String looks up a string descriptor by ID.
func (m *Manifest) String(id uint8) (string, bool) {
	for _, d := range m.Descriptors {
		if d.Type == TypeString && d.String.ID == id {
			return d.String.Value, true
		}
	}
	return "", false
}

// Parse decodes a flat manifest byte image. An unknown descriptor type
// rejects the whole manifest (spec.md §6: "Unknown descriptor kind →
// reject the whole manifest").
func Parse(data []byte) (*Manifest, error) {
	if len(data) < headerSize {
		return nil, errs.Wrap("manifest.Parse", -1, errs.ErrProtocolBad)
	}
	size := binary.LittleEndian.Uint16(data[0:2])
	if int(size) > len(data) {
		return nil, errs.Wrap("manifest.Parse", -1, errs.ErrProtocolBad)
	}
	m := &Manifest{Major: data[2], Minor: data[3]}

	off := headerSize
	for off < int(size) {
		if off+descHeaderSize > int(size) {
			return nil, errs.Wrap("manifest.Parse", -1, errs.ErrProtocolBad)
		}
		dsize := int(binary.LittleEndian.Uint16(data[off : off+2]))
		dtype := data[off+2]
		if dsize < descHeaderSize || off+dsize > int(size) {
			return nil, errs.Wrap("manifest.Parse", -1, errs.ErrProtocolBad)
		}
		body := data[off+descHeaderSize : off+dsize]

		d, err := parseDescriptor(dtype, body)
		if err != nil {
			return nil, err
		}
		m.Descriptors = append(m.Descriptors, d)
		off += dsize
	}
	return m, nil
}

func parseDescriptor(dtype uint8, body []byte) (Descriptor, error) {
	switch dtype {
	case TypeInterface:
		if len(body) < 4 {
			return Descriptor{}, errs.Wrap("manifest.parseDescriptor", -1, errs.ErrProtocolBad)
		}
		return Descriptor{Type: dtype, Interface: &InterfaceDescriptor{VendorID: body[0], ProductID: body[1]}}, nil
	case TypeString:
		if len(body) < 2 {
			return Descriptor{}, errs.Wrap("manifest.parseDescriptor", -1, errs.ErrProtocolBad)
		}
		length := int(body[0])
		id := body[1]
		if len(body) < 2+length {
			return Descriptor{}, errs.Wrap("manifest.parseDescriptor", -1, errs.ErrProtocolBad)
		}
		return Descriptor{Type: dtype, String: &StringDescriptor{ID: id, Value: string(body[2 : 2+length])}}, nil
	case TypeBundle:
		if len(body) < 4 {
			return Descriptor{}, errs.Wrap("manifest.parseDescriptor", -1, errs.ErrProtocolBad)
		}
		return Descriptor{Type: dtype, Bundle: &BundleDescriptor{ID: body[0], Class: body[1]}}, nil
	case TypeCPort:
		if len(body) < 4 {
			return Descriptor{}, errs.Wrap("manifest.parseDescriptor", -1, errs.ErrProtocolBad)
		}
		id := binary.LittleEndian.Uint16(body[0:2])
		return Descriptor{Type: dtype, CPort: &CPortDescriptor{ID: id, BundleID: body[2], Protocol: body[3]}}, nil
	default:
		return Descriptor{}, errs.Wrap("manifest.parseDescriptor", -1, errs.ErrProtocolBad)
	}
}

// Serialize re-encodes m to its flat byte image. Round-tripping
// Parse(Serialize(m)) reproduces m exactly, since Parse rejects unknown
// descriptors outright (there is never an "unknown" entry to drop).
func Serialize(m *Manifest) []byte {
	var descBytes [][]byte
	for _, d := range m.Descriptors {
		descBytes = append(descBytes, serializeDescriptor(d))
	}

	total := headerSize
	for _, db := range descBytes {
		total += len(db)
	}

	out := make([]byte, headerSize, total)
	binary.LittleEndian.PutUint16(out[0:2], uint16(total))
	out[2] = m.Major
	out[3] = m.Minor
	for _, db := range descBytes {
		out = append(out, db...)
	}
	return out
}

func serializeDescriptor(d Descriptor) []byte {
	var body []byte
	switch d.Type {
	case TypeInterface:
		body = []byte{d.Interface.VendorID, d.Interface.ProductID, 0, 0}
	case TypeString:
		body = make([]byte, 2+len(d.String.Value))
		body[0] = uint8(len(d.String.Value))
		body[1] = d.String.ID
		copy(body[2:], d.String.Value)
	case TypeBundle:
		body = []byte{d.Bundle.ID, d.Bundle.Class, 0, 0}
	case TypeCPort:
		body = make([]byte, 4)
		binary.LittleEndian.PutUint16(body[0:2], d.CPort.ID)
		body[2] = d.CPort.BundleID
		body[3] = d.CPort.Protocol
	}
	out := make([]byte, descHeaderSize+len(body))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(out)))
	out[2] = d.Type
	out[3] = 0
	copy(out[descHeaderSize:], body)
	return out
}
