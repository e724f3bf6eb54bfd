// Package wire implements the Greybus frame header: the 8-byte
// little-endian envelope every CPort frame carries (spec.md §3, §6).
package wire

import (
	"encoding/binary"
	"unsafe"

	"github.com/projectara/greybus-bridgefw/internal/errs"
)

// HeaderSize is the wire size of a Greybus operation header in bytes.
const HeaderSize = 8

// TypeResponseFlag is the MSB of the type byte; set on responses.
const TypeResponseFlag uint8 = 0x80

// Header is the 8-byte frame prefix carried by every request and
// response buffer (spec.md §3 Operation fields).
//
//	size:u16 LE, id:u16 LE, type:u8, result:u8, pad[2]
//
// On the AP-bridge transport the two pad bytes carry the destination
// CPort ID outside the header (spec.md §6); callers that need this use
// Pad directly rather than a named accessor, since only that one
// transport repurposes them.
type Header struct {
	Size   uint16
	ID     uint16
	Type   uint8
	Result uint8
	Pad    [2]byte
}

// Compile-time size assertion, mirroring the teacher's UAPI struct
// layout checks (internal/uapi/structs.go).
var _ [HeaderSize]byte = [unsafe.Sizeof(Header{})]byte{}

// IsResponse reports whether h.Type carries the response flag.
func (h Header) IsResponse() bool { return h.Type&TypeResponseFlag != 0 }

// BaseType returns h.Type with the response flag cleared.
func (h Header) BaseType() uint8 { return h.Type &^ TypeResponseFlag }

// ResponseType sets the response flag on a request type.
func ResponseType(reqType uint8) uint8 { return reqType | TypeResponseFlag }

// Marshal serialises h to an 8-byte little-endian buffer.
func Marshal(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.Size)
	binary.LittleEndian.PutUint16(buf[2:4], h.ID)
	buf[4] = h.Type
	buf[5] = h.Result
	buf[6] = h.Pad[0]
	buf[7] = h.Pad[1]
	return buf
}

// Unmarshal parses an 8-byte little-endian header. It returns
// errs.ErrProtocolBad if data is shorter than HeaderSize.
func Unmarshal(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, errs.Wrap("wire.Unmarshal", -1, errs.ErrProtocolBad)
	}
	var h Header
	h.Size = binary.LittleEndian.Uint16(data[0:2])
	h.ID = binary.LittleEndian.Uint16(data[2:4])
	h.Type = data[4]
	h.Result = data[5]
	h.Pad[0] = data[6]
	h.Pad[1] = data[7]
	return h, nil
}

// Frame is a fully marshaled header + body, ready for CPort transmit.
func Frame(h Header, body []byte) []byte {
	h.Size = uint16(HeaderSize + len(body))
	out := make([]byte, 0, h.Size)
	out = append(out, Marshal(h)...)
	out = append(out, body...)
	return out
}
