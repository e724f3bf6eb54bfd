// Package gbproto implements Greybus protocol handlers: the mandatory
// Control protocol on CPort 0 of every interface, plus Vibrator and
// Loopback, supplemented from the original firmware's device-driver
// shims (spec.md §6, §1 "out of scope... translate one Greybus op into
// one local driver call" — these two are simple enough to keep in the
// core as worked examples of the handler contract).
package gbproto

import (
	"encoding/binary"

	"github.com/projectara/greybus-bridgefw/internal/dispatch"
	"github.com/projectara/greybus-bridgefw/internal/engine"
	"github.com/projectara/greybus-bridgefw/internal/errs"
	"github.com/projectara/greybus-bridgefw/internal/manifest"
)

// ProtocolVersionMajor/Minor answer every protocol's PROTOCOL_VERSION
// request identically, per scenario 1 of spec.md §8.
const (
	ProtocolVersionMajor uint8 = 0x00
	ProtocolVersionMinor uint8 = 0x01
)

// Control protocol operation types (spec.md §6), duplicated from
// internal/ap to avoid that package depending on gbproto.
const (
	TypeProtocolVersion uint8 = 0x01
	TypeProbeAP         uint8 = 0x02
	TypeGetManifestSize uint8 = 0x03
	TypeGetManifest     uint8 = 0x04
	TypeConnected       uint8 = 0x05
	TypeDisconnected    uint8 = 0x06
)

// ManifestSource supplies the raw manifest bytes this interface serves
// to the AP over GET_MANIFEST_SIZE/GET_MANIFEST.
type ManifestSource func() []byte

// NewControlTable builds the bridge-side Control protocol driver
// (spec.md §4.H, §6): it is always CPort 0 and is what the AP queries
// before anything else is enumerated.
func NewControlTable(src ManifestSource) *dispatch.Table {
	t := dispatch.NewTable("control")

	t.RegisterSlow(TypeProtocolVersion, func(op *engine.Operation) ([]byte, errs.Result) {
		return []byte{ProtocolVersionMajor, ProtocolVersionMinor}, errs.ResultSuccess
	})

	t.RegisterSlow(TypeProbeAP, func(op *engine.Operation) ([]byte, errs.Result) {
		return nil, errs.ResultSuccess
	})

	t.RegisterSlow(TypeGetManifestSize, func(op *engine.Operation) ([]byte, errs.Result) {
		data := src()
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(len(data)))
		return buf, errs.ResultSuccess
	})

	t.RegisterSlow(TypeGetManifest, func(op *engine.Operation) ([]byte, errs.Result) {
		return src(), errs.ResultSuccess
	})

	t.RegisterSlow(TypeConnected, func(op *engine.Operation) ([]byte, errs.Result) {
		return nil, errs.ResultSuccess
	})

	t.RegisterSlow(TypeDisconnected, func(op *engine.Operation) ([]byte, errs.Result) {
		return nil, errs.ResultSuccess
	})

	return t
}

// ManifestSourceFromBundle serializes a fixed manifest once and serves
// the same bytes on every GET_MANIFEST call.
func ManifestSourceFromBundle(m *manifest.Manifest) ManifestSource {
	cached := manifest.Serialize(m)
	return func() []byte { return cached }
}
