package gbproto

import (
	"github.com/projectara/greybus-bridgefw/internal/dispatch"
	"github.com/projectara/greybus-bridgefw/internal/engine"
	"github.com/projectara/greybus-bridgefw/internal/errs"
)

// Vibrator protocol operation types, supplemented from the original
// firmware's vibrator device-driver shim (spec.md §1 names it as an
// out-of-scope collaborator; it is kept here because it is exactly the
// scenario spec.md §8 #1 exercises end to end).
const (
	VibratorTypeProtocolVersion uint8 = 0x01
	VibratorTypeOn              uint8 = 0x02
	VibratorTypeOff             uint8 = 0x03
)

// VibratorDriver is the local collaborator this handler shells out to;
// a real board wires it to the PWM/GPIO line, tests wire it to a
// recording stub.
type VibratorDriver interface {
	On() error
	Off() error
}

// NewVibratorTable builds the Vibrator protocol handler table.
func NewVibratorTable(drv VibratorDriver) *dispatch.Table {
	t := dispatch.NewTable("GreybusVibratorProtocol")

	t.RegisterSlow(VibratorTypeProtocolVersion, func(op *engine.Operation) ([]byte, errs.Result) {
		return []byte{ProtocolVersionMajor, ProtocolVersionMinor}, errs.ResultSuccess
	})

	t.RegisterSlow(VibratorTypeOn, func(op *engine.Operation) ([]byte, errs.Result) {
		if err := drv.On(); err != nil {
			return nil, errs.ToResult(err)
		}
		return nil, errs.ResultSuccess
	})

	t.RegisterSlow(VibratorTypeOff, func(op *engine.Operation) ([]byte, errs.Result) {
		if err := drv.Off(); err != nil {
			return nil, errs.ToResult(err)
		}
		return nil, errs.ResultSuccess
	})

	return t
}
