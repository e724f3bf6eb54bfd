// Package errs provides the structured error type and the §7 error-kind
// taxonomy shared across the bridge/SVC firmware.
package errs

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the high-level error category a caller can switch on, spec.md §7.
type Code string

const (
	CodeDisconnected      Code = "disconnected"
	CodeTooLarge          Code = "too large"
	CodeNoMemory          Code = "no memory"
	CodeTimeout           Code = "timeout"
	CodeInterrupted       Code = "interrupted"
	CodeProtocolBad       Code = "protocol bad"
	CodeInvalid           Code = "invalid"
	CodeRetry             Code = "retry"
	CodeAlreadyRegistered Code = "already registered"
	CodeIoError           Code = "io error"
	CodeNotSupported      Code = "not supported"
)

// Error is a structured, wrapped error carrying the operation, the
// owning CPort (if any), and the high-level code.
type Error struct {
	Op    string
	CPort int // -1 if not applicable
	Code  Code
	Errno syscall.Errno // 0 if not applicable
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.CPort >= 0 && e.Errno != 0:
		return fmt.Sprintf("greybus: %s (cport=%d errno=%d): %s", e.Op, e.CPort, e.Errno, msg)
	case e.CPort >= 0:
		return fmt.Sprintf("greybus: %s (cport=%d): %s", e.Op, e.CPort, msg)
	case e.Errno != 0:
		return fmt.Sprintf("greybus: %s (errno=%d): %s", e.Op, e.Errno, msg)
	default:
		return fmt.Sprintf("greybus: %s: %s", e.Op, msg)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New builds an *Error not tied to any CPort.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, CPort: -1, Code: code, Msg: msg}
}

// NewForCPort builds an *Error tied to a specific CPort.
func NewForCPort(op string, cport int, code Code, msg string) *Error {
	return &Error{Op: op, CPort: cport, Code: code, Msg: msg}
}

// Wrap attaches op/code to an existing error, mapping it through the
// §4.D errno table when the inner error is a syscall.Errno.
func Wrap(op string, cport int, inner error) *Error {
	if inner == nil {
		return nil
	}
	var existing *Error
	if errors.As(inner, &existing) {
		return &Error{Op: op, CPort: existing.CPort, Code: existing.Code, Errno: existing.Errno, Msg: existing.Msg, Inner: existing.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, CPort: cport, Code: codeForErrno(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, CPort: cport, Code: CodeIoError, Msg: inner.Error(), Inner: inner}
}

// codeForErrno is the single §4.D errno->Code table. ToResult's
// raw-errno path and Wrap's errno path both go through it, so the two
// never disagree about what an errno means.
func codeForErrno(errno syscall.Errno) Code {
	switch errno {
	case 0:
		return ""
	case syscall.ENOMEM:
		return CodeNoMemory
	case syscall.EINTR:
		return CodeInterrupted
	case syscall.ETIMEDOUT:
		return CodeTimeout
	case syscall.EPROTO, syscall.ENOSYS:
		return CodeProtocolBad
	case syscall.EINVAL:
		return CodeInvalid
	case syscall.EOVERFLOW:
		return CodeTooLarge
	case syscall.ENODEV, syscall.ENXIO:
		return CodeDisconnected
	case syscall.EBUSY:
		return CodeRetry
	default:
		return CodeIoError
	}
}

// IsCode reports whether err (or an error it wraps) carries code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Result is the wire-level Greybus result byte, spec.md §4.D / §6.
type Result uint8

const (
	ResultSuccess       Result = 0x00
	ResultInterrupted   Result = 0x01
	ResultTimeout       Result = 0x02
	ResultNoMemory      Result = 0x03
	ResultProtocolBad   Result = 0x04
	ResultOverflow      Result = 0x05
	ResultInvalid       Result = 0x06
	ResultRetry         Result = 0x07
	ResultNonexistent   Result = 0x08
	ResultUnknownError  Result = 0xFF
)

// codeToResult is the other half of the single §4.D table: Code->Result.
// Both branches of ToResult funnel through it so a raw syscall.EINTR
// wrapped via Wrap and a raw syscall.EINTR passed to ToResult directly
// land on the same wire result.
func codeToResult(code Code) Result {
	switch code {
	case CodeDisconnected:
		return ResultNonexistent
	case CodeTooLarge:
		return ResultOverflow
	case CodeNoMemory:
		return ResultNoMemory
	case CodeTimeout:
		return ResultTimeout
	case CodeInterrupted:
		return ResultInterrupted
	case CodeProtocolBad:
		return ResultProtocolBad
	case CodeInvalid:
		return ResultInvalid
	case CodeRetry, CodeAlreadyRegistered:
		return ResultRetry
	case CodeIoError:
		return ResultUnknownError
	default:
		return ResultUnknownError
	}
}

// ToResult implements the §4.D errno→Greybus-result-code table.
// A nil error always maps to ResultSuccess.
func ToResult(err error) Result {
	if err == nil {
		return ResultSuccess
	}

	var e *Error
	if errors.As(err, &e) {
		return codeToResult(e.Code)
	}

	if errno, ok := err.(syscall.Errno); ok {
		if errno == 0 {
			return ResultSuccess
		}
		return codeToResult(codeForErrno(errno))
	}

	return ResultUnknownError
}

// Sentinel errors for common cases, matching spec.md §7 kinds exactly.
var (
	ErrDisconnected      = New("cport", CodeDisconnected, "cport not connected")
	ErrTooLarge          = New("send", CodeTooLarge, "payload exceeds CPORT_BUF_SIZE")
	ErrNoMemory          = New("alloc", CodeNoMemory, "buffer allocation failed")
	ErrTimeout           = New("operation", CodeTimeout, "operation watchdog fired")
	ErrProtocolBad       = New("frame", CodeProtocolBad, "malformed frame or descriptor")
	ErrAlreadyRegistered = New("register_driver", CodeAlreadyRegistered, "driver already bound to cport")
	ErrNotSupported      = New("attr", CodeNotSupported, "operation not supported by this silicon revision")
)
