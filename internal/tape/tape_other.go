//go:build !linux

package tape

import "github.com/projectara/greybus-bridgefw/internal/errs"

// NewIOUringWriter is only available on Linux, where io_uring exists.
func NewIOUringWriter(path string) (Writer, error) {
	return nil, errs.New("tape.NewIOUringWriter", errs.CodeNotSupported, "io_uring tape backend requires linux")
}
