package port

import (
	"errors"
	"fmt"

	"mechatronics/eth1394-go/pkg/firewire"
	"mechatronics/eth1394-go/pkg/transport"
)

// Errors
var (
	ErrConfiguration = errors.New("port: invalid configuration")
	ErrBoardNotFound = errors.New("port: board not found")
	ErrSizeMismatch  = errors.New("port: size mismatch")
	ErrTopology      = errors.New("port: topology discovery failed")
	ErrBusReset      = errors.New("port: bus reset pending")
	ErrCallbackAbort = errors.New("port: aborted by read callback")
	ErrClosed        = errors.New("port: closed")

	// ErrValidation matches every *firewire.ValidationError.
	ErrValidation = firewire.ErrValidation
	// ErrTimeout is returned when no response arrives within the receive timeout.
	ErrTimeout = transport.ErrTimeout
)

// SizeError reports a block length the protocol cannot carry, or a datagram
// whose size differs from what the transaction expects.
type SizeError struct {
	Op       string
	Expected int // 0 when the size itself is invalid
	Actual   int
}

func (e *SizeError) Error() string {
	if e.Expected == 0 {
		return fmt.Sprintf("port: %s: invalid block size %d (must be a positive multiple of 4)", e.Op, e.Actual)
	}
	return fmt.Sprintf("port: %s: expected %d bytes, got %d", e.Op, e.Expected, e.Actual)
}

// Is reports whether target is ErrSizeMismatch.
func (e *SizeError) Is(target error) bool {
	return target == ErrSizeMismatch
}
