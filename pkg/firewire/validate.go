package firewire

import (
	"encoding/binary"
	"fmt"

	"mechatronics/eth1394-go/pkg/crc"
	"mechatronics/eth1394-go/pkg/internal/logger"
	"mechatronics/eth1394-go/pkg/topology"
)

// ValidationError describes the first response field that did not match the
// request. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field    string
	Expected uint64
	Received uint64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("firewire: unexpected %s: received = %d, expected = %d", e.Field, e.Received, e.Expected)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validator checks inbound responses against the request that caused them.
type Validator struct {
	// CheckCRC enables verification of the response CRCs. Hardware already
	// drops corrupt packets so this is off by default.
	CheckCRC bool

	Logger logger.Logger

	// OnLabelMismatch, if set, is called when the transaction label differs.
	// A label mismatch is not an error.
	OnLabelMismatch func(expected, received uint8)
}

// Check validates the response in packet. node is the node the request was
// sent to; BroadcastNode accepts a response from any node. length is the block
// length requested and is only compared for block responses.
func (v *Validator) Check(packet []byte, length int, node topology.NodeID, tcode TCode, tl uint8) error {
	if len(packet) < QResponseSize {
		return ErrShortPacket
	}

	if v.CheckCRC {
		if err := checkResponseCRC(packet, tcode); err != nil {
			return err
		}
	}

	if got := TCode(packet[3] >> 4); got != tcode {
		return &ValidationError{Field: "tcode", Expected: uint64(tcode), Received: uint64(got)}
	}

	if src := topology.NodeID(packet[5] & NodeMask); node != topology.BroadcastNode && src != node {
		return &ValidationError{Field: "source node", Expected: uint64(node), Received: uint64(src)}
	}

	if tcode == TCodeBResponse {
		if got := int(binary.BigEndian.Uint16(packet[12:14])); got != length {
			return &ValidationError{Field: "block length", Expected: uint64(length), Received: uint64(got)}
		}
	}

	if got := packet[2] >> 2; got != tl&TLMask {
		if v.Logger != nil {
			v.Logger.Warn("Firewire: transaction label mismatch: received = %d, expected = %d", got, tl&TLMask)
		}
		if v.OnLabelMismatch != nil {
			v.OnLabelMismatch(tl&TLMask, got)
		}
	}
	return nil
}

func checkResponseCRC(packet []byte, tcode TCode) error {
	if !crc.Verify(packet[:16], packet[16:20]) {
		return fmt.Errorf("%w: header", ErrInvalidCRC)
	}
	if tcode != TCodeBResponse {
		return nil
	}
	n := int(binary.BigEndian.Uint16(packet[12:14]))
	size := BlockResponseSize(n)
	if len(packet) < size {
		return ErrShortPacket
	}
	if !crc.Verify(packet[BResponseHeader:BResponseHeader+n], packet[size-CRCSize:size]) {
		return fmt.Errorf("%w: data", ErrInvalidCRC)
	}
	return nil
}
