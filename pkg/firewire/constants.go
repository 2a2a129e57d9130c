// Package firewire encodes and validates the IEEE-1394 style packets that the
// FPGA boards exchange with the host over Ethernet.
//
// Every request starts with the same three quadlet header:
//
//	Quadlet 0: | Destination bus (10) | Destination node (6) | TL (6) | RT (2) | TCODE (4) | PRI (4) |
//	Quadlet 1: | Source bus (10)      | Source node (6)      | Destination offset MSW (16)           |
//	Quadlet 2: | Destination offset LSW (32)                                                         |
//
// followed by a tcode specific tail:
//
//	Quadlet read:   | Header CRC |
//	Quadlet write:  | Data | Header CRC |
//	Block read:     | Data length (16) | Extended tcode (16) | Header CRC |
//	Block write:    | Data length (16) | Extended tcode (16) | Header CRC | Data (N) | Data CRC |
//
// Responses mirror the request shapes. All fields are big-endian on the wire.
package firewire

import "errors"

// TCode is the transaction code in bits 7-4 of the first header quadlet.
type TCode uint8

const (
	TCodeQWrite    TCode = 0
	TCodeBWrite    TCode = 1
	TCodeWResponse TCode = 2
	TCodeQRead     TCode = 4
	TCodeBRead     TCode = 5
	TCodeQResponse TCode = 6
	TCodeBResponse TCode = 7
)

// String returns string representation of TCode
func (c TCode) String() string {
	switch c {
	case TCodeQWrite:
		return "qwrite"
	case TCodeBWrite:
		return "bwrite"
	case TCodeWResponse:
		return "wresponse"
	case TCodeQRead:
		return "qread"
	case TCodeBRead:
		return "bread"
	case TCodeQResponse:
		return "qresponse"
	case TCodeBResponse:
		return "bresponse"
	default:
		return "unknown"
	}
}

// Packet sizes in bytes
const (
	QuadletSize = 4
	CRCSize     = 4
	HeaderSize  = 12 // three quadlets shared by all requests

	QReadSize        = 16
	QWriteSize       = 20
	BReadSize        = 20
	BWriteHeaderSize = 20 // header, length and header CRC; data follows
	QResponseSize    = 20
	BResponseHeader  = 20

	// TrailerSize is the FPGA status block some firmware appends to responses.
	TrailerSize = 8

	// MaxUDPPayload is the largest datagram an IPv4 UDP socket can carry.
	MaxUDPPayload = 65507

	// MaxBlockSize is the largest whole number of quadlets whose block
	// response, trailer included, still fits in one UDP datagram.
	MaxBlockSize = (MaxUDPPayload - BResponseHeader - CRCSize - TrailerSize) &^ (QuadletSize - 1)
)

// Addressing
const (
	// LocalBus is the bus number meaning "this bus".
	LocalBus uint16 = 0x3FF
	// HostNode is the source node used by the host (source id 0xFFD0).
	HostNode uint8 = 0x10

	NodeMask = 0x3F
	TLMask   = 0x3F

	// priNoForward in the priority nibble tells the hub board to consume the
	// request itself instead of forwarding it onto the FireWire bus.
	priNoForward uint8 = 0x1

	offsetMask = 0xFFFFFFFFFFFF
)

// Errors
var (
	ErrBufferTooSmall = errors.New("firewire: buffer too small")
	ErrBadLength      = errors.New("firewire: block length must be a positive multiple of 4")
	ErrShortPacket    = errors.New("firewire: packet too short")
	ErrInvalidCRC     = errors.New("firewire: invalid CRC")
	ErrUnknownTCode   = errors.New("firewire: unsupported tcode")
	ErrValidation     = errors.New("firewire: response validation failed")
)
