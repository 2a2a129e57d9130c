// Package topology maps board numbers onto FireWire node ids and tracks the
// bus generation reported by the FPGA.
package topology

import (
	"fmt"
)

// BoardID identifies a physical board by the number set on its rotary switch.
type BoardID uint8

// NodeID is a FireWire node address on the local bus.
type NodeID uint8

const (
	// MaxBoards is the number of board slots. As a BoardID it means "no board".
	MaxBoards = 16
	// MaxNodes is the number of node addresses. As a NodeID it means "not found".
	MaxNodes = 64

	NoBoard BoardID = MaxBoards
	NoNode  NodeID  = MaxNodes

	// BroadcastNode addresses every node on the bus.
	BroadcastNode NodeID = 0x3F
	// BroadcastBoard is the board id that resolves to BroadcastNode.
	BroadcastBoard BoardID = 0x3F

	nodeMask = 0x3F
)

// Valid reports whether id refers to a board slot.
func (id BoardID) Valid() bool {
	return id < MaxBoards
}

func (id BoardID) String() string {
	switch {
	case id == BroadcastBoard:
		return "broadcast"
	case id.Valid():
		return fmt.Sprintf("%d", uint8(id))
	default:
		return "none"
	}
}

// Valid reports whether n is an addressable node, including the broadcast node.
func (n NodeID) Valid() bool {
	return n < MaxNodes
}

func (n NodeID) String() string {
	switch {
	case n == BroadcastNode:
		return "broadcast"
	case n.Valid():
		return fmt.Sprintf("%d", uint8(n))
	default:
		return "none"
	}
}

// Flags modify how a request to a board is delivered.
type Flags uint8

const (
	// NoForward asks the hub board not to forward the request onto the FireWire bus.
	NoForward Flags = 0x80
	// EthBroadcast sends the datagram to the subnet broadcast address instead of the peer.
	EthBroadcast Flags = 0x40

	flagsMask = NoForward | EthBroadcast
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

func (f Flags) String() string {
	switch f & flagsMask {
	case 0:
		return "none"
	case NoForward:
		return "no-forward"
	case EthBroadcast:
		return "eth-broadcast"
	default:
		return "no-forward|eth-broadcast"
	}
}

// SplitBoardByte separates the legacy 8-bit board carrier into a board id and flags.
func SplitBoardByte(b uint8) (BoardID, Flags) {
	return BoardID(b & nodeMask), Flags(b) & flagsMask
}

// JoinBoardByte folds flags into the upper bits of the legacy 8-bit board carrier.
func JoinBoardByte(id BoardID, f Flags) uint8 {
	return uint8(id)&nodeMask | uint8(f&flagsMask)
}
