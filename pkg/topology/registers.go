package topology

import "fmt"

// Hardware version strings reported by register 4 of each board
const (
	HardwareQLA1 uint32 = 0x514C4131 // "QLA1"
	HardwareDRA1 uint32 = 0x64524131 // "dRA1"
	HardwareDQLA uint32 = 0x44514C41 // "DQLA"
)

// KnownHardware lists the board types discovery accepts
var KnownHardware = []uint32{HardwareQLA1, HardwareDRA1, HardwareDQLA}

// HardwareName returns the four character tag of a hardware version
func HardwareName(v uint32) string {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return fmt.Sprintf("0x%08X", v)
		}
	}
	return string(b)
}

// Board registers used by discovery and the broadcast read protocol
const (
	RegStatus        uint64 = 0
	RegHardware      uint64 = 4
	RegFirmware      uint64 = 7
	RegIPAddress     uint64 = 11
	RegBroadcastRead uint64 = 0x1800
)

const (
	// StatusBoardIDMask selects the rotary switch board id in the status register.
	StatusBoardIDMask  uint32 = 0x0F000000
	StatusBoardIDShift        = 24

	// Eth1394On makes every board use its board id as node number.
	Eth1394On uint32 = 0x00C00000
	// Eth1394Off returns node numbering to the FireWire bus.
	Eth1394Off uint32 = 0x00800000
)

// BoardFromStatus extracts the board id from a status register value
func BoardFromStatus(status uint32) BoardID {
	return BoardID((status & StatusBoardIDMask) >> StatusBoardIDShift)
}
