package port

import (
	"fmt"
	"net"
	"time"

	"mechatronics/eth1394-go/pkg/internal/logger"
	"mechatronics/eth1394-go/pkg/topology"
)

// ReadCallback runs after a read request is sent and before its response is
// awaited. Returning false aborts the read with ErrCallbackAbort.
type ReadCallback func(node topology.NodeID) bool

// Config configures a port
type Config struct {
	// Timing
	ReceiveTimeout time.Duration // Time to wait for each response

	// Behavior
	CheckCRC  bool // Verify response CRCs (hardware already drops corrupt packets)
	BusMaster bool // Put the boards in eth1394 mode during discovery and clear it on Close
	ExtraData bool // Responses carry the FPGA trailer

	// Discovery
	HubHardware   uint32   // Hardware version the hub board must report
	KnownHardware []uint32 // Hardware versions accepted while probing nodes
	BoardIP       net.IP   // Written to register 11; nil uses the transport peer address

	ReadCallback ReadCallback
	Logger       logger.Logger
}

// DefaultConfig returns the settings matching the board firmware defaults
func DefaultConfig() Config {
	return Config{
		ReceiveTimeout: 10 * time.Millisecond,
		BusMaster:      true,
		HubHardware:    topology.HardwareQLA1,
		KnownHardware:  topology.KnownHardware,
	}
}

// Validate checks the configuration for values the port cannot work with
func (c Config) Validate() error {
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("%w: receive timeout must be positive, got %v", ErrConfiguration, c.ReceiveTimeout)
	}
	if c.HubHardware == 0 {
		return fmt.Errorf("%w: hub hardware version is required", ErrConfiguration)
	}
	if c.BoardIP != nil && c.BoardIP.To4() == nil {
		return fmt.Errorf("%w: board IP %s is not IPv4", ErrConfiguration, c.BoardIP)
	}
	return nil
}
