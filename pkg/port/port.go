// Package port is the host side of the Ethernet/FireWire bridge. A Port
// discovers the boards behind the hub, resolves board numbers to FireWire
// nodes and runs one request/response transaction at a time over a
// transport.
//
// A Port is not safe for concurrent use; each one belongs to a single
// goroutine. Only Statistics may be read from elsewhere.
package port

import (
	"fmt"
	"net"
	"time"

	"mechatronics/eth1394-go/pkg/firewire"
	"mechatronics/eth1394-go/pkg/internal/logger"
	"mechatronics/eth1394-go/pkg/topology"
	"mechatronics/eth1394-go/pkg/transport"
)

// Registry is the set of boards the application drives through the port
type Registry interface {
	InUseMask() uint16
	NumBoards() int
	WriteBuffer(id topology.BoardID) *firewire.WriteBuffer
}

// Port runs FireWire transactions over a transport
type Port struct {
	tr     transport.Transport
	boards Registry
	cfg    Config
	log    logger.Logger

	topo      *topology.Map
	validator firewire.Validator
	stats     *Statistics

	tl       uint8
	timeout  time.Duration
	callback ReadCallback

	hubBoard    topology.BoardID
	eth1394     bool
	lastTrailer firewire.Trailer

	sendBuf  []byte
	blockBuf []byte
	quadBuf  []byte
	recvBuf  []byte

	probing bool // empty nodes are expected to time out
	closed  bool
}

// New creates a port on an open transport. No traffic is sent until the
// first operation; call ScanTopology before using board-level operations.
func New(tr transport.Transport, boards Registry, config Config) (*Port, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrConfiguration)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.KnownHardware == nil {
		config.KnownHardware = topology.KnownHardware
	}
	log := config.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	p := &Port{
		tr:       tr,
		boards:   boards,
		cfg:      config,
		log:      log,
		topo:     topology.NewMap(),
		stats:    NewStatistics(),
		timeout:  config.ReceiveTimeout,
		callback: config.ReadCallback,
		hubBoard: topology.NoBoard,
		sendBuf:  make([]byte, firewire.QWriteSize),
		recvBuf:  make([]byte, recvBufSize(firewire.QResponseSize)),
	}
	p.validator = firewire.Validator{
		CheckCRC: config.CheckCRC,
		Logger:   log,
		OnLabelMismatch: func(expected, received uint8) {
			p.stats.LabelMismatch()
		},
	}
	return p, nil
}

// Open opens a UDP transport, creates a port on it and discovers the boards.
// The port is closed again if discovery fails.
func Open(udp transport.UDPConfig, boards Registry, config Config) (*Port, error) {
	if udp.Logger == nil {
		udp.Logger = config.Logger
	}
	tr, err := transport.OpenUDP(udp)
	if err != nil {
		return nil, err
	}
	p, err := New(tr, boards, config)
	if err != nil {
		tr.Close()
		return nil, err
	}
	if _, err := p.ScanTopology(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Close takes the boards out of eth1394 mode when this port put them there
// and closes the transport. It is safe to call more than once.
func (p *Port) Close() error {
	if p.closed {
		return nil
	}
	if p.eth1394 {
		if err := p.WriteQuadletNode(topology.BroadcastNode, topology.RegStatus, topology.Eth1394Off); err != nil {
			p.log.Warn("Port: failed to clear eth1394 mode: %v", err)
		}
		p.eth1394 = false
	}
	p.closed = true
	return p.tr.Close()
}

// Topology returns the board/node map. It is owned by the port.
func (p *Port) Topology() *topology.Map {
	return p.topo
}

// HubBoard returns the board id of the board the host is cabled to, or
// topology.NoBoard before discovery.
func (p *Port) HubBoard() topology.BoardID {
	return p.hubBoard
}

// Statistics returns transaction counters
func (p *Port) Statistics() *Statistics {
	return p.stats
}

// TransportStatistics returns the counters of the underlying transport
func (p *Port) TransportStatistics() transport.Stats {
	return p.tr.Statistics()
}

// LastTrailer returns the FPGA trailer of the latest response when
// ExtraData is enabled.
func (p *Port) LastTrailer() firewire.Trailer {
	return p.lastTrailer
}

// SetReceiveTimeout changes how long each transaction waits for its response
func (p *Port) SetReceiveTimeout(timeout time.Duration) {
	if timeout > 0 {
		p.timeout = timeout
	}
}

// ReceiveTimeout returns the per-transaction receive timeout
func (p *Port) ReceiveTimeout() time.Duration {
	return p.timeout
}

// SetReadCallback installs cb, or removes the callback when cb is nil
func (p *Port) SetReadCallback(cb ReadCallback) {
	p.callback = cb
}

// TransactionLabel returns the label used by the most recent request
func (p *Port) TransactionLabel() uint8 {
	return p.tl
}

// AckBusReset trusts the bus generation reported by the FPGA again without
// rescanning. Use it when the reset is known not to have moved any board.
func (p *Port) AckBusReset() {
	if p.topo.ResetPending() {
		p.log.Info("Port: bus reset acknowledged, generation %d -> %d",
			p.topo.Generation(), p.topo.PendingGeneration())
	}
	p.topo.Acknowledge()
}

// boardIP returns the address written to register 11 during discovery.
func (p *Port) boardIP() net.IP {
	if p.cfg.BoardIP != nil {
		return p.cfg.BoardIP.To4()
	}
	if pi, ok := p.tr.(transport.PeerIPer); ok {
		return pi.PeerIP()
	}
	return nil
}
