// Package emulator simulates a chain of FPGA boards behind one Ethernet hub.
// It answers the same packets the real firmware does, which lets the port be
// exercised without hardware.
package emulator

import (
	"encoding/binary"
	"fmt"
	"sync"

	"mechatronics/eth1394-go/pkg/firewire"
	"mechatronics/eth1394-go/pkg/internal/logger"
	"mechatronics/eth1394-go/pkg/topology"
)

// statusEth1394 is reported in the status register while eth1394 mode is on.
const statusEth1394 = 0x00400000

// BoardConfig describes one simulated board
type BoardConfig struct {
	ID       topology.BoardID
	Hardware uint32 // 0 = topology.HardwareQLA1
	Firmware uint32 // 0 = 7
}

// Config configures an Emulator
type Config struct {
	Boards    []BoardConfig // Chain order; the first board is the Ethernet hub
	ExtraData bool          // Append the FPGA trailer to every response
	Logger    logger.Logger
}

// Board is one simulated board
type Board struct {
	ID       topology.BoardID
	Hardware uint32
	Firmware uint32
	regs     map[uint64]uint32
}

func (b *Board) read(addr uint64, eth1394 bool) uint32 {
	switch addr {
	case topology.RegStatus:
		v := uint32(b.ID)<<topology.StatusBoardIDShift | b.regs[topology.RegStatus]&^topology.StatusBoardIDMask
		if eth1394 {
			v |= statusEth1394
		}
		return v
	case topology.RegHardware:
		return b.Hardware
	case topology.RegFirmware:
		return b.Firmware
	}
	return b.regs[addr]
}

// Emulator is a simulated board chain. It is safe for concurrent use.
type Emulator struct {
	mu     sync.Mutex
	boards []*Board
	extra  bool
	log    logger.Logger

	eth1394    bool
	generation uint8
	resetFlag  bool

	tamper func([]byte)
	drop   int

	requests uint64
}

// New creates an emulator with the given chain
func New(config Config) (*Emulator, error) {
	log := config.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	e := &Emulator{extra: config.ExtraData, log: log}
	for _, bc := range config.Boards {
		if err := e.addBoard(bc); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Emulator) addBoard(bc BoardConfig) error {
	if !bc.ID.Valid() {
		return fmt.Errorf("emulator: board id %d out of range", bc.ID)
	}
	for _, b := range e.boards {
		if b.ID == bc.ID {
			return fmt.Errorf("emulator: duplicate board id %d", bc.ID)
		}
	}
	if len(e.boards) >= int(topology.BroadcastNode) {
		return fmt.Errorf("emulator: chain is full")
	}
	if bc.Hardware == 0 {
		bc.Hardware = topology.HardwareQLA1
	}
	if bc.Firmware == 0 {
		bc.Firmware = 7
	}
	e.boards = append(e.boards, &Board{
		ID:       bc.ID,
		Hardware: bc.Hardware,
		Firmware: bc.Firmware,
		regs:     make(map[uint64]uint32),
	})
	return nil
}

// AddBoard appends a board to the end of the chain. Like plugging in a cable
// on real hardware, it causes a bus reset.
func (e *Emulator) AddBoard(bc BoardConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.addBoard(bc); err != nil {
		return err
	}
	e.busReset()
	return nil
}

// RemoveBoard takes a board off the chain and resets the bus
func (e *Emulator) RemoveBoard(id topology.BoardID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, b := range e.boards {
		if b.ID == id {
			e.boards = append(e.boards[:i], e.boards[i+1:]...)
			e.busReset()
			return
		}
	}
}

// BusReset simulates a FireWire bus reset: the bus generation advances and,
// outside eth1394 mode, nodes are renumbered by chain position.
func (e *Emulator) BusReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busReset()
}

func (e *Emulator) busReset() {
	e.generation++
	e.resetFlag = true
	e.log.Debug("Emulator: bus reset, generation %d", e.generation)
}

// Generation returns the current bus generation
func (e *Emulator) Generation() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Eth1394 reports whether the boards number their nodes by board id
func (e *Emulator) Eth1394() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eth1394
}

// HostIP returns the value last written to the IP address register of the hub
func (e *Emulator) HostIP() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.boards) == 0 {
		return 0
	}
	return e.boards[0].regs[topology.RegIPAddress]
}

// Register returns a register of a board as the host would read it
func (e *Emulator) Register(id topology.BoardID, addr uint64) (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.boards {
		if b.ID == id {
			return b.read(addr, e.eth1394), true
		}
	}
	return 0, false
}

// SetRegister sets a register of a board
func (e *Emulator) SetRegister(id topology.BoardID, addr uint64, value uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.boards {
		if b.ID == id {
			b.regs[addr] = value
			return true
		}
	}
	return false
}

// Tamper installs fn to modify the next response before it is sent
func (e *Emulator) Tamper(fn func([]byte)) {
	e.mu.Lock()
	e.tamper = fn
	e.mu.Unlock()
}

// Drop discards the next n responses
func (e *Emulator) Drop(n int) {
	e.mu.Lock()
	e.drop = n
	e.mu.Unlock()
}

// Requests returns the number of valid requests handled
func (e *Emulator) Requests() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

// nodeOf returns the node number of the board at chain position i.
func (e *Emulator) nodeOf(i int) topology.NodeID {
	if e.eth1394 {
		return topology.NodeID(e.boards[i].ID)
	}
	return topology.NodeID(i)
}

func (e *Emulator) boardAt(node topology.NodeID) (*Board, bool) {
	for i, b := range e.boards {
		if e.nodeOf(i) == node {
			return b, true
		}
	}
	return nil, false
}

// Handle processes one request datagram and returns the response datagrams.
// broadcast tells whether the datagram arrived on the subnet broadcast
// address; the hub treats it like a unicast one.
func (e *Emulator) Handle(datagram []byte, broadcast bool) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := firewire.Decode(datagram)
	if err != nil {
		e.log.Warn("Emulator: dropping request: %v", err)
		return nil
	}
	h := p.Header
	e.requests++
	if len(e.boards) == 0 {
		return nil
	}

	var targets []*Board
	var src topology.NodeID
	switch {
	case h.DestNode == topology.BroadcastNode && h.NoForward():
		targets, src = e.boards[:1], e.nodeOf(0)
	case h.DestNode == topology.BroadcastNode:
		targets, src = e.boards, e.nodeOf(0)
	default:
		b, ok := e.boardAt(h.DestNode)
		if !ok {
			e.log.Debug("Emulator: no board at node %d", h.DestNode)
			return nil
		}
		targets, src = []*Board{b}, h.DestNode
	}

	var resp []byte
	switch h.TCode {
	case firewire.TCodeQWrite:
		for _, b := range targets {
			e.writeQuadlet(b, h.Offset, p.Quadlet)
		}
	case firewire.TCodeBWrite:
		for _, b := range targets {
			for i := 0; i+4 <= len(p.Data); i += 4 {
				b.regs[h.Offset+uint64(i/4)] = binary.BigEndian.Uint32(p.Data[i:])
			}
		}
	case firewire.TCodeQRead:
		resp = make([]byte, firewire.QResponseSize+firewire.TrailerSize)
		n, _ := firewire.BuildQuadletResponse(resp, h.SrcNode, src, h.TL, 0, targets[0].read(h.Offset, e.eth1394))
		resp = resp[:n]
	case firewire.TCodeBRead:
		data := make([]byte, p.Length)
		for i := 0; i+4 <= len(data); i += 4 {
			binary.BigEndian.PutUint32(data[i:], targets[0].read(h.Offset+uint64(i/4), e.eth1394))
		}
		resp = make([]byte, firewire.BlockResponseSize(p.Length)+firewire.TrailerSize)
		n, _ := firewire.BuildBlockResponse(resp, h.SrcNode, src, h.TL, 0, data)
		resp = resp[:n]
	default:
		e.log.Warn("Emulator: unexpected %s request", h.TCode)
		return nil
	}
	if resp == nil {
		return nil
	}
	return e.finish(resp)
}

func (e *Emulator) writeQuadlet(b *Board, addr uint64, value uint32) {
	if addr == topology.RegStatus {
		switch value {
		case topology.Eth1394On:
			if !e.eth1394 {
				e.eth1394 = true
				e.log.Debug("Emulator: eth1394 mode on")
			}
		case topology.Eth1394Off:
			if e.eth1394 {
				e.eth1394 = false
				e.log.Debug("Emulator: eth1394 mode off")
			}
		default:
			b.regs[topology.RegStatus] = value &^ topology.StatusBoardIDMask
		}
		return
	}
	b.regs[addr] = value
}

// finish appends the trailer and applies the drop and tamper hooks.
func (e *Emulator) finish(resp []byte) [][]byte {
	if e.extra {
		tr := firewire.Trailer{
			BusReset:   e.resetFlag,
			Generation: e.generation,
			RecvTime:   246,  // 5 us
			TotalTime:  1229, // 25 us
		}
		trailer := make([]byte, firewire.TrailerSize)
		tr.Encode(trailer)
		resp = append(resp, trailer...)
		e.resetFlag = false
	}
	if e.drop > 0 {
		e.drop--
		return nil
	}
	if e.tamper != nil {
		e.tamper(resp)
		e.tamper = nil
	}
	return [][]byte{resp}
}
