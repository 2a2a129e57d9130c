package port

import (
	"encoding/binary"
	"errors"
	"fmt"

	"mechatronics/eth1394-go/pkg/firewire"
	"mechatronics/eth1394-go/pkg/topology"
	"mechatronics/eth1394-go/pkg/transport"
)

func joinFlags(flags []topology.Flags) topology.Flags {
	var f topology.Flags
	for _, x := range flags {
		f |= x
	}
	return f
}

func options(f topology.Flags) firewire.Options {
	return firewire.Options{NoForward: f.Has(topology.NoForward)}
}

// checkBlockSize rejects block lengths the protocol cannot carry.
func checkBlockSize(op string, n int) error {
	if !firewire.ValidBlockLength(n) {
		return &SizeError{Op: op, Actual: n}
	}
	return nil
}

// gate refuses board-level traffic while a bus reset is unacknowledged,
// since board numbers may no longer map to the same nodes.
func (p *Port) gate(op string) error {
	if p.closed {
		return ErrClosed
	}
	if p.topo.ResetPending() {
		p.log.Warn("%s: bus generation mismatch (FPGA %d, host %d), rescan or acknowledge the reset",
			op, p.topo.PendingGeneration(), p.topo.Generation())
		return fmt.Errorf("%s: %w", op, ErrBusReset)
	}
	return nil
}

func (p *Port) resolve(op string, board topology.BoardID) (topology.NodeID, error) {
	node := p.topo.BoardToNode(board)
	if node == topology.NoNode {
		p.log.Error("%s: board %d does not exist", op, board)
		return node, fmt.Errorf("%s: board %d: %w", op, board, ErrBoardNotFound)
	}
	return node, nil
}

// begin drops stale datagrams and advances the transaction label.
func (p *Port) begin() uint8 {
	if n := p.tr.FlushRecv(); n > 0 {
		p.stats.Flushed(n)
		p.log.Debug("Port: dropped %d stale datagram(s)", n)
	}
	p.tl = (p.tl + 1) & firewire.TLMask
	return p.tl
}

func (p *Port) send(op string, pkt []byte, f topology.Flags) error {
	n, err := p.tr.Send(pkt, f.Has(topology.EthBroadcast))
	if err != nil {
		p.log.Error("%s: send failed: %v", op, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if n != len(pkt) {
		p.stats.SizeError()
		return &SizeError{Op: op + " send", Expected: len(pkt), Actual: n}
	}
	return nil
}

func (p *Port) runCallback(op string, node topology.NodeID) error {
	if p.callback == nil || p.callback(node) {
		return nil
	}
	p.stats.CallbackAbort()
	return fmt.Errorf("%s: node %d: %w", op, node, ErrCallbackAbort)
}

// receive waits for the response of a transaction and validates it. The
// returned slice aliases the receive buffer and excludes any trailer.
func (p *Port) receive(op string, size int, node topology.NodeID, tcode firewire.TCode, tl uint8, length int) ([]byte, error) {
	expected := size
	if p.cfg.ExtraData {
		expected += firewire.TrailerSize
	}
	if want := recvBufSize(size); len(p.recvBuf) < want {
		p.recvBuf = make([]byte, want)
	}

	n, err := p.tr.Recv(p.recvBuf, p.timeout)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			p.stats.Timeout()
			if !p.probing {
				p.log.Warn("%s: no response from node %d within %v", op, node, p.timeout)
			}
			return nil, fmt.Errorf("%s: node %d: %w", op, node, ErrTimeout)
		}
		p.log.Error("%s: receive failed: %v", op, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if n != expected {
		p.stats.SizeError()
		p.log.Warn("%s: received %d bytes, expected %d", op, n, expected)
		return nil, &SizeError{Op: op + " receive", Expected: expected, Actual: n}
	}

	pkt := p.recvBuf[:n]
	if err := p.validator.Check(pkt, length, node, tcode, tl); err != nil {
		p.stats.ValidationError()
		p.log.Warn("%s: %v", op, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if p.cfg.ExtraData {
		p.processTrailer(pkt[size:])
	}
	return pkt[:size], nil
}

// recvBufSize returns the receive buffer needed for a response of size bytes.
// It leaves room for a trailer plus one quadlet, so a longer datagram shows up
// as a size mismatch instead of being cut to the expected length.
func recvBufSize(size int) int {
	return size + firewire.TrailerSize + firewire.QuadletSize
}

func (p *Port) processTrailer(b []byte) {
	tr, err := firewire.DecodeTrailer(b)
	if err != nil {
		return
	}
	p.lastTrailer = tr
	seen := p.topo.ResetPending() && p.topo.PendingGeneration() == tr.Generation
	if p.topo.Observe(tr.Generation) && !seen {
		p.stats.BusReset()
		p.log.Warn("Port: FireWire bus reset, FPGA generation %d, host %d", tr.Generation, p.topo.Generation())
	}
}

// ReadQuadletNode reads one quadlet from a node. Node-level operations skip
// the bus reset gate; they are what discovery is built on.
func (p *Port) ReadQuadletNode(node topology.NodeID, addr uint64, flags ...topology.Flags) (uint32, error) {
	const op = "ReadQuadlet"
	if p.closed {
		return 0, ErrClosed
	}
	f := joinFlags(flags)
	tl := p.begin()
	n, err := firewire.BuildQuadletRead(p.sendBuf, node, addr, tl, options(f))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := p.send(op, p.sendBuf[:n], f); err != nil {
		return 0, err
	}
	if err := p.runCallback(op, node); err != nil {
		return 0, err
	}
	pkt, err := p.receive(op, firewire.QResponseSize, node, firewire.TCodeQResponse, tl, 0)
	if err != nil {
		return 0, err
	}
	p.stats.Read()
	return binary.BigEndian.Uint32(pkt[12:16]), nil
}

// WriteQuadletNode writes one quadlet to a node. Writes are not acknowledged.
func (p *Port) WriteQuadletNode(node topology.NodeID, addr uint64, data uint32, flags ...topology.Flags) error {
	const op = "WriteQuadlet"
	if p.closed {
		return ErrClosed
	}
	f := joinFlags(flags)
	tl := p.begin()
	n, err := firewire.BuildQuadletWrite(p.sendBuf, node, addr, data, tl, options(f))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.send(op, p.sendBuf[:n], f); err != nil {
		return err
	}
	p.stats.Write()
	return nil
}

// ReadBlockNode reads len(buf) bytes from the board at node
func (p *Port) ReadBlockNode(node topology.NodeID, addr uint64, buf []byte, flags ...topology.Flags) error {
	board, err := p.nodeBoard("ReadBlock", node)
	if err != nil {
		return err
	}
	return p.ReadBlock(board, addr, buf, flags...)
}

// WriteBlockNode writes data to the board at node
func (p *Port) WriteBlockNode(node topology.NodeID, addr uint64, data []byte, flags ...topology.Flags) error {
	board, err := p.nodeBoard("WriteBlock", node)
	if err != nil {
		return err
	}
	return p.WriteBlock(board, addr, data, flags...)
}

func (p *Port) nodeBoard(op string, node topology.NodeID) (topology.BoardID, error) {
	if node == topology.BroadcastNode {
		return topology.BroadcastBoard, nil
	}
	board := p.topo.NodeToBoard(node)
	if board == topology.NoBoard {
		p.log.Error("%s: no board at node %d", op, node)
		return board, fmt.Errorf("%s: node %d: %w", op, node, ErrBoardNotFound)
	}
	return board, nil
}

// ReadQuadlet reads one quadlet from a board
func (p *Port) ReadQuadlet(board topology.BoardID, addr uint64, flags ...topology.Flags) (uint32, error) {
	const op = "ReadQuadlet"
	if err := p.gate(op); err != nil {
		return 0, err
	}
	node, err := p.resolve(op, board)
	if err != nil {
		return 0, err
	}
	return p.ReadQuadletNode(node, addr, flags...)
}

// WriteQuadlet writes one quadlet to a board. Writes to
// topology.BroadcastBoard are allowed while a bus reset is pending.
func (p *Port) WriteQuadlet(board topology.BoardID, addr uint64, data uint32, flags ...topology.Flags) error {
	const op = "WriteQuadlet"
	if board != topology.BroadcastBoard {
		if err := p.gate(op); err != nil {
			return err
		}
	}
	node, err := p.resolve(op, board)
	if err != nil {
		return err
	}
	return p.WriteQuadletNode(node, addr, data, flags...)
}

// ReadBlock reads len(buf) bytes from a board. The length must be a positive
// multiple of 4; a single quadlet goes out as a quadlet read. buf is only
// written when the whole transaction succeeds.
func (p *Port) ReadBlock(board topology.BoardID, addr uint64, buf []byte, flags ...topology.Flags) error {
	const op = "ReadBlock"
	nbytes := len(buf)
	if err := checkBlockSize(op, nbytes); err != nil {
		return err
	}
	if nbytes == firewire.QuadletSize {
		v, err := p.ReadQuadlet(board, addr, flags...)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(buf, v)
		return nil
	}
	if err := p.gate(op); err != nil {
		return err
	}
	node, err := p.resolve(op, board)
	if err != nil {
		return err
	}

	f := joinFlags(flags)
	tl := p.begin()
	n, err := firewire.BuildBlockRead(p.sendBuf, node, addr, nbytes, tl, options(f))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.send(op, p.sendBuf[:n], f); err != nil {
		return err
	}
	if err := p.runCallback(op, node); err != nil {
		return err
	}
	pkt, err := p.receive(op, firewire.BlockResponseSize(nbytes), node, firewire.TCodeBResponse, tl, nbytes)
	if err != nil {
		return err
	}
	copy(buf, pkt[firewire.BResponseHeader:firewire.BResponseHeader+nbytes])
	p.stats.Read()
	return nil
}

// WriteBlock writes data to a board. The length must be a positive multiple
// of 4; a single quadlet goes out as a quadlet write. When data is the Data
// slice of the board's write buffer the payload is sent in place.
func (p *Port) WriteBlock(board topology.BoardID, addr uint64, data []byte, flags ...topology.Flags) error {
	const op = "WriteBlock"
	nbytes := len(data)
	if err := checkBlockSize(op, nbytes); err != nil {
		return err
	}
	if nbytes == firewire.QuadletSize {
		return p.WriteQuadlet(board, addr, binary.BigEndian.Uint32(data), flags...)
	}
	if board != topology.BroadcastBoard {
		if err := p.gate(op); err != nil {
			return err
		}
	} else if p.closed {
		return ErrClosed
	}
	node, err := p.resolve(op, board)
	if err != nil {
		return err
	}

	f := joinFlags(flags)
	tl := p.begin()
	pkt := p.blockPacket(board, data)
	n, err := firewire.BuildBlockWrite(pkt, node, addr, data, tl, options(f))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.send(op, pkt[:n], f); err != nil {
		return err
	}
	p.stats.Write()
	return nil
}

// blockPacket returns the buffer a block write of data is built in: the
// board's own write buffer when data already lives there, otherwise a
// scratch buffer owned by the port.
func (p *Port) blockPacket(board topology.BoardID, data []byte) []byte {
	if p.boards != nil && board.Valid() {
		if wb := p.boards.WriteBuffer(board); wb != nil && wb.Holds(data) {
			return wb.Packet()
		}
	}
	size := firewire.BlockWriteSize(len(data))
	if cap(p.blockBuf) < size {
		p.blockBuf = make([]byte, size)
	}
	return p.blockBuf[:size]
}
