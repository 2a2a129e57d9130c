package port

import (
	"encoding/binary"
	"fmt"
	"slices"

	"mechatronics/eth1394-go/pkg/topology"
)

// probeNodes is the number of node addresses probed during discovery. In
// eth1394 mode a node number equals a board id, so higher nodes never answer.
const probeNodes = topology.MaxBoards

// ScanTopology discovers the boards behind the hub and rebuilds the
// board/node map. It tells the hub the host address, checks the hub
// hardware, optionally switches the chain to eth1394 mode, then probes every
// node. Any pending bus reset is acknowledged. It returns the number of
// boards found.
func (p *Port) ScanTopology() (int, error) {
	if p.closed {
		return 0, ErrClosed
	}
	p.topo.Clear()
	p.hubBoard = topology.NoBoard

	ip := p.boardIP()
	if ip == nil {
		return 0, fmt.Errorf("%w: no IPv4 address to give the hub", ErrTopology)
	}
	if err := p.WriteQuadletNode(topology.BroadcastNode, topology.RegIPAddress,
		binary.LittleEndian.Uint32(ip), topology.EthBroadcast); err != nil {
		return 0, fmt.Errorf("%w: write IP address: %w", ErrTopology, err)
	}

	hw, err := p.ReadQuadletNode(topology.BroadcastNode, topology.RegHardware, topology.NoForward)
	if err != nil {
		return 0, fmt.Errorf("%w: read hub hardware version: %w", ErrTopology, err)
	}
	if hw != p.cfg.HubHardware {
		p.log.Error("Port: hub reports hardware %s, expected %s",
			topology.HardwareName(hw), topology.HardwareName(p.cfg.HubHardware))
		return 0, fmt.Errorf("%w: hub hardware %s", ErrTopology, topology.HardwareName(hw))
	}

	status, err := p.ReadQuadletNode(topology.BroadcastNode, topology.RegStatus, topology.NoForward)
	if err != nil {
		return 0, fmt.Errorf("%w: read hub status: %w", ErrTopology, err)
	}
	p.hubBoard = topology.BoardFromStatus(status)
	p.log.Info("Port: hub is board %d", p.hubBoard)

	if p.cfg.BusMaster {
		if err := p.WriteQuadletNode(topology.BroadcastNode, topology.RegStatus, topology.Eth1394On); err != nil {
			return 0, fmt.Errorf("%w: enable eth1394 mode: %w", ErrTopology, err)
		}
		p.eth1394 = true
	}

	p.probing = true
	for node := topology.NodeID(0); node < probeNodes; node++ {
		p.probe(node)
	}
	p.probing = false
	p.topo.Acknowledge()

	n := p.topo.NumBoards()
	if n == 0 {
		p.log.Error("Port: no boards found")
		return 0, fmt.Errorf("%w: no boards found", ErrTopology)
	}
	p.log.Info("Port: found %d board(s): %v", n, p.topo.Boards())
	return n, nil
}

// probe maps the board at node, if there is a known one.
func (p *Port) probe(node topology.NodeID) {
	hw, err := p.ReadQuadletNode(node, topology.RegHardware)
	if err != nil {
		p.log.Debug("Port: node %d: no response", node)
		return
	}
	if !slices.Contains(p.cfg.KnownHardware, hw) {
		p.log.Warn("Port: node %d: unknown hardware %s", node, topology.HardwareName(hw))
		return
	}
	status, err := p.ReadQuadletNode(node, topology.RegStatus)
	if err != nil {
		p.log.Warn("Port: node %d: failed to read status: %v", node, err)
		return
	}
	board := topology.BoardFromStatus(status)
	if other := p.topo.BoardToNode(board); other != topology.NoNode {
		p.log.Error("Port: node %d: board %d already found at node %d", node, board, other)
		return
	}
	if err := p.topo.Assign(board, node); err != nil {
		p.log.Error("Port: node %d: %v", node, err)
		return
	}
	p.log.Info("Port: node %d: board %d (%s)", node, board, topology.HardwareName(hw))
}
