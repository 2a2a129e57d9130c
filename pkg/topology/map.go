package topology

import "fmt"

// Map is the bidirectional board/node table plus the host's view of the bus
// generation. The zero value is not ready; use NewMap.
//
// Map is not safe for concurrent use; it is owned by a single port.
type Map struct {
	node2board [MaxNodes]BoardID
	board2node [MaxBoards]NodeID

	generation    uint8
	newGeneration uint8
	resetPending  bool
}

// NewMap returns an empty map with every entry unmapped.
func NewMap() *Map {
	m := &Map{}
	m.Clear()
	return m
}

// Clear removes every mapping. The bus generation is kept.
func (m *Map) Clear() {
	for i := range m.node2board {
		m.node2board[i] = NoBoard
	}
	for i := range m.board2node {
		m.board2node[i] = NoNode
	}
}

// Assign maps board to node, dropping any previous mapping of either side.
func (m *Map) Assign(board BoardID, node NodeID) error {
	if !board.Valid() {
		return fmt.Errorf("board %d out of range", board)
	}
	if !node.Valid() || node == BroadcastNode {
		return fmt.Errorf("node %d out of range", node)
	}

	if old := m.board2node[board]; old != NoNode {
		m.node2board[old] = NoBoard
	}
	if old := m.node2board[node]; old != NoBoard {
		m.board2node[old] = NoNode
	}
	m.board2node[board] = node
	m.node2board[node] = board
	return nil
}

// BoardToNode resolves a board id to its current node. BroadcastBoard resolves
// to BroadcastNode; unmapped or out of range boards resolve to NoNode.
func (m *Map) BoardToNode(board BoardID) NodeID {
	if board == BroadcastBoard {
		return BroadcastNode
	}
	if !board.Valid() {
		return NoNode
	}
	return m.board2node[board]
}

// NodeToBoard resolves a node to the board living there, or NoBoard.
func (m *Map) NodeToBoard(node NodeID) BoardID {
	if !node.Valid() {
		return NoBoard
	}
	return m.node2board[node]
}

// Boards returns the mapped boards in ascending board order.
func (m *Map) Boards() []BoardID {
	var boards []BoardID
	for b, n := range m.board2node {
		if n != NoNode {
			boards = append(boards, BoardID(b))
		}
	}
	return boards
}

// NumBoards returns the number of mapped boards.
func (m *Map) NumBoards() int {
	count := 0
	for _, n := range m.board2node {
		if n != NoNode {
			count++
		}
	}
	return count
}

// Consistent checks that both tables are inverse of each other.
func (m *Map) Consistent() bool {
	for n, b := range m.node2board {
		if b == NoBoard {
			continue
		}
		if !b.Valid() || m.board2node[b] != NodeID(n) {
			return false
		}
	}
	for b, n := range m.board2node {
		if n == NoNode {
			continue
		}
		if !n.Valid() || m.node2board[n] != BoardID(b) {
			return false
		}
	}
	return true
}

// Generation returns the bus generation the host currently trusts.
func (m *Map) Generation() uint8 {
	return m.generation
}

// PendingGeneration returns the most recent generation reported by the FPGA.
func (m *Map) PendingGeneration() uint8 {
	return m.newGeneration
}

// Observe records the bus generation carried by an inbound packet. It returns
// true when the value differs from the trusted generation, which raises the
// reset-pending flag until Acknowledge is called.
func (m *Map) Observe(gen uint8) bool {
	if gen == m.generation {
		return false
	}
	m.newGeneration = gen
	m.resetPending = true
	return true
}

// ResetPending reports whether a bus reset was seen and not yet acknowledged.
func (m *Map) ResetPending() bool {
	return m.resetPending
}

// Acknowledge trusts the latest observed generation and clears the reset flag.
func (m *Map) Acknowledge() {
	if m.resetPending {
		m.generation = m.newGeneration
	}
	m.newGeneration = m.generation
	m.resetPending = false
}
