// Package board keeps track of the boards an application drives through a
// port, together with the block write buffer each one owns.
package board

import (
	"fmt"
	"sync"

	"mechatronics/eth1394-go/pkg/firewire"
	"mechatronics/eth1394-go/pkg/topology"
)

// Board is a board the application has registered for use
type Board struct {
	ID          topology.BoardID
	WriteBuffer *firewire.WriteBuffer
}

// Registry records which boards are in use. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	boards [topology.MaxBoards]*Board
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add marks id as in use and allocates a write buffer holding up to
// writeNumBytes payload bytes. Adding a board twice replaces its buffer.
func (r *Registry) Add(id topology.BoardID, writeNumBytes int) (*Board, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("board %d out of range", id)
	}
	if writeNumBytes < 0 || writeNumBytes%firewire.QuadletSize != 0 || writeNumBytes > firewire.MaxBlockSize {
		return nil, fmt.Errorf("board %d: write buffer of %d bytes is not a whole number of quadlets", id, writeNumBytes)
	}

	b := &Board{
		ID:          id,
		WriteBuffer: firewire.NewWriteBuffer(writeNumBytes),
	}
	r.mu.Lock()
	r.boards[id] = b
	r.mu.Unlock()
	return b, nil
}

// Remove releases id. Removing an unused board is a no-op.
func (r *Registry) Remove(id topology.BoardID) {
	if !id.Valid() {
		return
	}
	r.mu.Lock()
	r.boards[id] = nil
	r.mu.Unlock()
}

// Get returns the registered board, or nil
func (r *Registry) Get(id topology.BoardID) *Board {
	if !id.Valid() {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.boards[id]
}

// InUse reports whether id is registered
func (r *Registry) InUse(id topology.BoardID) bool {
	return r.Get(id) != nil
}

// InUseMask returns a bit per registered board, bit n for board n
func (r *Registry) InUseMask() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var mask uint16
	for i, b := range r.boards {
		if b != nil {
			mask |= 1 << i
		}
	}
	return mask
}

// NumBoards returns the number of registered boards
func (r *Registry) NumBoards() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.boards {
		if b != nil {
			n++
		}
	}
	return n
}

// WriteBuffer returns the block write buffer of id, or nil if the board is
// not registered.
func (r *Registry) WriteBuffer(id topology.BoardID) *firewire.WriteBuffer {
	if b := r.Get(id); b != nil {
		return b.WriteBuffer
	}
	return nil
}
