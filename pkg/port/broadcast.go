package port

import (
	"time"

	"mechatronics/eth1394-go/pkg/topology"
)

// WriteBroadcastReadRequest asks every board to publish its status block for
// the broadcast read protocol. seq tags the request and the low 16 bits carry
// the mask of boards in use.
func (p *Port) WriteBroadcastReadRequest(seq uint16) error {
	var mask uint16
	if p.boards != nil {
		mask = p.boards.InUseMask()
	}
	return p.WriteQuadlet(topology.BroadcastBoard, topology.RegBroadcastRead, uint32(seq)<<16|uint32(mask))
}

// BroadcastWait returns how long the boards need to answer a broadcast read
// request: 10 us plus 5 us per board.
func (p *Port) BroadcastWait() time.Duration {
	n := 0
	if p.boards != nil {
		n = p.boards.NumBoards()
	}
	return 10*time.Microsecond + time.Duration(n)*5*time.Microsecond
}

// WaitBroadcastRead sleeps for BroadcastWait
func (p *Port) WaitBroadcastRead() {
	time.Sleep(p.BroadcastWait())
}
