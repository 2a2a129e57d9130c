package port

import (
	"encoding/binary"

	"mechatronics/eth1394-go/pkg/firewire"
	"mechatronics/eth1394-go/pkg/topology"
)

// ReadBlockQuadlets reads len(out) consecutive quadlets from a board and
// stores them in host order.
func (p *Port) ReadBlockQuadlets(board topology.BoardID, addr uint64, out []uint32, flags ...topology.Flags) error {
	buf := p.quadletScratch(len(out))
	if err := p.ReadBlock(board, addr, buf, flags...); err != nil {
		return err
	}
	for i := range out {
		out[i] = binary.BigEndian.Uint32(buf[i*firewire.QuadletSize:])
	}
	return nil
}

// WriteBlockQuadlets writes data as consecutive big-endian quadlets
func (p *Port) WriteBlockQuadlets(board topology.BoardID, addr uint64, data []uint32, flags ...topology.Flags) error {
	buf := p.quadletScratch(len(data))
	for i, q := range data {
		binary.BigEndian.PutUint32(buf[i*firewire.QuadletSize:], q)
	}
	return p.WriteBlock(board, addr, buf, flags...)
}

func (p *Port) quadletScratch(n int) []byte {
	size := n * firewire.QuadletSize
	if cap(p.quadBuf) < size {
		p.quadBuf = make([]byte, size)
	}
	return p.quadBuf[:size]
}
