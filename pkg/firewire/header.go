package firewire

import (
	"encoding/binary"
	"fmt"

	"mechatronics/eth1394-go/pkg/topology"
)

// Header is the three quadlet packet header with each bit field broken out.
type Header struct {
	DestBus  uint16          // 10 bits
	DestNode topology.NodeID // 6 bits
	TL       uint8           // 6 bits
	RT       uint8           // 2 bits
	TCode    TCode           // 4 bits
	Pri      uint8           // 4 bits
	SrcBus   uint16          // 10 bits
	SrcNode  topology.NodeID // 6 bits
	Offset   uint64          // 48 bits; responses carry rcode in bits 47-44
}

// requestHeader fills in the addressing the host uses for every request.
func requestHeader(node topology.NodeID, addr uint64, tcode TCode, tl uint8, opt Options) Header {
	h := Header{
		DestBus:  LocalBus,
		DestNode: node & NodeMask,
		TL:       tl & TLMask,
		TCode:    tcode,
		SrcBus:   LocalBus,
		SrcNode:  topology.NodeID(HostNode),
		Offset:   addr & offsetMask,
	}
	if opt.NoForward {
		h.Pri |= priNoForward
	}
	return h
}

// NoForward reports whether the no-forward bit is set in the priority nibble.
func (h Header) NoForward() bool {
	return h.Pri&priNoForward != 0
}

// RCode returns the response code of a response header.
func (h Header) RCode() uint8 {
	return uint8(h.Offset>>44) & 0x0F
}

// Encode writes the header into the first HeaderSize bytes of buf.
func (h Header) Encode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrBufferTooSmall
	}
	q0 := uint32(h.DestBus&0x3FF)<<22 |
		uint32(h.DestNode&NodeMask)<<16 |
		uint32(h.TL&TLMask)<<10 |
		uint32(h.RT&0x3)<<8 |
		uint32(h.TCode&0xF)<<4 |
		uint32(h.Pri&0xF)
	q1 := uint32(h.SrcBus&0x3FF)<<22 |
		uint32(h.SrcNode&NodeMask)<<16 |
		uint32(h.Offset>>32)&0xFFFF
	binary.BigEndian.PutUint32(buf[0:4], q0)
	binary.BigEndian.PutUint32(buf[4:8], q1)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Offset))
	return nil
}

// DecodeHeader parses the first HeaderSize bytes of packet.
func DecodeHeader(packet []byte) (Header, error) {
	if len(packet) < HeaderSize {
		return Header{}, ErrShortPacket
	}
	q0 := binary.BigEndian.Uint32(packet[0:4])
	q1 := binary.BigEndian.Uint32(packet[4:8])
	q2 := binary.BigEndian.Uint32(packet[8:12])
	return Header{
		DestBus:  uint16(q0 >> 22),
		DestNode: topology.NodeID(q0>>16) & NodeMask,
		TL:       uint8(q0>>10) & TLMask,
		RT:       uint8(q0>>8) & 0x3,
		TCode:    TCode(q0>>4) & 0xF,
		Pri:      uint8(q0) & 0xF,
		SrcBus:   uint16(q1 >> 22),
		SrcNode:  topology.NodeID(q1>>16) & NodeMask,
		Offset:   uint64(q1&0xFFFF)<<32 | uint64(q2),
	}, nil
}

// String returns a string representation of the header
func (h Header) String() string {
	return fmt.Sprintf("Header{TCode=%s, Dest=%03X:%s, Src=%03X:%s, TL=%d, Offset=0x%012X}",
		h.TCode, h.DestBus, h.DestNode, h.SrcBus, h.SrcNode, h.TL, h.Offset)
}
