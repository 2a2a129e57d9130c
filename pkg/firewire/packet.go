package firewire

import (
	"encoding/binary"

	"mechatronics/eth1394-go/pkg/crc"
	"mechatronics/eth1394-go/pkg/topology"
)

// Options tweak how a request header is built.
type Options struct {
	NoForward bool
}

// BlockWriteSize returns the wire size of a block write carrying n data bytes.
func BlockWriteSize(n int) int {
	return BWriteHeaderSize + n + CRCSize
}

// BlockResponseSize returns the wire size of a block response carrying n data bytes.
func BlockResponseSize(n int) int {
	return BResponseHeader + n + CRCSize
}

// ValidBlockLength reports whether n can be carried by a block transaction.
func ValidBlockLength(n int) bool {
	return n > 0 && n%QuadletSize == 0 && n <= MaxBlockSize
}

// BuildQuadletRead writes a quadlet read request into buf and returns its length.
func BuildQuadletRead(buf []byte, node topology.NodeID, addr uint64, tl uint8, opt Options) (int, error) {
	if len(buf) < QReadSize {
		return 0, ErrBufferTooSmall
	}
	h := requestHeader(node, addr, TCodeQRead, tl, opt)
	h.Encode(buf)
	crc.Put(buf[12:16], buf[:12])
	return QReadSize, nil
}

// BuildQuadletWrite writes a quadlet write request into buf and returns its length.
func BuildQuadletWrite(buf []byte, node topology.NodeID, addr uint64, data uint32, tl uint8, opt Options) (int, error) {
	if len(buf) < QWriteSize {
		return 0, ErrBufferTooSmall
	}
	h := requestHeader(node, addr, TCodeQWrite, tl, opt)
	h.Encode(buf)
	binary.BigEndian.PutUint32(buf[12:16], data)
	crc.Put(buf[16:20], buf[:16])
	return QWriteSize, nil
}

// BuildBlockRead writes a block read request for n bytes into buf and returns its length.
func BuildBlockRead(buf []byte, node topology.NodeID, addr uint64, n int, tl uint8, opt Options) (int, error) {
	if !ValidBlockLength(n) {
		return 0, ErrBadLength
	}
	if len(buf) < BReadSize {
		return 0, ErrBufferTooSmall
	}
	h := requestHeader(node, addr, TCodeBRead, tl, opt)
	h.Encode(buf)
	binary.BigEndian.PutUint32(buf[12:16], uint32(n)<<16)
	crc.Put(buf[16:20], buf[:16])
	return BReadSize, nil
}

// BuildBlockWrite writes a block write request into buf and returns its length.
//
// When data already sits at the payload offset of buf, as it does for a
// WriteBuffer, the payload copy is skipped.
func BuildBlockWrite(buf []byte, node topology.NodeID, addr uint64, data []byte, tl uint8, opt Options) (int, error) {
	n := len(data)
	if !ValidBlockLength(n) {
		return 0, ErrBadLength
	}
	size := BlockWriteSize(n)
	if len(buf) < size {
		return 0, ErrBufferTooSmall
	}
	h := requestHeader(node, addr, TCodeBWrite, tl, opt)
	h.Encode(buf)
	binary.BigEndian.PutUint32(buf[12:16], uint32(n)<<16)
	crc.Put(buf[16:20], buf[:16])

	payload := buf[BWriteHeaderSize : BWriteHeaderSize+n]
	if !sameStart(payload, data) {
		copy(payload, data)
	}
	crc.Put(buf[BWriteHeaderSize+n:size], payload)
	return size, nil
}

// BuildQuadletResponse writes a quadlet read response from src back to dest.
func BuildQuadletResponse(buf []byte, dest, src topology.NodeID, tl, rcode uint8, data uint32) (int, error) {
	if len(buf) < QResponseSize {
		return 0, ErrBufferTooSmall
	}
	h := responseHeader(dest, src, TCodeQResponse, tl, rcode)
	h.Encode(buf)
	binary.BigEndian.PutUint32(buf[12:16], data)
	crc.Put(buf[16:20], buf[:16])
	return QResponseSize, nil
}

// BuildBlockResponse writes a block read response from src back to dest.
func BuildBlockResponse(buf []byte, dest, src topology.NodeID, tl, rcode uint8, data []byte) (int, error) {
	n := len(data)
	if n%QuadletSize != 0 || n > MaxBlockSize {
		return 0, ErrBadLength
	}
	size := BlockResponseSize(n)
	if len(buf) < size {
		return 0, ErrBufferTooSmall
	}
	h := responseHeader(dest, src, TCodeBResponse, tl, rcode)
	h.Encode(buf)
	binary.BigEndian.PutUint32(buf[12:16], uint32(n)<<16)
	crc.Put(buf[16:20], buf[:16])
	copy(buf[BResponseHeader:], data)
	crc.Put(buf[BResponseHeader+n:size], buf[BResponseHeader:BResponseHeader+n])
	return size, nil
}

// BuildWriteResponse writes the acknowledgement a node returns for a write.
func BuildWriteResponse(buf []byte, dest, src topology.NodeID, tl, rcode uint8) (int, error) {
	if len(buf) < QReadSize {
		return 0, ErrBufferTooSmall
	}
	h := responseHeader(dest, src, TCodeWResponse, tl, rcode)
	h.Encode(buf)
	crc.Put(buf[12:16], buf[:12])
	return QReadSize, nil
}

func responseHeader(dest, src topology.NodeID, tcode TCode, tl, rcode uint8) Header {
	return Header{
		DestBus:  LocalBus,
		DestNode: dest & NodeMask,
		TL:       tl & TLMask,
		TCode:    tcode,
		SrcBus:   LocalBus,
		SrcNode:  src & NodeMask,
		Offset:   uint64(rcode&0x0F) << 44,
	}
}

// Packet is a decoded request or response.
type Packet struct {
	Header Header
	// Quadlet holds the data of quadlet writes and quadlet responses.
	Quadlet uint32
	// Length is the data length field of block packets.
	Length int
	// Data aliases the block payload of block writes and block responses.
	Data []byte
}

// Decode parses a packet and verifies its CRCs. Trailing bytes after the
// tcode specific size, such as the FPGA trailer, are ignored.
func Decode(packet []byte) (*Packet, error) {
	h, err := DecodeHeader(packet)
	if err != nil {
		return nil, err
	}
	p := &Packet{Header: h}

	switch h.TCode {
	case TCodeQRead, TCodeWResponse:
		if len(packet) < QReadSize {
			return nil, ErrShortPacket
		}
		if !crc.Verify(packet[:12], packet[12:16]) {
			return nil, ErrInvalidCRC
		}

	case TCodeQWrite, TCodeQResponse:
		if len(packet) < QWriteSize {
			return nil, ErrShortPacket
		}
		if !crc.Verify(packet[:16], packet[16:20]) {
			return nil, ErrInvalidCRC
		}
		p.Quadlet = binary.BigEndian.Uint32(packet[12:16])

	case TCodeBRead, TCodeBWrite, TCodeBResponse:
		if len(packet) < BReadSize {
			return nil, ErrShortPacket
		}
		if !crc.Verify(packet[:16], packet[16:20]) {
			return nil, ErrInvalidCRC
		}
		p.Length = int(binary.BigEndian.Uint16(packet[12:14]))
		if h.TCode == TCodeBRead {
			break
		}
		size := BlockWriteSize(p.Length)
		if len(packet) < size {
			return nil, ErrShortPacket
		}
		p.Data = packet[BWriteHeaderSize : BWriteHeaderSize+p.Length]
		if !crc.Verify(p.Data, packet[size-CRCSize:size]) {
			return nil, ErrInvalidCRC
		}

	default:
		return nil, ErrUnknownTCode
	}
	return p, nil
}

// Size returns the wire size of the decoded packet, not counting any trailer.
func (p *Packet) Size() int {
	switch p.Header.TCode {
	case TCodeQRead, TCodeWResponse:
		return QReadSize
	case TCodeQWrite, TCodeQResponse, TCodeBRead:
		return QWriteSize
	case TCodeBWrite, TCodeBResponse:
		return BlockWriteSize(p.Length)
	}
	return 0
}

func sameStart(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}
