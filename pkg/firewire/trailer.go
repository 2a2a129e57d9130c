package firewire

import (
	"encoding/binary"
	"time"
)

const (
	trailerBusReset      = 0x01
	trailerPacketDropped = 0x02

	// fpgaClock is the FPGA timestamp tick rate (49.152 MHz).
	fpgaClock = 49152000
)

// Trailer is the FPGA status block that follows a response on the wire.
//
//	Byte 0:    flags (bit 0 bus reset, bit 1 packet dropped)
//	Byte 1:    bus generation
//	Bytes 2-3: receive time in FPGA clocks
//	Bytes 4-5: total transaction time in FPGA clocks
//	Bytes 6-7: reserved
type Trailer struct {
	BusReset      bool
	PacketDropped bool
	Generation    uint8
	RecvTime      uint16
	TotalTime     uint16
}

// DecodeTrailer parses the trailer in the first TrailerSize bytes of b.
func DecodeTrailer(b []byte) (Trailer, error) {
	if len(b) < TrailerSize {
		return Trailer{}, ErrShortPacket
	}
	return Trailer{
		BusReset:      b[0]&trailerBusReset != 0,
		PacketDropped: b[0]&trailerPacketDropped != 0,
		Generation:    b[1],
		RecvTime:      binary.BigEndian.Uint16(b[2:4]),
		TotalTime:     binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

// Encode writes the trailer into the first TrailerSize bytes of b.
func (t Trailer) Encode(b []byte) error {
	if len(b) < TrailerSize {
		return ErrBufferTooSmall
	}
	var flags byte
	if t.BusReset {
		flags |= trailerBusReset
	}
	if t.PacketDropped {
		flags |= trailerPacketDropped
	}
	b[0] = flags
	b[1] = t.Generation
	binary.BigEndian.PutUint16(b[2:4], t.RecvTime)
	binary.BigEndian.PutUint16(b[4:6], t.TotalTime)
	b[6], b[7] = 0, 0
	return nil
}

// RecvDuration converts RecvTime to wall time.
func (t Trailer) RecvDuration() time.Duration {
	return ticks(t.RecvTime)
}

// TotalDuration converts TotalTime to wall time.
func (t Trailer) TotalDuration() time.Duration {
	return ticks(t.TotalTime)
}

func ticks(n uint16) time.Duration {
	return time.Duration(uint64(n) * uint64(time.Second) / fpgaClock)
}

// SplitTrailer returns the trailer that follows a packet of size bytes, if the
// datagram is exactly TrailerSize bytes longer.
func SplitTrailer(datagram []byte, size int) (Trailer, bool) {
	if len(datagram) != size+TrailerSize {
		return Trailer{}, false
	}
	t, err := DecodeTrailer(datagram[size:])
	return t, err == nil
}
