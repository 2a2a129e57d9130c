// Package crc implements the CRC-32 convention used by the FPGA board firmware.
//
// The FPGA computes the usual CRC-32 polynomial but feeds every byte most
// significant bit first and presents the register unreflected. In software
// this is the reflected table walk over bit-reversed input bytes, followed by
// a full 32-bit bit reversal of the result. The value differs from the
// CRC-32 used for Ethernet framing (hash/crc32.IEEE).
package crc

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
)

// Size is the number of bytes a CRC occupies on the wire.
const Size = 4

var (
	table    = crc32.MakeTable(crc32.IEEE)
	reverse8 [256]byte
)

func init() {
	for i := range reverse8 {
		reverse8[i] = bits.Reverse8(uint8(i))
	}
}

// BitReverse32 reverses the bit order of a 32-bit word.
func BitReverse32(x uint32) uint32 {
	return bits.Reverse32(x)
}

// CRC32 continues a CRC computation from seed over data, bit-reversing each
// input byte before the table lookup. The result is still in reflected form;
// use Checksum for the value carried in packets.
func CRC32(seed uint32, data []byte) uint32 {
	c := ^seed
	for _, b := range data {
		c = table[byte(c)^reverse8[b]] ^ (c >> 8)
	}
	return ^c
}

// Checksum returns the CRC of data as the FPGA expects to find it in a packet.
func Checksum(data []byte) uint32 {
	return BitReverse32(CRC32(0, data))
}

// Put writes the checksum of data big-endian into dst[0:4].
func Put(dst []byte, data []byte) {
	binary.BigEndian.PutUint32(dst[:Size], Checksum(data))
}

// Verify reports whether the 4 bytes in sum hold the checksum of data.
func Verify(data []byte, sum []byte) bool {
	if len(sum) < Size {
		return false
	}
	return binary.BigEndian.Uint32(sum) == Checksum(data)
}
