package firewire

// WriteBuffer is a block write packet with room for n payload bytes. Callers
// fill Data in place and pass it to a block write, which then only has to
// write the header and the CRCs around it.
type WriteBuffer struct {
	packet []byte
	n      int
}

// NewWriteBuffer allocates a packet buffer for a payload of up to n bytes.
func NewWriteBuffer(n int) *WriteBuffer {
	if n < 0 {
		n = 0
	}
	return &WriteBuffer{
		packet: make([]byte, BlockWriteSize(n)),
		n:      n,
	}
}

// Data returns the payload region of the packet.
func (w *WriteBuffer) Data() []byte {
	return w.packet[BWriteHeaderSize : BWriteHeaderSize+w.n]
}

// Capacity returns the payload capacity in bytes.
func (w *WriteBuffer) Capacity() int {
	return w.n
}

// Packet returns the whole packet buffer, header and trailing CRC included.
func (w *WriteBuffer) Packet() []byte {
	return w.packet
}

// Holds reports whether data starts at the payload offset of the buffer and
// fits in it, so a block write can skip the copy.
func (w *WriteBuffer) Holds(data []byte) bool {
	return len(data) <= w.n && sameStart(w.Data(), data)
}
