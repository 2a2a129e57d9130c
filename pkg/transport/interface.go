// Package transport moves raw FireWire packets between the host and the board
// chain. UDP talks to the hub board directly; the QUIC relay tunnels the same
// datagrams to a relay process that sits on the board network.
package transport

import (
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// Transport is a datagram transport to the hub board.
//
// A Transport is used by one port at a time; only Statistics and Close may be
// called concurrently with the other methods.
type Transport interface {
	// Send transmits one datagram to the peer, or to the subnet broadcast
	// address when broadcast is set. It returns the number of bytes sent.
	// Short writes are reported through the count and never retried.
	Send(p []byte, broadcast bool) (int, error)

	// Recv waits up to timeout for one datagram and copies it into buf.
	// It returns ErrTimeout when nothing arrived in time.
	Recv(buf []byte, timeout time.Duration) (int, error)

	// FlushRecv discards every datagram already queued without blocking and
	// returns how many were dropped.
	FlushRecv() int

	// Close releases the transport. It is safe to call more than once.
	Close() error

	// Statistics returns transport-level counters
	Statistics() Stats
}

// PeerIPer is implemented by transports that know the IPv4 address of the
// hub board they talk to.
type PeerIPer interface {
	PeerIP() net.IP
}

// Stats provides transport-level statistics
type Stats struct {
	BytesSent       uint64 // Total bytes sent
	BytesReceived   uint64 // Total bytes received
	PacketsSent     uint64 // Datagrams sent
	PacketsReceived uint64 // Datagrams received
	Broadcasts      uint64 // Datagrams sent to the broadcast address
	Flushed         uint64 // Stale datagrams dropped by FlushRecv
	Timeouts        uint64 // Recv calls that timed out
	WriteErrors     uint64 // Failed or short sends
	ReadErrors      uint64 // Failed receives
}

// Errors
var (
	ErrTimeout = errors.New("transport: receive timeout")
	ErrOpen    = errors.New("transport: open failed")
	ErrClosed  = errors.New("transport: closed")

	// ErrTruncated is returned when a datagram does not fit the receive buffer.
	ErrTruncated = errors.New("transport: datagram truncated")
)

// MaxDatagram is the largest datagram exchanged with the boards, the IPv4
// UDP payload limit.
const MaxDatagram = 65507

// counters backs Stats for every transport in this package.
type counters struct {
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	broadcasts      atomic.Uint64
	flushed         atomic.Uint64
	timeouts        atomic.Uint64
	writeErrors     atomic.Uint64
	readErrors      atomic.Uint64
}

func (c *counters) sent(n int, broadcast bool) {
	c.bytesSent.Add(uint64(n))
	c.packetsSent.Add(1)
	if broadcast {
		c.broadcasts.Add(1)
	}
}

func (c *counters) received(n int) {
	c.bytesReceived.Add(uint64(n))
	c.packetsReceived.Add(1)
}

func (c *counters) snapshot() Stats {
	return Stats{
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		Broadcasts:      c.broadcasts.Load(),
		Flushed:         c.flushed.Load(),
		Timeouts:        c.timeouts.Load(),
		WriteErrors:     c.writeErrors.Load(),
		ReadErrors:      c.readErrors.Load(),
	}
}
