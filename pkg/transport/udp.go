package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"mechatronics/eth1394-go/pkg/internal/logger"
)

// DefaultPort is the UDP port the FPGA firmware listens on.
const DefaultPort = 1394

// UDPConfig configures a UDP transport
type UDPConfig struct {
	PeerAddress      string // IPv4 address of the hub board
	Port             int    // UDP port on the board (0 = DefaultPort)
	BroadcastAddress string // Subnet broadcast address ("" = derived from PeerAddress)
	LocalAddress     string // Local bind address ("" = any address, ephemeral port)
	Logger           logger.Logger
}

// DefaultUDPConfig returns the settings used by the board firmware out of the box
func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		PeerAddress: "169.254.0.100",
		Port:        DefaultPort,
	}
}

// UDP implements Transport over a single UDP socket
type UDP struct {
	conn      *net.UDPConn
	peer      *net.UDPAddr
	broadcast *net.UDPAddr
	log       logger.Logger

	scratch []byte // FlushRecv only

	stats  counters
	closed atomic.Bool
}

// OpenUDP opens a UDP socket with broadcast enabled and resolves the peer and
// broadcast addresses. Failures wrap ErrOpen.
func OpenUDP(config UDPConfig) (*UDP, error) {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	log := config.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	peerIP := net.ParseIP(config.PeerAddress).To4()
	if peerIP == nil {
		return nil, fmt.Errorf("%w: invalid IPv4 peer address %q", ErrOpen, config.PeerAddress)
	}

	bcastIP := BroadcastAddress(peerIP)
	if config.BroadcastAddress != "" {
		bcastIP = net.ParseIP(config.BroadcastAddress).To4()
		if bcastIP == nil {
			return nil, fmt.Errorf("%w: invalid IPv4 broadcast address %q", ErrOpen, config.BroadcastAddress)
		}
	}

	local := config.LocalAddress
	if local == "" {
		local = ":0"
	}
	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(context.Background(), "udp4", local)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %v", ErrOpen, local, err)
	}

	u := &UDP{
		conn:      pc.(*net.UDPConn),
		peer:      &net.UDPAddr{IP: peerIP, Port: config.Port},
		broadcast: &net.UDPAddr{IP: bcastIP, Port: config.Port},
		log:       log,
	}
	log.Info("UDP: peer %s, broadcast %s, local %s", u.peer, u.broadcast, u.conn.LocalAddr())
	return u, nil
}

// BroadcastAddress derives the subnet broadcast address of ip from its
// address class: class A gets /8, class B /16, class C /24 and anything above
// the limited broadcast 255.255.255.255.
func BroadcastAddress(ip net.IP) net.IP {
	ip4 := ip.To4()
	if ip4 == nil {
		return net.IPv4bcast
	}
	b := make(net.IP, net.IPv4len)
	copy(b, ip4)
	switch first := ip4[0]; {
	case first < 128:
		b[1], b[2], b[3] = 0xFF, 0xFF, 0xFF
	case first < 192:
		b[2], b[3] = 0xFF, 0xFF
	case first < 224:
		b[3] = 0xFF
	default:
		return net.IPv4(255, 255, 255, 255).To4()
	}
	return b
}

// Send implements Transport.Send
func (u *UDP) Send(p []byte, broadcast bool) (int, error) {
	if u.closed.Load() {
		return 0, ErrClosed
	}
	dst := u.peer
	if broadcast {
		dst = u.broadcast
	}
	n, err := u.conn.WriteToUDP(p, dst)
	if err != nil {
		u.stats.writeErrors.Add(1)
		return n, fmt.Errorf("transport: send to %s: %w", dst, err)
	}
	if n != len(p) {
		u.stats.writeErrors.Add(1)
		u.log.Warn("UDP: short send to %s: %d of %d bytes", dst, n, len(p))
	}
	u.stats.sent(n, broadcast)
	logger.Packet(u.log, "UDP TX", p[:n])
	return n, nil
}

// Recv implements Transport.Recv. A non-positive timeout polls once.
func (u *UDP) Recv(buf []byte, timeout time.Duration) (int, error) {
	if u.closed.Load() {
		return 0, ErrClosed
	}
	if timeout <= 0 {
		n, ok, err := recvNow(u.conn, buf)
		if err != nil {
			u.stats.readErrors.Add(1)
			return 0, fmt.Errorf("transport: receive: %w", err)
		}
		if !ok {
			u.stats.timeouts.Add(1)
			return 0, ErrTimeout
		}
		u.stats.received(n)
		logger.Packet(u.log, "UDP RX", buf[:n])
		return n, nil
	}

	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("transport: set deadline: %w", err)
	}
	n, _, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			u.stats.timeouts.Add(1)
			return 0, ErrTimeout
		}
		if u.closed.Load() {
			return 0, ErrClosed
		}
		u.stats.readErrors.Add(1)
		return 0, fmt.Errorf("transport: receive: %w", err)
	}
	u.stats.received(n)
	logger.Packet(u.log, "UDP RX", buf[:n])
	return n, nil
}

// FlushRecv implements Transport.FlushRecv
func (u *UDP) FlushRecv() int {
	if u.closed.Load() {
		return 0
	}
	if u.scratch == nil {
		u.scratch = make([]byte, MaxDatagram)
	}
	count := 0
	for {
		_, ok, err := recvNow(u.conn, u.scratch)
		if err != nil || !ok {
			break
		}
		count++
	}
	if count > 0 {
		u.stats.flushed.Add(uint64(count))
		u.log.Debug("UDP: flushed %d stale datagram(s)", count)
	}
	return count
}

// Close implements Transport.Close
func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}

// Statistics implements Transport.Statistics
func (u *UDP) Statistics() Stats {
	return u.stats.snapshot()
}

// PeerIP returns the IPv4 address of the hub board
func (u *UDP) PeerIP() net.IP {
	return u.peer.IP
}

// BroadcastAddr returns the address broadcast datagrams are sent to
func (u *UDP) BroadcastAddr() *net.UDPAddr {
	return u.broadcast
}

// LocalAddr returns the local address of the socket
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// String returns a short description of the transport
func (u *UDP) String() string {
	return "udp://" + net.JoinHostPort(u.peer.IP.String(), strconv.Itoa(u.peer.Port))
}
