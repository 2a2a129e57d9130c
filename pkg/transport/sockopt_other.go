//go:build !unix

package transport

import (
	"errors"
	"net"
	"syscall"
	"time"
)

// enableBroadcast is a no-op; the runtime already sets SO_BROADCAST on
// datagram sockets on these platforms.
func enableBroadcast(network, address string, c syscall.RawConn) error {
	return nil
}

// pollWindow is how long recvNow waits when the platform offers no
// non-blocking receive.
const pollWindow = 100 * time.Microsecond

func recvNow(conn *net.UDPConn, buf []byte) (int, bool, error) {
	if err := conn.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
		return 0, false, err
	}
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}
