//go:build unix

package transport

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// enableBroadcast sets SO_BROADCAST before the socket is bound.
func enableBroadcast(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// recvNow reads one queued datagram without waiting. ok is false when the
// socket queue is empty.
func recvNow(conn *net.UDPConn, buf []byte) (n int, ok bool, err error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return 0, false, err
	}
	var rerr error
	err = rc.Read(func(fd uintptr) bool {
		n, _, rerr = unix.Recvfrom(int(fd), buf, unix.MSG_DONTWAIT)
		// Returning true stops the runtime from parking on readiness.
		return true
	})
	if err != nil {
		return 0, false, err
	}
	switch rerr {
	case nil:
		return n, true, nil
	case unix.EAGAIN, unix.EINTR:
		return 0, false, nil
	default:
		return 0, false, rerr
	}
}
