package emulator

import (
	"context"
	"errors"
	"net"
	"time"

	"mechatronics/eth1394-go/pkg/transport"
)

// servePoll bounds how long ServeUDP blocks before rechecking ctx.
const servePoll = 100 * time.Millisecond

// ServeUDP answers requests arriving on conn until ctx is cancelled.
// Responses go back to the sender of each request.
func (e *Emulator) ServeUDP(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, transport.MaxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(servePoll))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, resp := range e.Handle(buf[:n], false) {
			if _, err := conn.WriteToUDP(resp, from); err != nil {
				e.log.Warn("Emulator: reply to %s failed: %v", from, err)
			}
		}
	}
}
