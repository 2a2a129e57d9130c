package emulator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mechatronics/eth1394-go/pkg/transport"
)

var _ transport.Transport = (*Link)(nil)

// Link is an in-memory transport.Transport wired straight to an Emulator.
type Link struct {
	emu *Emulator

	mu     sync.Mutex
	queue  [][]byte
	ready  chan struct{}
	closed atomic.Bool

	stats struct {
		bytesSent, bytesReceived     atomic.Uint64
		packetsSent, packetsReceived atomic.Uint64
		broadcasts, flushed          atomic.Uint64
		timeouts                     atomic.Uint64
	}
}

// NewLink connects a new in-memory transport to e
func NewLink(e *Emulator) *Link {
	return &Link{emu: e, ready: make(chan struct{}, 1)}
}

// Send implements transport.Transport.Send
func (l *Link) Send(p []byte, broadcast bool) (int, error) {
	if l.closed.Load() {
		return 0, transport.ErrClosed
	}
	l.stats.bytesSent.Add(uint64(len(p)))
	l.stats.packetsSent.Add(1)
	if broadcast {
		l.stats.broadcasts.Add(1)
	}
	for _, resp := range l.emu.Handle(append([]byte(nil), p...), broadcast) {
		l.Inject(resp)
	}
	return len(p), nil
}

// Inject queues a datagram as if a board had sent it
func (l *Link) Inject(datagram []byte) {
	l.mu.Lock()
	l.queue = append(l.queue, datagram)
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *Link) pop() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	d := l.queue[0]
	l.queue = l.queue[1:]
	return d, true
}

// Recv implements transport.Transport.Recv
func (l *Link) Recv(buf []byte, timeout time.Duration) (int, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		if l.closed.Load() {
			return 0, transport.ErrClosed
		}
		if d, ok := l.pop(); ok {
			n := copy(buf, d)
			if n < len(d) {
				return n, fmt.Errorf("%w: %d byte datagram, %d byte buffer", transport.ErrTruncated, len(d), n)
			}
			l.stats.bytesReceived.Add(uint64(n))
			l.stats.packetsReceived.Add(1)
			return n, nil
		}
		if deadline == nil {
			l.stats.timeouts.Add(1)
			return 0, transport.ErrTimeout
		}
		select {
		case <-l.ready:
		case <-deadline:
			l.stats.timeouts.Add(1)
			return 0, transport.ErrTimeout
		}
	}
}

// FlushRecv implements transport.Transport.FlushRecv
func (l *Link) FlushRecv() int {
	l.mu.Lock()
	n := len(l.queue)
	l.queue = nil
	l.mu.Unlock()
	l.stats.flushed.Add(uint64(n))
	return n
}

// Close implements transport.Transport.Close
func (l *Link) Close() error {
	l.closed.Store(true)
	return nil
}

// Statistics implements transport.Transport.Statistics
func (l *Link) Statistics() transport.Stats {
	return transport.Stats{
		BytesSent:       l.stats.bytesSent.Load(),
		BytesReceived:   l.stats.bytesReceived.Load(),
		PacketsSent:     l.stats.packetsSent.Load(),
		PacketsReceived: l.stats.packetsReceived.Load(),
		Broadcasts:      l.stats.broadcasts.Load(),
		Flushed:         l.stats.flushed.Load(),
		Timeouts:        l.stats.timeouts.Load(),
	}
}
