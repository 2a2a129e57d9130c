package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"mechatronics/eth1394-go/pkg/internal/logger"
)

// RelayConfig configures a relay server
type RelayConfig struct {
	Listen    string      // QUIC listen "host:port"
	UDP       UDPConfig   // Board network side
	TLSConfig *tls.Config // Optional TLS config (if nil, a self-signed certificate is generated)
	Logger    logger.Logger
}

// Relay forwards datagrams between one QUIC client at a time and the board
// network.
type Relay struct {
	listener *quic.Listener
	quicConn *net.UDPConn
	udp      *UDP
	log      logger.Logger

	closeOnce sync.Once
}

// relayPoll bounds how long the board-side pump blocks before it rechecks
// whether the client went away.
const relayPoll = 50 * time.Millisecond

// NewRelay opens the board-side UDP socket and starts listening for clients
func NewRelay(config RelayConfig) (*Relay, error) {
	log := config.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	if config.UDP.Logger == nil {
		config.UDP.Logger = log
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", config.Listen)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve UDP address %s: %v", ErrOpen, config.Listen, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %v", ErrOpen, config.Listen, err)
	}
	listener, err := quic.Listen(udpConn, tlsConfig, quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("%w: failed to create QUIC listener: %v", ErrOpen, err)
	}

	boards, err := OpenUDP(config.UDP)
	if err != nil {
		listener.Close()
		udpConn.Close()
		return nil, err
	}

	log.Info("Relay: listening on %s, forwarding to %s", listener.Addr(), boards)
	return &Relay{
		listener: listener,
		quicConn: udpConn,
		udp:      boards,
		log:      log,
	}, nil
}

// Addr returns the address the relay accepts clients on
func (r *Relay) Addr() net.Addr {
	return r.listener.Addr()
}

// Serve accepts clients one at a time until ctx is cancelled or the relay
// is closed.
func (r *Relay) Serve(ctx context.Context) error {
	for {
		conn, err := r.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("relay: accept: %w", err)
		}
		r.log.Info("Relay: client %s connected", conn.RemoteAddr())
		err = r.serveConn(ctx, conn)
		r.log.Info("Relay: client %s disconnected: %v", conn.RemoteAddr(), err)
	}
}

// serveConn pumps frames in both directions until either side fails.
func (r *Relay) serveConn(ctx context.Context, conn *quic.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the connection unblocks both pumps.
	go func() {
		<-connCtx.Done()
		conn.CloseWithError(0, "relay done")
	}()

	stream, err := conn.AcceptStream(connCtx)
	if err != nil {
		return err
	}
	defer stream.Close()

	// Datagrams left over from a previous client are not for this one.
	r.udp.FlushRecv()

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		buf := make([]byte, MaxDatagram)
		for connCtx.Err() == nil {
			n, err := r.udp.Recv(buf, relayPoll)
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if err != nil {
				r.log.Error("Relay: board receive failed: %v", err)
				return
			}
			writeMu.Lock()
			err = writeFrame(stream, 0, buf[:n])
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	for {
		flags, payload, err := readFrame(stream)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		if _, err := r.udp.Send(payload, flags&frameBroadcast != 0); err != nil {
			r.log.Warn("Relay: board send failed: %v", err)
		}
	}
}

// Statistics returns the counters of the board-side UDP socket
func (r *Relay) Statistics() Stats {
	return r.udp.Statistics()
}

// Close stops accepting clients and releases both sockets
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.listener.Close()
		r.quicConn.Close()
		r.udp.Close()
	})
	return err
}
