package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"mechatronics/eth1394-go/pkg/internal/logger"
)

// relayALPN is the application protocol negotiated between client and relay.
const relayALPN = "eth1394-relay"

// Relay frames are [flags (1)][length (2, big-endian)][payload].
const (
	frameHeaderSize = 3
	frameBroadcast  = 0x01
)

// QUICConfig configures a QUIC relay client
type QUICConfig struct {
	Address     string        // Relay "host:port"
	PeerAddress string        // IPv4 address of the hub board behind the relay (optional)
	DialTimeout time.Duration // Handshake timeout (0 = 5s)
	QueueSize   int           // Inbound datagrams buffered before the relay is back-pressured (0 = 64)
	TLSConfig   *tls.Config   // Optional TLS config (if nil, the relay certificate is not verified)
	Logger      logger.Logger
}

// QUIC implements Transport by tunnelling datagrams over one QUIC stream
// to a Relay.
type QUIC struct {
	udp    *net.UDPConn
	conn   *quic.Conn
	stream *quic.Stream
	peerIP net.IP
	log    logger.Logger

	frames  chan []byte
	readErr atomic.Pointer[error]
	writeMu sync.Mutex

	stats counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// DialQUIC connects to a relay and opens the datagram stream
func DialQUIC(config QUICConfig) (*QUIC, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("%w: relay address is required", ErrOpen)
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.QueueSize == 0 {
		config.QueueSize = 64
	}
	log := config.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			NextProtos:         []string{relayALPN},
			InsecureSkipVerify: true, // relay uses a self-signed certificate
		}
	}

	var peerIP net.IP
	if config.PeerAddress != "" {
		if peerIP = net.ParseIP(config.PeerAddress).To4(); peerIP == nil {
			return nil, fmt.Errorf("%w: invalid IPv4 peer address %q", ErrOpen, config.PeerAddress)
		}
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve relay address %s: %v", ErrOpen, config.Address, err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create UDP socket: %v", ErrOpen, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dialCtx, dialCancel := context.WithTimeout(ctx, config.DialTimeout)
	defer dialCancel()

	conn, err := quic.Dial(dialCtx, udpConn, remoteAddr, tlsConfig, quicConfig())
	if err != nil {
		cancel()
		udpConn.Close()
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrOpen, config.Address, err)
	}
	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		cancel()
		conn.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return nil, fmt.Errorf("%w: failed to open stream: %v", ErrOpen, err)
	}

	q := &QUIC{
		udp:    udpConn,
		conn:   conn,
		stream: stream,
		peerIP: peerIP,
		log:    log,
		frames: make(chan []byte, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	q.wg.Add(1)
	go q.readLoop()

	log.Info("QUIC: connected to relay %s", conn.RemoteAddr())
	return q, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 5 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

// readLoop moves frames from the stream into the receive queue until the
// stream fails or the transport is closed.
func (q *QUIC) readLoop() {
	defer q.wg.Done()
	defer close(q.frames)

	for {
		_, payload, err := readFrame(q.stream)
		if err != nil {
			if !q.closed.Load() {
				q.stats.readErrors.Add(1)
				q.log.Warn("QUIC: relay stream failed: %v", err)
			}
			q.readErr.Store(&err)
			return
		}
		select {
		case q.frames <- payload:
		case <-q.ctx.Done():
			return
		}
	}
}

// Send implements Transport.Send
func (q *QUIC) Send(p []byte, broadcast bool) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	var flags byte
	if broadcast {
		flags |= frameBroadcast
	}

	q.writeMu.Lock()
	err := writeFrame(q.stream, flags, p)
	q.writeMu.Unlock()
	if err != nil {
		q.stats.writeErrors.Add(1)
		return 0, fmt.Errorf("transport: relay send: %w", err)
	}
	q.stats.sent(len(p), broadcast)
	logger.Packet(q.log, "QUIC TX", p)
	return len(p), nil
}

// Recv implements Transport.Recv. A non-positive timeout polls once.
func (q *QUIC) Recv(buf []byte, timeout time.Duration) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}

	var (
		payload []byte
		ok      bool
	)
	if timeout <= 0 {
		select {
		case payload, ok = <-q.frames:
		default:
			q.stats.timeouts.Add(1)
			return 0, ErrTimeout
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case payload, ok = <-q.frames:
		case <-timer.C:
			q.stats.timeouts.Add(1)
			return 0, ErrTimeout
		}
	}

	if !ok {
		if errp := q.readErr.Load(); errp != nil && !q.closed.Load() {
			return 0, fmt.Errorf("transport: relay receive: %w", *errp)
		}
		return 0, ErrClosed
	}
	n := copy(buf, payload)
	if n < len(payload) {
		q.stats.readErrors.Add(1)
		q.log.Warn("QUIC: %d byte datagram truncated to %d bytes", len(payload), n)
		return n, fmt.Errorf("%w: %d byte datagram, %d byte buffer", ErrTruncated, len(payload), n)
	}
	q.stats.received(n)
	logger.Packet(q.log, "QUIC RX", buf[:n])
	return n, nil
}

// FlushRecv implements Transport.FlushRecv. Only datagrams that already
// reached this host are dropped; anything still in flight from the relay
// arrives later.
func (q *QUIC) FlushRecv() int {
	count := 0
	for {
		select {
		case _, ok := <-q.frames:
			if !ok {
				return q.flushed(count)
			}
			count++
		default:
			return q.flushed(count)
		}
	}
}

func (q *QUIC) flushed(count int) int {
	if count > 0 {
		q.stats.flushed.Add(uint64(count))
		q.log.Debug("QUIC: flushed %d stale datagram(s)", count)
	}
	return count
}

// Close implements Transport.Close
func (q *QUIC) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	q.cancel()
	q.stream.Close()
	err := q.conn.CloseWithError(0, "transport closed")
	q.wg.Wait()
	q.udp.Close()
	return err
}

// Statistics implements Transport.Statistics
func (q *QUIC) Statistics() Stats {
	return q.stats.snapshot()
}

// PeerIP returns the configured hub board address, or nil if none was given
func (q *QUIC) PeerIP() net.IP {
	return q.peerIP
}

func writeFrame(w io.Writer, flags byte, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = flags
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint16(header[1:3]))
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return header[0], payload, nil
}

// generateTLSConfig generates a self-signed certificate for the relay
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{relayALPN},
	}, nil
}
