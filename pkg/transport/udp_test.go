package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"mechatronics/eth1394-go/pkg/internal/logger"
)

// newBoardSocket opens a loopback socket standing in for the hub board
func newBoardSocket(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func openLoopback(t *testing.T, board *net.UDPConn, broadcast string) *UDP {
	t.Helper()
	u, err := OpenUDP(UDPConfig{
		PeerAddress:      "127.0.0.1",
		Port:             board.LocalAddr().(*net.UDPAddr).Port,
		BroadcastAddress: broadcast,
		LocalAddress:     "127.0.0.1:0",
		Logger:           logger.NewNoOpLogger(),
	})
	if err != nil {
		t.Fatalf("OpenUDP() error = %v", err)
	}
	t.Cleanup(func() { u.Close() })
	return u
}

func TestBroadcastAddress(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"192.168.1.50", "192.168.1.255"},
		{"10.0.0.5", "10.255.255.255"},
		{"169.254.0.100", "169.254.255.255"},
		{"127.0.0.1", "127.255.255.255"},
		{"224.0.0.1", "255.255.255.255"},
		{"250.1.2.3", "255.255.255.255"},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			got := BroadcastAddress(net.ParseIP(tt.ip))
			if !got.Equal(net.ParseIP(tt.want)) {
				t.Errorf("BroadcastAddress(%s) = %s, want %s", tt.ip, got, tt.want)
			}
		})
	}
}

func TestOpenUDP_InvalidAddress(t *testing.T) {
	tests := []struct {
		name   string
		config UDPConfig
	}{
		{"empty peer", UDPConfig{}},
		{"hostname", UDPConfig{PeerAddress: "fpga.local"}},
		{"ipv6 peer", UDPConfig{PeerAddress: "::1"}},
		{"bad broadcast", UDPConfig{PeerAddress: "10.0.0.1", BroadcastAddress: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Logger = logger.NewNoOpLogger()
			if _, err := OpenUDP(tt.config); !errors.Is(err, ErrOpen) {
				t.Errorf("OpenUDP() error = %v, want ErrOpen", err)
			}
		})
	}
}

func TestUDP_SendRecv(t *testing.T) {
	board := newBoardSocket(t)
	u := openLoopback(t, board, "")

	request := []byte{0xFF, 0xC0, 0x00, 0x40, 0xFF, 0xD0, 0x00, 0x00}
	n, err := u.Send(request, false)
	if err != nil || n != len(request) {
		t.Fatalf("Send() = %d, %v", n, err)
	}

	buf := make([]byte, MaxDatagram)
	board.SetReadDeadline(time.Now().Add(time.Second))
	n, from, err := board.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("board read error = %v", err)
	}
	if !bytes.Equal(buf[:n], request) {
		t.Errorf("board got % X, want % X", buf[:n], request)
	}

	reply := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	board.WriteToUDP(reply, from)

	n, err = u.Recv(buf, time.Second)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if !bytes.Equal(buf[:n], reply) {
		t.Errorf("Recv() = % X, want % X", buf[:n], reply)
	}

	stats := u.Statistics()
	if stats.PacketsSent != 1 || stats.PacketsReceived != 1 {
		t.Errorf("packets sent/received = %d/%d, want 1/1", stats.PacketsSent, stats.PacketsReceived)
	}
	if stats.BytesSent != uint64(len(request)) || stats.BytesReceived != uint64(len(reply)) {
		t.Errorf("bytes sent/received = %d/%d", stats.BytesSent, stats.BytesReceived)
	}
}

func TestUDP_SendBroadcast(t *testing.T) {
	board := newBoardSocket(t)
	// Point the broadcast address at the board so the test stays on loopback.
	u := openLoopback(t, board, "127.0.0.1")

	if _, err := u.Send([]byte{0xAA, 0xBB, 0xCC, 0xDD}, true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	buf := make([]byte, 64)
	board.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := board.ReadFromUDP(buf); err != nil {
		t.Fatalf("board did not receive the broadcast: %v", err)
	}
	waitFor(t, func() bool { return u.Statistics().Broadcasts == 1 })
}

func TestUDP_RecvTimeout(t *testing.T) {
	board := newBoardSocket(t)
	u := openLoopback(t, board, "")

	const timeout = 10 * time.Millisecond
	buf := make([]byte, MaxDatagram)
	start := time.Now()
	n, err := u.Recv(buf, timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Recv() error = %v, want ErrTimeout", err)
	}
	if n != 0 {
		t.Errorf("Recv() = %d bytes, want 0", n)
	}
	if elapsed < timeout {
		t.Errorf("Recv() returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+20*time.Millisecond {
		t.Errorf("Recv() returned after %v, too long past the %v timeout", elapsed, timeout)
	}
	if got := u.Statistics().Timeouts; got != 1 {
		t.Errorf("Timeouts = %d, want 1", got)
	}
}

func TestUDP_FlushRecv(t *testing.T) {
	board := newBoardSocket(t)
	u := openLoopback(t, board, "")

	if n := u.FlushRecv(); n != 0 {
		t.Errorf("FlushRecv() on an empty socket = %d, want 0", n)
	}

	dst := u.LocalAddr().(*net.UDPAddr)
	for i := 0; i < 3; i++ {
		board.WriteToUDP([]byte{byte(i), 0, 0, 0}, dst)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if n := u.FlushRecv(); n != 3 {
		t.Errorf("FlushRecv() = %d, want 3", n)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("FlushRecv() blocked for %v", elapsed)
	}

	buf := make([]byte, 16)
	if _, err := u.Recv(buf, 0); !errors.Is(err, ErrTimeout) {
		t.Errorf("Recv() after flush error = %v, want ErrTimeout", err)
	}
	if got := u.Statistics().Flushed; got != 3 {
		t.Errorf("Flushed = %d, want 3", got)
	}
}

func TestUDP_Close(t *testing.T) {
	board := newBoardSocket(t)
	u := openLoopback(t, board, "")

	if err := u.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := u.Send([]byte{0}, false); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
	if _, err := u.Recv(make([]byte, 4), time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv() after Close error = %v, want ErrClosed", err)
	}
	if n := u.FlushRecv(); n != 0 {
		t.Errorf("FlushRecv() after Close = %d, want 0", n)
	}
}
