package emulator

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"mechatronics/eth1394-go/pkg/firewire"
	"mechatronics/eth1394-go/pkg/internal/logger"
	"mechatronics/eth1394-go/pkg/topology"
	"mechatronics/eth1394-go/pkg/transport"
)

func newTestEmulator(t *testing.T, extra bool, ids ...topology.BoardID) *Emulator {
	t.Helper()
	var boards []BoardConfig
	for _, id := range ids {
		boards = append(boards, BoardConfig{ID: id})
	}
	e, err := New(Config{Boards: boards, ExtraData: extra, Logger: logger.NewNoOpLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func quadletRead(t *testing.T, node topology.NodeID, addr uint64, opt firewire.Options) []byte {
	t.Helper()
	buf := make([]byte, firewire.QReadSize)
	if _, err := firewire.BuildQuadletRead(buf, node, addr, 9, opt); err != nil {
		t.Fatalf("BuildQuadletRead() error = %v", err)
	}
	return buf
}

func quadletWrite(t *testing.T, node topology.NodeID, addr uint64, v uint32) []byte {
	t.Helper()
	buf := make([]byte, firewire.QWriteSize)
	if _, err := firewire.BuildQuadletWrite(buf, node, addr, v, 9, firewire.Options{}); err != nil {
		t.Fatalf("BuildQuadletWrite() error = %v", err)
	}
	return buf
}

func single(t *testing.T, resp [][]byte) *firewire.Packet {
	t.Helper()
	if len(resp) != 1 {
		t.Fatalf("got %d responses, want 1", len(resp))
	}
	p, err := firewire.Decode(resp[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return p
}

func TestNew_RejectsBadChains(t *testing.T) {
	tests := []struct {
		name   string
		boards []BoardConfig
	}{
		{"board out of range", []BoardConfig{{ID: 16}}},
		{"duplicate id", []BoardConfig{{ID: 1}, {ID: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(Config{Boards: tt.boards, Logger: logger.NewNoOpLogger()}); err == nil {
				t.Errorf("New() should fail")
			}
		})
	}
}

func TestHandle_HubAnswersNoForwardBroadcast(t *testing.T) {
	e := newTestEmulator(t, false, 6, 2)

	p := single(t, e.Handle(quadletRead(t, topology.BroadcastNode, topology.RegStatus, firewire.Options{NoForward: true}), false))
	if got := topology.BoardFromStatus(p.Quadlet); got != 6 {
		t.Errorf("hub board = %d, want 6", got)
	}
	if p.Header.TL != 9 {
		t.Errorf("TL = %d, want 9", p.Header.TL)
	}
	if p.Header.DestNode != topology.NodeID(firewire.HostNode) {
		t.Errorf("DestNode = %d, want host node", p.Header.DestNode)
	}

	p = single(t, e.Handle(quadletRead(t, topology.BroadcastNode, topology.RegHardware, firewire.Options{NoForward: true}), false))
	if p.Quadlet != topology.HardwareQLA1 {
		t.Errorf("hardware = %s, want QLA1", topology.HardwareName(p.Quadlet))
	}
}

func TestHandle_NodeNumbering(t *testing.T) {
	e := newTestEmulator(t, false, 6, 2)

	// Chain order until eth1394 mode is switched on.
	p := single(t, e.Handle(quadletRead(t, 1, topology.RegStatus, firewire.Options{}), false))
	if got := topology.BoardFromStatus(p.Quadlet); got != 2 {
		t.Errorf("node 1 board = %d, want 2", got)
	}
	if p.Header.SrcNode != 1 {
		t.Errorf("SrcNode = %d, want 1", p.Header.SrcNode)
	}

	if resp := e.Handle(quadletWrite(t, topology.BroadcastNode, topology.RegStatus, topology.Eth1394On), false); resp != nil {
		t.Errorf("writes should not be answered")
	}
	if !e.Eth1394() {
		t.Fatalf("eth1394 mode should be on")
	}
	p = single(t, e.Handle(quadletRead(t, 2, topology.RegStatus, firewire.Options{}), false))
	if got := topology.BoardFromStatus(p.Quadlet); got != 2 {
		t.Errorf("node 2 board = %d, want 2", got)
	}
	if p.Quadlet&statusEth1394 == 0 {
		t.Errorf("status should report eth1394 mode")
	}
	if resp := e.Handle(quadletRead(t, 1, topology.RegStatus, firewire.Options{}), false); resp != nil {
		t.Errorf("node 1 should be empty in eth1394 mode")
	}

	e.Handle(quadletWrite(t, topology.BroadcastNode, topology.RegStatus, topology.Eth1394Off), false)
	if e.Eth1394() {
		t.Errorf("eth1394 mode should be off")
	}
}

func TestHandle_BlockWriteRead(t *testing.T) {
	e := newTestEmulator(t, false, 4)

	data := []byte{0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3}
	req := make([]byte, firewire.BlockWriteSize(len(data)))
	if _, err := firewire.BuildBlockWrite(req, 0, 0x80, data, 1, firewire.Options{}); err != nil {
		t.Fatalf("BuildBlockWrite() error = %v", err)
	}
	e.Handle(req, false)

	if v, _ := e.Register(4, 0x82); v != 3 {
		t.Errorf("register 0x82 = %d, want 3", v)
	}

	req = make([]byte, firewire.BReadSize)
	firewire.BuildBlockRead(req, 0, 0x80, len(data), 2, firewire.Options{})
	p := single(t, e.Handle(req, false))
	if p.Header.TCode != firewire.TCodeBResponse || p.Length != len(data) {
		t.Fatalf("response = %s length %d", p.Header.TCode, p.Length)
	}
	for i := range 3 {
		if got := binary.BigEndian.Uint32(p.Data[i*4:]); got != uint32(i+1) {
			t.Errorf("quadlet %d = %d, want %d", i, got, i+1)
		}
	}
}

func TestHandle_Trailer(t *testing.T) {
	e := newTestEmulator(t, true, 1)

	resp := e.Handle(quadletRead(t, 0, topology.RegStatus, firewire.Options{}), false)
	tr, ok := firewire.SplitTrailer(resp[0], firewire.QResponseSize)
	if !ok {
		t.Fatalf("response of %d bytes has no trailer", len(resp[0]))
	}
	if tr.BusReset || tr.Generation != 0 {
		t.Errorf("trailer = %+v, want generation 0 without reset", tr)
	}

	e.BusReset()
	resp = e.Handle(quadletRead(t, 0, topology.RegStatus, firewire.Options{}), false)
	tr, _ = firewire.SplitTrailer(resp[0], firewire.QResponseSize)
	if !tr.BusReset || tr.Generation != 1 {
		t.Errorf("trailer = %+v, want generation 1 with reset", tr)
	}
	resp = e.Handle(quadletRead(t, 0, topology.RegStatus, firewire.Options{}), false)
	tr, _ = firewire.SplitTrailer(resp[0], firewire.QResponseSize)
	if tr.BusReset {
		t.Errorf("reset flag should only be reported once")
	}
}

func TestHandle_Hooks(t *testing.T) {
	e := newTestEmulator(t, false, 1)

	e.Drop(2)
	for i := range 2 {
		if resp := e.Handle(quadletRead(t, 0, 0, firewire.Options{}), false); resp != nil {
			t.Errorf("response %d should be dropped", i)
		}
	}
	if resp := e.Handle(quadletRead(t, 0, 0, firewire.Options{}), false); resp == nil {
		t.Errorf("drop count should be used up")
	}

	e.Tamper(func(b []byte) { b[0] = 0xAA })
	if resp := e.Handle(quadletRead(t, 0, 0, firewire.Options{}), false); resp[0][0] != 0xAA {
		t.Errorf("tamper hook not applied")
	}
	if resp := e.Handle(quadletRead(t, 0, 0, firewire.Options{}), false); resp[0][0] == 0xAA {
		t.Errorf("tamper hook should apply once")
	}

	bad := quadletRead(t, 0, 0, firewire.Options{})
	bad[15] ^= 0xFF
	before := e.Requests()
	if resp := e.Handle(bad, false); resp != nil {
		t.Errorf("corrupt request should be dropped")
	}
	if e.Requests() != before {
		t.Errorf("corrupt request should not be counted")
	}
}

func TestAddRemoveBoard(t *testing.T) {
	e := newTestEmulator(t, false, 1)

	if err := e.AddBoard(BoardConfig{ID: 1}); err == nil {
		t.Errorf("AddBoard() of a duplicate should fail")
	}
	if err := e.AddBoard(BoardConfig{ID: 8, Hardware: topology.HardwareDQLA}); err != nil {
		t.Fatalf("AddBoard() error = %v", err)
	}
	if e.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", e.Generation())
	}
	if v, ok := e.Register(8, topology.RegHardware); !ok || v != topology.HardwareDQLA {
		t.Errorf("board 8 hardware = 0x%08X", v)
	}

	e.RemoveBoard(8)
	if _, ok := e.Register(8, topology.RegHardware); ok {
		t.Errorf("board 8 should be gone")
	}
	if e.Generation() != 2 {
		t.Errorf("Generation() = %d, want 2", e.Generation())
	}
}

func TestAddBoard_FullChain(t *testing.T) {
	var boards []BoardConfig
	for id := topology.BoardID(0); id < topology.MaxBoards; id++ {
		boards = append(boards, BoardConfig{ID: id})
	}
	e, err := New(Config{Boards: boards, Logger: logger.NewNoOpLogger()})
	if err != nil {
		t.Fatalf("New() with %d boards error = %v", len(boards), err)
	}
	if _, ok := e.Register(topology.MaxBoards-1, topology.RegHardware); !ok {
		t.Errorf("board %d missing from a full chain", topology.MaxBoards-1)
	}
	if err := e.AddBoard(BoardConfig{ID: 0}); err == nil {
		t.Errorf("AddBoard() on a full chain should fail")
	}
}

func TestLink(t *testing.T) {
	e := newTestEmulator(t, false, 1)
	l := NewLink(e)

	if _, err := l.Recv(make([]byte, 64), 0); !errors.Is(err, transport.ErrTimeout) {
		t.Errorf("Recv() on empty link error = %v, want ErrTimeout", err)
	}

	l.Send(quadletRead(t, 0, 0, firewire.Options{}), false)
	l.Send(quadletRead(t, 0, 0, firewire.Options{}), true)
	if n := l.FlushRecv(); n != 2 {
		t.Errorf("FlushRecv() = %d, want 2", n)
	}

	req := quadletRead(t, 0, topology.RegHardware, firewire.Options{})
	if n, err := l.Send(req, false); err != nil || n != len(req) {
		t.Fatalf("Send() = %d, %v", n, err)
	}
	buf := make([]byte, transport.MaxDatagram)
	n, err := l.Recv(buf, 10*time.Millisecond)
	if err != nil || n != firewire.QResponseSize {
		t.Fatalf("Recv() = %d, %v", n, err)
	}

	// A response larger than the buffer is reported, not silently cut.
	l.Send(req, false)
	n, err = l.Recv(make([]byte, 8), 10*time.Millisecond)
	if !errors.Is(err, transport.ErrTruncated) || n != 8 {
		t.Errorf("Recv() into short buffer = %d, %v, want 8, ErrTruncated", n, err)
	}

	s := l.Statistics()
	if s.PacketsSent != 4 || s.Broadcasts != 1 || s.Flushed != 2 || s.PacketsReceived != 1 {
		t.Errorf("Statistics() = %+v", s)
	}

	l.Close()
	if _, err := l.Send(req, false); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestServeUDP(t *testing.T) {
	e := newTestEmulator(t, false, 3)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer conn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.ServeUDP(ctx, conn) }()

	client, err := net.DialUDP("udp4", nil, conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer client.Close()

	if _, err := client.Write(quadletRead(t, 0, topology.RegStatus, firewire.Options{})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	p, err := firewire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if topology.BoardFromStatus(p.Quadlet) != 3 {
		t.Errorf("board = %d, want 3", topology.BoardFromStatus(p.Quadlet))
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ServeUDP() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("ServeUDP did not stop")
	}
}
