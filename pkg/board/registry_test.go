package board

import (
	"testing"

	"mechatronics/eth1394-go/pkg/firewire"
	"mechatronics/eth1394-go/pkg/topology"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()

	if r.NumBoards() != 0 || r.InUseMask() != 0 {
		t.Fatalf("new registry is not empty")
	}

	for _, id := range []topology.BoardID{0, 3, 15} {
		if _, err := r.Add(id, 64); err != nil {
			t.Fatalf("Add(%d) error = %v", id, err)
		}
	}
	if got := r.InUseMask(); got != 0x8009 {
		t.Errorf("InUseMask() = 0x%04X, want 0x8009", got)
	}
	if r.NumBoards() != 3 {
		t.Errorf("NumBoards() = %d, want 3", r.NumBoards())
	}
	if !r.InUse(3) || r.InUse(4) {
		t.Errorf("InUse(3) = %t, InUse(4) = %t", r.InUse(3), r.InUse(4))
	}

	r.Remove(3)
	r.Remove(4)
	if got := r.InUseMask(); got != 0x8001 {
		t.Errorf("InUseMask() after Remove = 0x%04X, want 0x8001", got)
	}
	if r.WriteBuffer(3) != nil {
		t.Errorf("WriteBuffer() of a removed board should be nil")
	}
}

func TestRegistry_WriteBuffer(t *testing.T) {
	r := NewRegistry()
	b, err := r.Add(2, 256)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	wb := r.WriteBuffer(2)
	if wb != b.WriteBuffer {
		t.Fatalf("WriteBuffer() returned a different buffer")
	}
	if wb.Capacity() != 256 {
		t.Errorf("Capacity() = %d, want 256", wb.Capacity())
	}
	if len(wb.Packet()) != firewire.BlockWriteSize(256) {
		t.Errorf("packet size = %d, want %d", len(wb.Packet()), firewire.BlockWriteSize(256))
	}
}

func TestRegistry_AddInvalid(t *testing.T) {
	tests := []struct {
		name  string
		id    topology.BoardID
		bytes int
	}{
		{"board out of range", topology.NoBoard, 16},
		{"broadcast board", topology.BroadcastBoard, 16},
		{"negative size", 1, -4},
		{"odd size", 1, 6},
		{"too large", 1, 0x10000},
	}
	r := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Add(tt.id, tt.bytes); err == nil {
				t.Errorf("Add(%d, %d) should fail", tt.id, tt.bytes)
			}
		})
	}
	if r.NumBoards() != 0 {
		t.Errorf("failed adds left %d boards", r.NumBoards())
	}
}
