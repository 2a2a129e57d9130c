package firewire

import (
	"errors"
	"testing"

	"mechatronics/eth1394-go/pkg/topology"
)

func quadletResponse(src topology.NodeID, tl uint8) []byte {
	buf := make([]byte, QResponseSize)
	BuildQuadletResponse(buf, topology.NodeID(HostNode), src, tl, 0, 0x514C4131)
	return buf
}

func blockResponse(src topology.NodeID, tl uint8, n int) []byte {
	buf := make([]byte, BlockResponseSize(n))
	BuildBlockResponse(buf, topology.NodeID(HostNode), src, tl, 0, make([]byte, n))
	return buf
}

func TestValidator_Check(t *testing.T) {
	flippedLength := blockResponse(3, 1, 16)
	flippedLength[13] ^= 0x08

	tests := []struct {
		name      string
		packet    []byte
		length    int
		node      topology.NodeID
		tcode     TCode
		tl        uint8
		wantField string
	}{
		{"quadlet ok", quadletResponse(3, 1), 0, 3, TCodeQResponse, 1, ""},
		{"block ok", blockResponse(3, 1, 16), 16, 3, TCodeBResponse, 1, ""},
		{"broadcast accepts any node", quadletResponse(9, 1), 0, topology.BroadcastNode, TCodeQResponse, 1, ""},
		{"label mismatch is not an error", quadletResponse(3, 2), 0, 3, TCodeQResponse, 1, ""},
		{"wrong tcode", quadletResponse(3, 1), 16, 3, TCodeBResponse, 1, "tcode"},
		{"wrong node", quadletResponse(4, 1), 0, 3, TCodeQResponse, 1, "source node"},
		{"wrong length", blockResponse(3, 1, 16), 32, 3, TCodeBResponse, 1, "block length"},
		{"flipped length", flippedLength, 16, 3, TCodeBResponse, 1, "block length"},
	}
	v := &Validator{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Check(tt.packet, tt.length, tt.node, tt.tcode, tt.tl)
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Check() error = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Check() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("errors.Is(err, ErrValidation) = false")
			}
		})
	}
}

func TestValidator_LabelMismatchCallback(t *testing.T) {
	var expected, received uint8
	calls := 0
	v := &Validator{OnLabelMismatch: func(e, r uint8) {
		calls++
		expected, received = e, r
	}}

	if err := v.Check(quadletResponse(3, 7), 0, 3, TCodeQResponse, 6); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if calls != 1 || expected != 6 || received != 7 {
		t.Errorf("callback calls = %d (%d, %d), want 1 (6, 7)", calls, expected, received)
	}

	v.Check(quadletResponse(3, 6), 0, 3, TCodeQResponse, 6)
	if calls != 1 {
		t.Errorf("callback fired for matching label")
	}
}

func TestValidator_CRC(t *testing.T) {
	corrupt := blockResponse(3, 0, 8)
	corrupt[21] ^= 0xFF

	lax := &Validator{}
	if err := lax.Check(corrupt, 8, 3, TCodeBResponse, 0); err != nil {
		t.Errorf("CRC check disabled: error = %v, want nil", err)
	}

	strict := &Validator{CheckCRC: true}
	if err := strict.Check(corrupt, 8, 3, TCodeBResponse, 0); !errors.Is(err, ErrInvalidCRC) {
		t.Errorf("CRC check enabled: error = %v, want ErrInvalidCRC", err)
	}
	if err := strict.Check(blockResponse(3, 0, 8), 8, 3, TCodeBResponse, 0); err != nil {
		t.Errorf("valid packet error = %v", err)
	}
}

func TestValidator_ShortPacket(t *testing.T) {
	v := &Validator{}
	if err := v.Check(make([]byte, 12), 0, 3, TCodeQResponse, 0); err != ErrShortPacket {
		t.Errorf("Check() error = %v, want ErrShortPacket", err)
	}
}
