package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PeerAddress != "169.254.0.100" || cfg.Port != 1394 {
		t.Errorf("peer = %s:%d, want 169.254.0.100:1394", cfg.PeerAddress, cfg.Port)
	}
	if cfg.ReceiveTimeout != 10*time.Millisecond {
		t.Errorf("ReceiveTimeout = %v, want 10ms", cfg.ReceiveTimeout)
	}
	if !cfg.BusMaster || cfg.CheckCRC || cfg.ExtraData {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
peer_address: 192.168.10.20
port: 1400
receive_timeout: 25ms
check_crc: true
bus_master: false
extra_data: true
log_level: debug
relay:
  address: relay.lab:4433
boards:
  - id: 0
    write_bytes: 64
  - id: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PeerAddress != "192.168.10.20" || cfg.Port != 1400 {
		t.Errorf("peer = %s:%d", cfg.PeerAddress, cfg.Port)
	}
	if cfg.ReceiveTimeout != 25*time.Millisecond {
		t.Errorf("ReceiveTimeout = %v, want 25ms", cfg.ReceiveTimeout)
	}
	if !cfg.CheckCRC || cfg.BusMaster || !cfg.ExtraData {
		t.Errorf("flags not loaded: %+v", cfg)
	}
	if cfg.Relay.Address != "relay.lab:4433" || cfg.Relay.Listen != ":4433" {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
	if len(cfg.Boards) != 2 || cfg.Boards[0].WriteBytes != 64 || cfg.Boards[1].ID != 3 {
		t.Errorf("Boards = %+v", cfg.Boards)
	}

	pc := cfg.PortConfig()
	if pc.ReceiveTimeout != 25*time.Millisecond || !pc.CheckCRC || pc.BusMaster || !pc.ExtraData {
		t.Errorf("PortConfig() = %+v", pc)
	}
	if pc.BoardIP.String() != "192.168.10.20" {
		t.Errorf("BoardIP = %s", pc.BoardIP)
	}
	udp := cfg.UDPConfig()
	if udp.PeerAddress != "192.168.10.20" || udp.Port != 1400 {
		t.Errorf("UDPConfig() = %+v", udp)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "peer_address: [", "yaml"},
		{"bad peer", "peer_address: board.local", "peer_address"},
		{"bad port", "port: 70000", "port"},
		{"bad timeout", "receive_timeout: -1s", "receive_timeout"},
		{"bad level", "log_level: loud", "log_level"},
		{"board out of range", "boards: [{id: 16}]", "out of range"},
		{"duplicate board", "boards: [{id: 1}, {id: 1}]", "twice"},
		{"odd write size", "boards: [{id: 1, write_bytes: 6}]", "quadlets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			if err == nil {
				t.Fatalf("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	if !strings.HasSuffix(DefaultPath(), filepath.Join(".eth1394", "config.yaml")) {
		t.Errorf("DefaultPath() = %s", DefaultPath())
	}
}
