// Package config loads the eth1394ctl configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"mechatronics/eth1394-go/pkg/port"
	"mechatronics/eth1394-go/pkg/topology"
	"mechatronics/eth1394-go/pkg/transport"
)

// Board is a board the application registers with the port
type Board struct {
	ID         uint8 `yaml:"id"`
	WriteBytes int   `yaml:"write_bytes"`
}

// Relay holds the QUIC relay settings
type Relay struct {
	// Listen is the address a relay server binds to.
	Listen string `yaml:"listen"`
	// Address is the relay a client dials instead of talking UDP directly.
	Address string `yaml:"address"`
}

// Config holds the eth1394ctl configuration.
type Config struct {
	PeerAddress      string        `yaml:"peer_address"`
	Port             int           `yaml:"port"`
	BroadcastAddress string        `yaml:"broadcast_address"`
	ReceiveTimeout   time.Duration `yaml:"receive_timeout"`
	CheckCRC         bool          `yaml:"check_crc"`
	BusMaster        bool          `yaml:"bus_master"`
	ExtraData        bool          `yaml:"extra_data"`
	LogLevel         string        `yaml:"log_level"`
	Relay            Relay         `yaml:"relay"`
	Boards           []Board       `yaml:"boards"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	udp := transport.DefaultUDPConfig()
	p := port.DefaultConfig()
	return &Config{
		PeerAddress:    udp.PeerAddress,
		Port:           udp.Port,
		ReceiveTimeout: p.ReceiveTimeout,
		BusMaster:      p.BusMaster,
		LogLevel:       "info",
		Relay:          Relay{Listen: ":4433"},
	}
}

// DefaultPath returns the default config file path: ~/.eth1394/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".eth1394", "config.yaml")
	}
	return filepath.Join(home, ".eth1394", "config.yaml")
}

// Load reads the configuration from the given YAML file path. Fields the file
// leaves out keep their defaults. If the file does not exist, it returns the
// defaults with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges
func (c *Config) Validate() error {
	if net.ParseIP(c.PeerAddress).To4() == nil {
		return fmt.Errorf("peer_address %q is not an IPv4 address", c.PeerAddress)
	}
	if c.BroadcastAddress != "" && net.ParseIP(c.BroadcastAddress).To4() == nil {
		return fmt.Errorf("broadcast_address %q is not an IPv4 address", c.BroadcastAddress)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive_timeout must be positive, got %v", c.ReceiveTimeout)
	}
	if _, err := port.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	seen := make(map[uint8]bool)
	for _, b := range c.Boards {
		if !topology.BoardID(b.ID).Valid() {
			return fmt.Errorf("board %d out of range", b.ID)
		}
		if seen[b.ID] {
			return fmt.Errorf("board %d listed twice", b.ID)
		}
		seen[b.ID] = true
		if b.WriteBytes < 0 || b.WriteBytes%4 != 0 {
			return fmt.Errorf("board %d: write_bytes %d is not a whole number of quadlets", b.ID, b.WriteBytes)
		}
	}
	return nil
}

// UDPConfig returns the transport settings
func (c *Config) UDPConfig() transport.UDPConfig {
	udp := transport.DefaultUDPConfig()
	udp.PeerAddress = c.PeerAddress
	udp.Port = c.Port
	udp.BroadcastAddress = c.BroadcastAddress
	return udp
}

// PortConfig returns the port settings
func (c *Config) PortConfig() port.Config {
	p := port.DefaultConfig()
	p.ReceiveTimeout = c.ReceiveTimeout
	p.CheckCRC = c.CheckCRC
	p.BusMaster = c.BusMaster
	p.ExtraData = c.ExtraData
	p.BoardIP = net.ParseIP(c.PeerAddress)
	return p
}
