package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"mechatronics/eth1394-go/pkg/board"
	"mechatronics/eth1394-go/pkg/config"
	"mechatronics/eth1394-go/pkg/port"
	"mechatronics/eth1394-go/pkg/topology"
	"mechatronics/eth1394-go/pkg/transport"
)

var (
	// Global flags
	cfgFile   string
	peerIP    string
	udpPort   int
	relayAddr string
	logLevel  string

	// Shared state set during PersistentPreRun
	cfg *config.Config
)

// rootCmd is the base command for eth1394ctl.
var rootCmd = &cobra.Command{
	Use:   "eth1394ctl",
	Short: "Talk to FPGA boards through the Ethernet/FireWire bridge",
	Long: `eth1394ctl discovers the boards behind an Ethernet hub board and reads
and writes their registers. It can also run a board emulator and a QUIC relay
that forwards the board network to remote hosts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Override config with flags
		if peerIP != "" {
			cfg.PeerAddress = peerIP
		}
		if udpPort != 0 {
			cfg.Port = udpPort
		}
		if relayAddr != "" {
			cfg.Relay.Address = relayAddr
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, err := port.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		port.SetLogLevel(level)
		port.EnablePacketDebug(level == port.LevelDebug)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.eth1394/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&peerIP, "ip", "", "IPv4 address of the hub board")
	rootCmd.PersistentFlags().IntVar(&udpPort, "udp-port", 0, "UDP port of the hub board (default 1394)")
	rootCmd.PersistentFlags().StringVar(&relayAddr, "relay", "", "reach the boards through a QUIC relay at host:port")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// openPort connects to the boards, directly or through a relay, and runs
// discovery.
func openPort() (*port.Port, error) {
	reg := board.NewRegistry()
	for _, b := range cfg.Boards {
		if _, err := reg.Add(topology.BoardID(b.ID), b.WriteBytes); err != nil {
			return nil, err
		}
	}

	pc := cfg.PortConfig()
	if cfg.Relay.Address == "" {
		return port.Open(cfg.UDPConfig(), reg, pc)
	}

	tr, err := transport.DialQUIC(transport.QUICConfig{
		Address:     cfg.Relay.Address,
		PeerAddress: cfg.PeerAddress,
	})
	if err != nil {
		return nil, err
	}
	p, err := port.New(tr, reg, pc)
	if err != nil {
		tr.Close()
		return nil, err
	}
	if _, err := p.ScanTopology(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// parseBoard parses a board byte: the low six bits select the board and
// 0x80/0x40 request no-forward and Ethernet broadcast.
func parseBoard(s string) (topology.BoardID, topology.Flags, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid board %q", s)
	}
	id, flags := topology.SplitBoardByte(uint8(v))
	if !id.Valid() && id != topology.BroadcastBoard {
		return 0, 0, fmt.Errorf("board %d out of range", id)
	}
	return id, flags, nil
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 48)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return v, nil
}

func parseQuadlet(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid quadlet %q", s)
	}
	return uint32(v), nil
}
