package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"mechatronics/eth1394-go/pkg/transport"
)

var (
	relayListen string
	relayPeer   string
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward the board network to QUIC clients",
	Long: `Run a QUIC relay next to the boards. Remote eth1394ctl instances started
with --relay send their packets through it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen := relayListen
		if listen == "" {
			listen = cfg.Relay.Listen
		}
		udp := cfg.UDPConfig()
		if relayPeer != "" {
			udp.PeerAddress = relayPeer
		}

		r, err := transport.NewRelay(transport.RelayConfig{Listen: listen, UDP: udp})
		if err != nil {
			return err
		}
		defer r.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		fmt.Fprintf(cmd.OutOrStdout(), "Relaying %s to boards at %s\n", r.Addr(), udp.PeerAddress)
		if err := r.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		s := r.Statistics()
		fmt.Fprintf(cmd.OutOrStdout(), "Forwarded %d packets, returned %d\n", s.PacketsSent, s.PacketsReceived)
		return nil
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayListen, "listen", "", "QUIC address to listen on (default from config, :4433)")
	relayCmd.Flags().StringVar(&relayPeer, "peer", "", "IPv4 address of the hub board")
	rootCmd.AddCommand(relayCmd)
}
