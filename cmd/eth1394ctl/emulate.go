package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"mechatronics/eth1394-go/pkg/emulator"
	"mechatronics/eth1394-go/pkg/topology"
)

var (
	emulateListen string
	emulateBoards []uint
	emulateExtra  bool
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run a simulated board chain on a UDP socket",
	Long: `Run a simulated chain of boards that answers requests on a UDP socket.
The first board listed is the Ethernet hub.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var boards []emulator.BoardConfig
		for _, id := range emulateBoards {
			boards = append(boards, emulator.BoardConfig{ID: topology.BoardID(id)})
		}
		emu, err := emulator.New(emulator.Config{Boards: boards, ExtraData: emulateExtra})
		if err != nil {
			return err
		}

		addr, err := net.ResolveUDPAddr("udp4", emulateListen)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", emulateListen, err)
		}
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		fmt.Fprintf(cmd.OutOrStdout(), "Emulating boards %v on %s\n", emulateBoards, conn.LocalAddr())
		if err := emu.ServeUDP(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Handled %d requests\n", emu.Requests())
		return nil
	},
}

func init() {
	emulateCmd.Flags().StringVar(&emulateListen, "listen", ":1394", "UDP address to serve on")
	emulateCmd.Flags().UintSliceVar(&emulateBoards, "boards", []uint{0}, "board ids in chain order")
	emulateCmd.Flags().BoolVar(&emulateExtra, "extra-data", false, "append the FPGA trailer to responses")
	rootCmd.AddCommand(emulateCmd)
}
