package main

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <board> <addr> [bytes]",
	Short: "Read a quadlet or a block from a board",
	Long: `Read a quadlet, or a block of the given number of bytes, from a board.
The board may carry the no-forward (0x80) and broadcast (0x40) bits.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, flags, err := parseBoard(args[0])
		if err != nil {
			return err
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		nbytes := 4
		if len(args) == 3 {
			if nbytes, err = strconv.Atoi(args[2]); err != nil {
				return fmt.Errorf("invalid byte count %q", args[2])
			}
		}

		p, err := openPort()
		if err != nil {
			return fmt.Errorf("failed to open port: %w", err)
		}
		defer p.Close()

		buf := make([]byte, nbytes)
		if err := p.ReadBlock(board, addr, buf, flags); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i := 0; i+4 <= len(buf); i += 4 {
			fmt.Fprintf(out, "0x%04X: 0x%08X\n", addr+uint64(i/4), binary.BigEndian.Uint32(buf[i:]))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
}
