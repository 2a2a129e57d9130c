package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write <board> <addr> <value>...",
	Short: "Write one or more quadlets to a board",
	Long: `Write a quadlet to a board, or a block when more than one value is given.
Board 63 writes to every board at once.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, flags, err := parseBoard(args[0])
		if err != nil {
			return err
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		values := make([]uint32, 0, len(args)-2)
		for _, s := range args[2:] {
			v, err := parseQuadlet(s)
			if err != nil {
				return err
			}
			values = append(values, v)
		}

		p, err := openPort()
		if err != nil {
			return fmt.Errorf("failed to open port: %w", err)
		}
		defer p.Close()

		if len(values) == 1 {
			err = p.WriteQuadlet(board, addr, values[0], flags)
		} else {
			err = p.WriteBlockQuadlets(board, addr, values, flags)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d quadlet(s) to board %s at 0x%04X\n", len(values), board, addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)
}
