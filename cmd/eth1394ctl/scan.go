package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mechatronics/eth1394-go/pkg/topology"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover the boards behind the hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPort()
		if err != nil {
			return fmt.Errorf("failed to open port: %w", err)
		}
		defer p.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Hub board: %s\n\n", p.HubBoard())
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BOARD\tNODE\tHARDWARE\tFIRMWARE")
		m := p.Topology()
		for _, b := range m.Boards() {
			hw, err := p.ReadQuadlet(b, topology.RegHardware)
			if err != nil {
				return err
			}
			fw, err := p.ReadQuadlet(b, topology.RegFirmware)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", b, m.BoardToNode(b), topology.HardwareName(hw), fw)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
