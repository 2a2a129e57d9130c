package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	benchCount int
	benchBytes int
)

var benchCmd = &cobra.Command{
	Use:   "bench <board> <addr>",
	Short: "Measure read latency to a board",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		board, flags, err := parseBoard(args[0])
		if err != nil {
			return err
		}
		addr, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		if benchCount <= 0 {
			return fmt.Errorf("--count must be positive")
		}

		p, err := openPort()
		if err != nil {
			return fmt.Errorf("failed to open port: %w", err)
		}
		defer p.Close()

		buf := make([]byte, benchBytes)
		times := make([]float64, 0, benchCount)
		failures := 0
		for range benchCount {
			start := time.Now()
			if err := p.ReadBlock(board, addr, buf, flags); err != nil {
				failures++
				continue
			}
			times = append(times, float64(time.Since(start)))
		}

		out := cmd.OutOrStdout()
		pr := message.NewPrinter(language.AmericanEnglish)
		pr.Fprintf(out, "%d reads of %d bytes, %d failed\n", benchCount, benchBytes, failures)
		if len(times) == 0 {
			return nil
		}
		reportLatency(out, pr, times)

		s := p.Statistics()
		pr.Fprintf(out, "timeouts %d, validation errors %d, label mismatches %d, flushed %d\n",
			s.GetTimeouts(), s.GetValidationErrors(), s.GetLabelMismatches(), s.GetFlushed())
		return nil
	},
}

func reportLatency(w io.Writer, pr *message.Printer, times []float64) {
	sorted := slices.Clone(times)
	slices.Sort(sorted)
	pct := func(q float64) int64 {
		return time.Duration(sorted[int(q*float64(len(sorted)-1))]).Nanoseconds()
	}
	pr.Fprintf(w, "min %dns, median %dns, p99 %dns, max %dns\n\n", pct(0), pct(0.5), pct(0.99), pct(1))

	hist := histogram.Hist(10, times)
	err := histogram.Fprintf(w, hist, histogram.Linear(40), func(v float64) string {
		return pr.Sprintf("% 11dns", time.Duration(v).Nanoseconds())
	})
	if err != nil {
		fmt.Fprintln(w, err)
	}
}

func init() {
	benchCmd.Flags().IntVar(&benchCount, "count", 1000, "number of reads")
	benchCmd.Flags().IntVar(&benchBytes, "bytes", 4, "bytes per read")
	rootCmd.AddCommand(benchCmd)
}
