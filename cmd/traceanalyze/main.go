package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/planbiir/gspeed/internal/config"
	"github.com/planbiir/gspeed/internal/pcie"
)

const version = "traceanalyze v1.0.0 - PCIe write pattern analyzer"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	var (
		input       string
		output      string
		plotList    string
		tlpType     string
		linkDir     string
		bins        int
		window      int
		showVersion bool
	)

	defaultFilter := pcie.DefaultFilter()

	fs := flag.NewFlagSet("traceanalyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&input, "i", "", "Input CSV export")
	fs.StringVar(&output, "o", "", "Output JSON report (default: <input>_analysis.json)")
	fs.StringVar(&plotList, "plots", "16,17,18,19", "Comma separated frame sets to compute")
	fs.StringVar(&tlpType, "tlp", defaultFilter.TLPType, "TLP Type to keep")
	fs.StringVar(&linkDir, "dir", defaultFilter.LinkDir, "Link Dir to keep")
	fs.IntVar(&bins, "bins", cfg.TraceTimeBins, "Number of time bins")
	fs.IntVar(&window, "window", cfg.TraceWindowBins, "Time bins per histogram frame")
	fs.BoolVar(&showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "traceanalyze - Analyze data and address patterns of PCIe memory writes\n\n")
		fmt.Fprintf(stderr, "usage: traceanalyze [-plots 16,17,18,19] [-o report.json] -i trace.csv\n\n")
		fmt.Fprintf(stderr, "plots:\n")
		fmt.Fprintf(stderr, "  16  first word of 2-dword writes (big endian)\n")
		fmt.Fprintf(stderr, "  17  address bits 15:7 of 32-dword writes\n")
		fmt.Fprintf(stderr, "  18  time to closest write with one address bit flipped\n")
		fmt.Fprintf(stderr, "  19  first word of 2-dword writes in buckets of 33\n\n")
		fmt.Fprintf(stderr, "options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	if input == "" && fs.NArg() > 0 {
		input = fs.Arg(0)
	}
	if input == "" {
		fs.Usage()
		return 2
	}

	plots, err := pcie.ParsePlots(plotList)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if bins <= 0 || window <= 0 {
		fmt.Fprintf(stderr, "Error: -bins and -window must be positive\n")
		return 2
	}

	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + "_analysis.json"
	}

	fmt.Fprintf(stdout, "📖 Loading trace: %s\n", input)
	packets, err := pcie.LoadFile(input, pcie.Filter{TLPType: tlpType, LinkDir: linkDir})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "📊 Loaded %d %s %s packets\n", len(packets), tlpType, linkDir)

	opts := pcie.DefaultOptions()
	opts.Plots = plots
	opts.Bins = bins
	opts.Window = window
	opts.Flip.Bins = bins

	report := pcie.BuildReport(filepath.Base(input), packets, opts)
	printSummary(stdout, report)

	fmt.Fprintf(stdout, "💾 Writing report: %s\n", output)
	if err := report.WriteJSON(output); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "✅ Analysis complete\n")
	return 0
}

func printSummary(w io.Writer, report pcie.Report) {
	summary := report.Summary

	fmt.Fprintf(w, "\n📊 Trace Summary:\n")
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "📦 Packets: %d\n", summary.TotalPackets)
	for _, lc := range summary.LengthDistribution {
		fmt.Fprintf(w, "   %3d dwords: %d\n", lc.Length, lc.Count)
	}

	if two := summary.TwoDword; two != nil {
		fmt.Fprintf(w, "🔢 2-dword writes: %d (%d decoded)\n", two.Writes, two.Decoded)
		if two.Decoded > 0 {
			fmt.Fprintf(w, "   First word: min 0x%04X, max 0x%04X, range 0x%04X\n",
				two.MinFirstWord, two.MaxFirstWord, two.Range)
			fmt.Fprintf(w, "   Bit 0: %d zero, %d one\n", two.Bit0.Zero, two.Bit0.One)
		}
	}
	if thirtyTwo := summary.ThirtyTwoDword; thirtyTwo != nil {
		fmt.Fprintf(w, "🔢 32-dword writes: %d (%d distinct address bits 15:7)\n",
			thirtyTwo.Writes, thirtyTwo.DistinctAddrs)
		fmt.Fprintf(w, "   Address bit 7: %d zero, %d one\n", thirtyTwo.AddrBit7.Zero, thirtyTwo.AddrBit7.One)
	}

	for _, h := range report.Histograms {
		fmt.Fprintf(w, "📈 Plot %d (%s): %d frames, %d keys, max count %d\n",
			h.Plot, h.Name, len(h.Frames), len(h.Keys), h.MaxCount)
	}
	if len(report.ClosestFlip) > 0 {
		fmt.Fprintf(w, "📈 Plot 18 (closest bit flip): %d address bits\n", len(report.ClosestFlip))
	}
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
}
