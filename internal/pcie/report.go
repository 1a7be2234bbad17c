package pcie

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownPlot = errors.New("unknown plot")

// Frame sets the analyzer knows how to compute.
const (
	PlotFirstWord        = 16 // 2-dword first word (big endian)
	PlotAddrBits         = 17 // 32-dword address bits 15:7
	PlotClosestFlip      = 18 // 32-dword time to closest bit flip
	PlotFirstWordGrouped = 19 // 2-dword first word in buckets of 33
)

const groupSize = 33

// AllPlots lists every frame set in the order they are reported.
func AllPlots() []int {
	return []int{PlotFirstWord, PlotAddrBits, PlotClosestFlip, PlotFirstWordGrouped}
}

// ParsePlots parses a comma separated list such as "16,18".
func ParsePlots(s string) ([]int, error) {
	seen := make(map[int]bool)
	var plots []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownPlot, field)
		}
		switch n {
		case PlotFirstWord, PlotAddrBits, PlotClosestFlip, PlotFirstWordGrouped:
		default:
			return nil, fmt.Errorf("%w %d", ErrUnknownPlot, n)
		}
		if !seen[n] {
			seen[n] = true
			plots = append(plots, n)
		}
	}
	sort.Ints(plots)
	return plots, nil
}

// Options configures BuildReport.
type Options struct {
	Plots  []int
	Bins   int // time bins for plots 16, 17 and 18; plot 19 uses half
	Window int // bins per sliding histogram frame
	Flip   FlipOptions
}

func DefaultOptions() Options {
	return Options{
		Plots:  AllPlots(),
		Bins:   100,
		Window: 10,
		Flip:   DefaultFlipOptions(),
	}
}

// Report is the serialized result of one trace analysis.
type Report struct {
	RunID       string       `json:"run_id"`
	Source      string       `json:"source"`
	GeneratedAt time.Time    `json:"generated_at"`
	Summary     Summary      `json:"summary"`
	Histograms  []Histogram  `json:"histograms,omitempty"`
	ClosestFlip []FlipSeries `json:"closest_flip,omitempty"`
}

// BuildReport analyzes packets and computes the selected frame sets.
func BuildReport(source string, packets []Packet, opts Options) Report {
	analysis := Analyze(packets)
	report := Report{
		RunID:       uuid.NewString(),
		Source:      source,
		GeneratedAt: time.Now().UTC(),
		Summary:     analysis.Summary,
	}

	for _, plot := range opts.Plots {
		switch plot {
		case PlotFirstWord:
			if len(analysis.TwoDword) == 0 {
				continue
			}
			samples := make([]Sample, len(analysis.TwoDword))
			for i, w := range analysis.TwoDword {
				samples[i] = Sample{Time: w.TimeStamp, Key: int64(w.FirstWordBE)}
			}
			report.addHistogram(plot, "2dw_first_word_be", samples, opts.Bins, opts.Window)

		case PlotFirstWordGrouped:
			if len(analysis.TwoDword) == 0 {
				continue
			}
			samples := make([]Sample, len(analysis.TwoDword))
			for i, w := range analysis.TwoDword {
				// Groups are numbered from 1
				samples[i] = Sample{Time: w.TimeStamp, Key: int64(w.Normalized/groupSize + 1)}
			}
			report.addHistogram(plot, "2dw_first_word_be_group33", samples, max(1, opts.Bins/2), opts.Window)

		case PlotAddrBits:
			var samples []Sample
			for _, w := range analysis.ThirtyTwoDword {
				if w.HasAddress {
					samples = append(samples, Sample{Time: w.TimeStamp, Key: int64(w.AddrBits15to7)})
				}
			}
			if len(samples) == 0 {
				continue
			}
			report.addHistogram(plot, "32dw_addr_bits_15_7", samples, opts.Bins, opts.Window)

		case PlotClosestFlip:
			flip := opts.Flip
			if flip.Bins <= 0 {
				flip.Bins = opts.Bins
			}
			report.ClosestFlip = ClosestFlip(analysis.ThirtyTwoDword, flip)
		}
	}
	return report
}

func (r *Report) addHistogram(plot int, name string, samples []Sample, bins, window int) {
	h := SlidingHistogram(samples, bins, window)
	h.Plot = plot
	h.Name = name
	r.Histograms = append(r.Histograms, h)
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(filename string) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return os.WriteFile(filename, buf.Bytes(), 0o644)
}
