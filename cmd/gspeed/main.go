package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/planbiir/gspeed/internal/config"
	"github.com/planbiir/gspeed/internal/fitexport"
	"github.com/planbiir/gspeed/internal/gpx"
	"github.com/planbiir/gspeed/internal/retime"
	"github.com/planbiir/gspeed/internal/verify"
)

const version = "gspeed v1.0.0 - GPX track speed-up tool"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, nil))
}

// options is the parsed command line.
type options struct {
	input      string
	output     string
	speedup    float64
	speedupSet bool
	pace       string
	shiftToNow bool
	keepFinish bool
	statsJSON  bool
	dryRun     bool
	verify     bool
}

func run(args []string, stdout, stderr io.Writer, now func() time.Time) int {
	cfg := config.Load()

	opts, code, ok := parseFlags(args, cfg, stdout, stderr)
	if !ok {
		return code
	}

	// Policies are validated before the input file is touched
	duration, err := durationPolicy(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	shift, err := retime.ShiftFromFlags(opts.shiftToNow, opts.keepFinish)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if opts.output == "" {
		opts.output = defaultOutput(opts.input, cfg.OutputSuffix)
	}

	if err := speedUp(opts, cfg, retime.Options{Duration: duration, Shift: shift, Now: now}, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, cfg config.Config, stdout, stderr io.Writer) (options, int, bool) {
	var opts options
	var showVersion bool

	fs := flag.NewFlagSet("gspeed", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.input, "i", "", "Input GPX file")
	fs.StringVar(&opts.output, "o", "", "Output file, .gpx or .fit (default: <input>"+cfg.OutputSuffix+".gpx)")
	fs.Float64Var(&opts.speedup, "speedup", 0, "Percentage to speed up (e.g. 20 for 20% faster)")
	fs.Float64Var(&opts.speedup, "s", 0, "Shorthand for -speedup")
	fs.StringVar(&opts.pace, "pace", "", "Target pace in mm:ss per mile (e.g. 7:30)")
	fs.StringVar(&opts.pace, "p", "", "Shorthand for -pace")
	fs.BoolVar(&opts.shiftToNow, "shift-to-now", false, "Shift all timestamps so the last one is the current time")
	fs.BoolVar(&opts.shiftToNow, "n", false, "Shorthand for -shift-to-now")
	fs.BoolVar(&opts.keepFinish, "keep-finish", false, "Keep the original finish time (shift the start forward instead)")
	fs.BoolVar(&opts.keepFinish, "k", false, "Shorthand for -keep-finish")
	fs.BoolVar(&opts.statsJSON, "stats-json", false, "Output statistics as JSON")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Show statistics without writing output file")
	fs.BoolVar(&opts.verify, "verify", cfg.VerifyOutput, "Re-read the written GPX and check the new timestamps")
	fs.BoolVar(&showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "gspeed - Speed up GPX tracks by adjusting timestamps proportionally to distance\n\n")
		fmt.Fprintf(stderr, "usage: gspeed (-speedup P | -pace mm:ss) [-shift-to-now | -keep-finish] -i /path/to/file.gpx\n\n")
		fmt.Fprintf(stderr, "examples:\n")
		fmt.Fprintf(stderr, "  gspeed -speedup 20 -i track.gpx\n")
		fmt.Fprintf(stderr, "  gspeed -speedup 30 -shift-to-now track.gpx\n")
		fmt.Fprintf(stderr, "  gspeed -pace 7:30 -i track.gpx\n")
		fmt.Fprintf(stderr, "  gspeed -pace 8:15 -keep-finish -o faster.gpx track.gpx\n")
		fmt.Fprintf(stderr, "  gspeed -speedup 25 -o faster.fit track.gpx\n\n")
		fmt.Fprintf(stderr, "options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, 0, false
		}
		return opts, 2, false
	}

	if showVersion {
		fmt.Fprintln(stdout, version)
		return opts, 0, false
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "speedup" || f.Name == "s" {
			opts.speedupSet = true
		}
	})

	if opts.input == "" && fs.NArg() > 0 {
		opts.input = fs.Arg(0)
	}
	if opts.input == "" {
		fs.Usage()
		return opts, 2, false
	}

	switch {
	case opts.speedupSet && opts.pace != "":
		fmt.Fprintf(stderr, "Error: -speedup and -pace are mutually exclusive\n")
		return opts, 2, false
	case !opts.speedupSet && opts.pace == "":
		fmt.Fprintf(stderr, "Error: one of -speedup or -pace is required\n")
		return opts, 2, false
	}

	return opts, 0, true
}

func durationPolicy(opts options) (retime.DurationPolicy, error) {
	if opts.pace != "" {
		return retime.ParsePace(opts.pace)
	}
	return retime.NewPercentSpeedup(opts.speedup)
}

// defaultOutput derives <input>_fast.gpx from the input name.
func defaultOutput(input, suffix string) string {
	if strings.HasSuffix(strings.ToLower(input), ".gpx") {
		return input[:len(input)-len(".gpx")] + suffix + ".gpx"
	}
	return input + suffix + ".gpx"
}

func speedUp(opts options, cfg config.Config, retimeOpts retime.Options, stdout io.Writer) error {
	fmt.Fprintf(stdout, "📖 Reading GPX file: %s\n", opts.input)
	gpxData, err := gpx.Parse(opts.input)
	if err != nil {
		return err
	}

	pointCount, timedCount, trackCount, _, _ := gpxData.Stats()
	fmt.Fprintf(stdout, "📊 Original track: %d points (%d with timestamps) across %d tracks\n",
		pointCount, timedCount, trackCount)

	timed, err := gpxData.TimedPoints()
	if err != nil {
		return err
	}

	points := make([]retime.Point, len(timed))
	for i, p := range timed {
		points[i] = retime.Point{
			Lat:      p.Lat,
			Lon:      p.Lon,
			Time:     p.Time,
			TrackIdx: p.TrackIdx,
			SegIdx:   p.SegIdx,
			PtIdx:    p.PtIdx,
		}
	}

	result, err := retime.Retime(points, retimeOpts)
	if err != nil {
		return err
	}

	if opts.statsJSON {
		jsonData, err := json.MarshalIndent(result.Stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		fmt.Fprintln(stdout, string(jsonData))
	} else {
		printStats(stdout, result.Stats, retimeOpts, cfg.TimeLayout)
	}

	if opts.dryRun {
		fmt.Fprintf(stdout, "🔍 Dry run completed - no files written\n")
		return nil
	}

	fmt.Fprintf(stdout, "💾 Writing sped-up track: %s\n", opts.output)

	if strings.EqualFold(filepath.Ext(opts.output), ".fit") {
		if err := fitexport.Write(opts.output, fitPoints(gpxData, result.Points), fitexport.DefaultOptions()); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "✅ Output written to: %s\n", opts.output)
		return nil
	}

	updated := make([]gpx.TimedPoint, len(result.Points))
	for i, p := range result.Points {
		updated[i] = gpx.TimedPoint{
			Lat:      p.Lat,
			Lon:      p.Lon,
			Time:     p.NewTime,
			TrackIdx: p.TrackIdx,
			SegIdx:   p.SegIdx,
			PtIdx:    p.PtIdx,
		}
	}
	if err := gpxData.SetTimes(updated, cfg.TimeLayout); err != nil {
		return err
	}
	gpxData.SetMetadataTime(result.Stats.NewStart, cfg.TimeLayout)

	writeOpts := gpx.DefaultWriteOptions()
	writeOpts.Creator = cfg.Creator

	var want *verify.Expectation
	if opts.verify {
		expectation, err := expectedOutput(result, cfg.TimeLayout)
		if err != nil {
			return err
		}
		want = &expectation
	}
	if err := writeGPX(opts.output, gpxData, writeOpts, want, stdout); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "✅ Output written to: %s\n", opts.output)
	return nil
}

// fitPoints pairs the retimed points with the elevation from the source.
func fitPoints(gpxData *gpx.GPX, points []retime.Point) []fitexport.Point {
	out := make([]fitexport.Point, len(points))
	for i, p := range points {
		src := gpxData.Tracks[p.TrackIdx].Segments[p.SegIdx].Points[p.PtIdx]
		out[i] = fitexport.Point{
			Lat:       p.Lat,
			Lon:       p.Lon,
			Elevation: src.Elevation,
			Distance:  p.Distance,
			Time:      p.NewTime,
		}
	}
	return out
}

// expectedOutput describes the retimed track as the output layout can
// represent it.
func expectedOutput(result retime.Result, layout string) (verify.Expectation, error) {
	start, err := gpx.ParseTime(gpx.FormatTime(result.Stats.NewStart, layout))
	if err != nil {
		return verify.Expectation{}, err
	}
	finish, err := gpx.ParseTime(gpx.FormatTime(result.Stats.NewFinish, layout))
	if err != nil {
		return verify.Expectation{}, err
	}

	return verify.Expectation{
		TimedPoints: len(result.Points),
		Start:       start,
		Finish:      finish,
	}, nil
}

// writeGPX encodes the document in memory and, when want is set, checks the
// encoded bytes with the independent parser. The file is only created once
// both steps succeed.
func writeGPX(path string, gpxData *gpx.GPX, opts gpx.WriteOptions, want *verify.Expectation, stdout io.Writer) error {
	var buf bytes.Buffer
	if err := gpxData.WriteToWriter(&buf, opts); err != nil {
		return err
	}

	if want != nil {
		report, err := verify.Bytes(buf.Bytes(), *want)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "🔎 Verified %d timestamps (moving time %v, stopped %v)\n",
			report.TimedPoints, report.MovingTime.Round(time.Second), report.StoppedTime.Round(time.Second))
	}

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func printStats(w io.Writer, stats retime.Stats, opts retime.Options, layout string) {
	fmt.Fprintf(w, "\n📊 Speed-up Statistics:\n")
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(w, "📏 Total distance: %.1f meters (%.2f miles)\n", stats.TotalDistance, stats.TotalMiles)
	fmt.Fprintf(w, "⏱️  Original duration: %.1f seconds (%.1f minutes)\n",
		stats.OriginalDuration, stats.OriginalDuration/60)

	switch policy := opts.Duration.(type) {
	case retime.TargetPace:
		fmt.Fprintf(w, "🏃 Original pace: %s min/mile\n", retime.FormatPace(stats.OriginalPace))
		fmt.Fprintf(w, "🎯 Target pace: %s min/mile\n", retime.FormatPace(policy.SecondsPerMile()))
	case retime.PercentSpeedup:
		fmt.Fprintf(w, "⚡ Speed increase: %g%%\n", policy.Percent())
	}

	fmt.Fprintf(w, "⏱️  New duration: %.1f seconds (%.1f minutes)\n", stats.NewDuration, stats.NewDuration/60)

	switch opts.Shift.(type) {
	case retime.ShiftToNow:
		fmt.Fprintf(w, "🕒 Shifted timestamps so the last point is at current time: %s\n",
			gpx.FormatTime(stats.NewFinish, layout))
	case retime.KeepFinish:
		fmt.Fprintf(w, "🏁 Keeping original finish time: %s\n", gpx.FormatTime(stats.OriginalFinish, layout))
		fmt.Fprintf(w, "🕒 New start time: %s\n", gpx.FormatTime(stats.NewStart, layout))
	}
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
}
