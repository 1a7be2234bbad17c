package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planbiir/gspeed/internal/gpx"
	"github.com/planbiir/gspeed/internal/verify"
)

const track = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="Garmin Connect" xmlns="http://www.topografix.com/GPX/1/1">
  <metadata><time>2026-03-01T08:00:00Z</time></metadata>
  <trk>
    <name>Morning Run</name>
    <trkseg>
      <trkpt lat="46.000" lon="7.0"><ele>500.0</ele><time>2026-03-01T08:00:00Z</time></trkpt>
      <trkpt lat="46.001" lon="7.0"><ele>501.0</ele><time>2026-03-01T08:05:00Z</time></trkpt>
      <trkpt lat="46.002" lon="7.0"><ele>502.0</ele><time>2026-03-01T08:10:00Z</time></trkpt>
    </trkseg>
  </trk>
</gpx>`

func writeTrack(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.gpx")
	require.NoError(t, os.WriteFile(path, []byte(track), 0o644))
	return path
}

func runCLI(args ...string) (int, string, string) {
	return runCLIAt(nil, args...)
}

func runCLIAt(now func() time.Time, args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr, now)
	return code, stdout.String(), stderr.String()
}

func outputTimes(t *testing.T, path string) []time.Time {
	t.Helper()
	g, err := gpx.Parse(path)
	require.NoError(t, err)
	points, err := g.TimedPoints()
	require.NoError(t, err)

	times := make([]time.Time, len(points))
	for i, p := range points {
		times[i] = p.Time
	}
	return times
}

func TestDefaultOutput(t *testing.T) {
	assert.Equal(t, "run_fast.gpx", defaultOutput("run.gpx", "_fast"))
	assert.Equal(t, "dir/RUN_fast.gpx", defaultOutput("dir/RUN.GPX", "_fast"))
	assert.Equal(t, "track_quick.gpx", defaultOutput("track", "_quick"))
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"-speedup", "20"}},
		{"no mode", []string{"-i", "run.gpx"}},
		{"both modes", []string{"-speedup", "20", "-pace", "7:30", "run.gpx"}},
		{"unknown flag", []string{"-bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(tt.args...)
			assert.Equal(t, 2, code)
		})
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI("-version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "gspeed")
}

func TestInvalidPolicyLeavesNoOutput(t *testing.T) {
	input := writeTrack(t)
	output := filepath.Join(filepath.Dir(input), "out.gpx")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad pace", []string{"-pace", "7-30"}, "invalid pace format"},
		{"zero pace", []string{"-pace", "0:00"}, "invalid pace format"},
		{"speedup too large", []string{"-speedup", "100"}, "speedup percentage"},
		{"both shifts", []string{"-speedup", "20", "-shift-to-now", "-keep-finish"}, "mutually exclusive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "-o", output, input)
			code, _, stderr := runCLI(args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.want)
			assert.NoFileExists(t, output)
		})
	}
}

func TestBadInputLeavesNoOutput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name: "one timed point",
			input: `<gpx version="1.1" creator="x"><trk><trkseg>
				<trkpt lat="46.0" lon="7.0"><time>2026-03-01T08:00:00Z</time></trkpt>
				<trkpt lat="46.001" lon="7.0"></trkpt>
			</trkseg></trk></gpx>`,
			want: "at least 2 track points",
		},
		{
			name: "equal timestamps",
			input: `<gpx version="1.1" creator="x"><trk><trkseg>
				<trkpt lat="46.0" lon="7.0"><time>2026-03-01T08:00:00Z</time></trkpt>
				<trkpt lat="46.001" lon="7.0"><time>2026-03-01T08:00:00Z</time></trkpt>
			</trkseg></trk></gpx>`,
			want: "invalid time range",
		},
		{
			name:  "malformed xml",
			input: `<gpx version="1.1"><trk><trkseg>`,
			want:  "failed to parse GPX",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input := filepath.Join(dir, "bad.gpx")
			output := filepath.Join(dir, "out.gpx")
			require.NoError(t, os.WriteFile(input, []byte(tt.input), 0o644))

			code, _, stderr := runCLI("-speedup", "20", "-o", output, input)
			assert.Equal(t, 1, code)
			assert.True(t, strings.HasPrefix(stderr, "Error:"), stderr)
			assert.Contains(t, stderr, tt.want)
			assert.NoFileExists(t, output)
		})
	}
}

func TestVerifyMismatchLeavesNoOutput(t *testing.T) {
	gpxData, err := gpx.ParseReader(strings.NewReader(track))
	require.NoError(t, err)
	output := filepath.Join(t.TempDir(), "out.gpx")

	want := verify.Expectation{
		TimedPoints: 4,
		Start:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Finish:      time.Date(2026, 3, 1, 8, 10, 0, 0, time.UTC),
	}
	var stdout bytes.Buffer
	err = writeGPX(output, gpxData, gpx.DefaultWriteOptions(), &want, &stdout)
	require.ErrorIs(t, err, verify.ErrMismatch)
	assert.NoFileExists(t, output)

	want.TimedPoints = 3
	require.NoError(t, writeGPX(output, gpxData, gpx.DefaultWriteOptions(), &want, &stdout))
	assert.FileExists(t, output)
	assert.Contains(t, stdout.String(), "Verified 3 timestamps")
}

func TestSpeedupWritesDefaultOutput(t *testing.T) {
	input := writeTrack(t)

	code, stdout, stderr := runCLI("-speedup", "50", "-verify", "-i", input)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Speed increase: 50%")

	output := filepath.Join(filepath.Dir(input), "run_fast.gpx")
	times := outputTimes(t, output)
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.Len(t, times, 3)
	assert.True(t, times[0].Equal(start))
	assert.True(t, times[2].Equal(start.Add(5*time.Minute)))
	assert.InDelta(t, 150, times[1].Sub(start).Seconds(), 1)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<name>Morning Run</name>")
	assert.Contains(t, string(data), "<ele>501</ele>")
}

func TestPaceWithKeepFinish(t *testing.T) {
	input := writeTrack(t)
	output := filepath.Join(t.TempDir(), "paced.gpx")

	code, stdout, stderr := runCLI("-pace", "8:00", "-keep-finish", "-o", output, input)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Target pace: 8:00")

	times := outputTimes(t, output)
	finish := time.Date(2026, 3, 1, 8, 10, 0, 0, time.UTC)
	require.Len(t, times, 3)
	assert.True(t, times[2].Equal(finish))
	assert.True(t, times[0].After(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)), "start moves forward")
}

func TestShiftToNow(t *testing.T) {
	input := writeTrack(t)
	output := filepath.Join(t.TempDir(), "now.gpx")
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	code, _, stderr := runCLIAt(func() time.Time { return now }, "-speedup", "20", "-shift-to-now", "-o", output, input)
	require.Equal(t, 0, code, stderr)

	times := outputTimes(t, output)
	require.Len(t, times, 3)
	assert.True(t, times[2].Equal(now))
	assert.True(t, times[0].Equal(now.Add(-8*time.Minute)))
}

func TestDryRunWritesNothing(t *testing.T) {
	input := writeTrack(t)

	code, stdout, _ := runCLI("-speedup", "20", "-dry-run", "-stats-json", input)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"new_duration_s": 480`)
	assert.Contains(t, stdout, "Dry run completed")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(input), "run_fast.gpx"))
}

func TestFitOutput(t *testing.T) {
	input := writeTrack(t)
	output := filepath.Join(t.TempDir(), "run.fit")

	code, _, stderr := runCLI("-speedup", "10", "-o", output, input)
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Greater(t, len(data), 12)
	assert.Equal(t, ".FIT", string(data[8:12]))
}

func TestMissingInput(t *testing.T) {
	code, _, stderr := runCLI("-speedup", "20", filepath.Join(t.TempDir(), "missing.gpx"))
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(stderr, "Error:"))
}
