// Package verify re-reads an encoded GPX document with an independent parser
// and checks that the timestamps came out the way they were computed.
package verify

import (
	"errors"
	"fmt"
	"time"

	"github.com/tkrajina/gpxgo/gpx"
)

var ErrMismatch = errors.New("output verification failed")

// Expectation describes what the written file should contain.
type Expectation struct {
	TimedPoints int
	Start       time.Time
	Finish      time.Time

	// Tolerance absorbs the precision lost by the output time layout.
	Tolerance time.Duration
}

// Report is what the independent parser saw.
type Report struct {
	TimedPoints int           `json:"timed_points"`
	Start       time.Time     `json:"start"`
	Finish      time.Time     `json:"finish"`
	Length2D    float64       `json:"length_2d_m"`
	MovingTime  time.Duration `json:"moving_time_ns"`
	StoppedTime time.Duration `json:"stopped_time_ns"`
	MaxSpeed    float64       `json:"max_speed_ms"`
	Monotonic   bool          `json:"monotonic"`
}

// Bytes parses an encoded document and compares it against want.
func Bytes(data []byte, want Expectation) (Report, error) {
	gpxFile, err := gpx.ParseBytes(data)
	if err != nil {
		return Report{}, err
	}
	return check(gpxFile, want)
}

func check(gpxFile *gpx.GPX, want Expectation) (Report, error) {
	report := Report{Monotonic: true}

	var previous time.Time
	for _, track := range gpxFile.Tracks {
		for _, segment := range track.Segments {
			for _, p := range segment.Points {
				if p.Timestamp.IsZero() {
					continue
				}
				if report.TimedPoints == 0 {
					report.Start = p.Timestamp
				} else if p.Timestamp.Before(previous) {
					report.Monotonic = false
				}
				previous = p.Timestamp
				report.TimedPoints++
			}
		}
	}
	report.Finish = previous

	moving := gpxFile.MovingData()
	report.Length2D = gpxFile.Length2D()
	report.MovingTime = time.Duration(moving.MovingTime * float64(time.Second))
	report.StoppedTime = time.Duration(moving.StoppedTime * float64(time.Second))
	report.MaxSpeed = moving.MaxSpeed

	if report.TimedPoints != want.TimedPoints {
		return report, fmt.Errorf("%w: expected %d timed points, found %d", ErrMismatch, want.TimedPoints, report.TimedPoints)
	}
	if !report.Monotonic {
		return report, fmt.Errorf("%w: timestamps go backwards", ErrMismatch)
	}
	if !within(report.Start, want.Start, want.Tolerance) {
		return report, fmt.Errorf("%w: start %s, expected %s", ErrMismatch,
			report.Start.Format(time.RFC3339), want.Start.Format(time.RFC3339))
	}
	if !within(report.Finish, want.Finish, want.Tolerance) {
		return report, fmt.Errorf("%w: finish %s, expected %s", ErrMismatch,
			report.Finish.Format(time.RFC3339), want.Finish.Format(time.RFC3339))
	}

	return report, nil
}

func within(got, want time.Time, tolerance time.Duration) bool {
	d := got.Sub(want)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
