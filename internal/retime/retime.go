// Package retime rewrites the timestamps of a recorded track so that it is
// covered faster (or at a chosen pace) while every point keeps its position.
//
// Each point's new time is placed proportionally to the distance already
// covered at that point, so the shape of the effort is flattened into an
// even pace over the whole track.
package retime

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/planbiir/gspeed/internal/geo"
)

// Point is a timestamped track position.
type Point struct {
	Lat  float64
	Lon  float64
	Time time.Time

	// Derived by Retime
	Distance float64 // meters from the first point
	NewTime  time.Time

	// Original indices for writing the new time back to the source document
	TrackIdx, SegIdx, PtIdx int
}

// Options selects the duration and shift policies.
type Options struct {
	Duration DurationPolicy
	Shift    ShiftPolicy // nil means NoShift

	// Now is read once for ShiftToNow. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Stats summarizes a retime run.
type Stats struct {
	RunID  string `json:"run_id"`
	Points int    `json:"points"`

	TotalDistance float64 `json:"total_distance_m"`
	TotalMiles    float64 `json:"total_distance_miles"`

	OriginalDuration float64 `json:"original_duration_s"`
	NewDuration      float64 `json:"new_duration_s"`
	OriginalPace     float64 `json:"original_pace_s_per_mile"`
	NewPace          float64 `json:"new_pace_s_per_mile"`

	Policy      string  `json:"policy"`
	Shift       string  `json:"shift"`
	ShiftOffset float64 `json:"shift_offset_s"`

	OriginalStart  time.Time `json:"original_start"`
	OriginalFinish time.Time `json:"original_finish"`
	NewStart       time.Time `json:"new_start"`
	NewFinish      time.Time `json:"new_finish"`
}

// Result contains the retimed points and statistics.
type Result struct {
	Points []Point
	Stats  Stats
}

// Retime computes cumulative distances, resolves the new duration, spreads
// the new timestamps over the points by distance fraction and applies the
// shift policy. The input slice is not modified.
func Retime(points []Point, opts Options) (Result, error) {
	if opts.Duration == nil {
		return Result{}, errors.New("no duration policy selected")
	}
	if len(points) < 2 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInsufficientData, len(points))
	}

	shift := opts.Shift
	if shift == nil {
		shift = NoShift{}
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	out := make([]Point, len(points))
	copy(out, points)

	start := out[0].Time
	finish := out[len(out)-1].Time
	original := finish.Sub(start)
	if original <= 0 {
		return Result{}, fmt.Errorf("%w: track ends at %s, not after its start %s",
			ErrInvalidTimeRange, finish.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	totalDistance := accumulateDistance(out)

	newSeconds := opts.Duration.newDuration(original, totalDistance)
	newDuration, err := toDuration(newSeconds)
	if err != nil {
		return Result{}, err
	}

	assignProgressTimes(out, start, newDuration, totalDistance)

	offset := shift.offset(finish, out[len(out)-1].NewTime, now())
	if offset != 0 {
		for i := range out {
			out[i].NewTime = out[i].NewTime.Add(offset)
		}
	}

	miles := geo.Miles(totalDistance)
	stats := Stats{
		RunID:            uuid.NewString(),
		Points:           len(out),
		TotalDistance:    totalDistance,
		TotalMiles:       miles,
		OriginalDuration: original.Seconds(),
		NewDuration:      newDuration.Seconds(),
		Policy:           opts.Duration.String(),
		Shift:            shift.String(),
		ShiftOffset:      offset.Seconds(),
		OriginalStart:    start,
		OriginalFinish:   finish,
		NewStart:         out[0].NewTime,
		NewFinish:        out[len(out)-1].NewTime,
	}
	if miles > 0 {
		stats.OriginalPace = original.Seconds() / miles
		stats.NewPace = newDuration.Seconds() / miles
	}

	return Result{Points: out, Stats: stats}, nil
}

// accumulateDistance fills Distance for every point and returns the total.
func accumulateDistance(points []Point) float64 {
	points[0].Distance = 0
	for i := 1; i < len(points); i++ {
		points[i].Distance = points[i-1].Distance + geo.HaversineDistance(
			points[i-1].Lat, points[i-1].Lon,
			points[i].Lat, points[i].Lon)
	}
	return points[len(points)-1].Distance
}

// assignProgressTimes places every point at start + d*progress, where progress
// is the fraction of the total distance covered at that point. A track with no
// distance collapses onto start.
func assignProgressTimes(points []Point, start time.Time, d time.Duration, totalDistance float64) {
	for i := range points {
		progress := 0.0
		if totalDistance > 0 {
			progress = points[i].Distance / totalDistance
		}
		points[i].NewTime = start.Add(time.Duration(math.Round(float64(d) * progress)))
	}
}

func toDuration(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0, fmt.Errorf("%w: computed duration %v s", ErrInvalidTimeRange, seconds)
	}
	if seconds >= float64(math.MaxInt64)/float64(time.Second) {
		return 0, fmt.Errorf("%w: computed duration %.0f s is too long", ErrInvalidTimeRange, seconds)
	}
	return time.Duration(math.Round(seconds * float64(time.Second))), nil
}
