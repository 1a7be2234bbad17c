package retime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planbiir/gspeed/internal/geo"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func twoPointTrack() []Point {
	return []Point{
		{Lat: 0, Lon: 0, Time: base},
		{Lat: 0, Lon: 0.01, Time: base.Add(10 * time.Minute), PtIdx: 1},
	}
}

// ridgeTrack builds an uneven effort: fast start, long slow middle, sprint finish.
func ridgeTrack() []Point {
	offsets := []time.Duration{0, 30 * time.Second, 60 * time.Second, 8 * time.Minute, 15 * time.Minute, 16 * time.Minute}
	points := make([]Point, len(offsets))
	for i, off := range offsets {
		points[i] = Point{
			Lat:   46.0 + float64(i)*0.001,
			Lon:   7.0 + float64(i)*0.0005,
			Time:  base.Add(off),
			PtIdx: i,
		}
	}
	return points
}

func mustSpeedup(t *testing.T, p float64) PercentSpeedup {
	t.Helper()
	policy, err := NewPercentSpeedup(p)
	require.NoError(t, err)
	return policy
}

func TestRetimeHalfSpeedup(t *testing.T) {
	result, err := Retime(twoPointTrack(), Options{Duration: mustSpeedup(t, 50)})
	require.NoError(t, err)

	assert.Equal(t, 300.0, result.Stats.NewDuration)
	assert.Equal(t, base, result.Points[0].NewTime)
	assert.Equal(t, base.Add(5*time.Minute), result.Points[1].NewTime)
	assert.InDelta(t, 1112, result.Stats.TotalDistance, 1)
}

func TestRetimeTargetPace(t *testing.T) {
	pace, err := ParsePace("7:00")
	require.NoError(t, err)
	require.Equal(t, 420.0, pace.SecondsPerMile())

	result, err := Retime(twoPointTrack(), Options{Duration: pace})
	require.NoError(t, err)

	expected := result.Stats.TotalDistance / geo.MetersPerMile * 420
	assert.InDelta(t, expected, result.Stats.NewDuration, 1e-6)
	assert.InDelta(t, 290, result.Stats.NewDuration, 1)
	assert.InDelta(t, 420, result.Stats.NewPace, 1e-6)
	assert.InDelta(t, 600/result.Stats.TotalMiles, result.Stats.OriginalPace, 1e-9)
}

func TestRetimeZeroSpeedupKeepsDuration(t *testing.T) {
	points := ridgeTrack()
	result, err := Retime(points, Options{Duration: mustSpeedup(t, 0)})
	require.NoError(t, err)

	assert.Equal(t, result.Stats.OriginalDuration, result.Stats.NewDuration)
	assert.Equal(t, points[0].Time, result.Points[0].NewTime)
	assert.Equal(t, points[len(points)-1].Time, result.Points[len(points)-1].NewTime)
}

func TestRetimeMonotonic(t *testing.T) {
	for _, p := range []float64{0, 10, 50, 99.9} {
		result, err := Retime(ridgeTrack(), Options{Duration: mustSpeedup(t, p)})
		require.NoError(t, err)

		for i := 1; i < len(result.Points); i++ {
			assert.False(t, result.Points[i].NewTime.Before(result.Points[i-1].NewTime),
				"speedup %v: point %d went back in time", p, i)
			assert.GreaterOrEqual(t, result.Points[i].Distance, result.Points[i-1].Distance)
		}
	}
}

func TestRetimeProportionalToDistance(t *testing.T) {
	result, err := Retime(ridgeTrack(), Options{Duration: mustSpeedup(t, 20)})
	require.NoError(t, err)

	total := result.Stats.TotalDistance
	newDuration := result.Stats.NewDuration
	for _, p := range result.Points {
		want := newDuration * p.Distance / total
		got := p.NewTime.Sub(base).Seconds()
		assert.InDelta(t, want, got, 1e-6)
	}
	last := result.Points[len(result.Points)-1]
	assert.Equal(t, base.Add(time.Duration(newDuration*float64(time.Second))), last.NewTime)
}

func TestRetimeDoesNotModifyInput(t *testing.T) {
	points := ridgeTrack()
	_, err := Retime(points, Options{Duration: mustSpeedup(t, 30)})
	require.NoError(t, err)

	for _, p := range points {
		assert.True(t, p.NewTime.IsZero())
		assert.Zero(t, p.Distance)
	}
}

func TestRetimeShiftToNow(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 34, 56, 0, time.UTC)
	result, err := Retime(ridgeTrack(), Options{
		Duration: mustSpeedup(t, 25),
		Shift:    ShiftToNow{},
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)

	pts := result.Points
	assert.Equal(t, now, pts[len(pts)-1].NewTime)
	assert.Equal(t, "shift to now", result.Stats.Shift)

	// Spacing is unchanged by the shift
	unshifted, err := Retime(ridgeTrack(), Options{Duration: mustSpeedup(t, 25)})
	require.NoError(t, err)
	for i := 1; i < len(pts); i++ {
		assert.Equal(t,
			unshifted.Points[i].NewTime.Sub(unshifted.Points[i-1].NewTime),
			pts[i].NewTime.Sub(pts[i-1].NewTime))
	}
}

func TestRetimeShiftToNowDefaultClock(t *testing.T) {
	before := time.Now()
	result, err := Retime(ridgeTrack(), Options{Duration: mustSpeedup(t, 25), Shift: ShiftToNow{}})
	after := time.Now()
	require.NoError(t, err)

	last := result.Points[len(result.Points)-1].NewTime
	assert.False(t, last.Before(before.Add(-time.Millisecond)))
	assert.False(t, last.After(after.Add(time.Millisecond)))
}

func TestRetimeKeepFinish(t *testing.T) {
	points := ridgeTrack()
	result, err := Retime(points, Options{Duration: mustSpeedup(t, 40), Shift: KeepFinish{}})
	require.NoError(t, err)

	pts := result.Points
	assert.Equal(t, points[len(points)-1].Time, pts[len(pts)-1].NewTime)
	assert.True(t, pts[0].NewTime.After(points[0].Time))
	assert.InDelta(t, result.Stats.OriginalDuration-result.Stats.NewDuration, result.Stats.ShiftOffset, 1e-9)
}

func TestRetimeZeroDistanceCollapses(t *testing.T) {
	points := []Point{
		{Lat: 46, Lon: 7, Time: base},
		{Lat: 46, Lon: 7, Time: base.Add(time.Minute)},
		{Lat: 46, Lon: 7, Time: base.Add(2 * time.Minute)},
	}
	pace, err := NewTargetPace(420)
	require.NoError(t, err)

	result, err := Retime(points, Options{Duration: pace})
	require.NoError(t, err)

	assert.Zero(t, result.Stats.NewDuration)
	assert.Zero(t, result.Stats.OriginalPace)
	for _, p := range result.Points {
		assert.Equal(t, base, p.NewTime)
	}
}

func TestRetimeErrors(t *testing.T) {
	speedup := mustSpeedup(t, 10)

	t.Run("no points", func(t *testing.T) {
		_, err := Retime(nil, Options{Duration: speedup})
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("single point", func(t *testing.T) {
		_, err := Retime([]Point{{Lat: 1, Lon: 1, Time: base}}, Options{Duration: speedup})
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("same start and finish", func(t *testing.T) {
		points := []Point{{Lat: 0, Lon: 0, Time: base}, {Lat: 0, Lon: 0.01, Time: base}}
		_, err := Retime(points, Options{Duration: speedup})
		assert.ErrorIs(t, err, ErrInvalidTimeRange)
	})

	t.Run("finish before start", func(t *testing.T) {
		points := []Point{{Lat: 0, Lon: 0, Time: base}, {Lat: 0, Lon: 0.01, Time: base.Add(-time.Minute)}}
		_, err := Retime(points, Options{Duration: speedup})
		assert.ErrorIs(t, err, ErrInvalidTimeRange)
	})

	t.Run("missing policy", func(t *testing.T) {
		_, err := Retime(twoPointTrack(), Options{})
		assert.Error(t, err)
	})
}

func TestNewPercentSpeedup(t *testing.T) {
	for _, p := range []float64{0, 1, 50, 99.99} {
		_, err := NewPercentSpeedup(p)
		assert.NoError(t, err, "speedup %v", p)
	}
	for _, p := range []float64{-0.1, 100, 150, math.NaN()} {
		_, err := NewPercentSpeedup(p)
		assert.ErrorIs(t, err, ErrInvalidSpeedup, "speedup %v", p)
	}
}

func TestParsePace(t *testing.T) {
	valid := map[string]float64{
		"7:30":  450,
		"8:15":  495,
		"7:00":  420,
		"12:05": 725,
		"0:59":  59,
	}
	for in, want := range valid {
		pace, err := ParsePace(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, pace.SecondsPerMile(), in)
	}

	for _, in := range []string{"7:75", "7:60", "7", "7:30:00", "-1:30", "7:-5", "-0:30", "+7:30", "7:+05", "a:30", "7:xx", "", "0:00"} {
		_, err := ParsePace(in)
		assert.ErrorIs(t, err, ErrInvalidPaceFormat, "pace %q", in)
	}
}

func TestNewTargetPace(t *testing.T) {
	_, err := NewTargetPace(0)
	assert.ErrorIs(t, err, ErrInvalidPaceFormat)
	_, err = NewTargetPace(-5)
	assert.ErrorIs(t, err, ErrInvalidPaceFormat)
	_, err = NewTargetPace(math.Inf(1))
	assert.ErrorIs(t, err, ErrInvalidPaceFormat)

	pace, err := NewTargetPace(450)
	require.NoError(t, err)
	assert.Equal(t, "target pace 7:30 min/mile", pace.String())
}

func TestFormatPace(t *testing.T) {
	assert.Equal(t, "7:30", FormatPace(450))
	assert.Equal(t, "7:05", FormatPace(425.9))
	assert.Equal(t, "0:00", FormatPace(0))
	assert.Equal(t, "-:--", FormatPace(math.Inf(1)))
}

func TestShiftFromFlags(t *testing.T) {
	policy, err := ShiftFromFlags(false, false)
	require.NoError(t, err)
	assert.IsType(t, NoShift{}, policy)

	policy, err = ShiftFromFlags(true, false)
	require.NoError(t, err)
	assert.IsType(t, ShiftToNow{}, policy)

	policy, err = ShiftFromFlags(false, true)
	require.NoError(t, err)
	assert.IsType(t, KeepFinish{}, policy)

	_, err = ShiftFromFlags(true, true)
	assert.ErrorIs(t, err, ErrConflictingShift)
}
