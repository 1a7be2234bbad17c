package retime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/planbiir/gspeed/internal/geo"
)

// DurationPolicy decides how long the retimed track takes. The only
// implementations are PercentSpeedup and TargetPace.
type DurationPolicy interface {
	// newDuration returns the new total duration in seconds.
	newDuration(original time.Duration, totalMeters float64) float64
	String() string
}

// PercentSpeedup shortens the track duration by a fixed percentage.
type PercentSpeedup struct {
	percent float64
}

// NewPercentSpeedup validates p against [0, 100).
func NewPercentSpeedup(p float64) (PercentSpeedup, error) {
	if math.IsNaN(p) || p < 0 || p >= 100 {
		return PercentSpeedup{}, fmt.Errorf("%w: got %v", ErrInvalidSpeedup, p)
	}
	return PercentSpeedup{percent: p}, nil
}

func (p PercentSpeedup) Percent() float64 { return p.percent }

func (p PercentSpeedup) newDuration(original time.Duration, _ float64) float64 {
	return original.Seconds() * (1 - p.percent/100)
}

func (p PercentSpeedup) String() string {
	return fmt.Sprintf("speedup %g%%", p.percent)
}

// TargetPace stretches or squeezes the track so that it is covered at a
// fixed pace, in seconds per statute mile.
type TargetPace struct {
	secondsPerMile float64
}

// NewTargetPace validates that the pace is a positive, finite number of
// seconds per mile.
func NewTargetPace(secondsPerMile float64) (TargetPace, error) {
	if math.IsNaN(secondsPerMile) || math.IsInf(secondsPerMile, 0) || secondsPerMile <= 0 {
		return TargetPace{}, fmt.Errorf("%w: pace must be positive, got %v s/mile", ErrInvalidPaceFormat, secondsPerMile)
	}
	return TargetPace{secondsPerMile: secondsPerMile}, nil
}

// ParsePace reads a pace in mm:ss format, e.g. "7:30" for 7:30 min/mile.
func ParsePace(s string) (TargetPace, error) {
	invalid := fmt.Errorf("%w %q: use mm:ss format (e.g. 7:30)", ErrInvalidPaceFormat, s)

	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TargetPace{}, invalid
	}
	minutes, err := paceComponent(parts[0])
	if err != nil {
		return TargetPace{}, invalid
	}
	seconds, err := paceComponent(parts[1])
	if err != nil {
		return TargetPace{}, invalid
	}
	if seconds >= 60 {
		return TargetPace{}, invalid
	}
	if minutes == 0 && seconds == 0 {
		return TargetPace{}, invalid
	}

	return TargetPace{secondsPerMile: float64(minutes*60 + seconds)}, nil
}

// paceComponent reads an unsigned decimal; Atoi alone would take "-0" and "+7".
func paceComponent(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s)
}

func (p TargetPace) SecondsPerMile() float64 { return p.secondsPerMile }

func (p TargetPace) newDuration(_ time.Duration, totalMeters float64) float64 {
	return geo.Miles(totalMeters) * p.secondsPerMile
}

func (p TargetPace) String() string {
	return "target pace " + FormatPace(p.secondsPerMile) + " min/mile"
}

// FormatPace renders seconds per mile as m:ss.
func FormatPace(secondsPerMile float64) string {
	if math.IsNaN(secondsPerMile) || math.IsInf(secondsPerMile, 0) || secondsPerMile < 0 {
		return "-:--"
	}
	total := int(secondsPerMile)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// ShiftPolicy moves the whole retimed track by a uniform offset. The only
// implementations are NoShift, ShiftToNow and KeepFinish.
type ShiftPolicy interface {
	offset(originalLast, newLast, now time.Time) time.Duration
	String() string
}

// NoShift keeps the retimed track anchored at the original start.
type NoShift struct{}

func (NoShift) offset(_, _, _ time.Time) time.Duration { return 0 }
func (NoShift) String() string                        { return "none" }

// ShiftToNow moves the track so that its last point is at the current time.
type ShiftToNow struct{}

func (ShiftToNow) offset(_, newLast, now time.Time) time.Duration { return now.Sub(newLast) }
func (ShiftToNow) String() string                               { return "shift to now" }

// KeepFinish moves the track so that it still ends at the original finish time.
type KeepFinish struct{}

func (KeepFinish) offset(originalLast, newLast, _ time.Time) time.Duration {
	return originalLast.Sub(newLast)
}
func (KeepFinish) String() string { return "keep finish" }

// ShiftFromFlags maps the two boolean CLI switches onto a ShiftPolicy.
func ShiftFromFlags(shiftToNow, keepFinish bool) (ShiftPolicy, error) {
	switch {
	case shiftToNow && keepFinish:
		return nil, ErrConflictingShift
	case shiftToNow:
		return ShiftToNow{}, nil
	case keepFinish:
		return KeepFinish{}, nil
	default:
		return NoShift{}, nil
	}
}
