package retime

import "errors"

var (
	ErrInsufficientData  = errors.New("track must contain at least 2 track points with timestamps")
	ErrInvalidTimeRange  = errors.New("invalid time range in track")
	ErrInvalidPaceFormat = errors.New("invalid pace format")
	ErrInvalidSpeedup    = errors.New("speedup percentage must be between 0 and 100 (exclusive)")
	ErrConflictingShift  = errors.New("shift-to-now and keep-finish are mutually exclusive")
)
