// Package fitexport writes a retimed track as a FIT activity file so that it
// can be uploaded to services that prefer FIT over GPX.
package fitexport

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"time"

	"github.com/muktihari/fit/encoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"
)

// degrees to semicircles (FIT standard)
const degreesToSemicircles = 2147483648.0 / 180.0

// Point is one record of the activity.
type Point struct {
	Lat       float64
	Lon       float64
	Elevation *float64
	Distance  float64 // meters from start
	Time      time.Time
}

// Options sets the activity metadata.
type Options struct {
	Sport        typedef.Sport
	SerialNumber uint32
}

// DefaultOptions describes a running activity.
func DefaultOptions() Options {
	return Options{
		Sport:        typedef.SportRunning,
		SerialNumber: 12345,
	}
}

// Write encodes the activity in memory and writes it to filename in one go.
func Write(filename string, points []Point, opts Options) error {
	var buf bytes.Buffer
	if err := Encode(&buf, points, opts); err != nil {
		return err
	}
	return os.WriteFile(filename, buf.Bytes(), 0o644)
}

// Encode writes FileId, one Record per point, then the closing Event, Lap,
// Session and Activity messages.
func Encode(w io.Writer, points []Point, opts Options) error {
	if len(points) == 0 {
		return errors.New("no points to export")
	}

	start := points[0].Time
	finish := points[len(points)-1].Time
	elapsed := finish.Sub(start).Seconds()
	totalDistance := toCentimeters(points[len(points)-1].Distance)

	fit := proto.FIT{}

	fileIdMesg := mesgdef.FileId{
		Type:         typedef.FileActivity,
		Manufacturer: typedef.ManufacturerDevelopment,
		Product:      0,
		SerialNumber: opts.SerialNumber,
		TimeCreated:  start,
	}
	fit.Messages = append(fit.Messages, fileIdMesg.ToMesg(nil))

	for _, p := range points {
		// Unset fields keep their FIT invalid values
		record := mesgdef.NewRecord(nil)
		record.Timestamp = p.Time
		record.PositionLat = toSemicircles(p.Lat)
		record.PositionLong = toSemicircles(p.Lon)
		record.Distance = toCentimeters(p.Distance)

		// Scale 5, offset 500 m
		if p.Elevation != nil {
			record.EnhancedAltitude = uint32((*p.Elevation + 500.0) * 5.0)
		}
		fit.Messages = append(fit.Messages, record.ToMesg(nil))
	}

	eventMesg := mesgdef.Event{
		Timestamp: finish,
		Event:     typedef.EventTimer,
		EventType: typedef.EventTypeStopAll,
	}
	fit.Messages = append(fit.Messages, eventMesg.ToMesg(nil))

	lapMesg := mesgdef.Lap{
		Timestamp:        finish,
		StartTime:        start,
		TotalElapsedTime: uint32(elapsed * 1000), // ms
		TotalTimerTime:   uint32(elapsed * 1000), // ms
		TotalDistance:    totalDistance,
		Event:            typedef.EventLap,
		EventType:        typedef.EventTypeStop,
	}
	fit.Messages = append(fit.Messages, lapMesg.ToMesg(nil))

	sessionMesg := mesgdef.Session{
		Timestamp:        finish,
		StartTime:        start,
		TotalElapsedTime: uint32(elapsed * 1000), // ms
		TotalTimerTime:   uint32(elapsed * 1000), // ms
		TotalDistance:    totalDistance,
		Sport:            opts.Sport,
		SubSport:         typedef.SubSportGeneric,
		Event:            typedef.EventSession,
		EventType:        typedef.EventTypeStop,
		Trigger:          typedef.SessionTriggerActivityEnd,
	}
	fit.Messages = append(fit.Messages, sessionMesg.ToMesg(nil))

	activityMesg := mesgdef.NewActivity(nil)
	activityMesg.Timestamp = finish
	activityMesg.TotalTimerTime = uint32(elapsed * 1000) // ms
	activityMesg.NumSessions = 1
	activityMesg.Type = typedef.ActivityManual
	activityMesg.Event = typedef.EventActivity
	activityMesg.EventType = typedef.EventTypeStop
	fit.Messages = append(fit.Messages, activityMesg.ToMesg(nil))

	enc := encoder.New(w)
	return enc.Encode(&fit)
}

// toSemicircles clamps to the int32 range; +180 is one past it.
func toSemicircles(degrees float64) int32 {
	v := math.Round(degrees * degreesToSemicircles)
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func toCentimeters(meters float64) uint32 {
	if meters <= 0 {
		return 0
	}
	return uint32(meters * 100)
}
