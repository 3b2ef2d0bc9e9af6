package kernel

import (
	"math"
	"time"
)

// Time is a point in virtual time, in seconds since the start of the simulation.
type Time float64

// MaxTime is the largest virtual time that converts to a time.Duration
// without overflow, a little over 292 years.
const MaxTime = Time(math.MaxInt64 / float64(time.Second))

// Epoch anchors virtual time zero to a calendar instant so calendar-based
// schedules can be evaluated in virtual time.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Seconds returns t as a float64 number of seconds.
func (t Time) Seconds() float64 {
	return float64(t)
}

// Duration converts t to a time.Duration, rounding to the nearest nanosecond.
// Times beyond MaxTime in either direction saturate.
func (t Time) Duration() time.Duration {
	switch {
	case t >= MaxTime:
		return math.MaxInt64
	case t <= -MaxTime:
		return math.MinInt64
	}
	return time.Duration(math.Round(float64(t) * float64(time.Second)))
}

// Wall maps t onto the calendar relative to Epoch.
func (t Time) Wall() time.Time {
	return Epoch.Add(t.Duration())
}

// FromDuration converts a time.Duration into virtual seconds.
func FromDuration(d time.Duration) Time {
	return Time(d.Seconds())
}

// FromWall is the inverse of Time.Wall.
func FromWall(w time.Time) Time {
	return FromDuration(w.Sub(Epoch))
}
