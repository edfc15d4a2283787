package ratelimit

import (
	"math"
	"time"
)

// Window sizes counted by the limiter, in one-minute buckets.
const (
	MinutesPerHour = 60
	MinutesPerDay  = 1440
)

// WindowStart truncates t to the start of its UTC minute. A timestamp exactly on a
// minute boundary starts the new window.
func WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// TrailingRange returns the first and last window starts of the trailing window of the
// given number of minutes that ends with (and includes) the minute containing t.
func TrailingRange(t time.Time, minutes int) (from, to time.Time) {
	to = WindowStart(t)
	from = to.Add(-time.Duration(minutes-1) * time.Minute)
	return from, to
}

// ResetMinute is the number of seconds until the next minute boundary, in 1..60.
func ResetMinute(t time.Time) int64 {
	return secondsUntil(t, WindowStart(t).Add(time.Minute))
}

// ResetHour is the number of seconds until the next clock-hour boundary, in 1..3600.
func ResetHour(t time.Time) int64 {
	return secondsUntil(t, t.UTC().Truncate(time.Hour).Add(time.Hour))
}

// ResetDay is the number of seconds until the next midnight UTC, in 1..86400.
func ResetDay(t time.Time) int64 {
	u := t.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
	return secondsUntil(t, midnight)
}

func secondsUntil(from, to time.Time) int64 {
	s := int64(math.Ceil(to.Sub(from).Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
