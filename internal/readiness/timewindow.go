package readiness

import (
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/jordanlambrecht/timelapser-v4-sub006/internal/models"
)

// inCaptureWindow reports whether now falls inside the timelapse's configured
// capture window. Fixed windows may span midnight; sun-relative windows are
// computed for the configured location with per-timelapse minute offsets.
func inCaptureWindow(now time.Time, tl models.Timelapse, lat, lon float64) (bool, error) {
	switch tl.TimeWindowType {
	case models.WindowTime:
		return inClockWindow(now, tl.WindowStart, tl.WindowEnd)
	case models.WindowSunriseSunset:
		rise, set := sunrise.SunriseSunset(lat, lon, now.Year(), now.Month(), now.Day())
		if rise.IsZero() && set.IsZero() {
			// Polar day/night: no sunrise event today. Treat as closed.
			return false, nil
		}
		start := rise.Add(time.Duration(tl.SunriseOffsetMinutes) * time.Minute)
		end := set.Add(time.Duration(tl.SunsetOffsetMinutes) * time.Minute)
		utc := now.UTC()
		return !utc.Before(start) && !utc.After(end), nil
	default:
		return false, fmt.Errorf("unknown time window type %q", tl.TimeWindowType)
	}
}

// inClockWindow checks an "HH:MM".."HH:MM" window against the local wall
// clock. start > end means the window spans midnight.
func inClockWindow(now time.Time, startStr, endStr string) (bool, error) {
	start, err := minutesOfDay(startStr)
	if err != nil {
		return false, fmt.Errorf("window start: %w", err)
	}
	end, err := minutesOfDay(endStr)
	if err != nil {
		return false, fmt.Errorf("window end: %w", err)
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur <= end, nil
	}
	return cur >= start || cur <= end, nil
}

func minutesOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
