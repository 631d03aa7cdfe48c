package monitoring

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunTimeLayout is the scheduler's event time format; it carries no year
const RunTimeLayout = "Mon Jan _2 15:04:05"

var (
	// ErrStaleSeries is returned when the newest sample is older than the gap threshold
	ErrStaleSeries = errors.New("last sample too old")

	// ErrBrokenSeries is returned when sampling stopped for longer than the gap threshold
	ErrBrokenSeries = errors.New("sample series broken")
)

// CheckContinuity verifies that a job was sampled without interruption up to now
func CheckContinuity(times []time.Time, now time.Time, gap time.Duration) error {
	if len(times) == 0 {
		return ErrNoSamples
	}
	last := times[len(times)-1]
	if now.Sub(last) > gap {
		return fmt.Errorf("%w: %s", ErrStaleSeries, last.Format(time.DateTime))
	}
	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) > gap {
			return fmt.Errorf("%w: between %s and %s", ErrBrokenSeries, times[i-1].Format(time.DateTime), times[i].Format(time.DateTime))
		}
	}
	return nil
}

// leapYear is the reference year of year-less event times. It is a leap year
// so that a Feb 29 event parses.
const leapYear = 2000

// RunTime returns the seconds between the started and finished event times.
// Both lack a year, so a finish before the start means the job crossed New
// Year and the finish is placed in the following year. Empty input yields zero.
func RunTime(started, finished string) (int64, error) {
	started, finished = strings.TrimSpace(started), strings.TrimSpace(finished)
	if started == "" || finished == "" {
		return 0, nil
	}

	startYear, endYear := leapYear, leapYear
	start, end, err := parseEventSpan(started, finished, startYear, endYear)
	if err != nil {
		return 0, err
	}
	if end.Before(start) {
		// A Feb 29 finish after New Year needs the leap year on the finishing side
		startYear, endYear = leapYear, leapYear+1
		if end.Month() == time.February && end.Day() == 29 {
			startYear, endYear = leapYear+3, leapYear+4
		}
		if start, end, err = parseEventSpan(started, finished, startYear, endYear); err != nil {
			return 0, err
		}
	}
	return int64(end.Sub(start) / time.Second), nil
}

func parseEventSpan(started, finished string, startYear, endYear int) (time.Time, time.Time, error) {
	start, err := parseEventTime(started, startYear)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid started time %q: %w", started, err)
	}
	end, err := parseEventTime(finished, endYear)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid finished time %q: %w", finished, err)
	}
	return start, end, nil
}

// parseEventTime parses a year-less event time into year
func parseEventTime(s string, year int) (time.Time, error) {
	return time.Parse("2006 "+RunTimeLayout, fmt.Sprintf("%d %s", year, s))
}
