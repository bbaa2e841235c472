package catalog

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// ParseDate parses a YYYYMMDD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("20060102", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// DayGrid returns the start times of consecutive windows of windowSecs
// seconds covering the UTC day of date, in increasing order.
func DayGrid(date time.Time, windowSecs int) []time.Time {
	if windowSecs <= 0 {
		return nil
	}
	y, m, d := date.UTC().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	grid := make([]time.Time, 0, (secondsPerDay+windowSecs-1)/windowSecs)
	for s := 0; s < secondsPerDay; s += windowSecs {
		grid = append(grid, midnight.Add(time.Duration(s)*time.Second))
	}
	return grid
}
