package submission

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
)

// SlotsPerDay is the number of daily publish slots used by bulk scheduling
const SlotsPerDay = 5

// DailySlots are the hour/minute pairs items are spread over, in order
var DailySlots = [SlotsPerDay]struct{ Hour, Minute int }{
	{8, 0},
	{11, 0},
	{14, 0},
	{17, 0},
	{20, 0},
}

// ScheduleSlots returns n publish times starting on start's calendar date.
// Item i lands on day floor(i/5) at slot i mod 5, in start's location.
func ScheduleSlots(start time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}

	year, month, day := start.Date()
	loc := start.Location()

	out := make([]time.Time, n)
	for i := range out {
		slot := DailySlots[i%SlotsPerDay]
		// time.Date normalizes day overflow across month and year ends
		out[i] = time.Date(year, month, day+i/SlotsPerDay, slot.Hour, slot.Minute, 0, 0, loc)
	}
	return out
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime parses an RFC3339 timestamp, a zone-less date-time or a bare
// date. Inputs without an offset are read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

func parseField(field, value string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, domain.NewValidationError(field, "is required")
	}
	t, err := ParseTime(value, loc)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, err.Error())
	}
	return t, nil
}
