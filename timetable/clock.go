package timetable

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Seconds in a day. Times in the timetable are seconds past midnight
// of the service day and may exceed Day for trips running past
// midnight.
const Day = 86400

// ParseClock parses "HH:MM:SS" into seconds past midnight. Hours
// have one to three digits and may exceed 23, as in GTFS stop_times.
func ParseClock(s string) (int, error) {
	fields := strings.Split(s, ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("parsing clock %q: malformed", s)
	}

	values := [3]int{}
	for i, f := range fields {
		if len(f) < 1 || len(f) > 3 || (i > 0 && len(f) != 2) {
			return 0, fmt.Errorf("parsing clock %q: malformed", s)
		}
		for _, r := range f {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("parsing clock %q: malformed", s)
			}
		}
		values[i], _ = strconv.Atoi(f)
	}

	h, m, sec := values[0], values[1], values[2]
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("parsing clock %q: out of range", s)
	}
	return h*3600 + m*60 + sec, nil
}

// FormatClock renders seconds as "HH:MM:SS" within the day, i.e.
// 90000 becomes "01:00:00". Use DayOffset for the day count.
func FormatClock(seconds int) string {
	s := seconds - DayOffset(seconds)*Day
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// DayOffset is the number of whole days in seconds, rounding towards
// negative infinity.
func DayOffset(seconds int) int {
	if seconds >= 0 {
		return seconds / Day
	}
	return -((-seconds + Day - 1) / Day)
}

// Weekday rotates base by offset days.
func Weekday(base time.Weekday, offset int) time.Weekday {
	return time.Weekday(((int(base)+offset)%7 + 7) % 7)
}
