package grid

import (
	"time"

	"schedcal/internal/model"
)

// MatchesCell reports whether the schedule occupies the cell at (date, slot).
// Matching is fail-closed: inactive schedules, malformed times, nil rules
// and out-of-range recurrence fields all degrade to "no match" rather than
// producing an error.
func MatchesCell(s model.Schedule, date time.Time, slot string) bool {
	if !s.Active {
		return false
	}

	slotHour, slotMin, ok := parseClock(slot)
	if !ok {
		return false
	}
	schedHour, schedMin, ok := parseClock(s.TimeOfDay)
	if !ok {
		return false
	}
	// Exact hour and minute, no tolerance window. A 09:30 schedule never
	// matches hourly :00 slots.
	if slotHour != schedHour || slotMin != schedMin {
		return false
	}

	if s.Rule == nil {
		return false
	}
	return s.Rule.ActiveOn(date)
}

// parseClock reads the leading "HH:MM" of a time label, discarding any
// seconds or fraction that follow.
func parseClock(v string) (hour, min int, ok bool) {
	if len(v) < 5 || v[2] != ':' {
		return 0, 0, false
	}
	hour, ok = atoi2(v[0], v[1])
	if !ok || hour > 23 {
		return 0, 0, false
	}
	min, ok = atoi2(v[3], v[4])
	if !ok || min > 59 {
		return 0, 0, false
	}
	return hour, min, true
}

func atoi2(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}
