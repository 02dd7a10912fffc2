// Package grid classifies recurring schedules against a 7-day by 24-hour
// display window. Every function here is pure: no clock reads, no I/O,
// no retained state, so concurrent evaluations need no coordination.
package grid

import (
	"fmt"
	"time"
)

// DaysPerWindow and SlotsPerDay fix the grid shape: one week of days by
// one slot per whole hour.
const (
	DaysPerWindow = 7
	SlotsPerDay   = 24
)

// Window is one displayed week: seven consecutive dates starting on the
// Sunday of the reference instant's week, plus the fixed hourly slot labels.
type Window struct {
	WeekStart time.Time
	Days      [DaysPerWindow]time.Time
	Slots     [SlotsPerDay]string
}

// BuildWindow derives the window for the week containing ref. WeekStart is
// ref's date minus its weekday offset, at midnight in ref's location, so
// the grid always opens on the Sunday of the current week. Calling this
// twice with the same ref yields identical output.
func BuildWindow(ref time.Time) Window {
	var w Window

	start := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	start = start.AddDate(0, 0, -int(start.Weekday()))
	w.WeekStart = start

	for i := 0; i < DaysPerWindow; i++ {
		w.Days[i] = start.AddDate(0, 0, i)
	}
	for h := 0; h < SlotsPerDay; h++ {
		w.Slots[h] = fmt.Sprintf("%02d:00", h)
	}
	return w
}
