package grid

import "schedcal/internal/model"

// CellKey addresses one cell of the window: day column 0-6 (Sunday first)
// and the hourly slot label ("00:00".."23:00").
type CellKey struct {
	Day  int
	Slot string
}

// Grid maps every cell of a window to the schedules active in it.
type Grid map[CellKey][]model.Schedule

// Evaluate classifies each schedule against every cell of the window.
// All 168 keys are present in the result, each holding a possibly empty
// slice in the input list's relative order (stable filter, no re-sorting).
// Work is O(len(schedules) x 168); inputs are not mutated or retained.
func Evaluate(schedules []model.Schedule, w Window) Grid {
	out := make(Grid, DaysPerWindow*SlotsPerDay)

	for di, date := range w.Days {
		for _, slot := range w.Slots {
			key := CellKey{Day: di, Slot: slot}
			matched := []model.Schedule{}
			for _, s := range schedules {
				if MatchesCell(s, date, slot) {
					matched = append(matched, s)
				}
			}
			out[key] = matched
		}
	}
	return out
}
