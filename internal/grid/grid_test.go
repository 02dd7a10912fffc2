package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/model"
)

func mustParse(t *testing.T, v string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", v, time.UTC)
	require.NoError(t, err)
	return ts
}

func TestBuildWindowStartsOnSunday(t *testing.T) {
	cases := []struct {
		name string
		ref  string
		want string
	}{
		{"midweek", "2024-01-10 15:30:00", "2024-01-07 00:00:00"},
		{"sunday itself", "2024-01-07 23:59:59", "2024-01-07 00:00:00"},
		{"saturday", "2024-01-13 00:00:01", "2024-01-07 00:00:00"},
		{"month boundary", "2024-03-01 08:00:00", "2024-02-25 00:00:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := BuildWindow(mustParse(t, tc.ref))
			assert.Equal(t, mustParse(t, tc.want), w.WeekStart)
			assert.Equal(t, time.Sunday, w.WeekStart.Weekday())
			assert.Equal(t, w.WeekStart, w.Days[0])
			for i := 1; i < DaysPerWindow; i++ {
				assert.Equal(t, w.Days[i-1].AddDate(0, 0, 1), w.Days[i])
			}
		})
	}
}

func TestBuildWindowSlots(t *testing.T) {
	w := BuildWindow(mustParse(t, "2024-01-10 15:30:00"))
	require.Len(t, w.Slots, SlotsPerDay)
	assert.Equal(t, "00:00", w.Slots[0])
	assert.Equal(t, "09:00", w.Slots[9])
	assert.Equal(t, "23:00", w.Slots[23])
}

func TestBuildWindowIdempotent(t *testing.T) {
	ref := mustParse(t, "2024-06-12 09:15:00")
	assert.Equal(t, BuildWindow(ref), BuildWindow(ref))
}

func TestMatchesCellInactiveNeverMatches(t *testing.T) {
	s := model.Schedule{
		ID:        "s1",
		Active:    false,
		TimeOfDay: "14:00:00",
		Rule:      model.Daily{},
	}
	w := BuildWindow(mustParse(t, "2024-01-10 00:00:00"))
	for _, day := range w.Days {
		for _, slot := range w.Slots {
			assert.False(t, MatchesCell(s, day, slot))
		}
	}
}

func TestMatchesCellMinuteExactness(t *testing.T) {
	// Hourly slots only carry :00, so a 09:30 schedule matches nothing.
	s := model.Schedule{ID: "s1", Active: true, TimeOfDay: "09:30:00", Rule: model.Daily{}}
	w := BuildWindow(mustParse(t, "2024-01-10 00:00:00"))
	for _, day := range w.Days {
		for _, slot := range w.Slots {
			assert.False(t, MatchesCell(s, day, slot))
		}
	}
}

func TestMatchesCellSecondsIgnored(t *testing.T) {
	day := mustParse(t, "2024-01-10 00:00:00")
	s := model.Schedule{ID: "s1", Active: true, TimeOfDay: "09:00:45", Rule: model.Daily{}}
	assert.True(t, MatchesCell(s, day, "09:00"))
	assert.False(t, MatchesCell(s, day, "10:00"))
}

func TestMatchesCellMalformedTime(t *testing.T) {
	day := mustParse(t, "2024-01-10 00:00:00")
	for _, tod := range []string{"", "9:00", "ab:cd", "25:00", "10:75", "10-00"} {
		s := model.Schedule{ID: "s1", Active: true, TimeOfDay: tod, Rule: model.Daily{}}
		assert.False(t, MatchesCell(s, day, "10:00"), "time_of_day=%q", tod)
	}
}

func TestMatchesCellNilRuleFailsClosed(t *testing.T) {
	day := mustParse(t, "2024-01-10 00:00:00")
	s := model.Schedule{ID: "s1", Active: true, TimeOfDay: "10:00", Rule: nil}
	assert.False(t, MatchesCell(s, day, "10:00"))
}

func TestDailyMatchesAllSevenDays(t *testing.T) {
	s := model.Schedule{ID: "s1", Active: true, TimeOfDay: "14:00", Rule: model.Daily{}}
	w := BuildWindow(mustParse(t, "2024-01-10 00:00:00"))
	for _, day := range w.Days {
		assert.True(t, MatchesCell(s, day, "14:00"))
		assert.False(t, MatchesCell(s, day, "15:00"))
	}
}

func TestWeeklySelection(t *testing.T) {
	s := model.Schedule{
		ID:        "s1",
		Active:    true,
		TimeOfDay: "08:00",
		Rule:      model.Weekly{Days: []time.Weekday{time.Monday, time.Wednesday, time.Friday}},
	}
	w := BuildWindow(mustParse(t, "2024-01-10 00:00:00"))
	g := Evaluate([]model.Schedule{s}, w)

	for key, matched := range g {
		wd := w.Days[key.Day].Weekday()
		hit := key.Slot == "08:00" &&
			(wd == time.Monday || wd == time.Wednesday || wd == time.Friday)
		if hit {
			assert.Len(t, matched, 1, "expected match at day=%d slot=%s", key.Day, key.Slot)
		} else {
			assert.Empty(t, matched, "unexpected match at day=%d slot=%s", key.Day, key.Slot)
		}
	}
}

func TestWeeklyEmptyDaysNeverMatches(t *testing.T) {
	day := mustParse(t, "2024-01-10 00:00:00")
	s := model.Schedule{ID: "s1", Active: true, TimeOfDay: "08:00", Rule: model.Weekly{}}
	assert.False(t, MatchesCell(s, day, "08:00"))
}

func TestMonthlyExactDay(t *testing.T) {
	s := model.Schedule{ID: "s1", Active: true, TimeOfDay: "06:00", Rule: model.Monthly{Day: 9}}
	w := BuildWindow(mustParse(t, "2024-01-10 00:00:00"))
	g := Evaluate([]model.Schedule{s}, w)

	hits := 0
	for key, matched := range g {
		if len(matched) > 0 {
			hits++
			assert.Equal(t, 9, w.Days[key.Day].Day())
			assert.Equal(t, "06:00", key.Slot)
		}
	}
	assert.Equal(t, 1, hits)
}

func TestMonthlyDay31NeverFiresInShortMonth(t *testing.T) {
	// The week of 2024-04-07..13 lies entirely inside April (30 days).
	s := model.Schedule{ID: "s1", Active: true, TimeOfDay: "06:00", Rule: model.Monthly{Day: 31}}
	w := BuildWindow(mustParse(t, "2024-04-10 00:00:00"))
	require.Equal(t, time.April, w.Days[0].Month())
	require.Equal(t, time.April, w.Days[6].Month())

	for _, matched := range Evaluate([]model.Schedule{s}, w) {
		assert.Empty(t, matched)
	}
}

func TestEvaluateCellCardinality(t *testing.T) {
	w := BuildWindow(mustParse(t, "2024-01-10 00:00:00"))

	g := Evaluate(nil, w)
	require.Len(t, g, DaysPerWindow*SlotsPerDay)
	for key, matched := range g {
		assert.NotNil(t, matched, "cell day=%d slot=%s", key.Day, key.Slot)
	}
}

func TestEvaluatePreservesInputOrder(t *testing.T) {
	mk := func(id string) model.Schedule {
		return model.Schedule{ID: id, Active: true, TimeOfDay: "12:00", Rule: model.Daily{}}
	}
	schedules := []model.Schedule{mk("c"), mk("a"), mk("b")}
	w := BuildWindow(mustParse(t, "2024-01-10 00:00:00"))
	g := Evaluate(schedules, w)

	cell := g[CellKey{Day: 3, Slot: "12:00"}]
	require.Len(t, cell, 3)
	assert.Equal(t, "c", cell[0].ID)
	assert.Equal(t, "a", cell[1].ID)
	assert.Equal(t, "b", cell[2].ID)
}

func TestEvaluateEndToEndTuesdayScenario(t *testing.T) {
	s := model.Schedule{
		ID:        "1",
		Active:    true,
		TimeOfDay: "10:00:00",
		Rule:      model.Weekly{Days: []time.Weekday{time.Tuesday}},
	}
	// Window starting Sunday 2024-01-07; Tuesday is 2024-01-09.
	w := BuildWindow(mustParse(t, "2024-01-07 12:00:00"))
	require.Equal(t, mustParse(t, "2024-01-07 00:00:00"), w.WeekStart)

	g := Evaluate([]model.Schedule{s}, w)
	require.Len(t, g, DaysPerWindow*SlotsPerDay)

	for key, matched := range g {
		if key.Day == 2 && key.Slot == "10:00" {
			require.Len(t, matched, 1)
			assert.Equal(t, "1", matched[0].ID)
			assert.Equal(t, 9, w.Days[key.Day].Day())
			continue
		}
		assert.Empty(t, matched, "day=%d slot=%s", key.Day, key.Slot)
	}
}
