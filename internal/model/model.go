package model

import "time"

// Kind discriminates the supported recurrence kinds. The set is closed:
// anything outside it decodes to a nil rule and never matches.
type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// RepeatAlways marks a schedule as unbounded. The value is carried through
// to API responses for the renderer; it plays no part in matching.
const RepeatAlways = "always"

// Rule is the recurrence half of a schedule. Each implementation carries
// only the fields its kind consults, so a daily rule cannot smuggle along
// a stray weekday list.
type Rule interface {
	Kind() Kind
	// ActiveOn reports whether the rule fires on the given calendar date.
	// Time of day is matched separately by the evaluator.
	ActiveOn(date time.Time) bool
}

// Daily fires on every date.
type Daily struct{}

func (Daily) Kind() Kind              { return KindDaily }
func (Daily) ActiveOn(time.Time) bool { return true }

// Weekly fires on the listed weekdays (time.Weekday, Sunday = 0).
// An empty list never fires.
type Weekly struct {
	Days []time.Weekday
}

func (Weekly) Kind() Kind { return KindWeekly }

func (w Weekly) ActiveOn(date time.Time) bool {
	wd := date.Weekday()
	for _, d := range w.Days {
		if d == wd {
			return true
		}
	}
	return false
}

// Monthly fires when the calendar day-of-month equals Day. Day 31 simply
// never fires in shorter months; there is no end-of-month rollover.
type Monthly struct {
	Day int
}

func (Monthly) Kind() Kind { return KindMonthly }

func (m Monthly) ActiveOn(date time.Time) bool {
	return m.Day >= 1 && m.Day <= 31 && date.Day() == m.Day
}

// Schedule is one recurring trigger definition as displayed on the grid.
type Schedule struct {
	ID     string
	Name   string
	Active bool

	// TimeOfDay is wall-clock "HH:MM" or "HH:MM:SS"; anything past the
	// first five characters is ignored when matching.
	TimeOfDay string

	// Rule is nil when the stored record carried an unknown or
	// unsupported schedule type. A nil rule never matches.
	Rule Rule

	// Repeat is an optional display marker ("always" or empty).
	Repeat string
}

// ParseRule builds a Rule from the loose record shape used by storage and
// transport: a kind string plus both optional recurrence fields. Only the
// field relevant to the kind is consulted; unknown kinds yield nil.
func ParseRule(kind string, weekdays []int, monthDay int) Rule {
	switch Kind(kind) {
	case KindDaily:
		return Daily{}
	case KindWeekly:
		days := make([]time.Weekday, 0, len(weekdays))
		for _, d := range weekdays {
			if d < 0 || d > 6 {
				continue
			}
			days = append(days, time.Weekday(d))
		}
		return Weekly{Days: days}
	case KindMonthly:
		return Monthly{Day: monthDay}
	default:
		return nil
	}
}

// RuleFields flattens a Rule back into the loose record shape.
// A nil rule reports an empty kind.
func RuleFields(r Rule) (kind string, weekdays []int, monthDay int) {
	switch v := r.(type) {
	case Daily:
		return string(KindDaily), nil, 0
	case Weekly:
		out := make([]int, 0, len(v.Days))
		for _, d := range v.Days {
			out = append(out, int(d))
		}
		return string(KindWeekly), out, 0
	case Monthly:
		return string(KindMonthly), nil, v.Day
	default:
		return "", nil, 0
	}
}
