package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// ImportSchedules parses an ICS payload and maps its recurring VEVENTs
// onto schedule definitions. Events the model cannot express (no RRULE,
// intervals above one, YEARLY rules, positional BYDAY and so on) are
// skipped, never an error: a feed import degrades per event, not whole.
func ImportSchedules(feed Feed, body []byte) ([]model.Schedule, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]model.Schedule, 0)
	for _, ve := range cal.Events() {
		sched, ok := scheduleFromEvent(feed, ve)
		if !ok {
			continue
		}
		out = append(out, sched)
	}

	appLog.Info("ics import completed", "feed", feed.ID, "event_count", len(cal.Events()), "schedule_count", len(out))
	return out, nil
}

func scheduleFromEvent(feed Feed, ve *ical.VEvent) (model.Schedule, bool) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		appLog.Debug("ics event skipped: missing UID", "feed", feed.ID)
		return model.Schedule{}, false
	}
	uid := uidProp.Value

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil || rruleProp.Value == "" {
		// One-off events have no place on a recurrence grid.
		appLog.Debug("ics event skipped: not recurring", "feed", feed.ID, "uid", uid)
		return model.Schedule{}, false
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || dtStartProp.Value == "" {
		appLog.Debug("ics event skipped: missing DTSTART", "feed", feed.ID, "uid", uid)
		return model.Schedule{}, false
	}
	startDate, timeOfDay, ok := splitDTStart(dtStartProp.Value)
	if !ok {
		appLog.Debug("ics event skipped: unparseable DTSTART", "feed", feed.ID, "uid", uid, "dtstart", dtStartProp.Value)
		return model.Schedule{}, false
	}

	opt, err := rrule.StrToROption(rruleProp.Value)
	if err != nil {
		appLog.Debug("ics event skipped: bad RRULE", "feed", feed.ID, "uid", uid, "rrule", rruleProp.Value)
		return model.Schedule{}, false
	}
	rule, ok := classifyRule(opt, startDate)
	if !ok {
		appLog.Debug("ics event skipped: unsupported recurrence", "feed", feed.ID, "uid", uid, "rrule", rruleProp.Value)
		return model.Schedule{}, false
	}

	name := uid
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && p.Value != "" {
		name = p.Value
	}

	active := true
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil &&
		strings.EqualFold(p.Value, "CANCELLED") {
		active = false
	}

	repeat := ""
	if opt.Count == 0 && opt.Until.IsZero() {
		repeat = model.RepeatAlways
	}

	return model.Schedule{
		ID:        feed.ID + "/" + uid,
		Name:      name,
		Active:    active,
		TimeOfDay: timeOfDay,
		Rule:      rule,
		Repeat:    repeat,
	}, true
}

// classifyRule maps a parsed RRULE onto the closed recurrence union.
// Only plain rules survive: FREQ=DAILY, FREQ=WEEKLY with simple BYDAY,
// FREQ=MONTHLY with a single positive BYMONTHDAY. Weekly rules without
// BYDAY fall back to DTSTART's weekday, monthly rules without BYMONTHDAY
// to DTSTART's day, matching RRULE semantics.
func classifyRule(opt *rrule.ROption, start time.Time) (model.Rule, bool) {
	if opt.Interval > 1 {
		return nil, false
	}

	switch opt.Freq {
	case rrule.DAILY:
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 {
			return nil, false
		}
		return model.Daily{}, true

	case rrule.WEEKLY:
		if len(opt.Bymonthday) > 0 {
			return nil, false
		}
		if len(opt.Byweekday) == 0 {
			return model.Weekly{Days: []time.Weekday{start.Weekday()}}, true
		}
		days := make([]time.Weekday, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				// Positional BYDAY ("2nd Tuesday") is not expressible.
				return nil, false
			}
			// rrule counts Monday as 0; time.Weekday counts Sunday as 0.
			days = append(days, time.Weekday((wd.Day()+1)%7))
		}
		return model.Weekly{Days: days}, true

	case rrule.MONTHLY:
		if len(opt.Byweekday) > 0 {
			return nil, false
		}
		switch len(opt.Bymonthday) {
		case 0:
			return model.Monthly{Day: start.Day()}, true
		case 1:
			day := opt.Bymonthday[0]
			if day < 1 || day > 31 {
				return nil, false
			}
			return model.Monthly{Day: day}, true
		default:
			return nil, false
		}

	default:
		return nil, false
	}
}

// splitDTStart reads the wall-clock parts of a DTSTART value without any
// timezone interpretation: the evaluator operates on local wall time only.
// Accepts "20240109T103000", the same with a Z suffix, and date-only
// "20240109" (treated as midnight).
func splitDTStart(v string) (date time.Time, timeOfDay string, ok bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "Z")

	datePart := v
	clock := "000000"
	if i := strings.IndexByte(v, 'T'); i >= 0 {
		datePart = v[:i]
		clock = v[i+1:]
	}
	if len(clock) != 6 {
		return time.Time{}, "", false
	}

	d, err := time.Parse("20060102", datePart)
	if err != nil {
		return time.Time{}, "", false
	}
	t, err := time.Parse("150405", clock)
	if err != nil {
		return time.Time{}, "", false
	}
	return d, t.Format("15:04:05"), true
}
