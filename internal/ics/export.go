// Package ics renders tasks as an iCalendar feed for external calendar
// apps. Recurring masters carry an RRULE so subscribing clients track the
// series; materialized instances override their slot via RECURRENCE-ID.
package ics

import (
	"time"

	"github.com/ajisai/yotei/internal/model"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

const (
	calendarProductID   = "-//yotei//task planner//JA"
	icalTimestampLayout = "20060102T150405Z"
)

var rruleWeekday = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// Export renders the given tasks as a VCALENDAR document. Each task maps to
// one VEVENT: start is the task time, end is start plus duration, priority
// uses the 1-9 scale where lower is more urgent, and tasks with reminders
// enabled get a display alarm 10 minutes before start. now stamps DTSTAMP
// so output is reproducible for a fixed clock.
func Export(tasks []model.Task, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(calendarProductID)

	masterUID := make(map[string]string)
	for _, t := range tasks {
		if t.Recurrence == nil || t.RecurrenceGroupID == "" {
			continue
		}
		if _, ok := masterUID[t.RecurrenceGroupID]; !ok {
			masterUID[t.RecurrenceGroupID] = eventUID(t)
		}
	}

	for _, t := range tasks {
		uid := eventUID(t)
		var recurrenceID string
		if t.Recurrence == nil && t.RecurrenceGroupID != "" && t.OriginalDate != nil {
			if mu, ok := masterUID[t.RecurrenceGroupID]; ok {
				uid = mu
				recurrenceID = t.OriginalDate.UTC().Format(icalTimestampLayout)
			}
		}

		event := cal.AddEvent(uid)
		event.SetDtStampTime(now)
		event.SetStartAt(t.OccursAt)
		event.SetEndAt(t.OccursAt.Add(time.Duration(t.DurationMinutes) * time.Minute))
		event.SetSummary(t.Title)
		if t.Note != "" {
			event.SetDescription(t.Note)
		}
		event.SetProperty(ical.ComponentProperty("PRIORITY"), priorityValue(t.Priority))
		if t.Done {
			event.SetStatus(ical.ObjectStatusCompleted)
		}
		if recurrenceID != "" {
			event.SetProperty(ical.ComponentProperty("RECURRENCE-ID"), recurrenceID)
		}
		if t.Recurrence != nil {
			if rr := ruleString(t); rr != "" {
				event.AddRrule(rr)
			}
		}
		if t.Notify && !t.Done {
			alarm := addAlarm(event)
			alarm.SetProperty(ical.ComponentProperty("ACTION"), "DISPLAY")
			alarm.SetProperty(ical.ComponentProperty("TRIGGER"), "-PT10M")
			alarm.SetProperty(ical.ComponentProperty("DESCRIPTION"), t.Title)
		}
	}

	return cal.Serialize()
}

func addAlarm(event *ical.VEvent) *ical.VAlarm {
	alarm := &ical.VAlarm{}
	event.Components = append(event.Components, alarm)
	return alarm
}

// eventUID prefers the external calendar reference so re-exports line up
// with entries an external system already knows about.
func eventUID(t model.Task) string {
	if t.ExternalEventRef != "" {
		return t.ExternalEventRef
	}
	return t.ID + "@yotei"
}

// priorityValue maps to the RFC 5545 1-9 scale where lower is more urgent.
func priorityValue(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "1"
	case model.PriorityLow:
		return "9"
	default:
		return "5"
	}
}

// ruleString renders the recurrence as an RRULE value. Rules the expansion
// engine does not honor (yearly, custom, weekly without weekdays) export as
// one-off events, keeping the feed aligned with what the planner shows.
func ruleString(t model.Task) string {
	r := t.Recurrence
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	opt := rrule.ROption{Interval: interval}

	switch r.Frequency {
	case model.FreqDaily:
		opt.Freq = rrule.DAILY
	case model.FreqWeekly:
		if len(r.DaysOfWeek) == 0 {
			return ""
		}
		opt.Freq = rrule.WEEKLY
		for _, d := range r.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, rruleWeekday[d])
		}
	case model.FreqMonthly:
		opt.Freq = rrule.MONTHLY
		day := r.DayOfMonth
		if day == 0 {
			day = t.OccursAt.Day()
		}
		opt.Bymonthday = []int{day}
	default:
		return ""
	}

	if r.Count > 0 {
		opt.Count = r.Count
	}
	if r.EndDate != nil {
		// Instances may fall anywhere on the final day, so the series runs
		// until that day ends.
		ed := r.EndDate.In(t.OccursAt.Location())
		opt.Until = time.Date(ed.Year(), ed.Month(), ed.Day(), 23, 59, 59, 0, ed.Location())
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return ""
	}
	return rule.OrigOptions.RRuleString()
}
