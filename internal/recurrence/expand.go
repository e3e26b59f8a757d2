// Package recurrence turns recurring master tasks into concrete instances
// for a display window and merges them with persisted tasks without
// duplicates.
package recurrence

import (
	"time"

	"github.com/google/uuid"

	"github.com/ajisai/yotei/internal/model"
)

// maxIterations caps the day walk so a malformed rule can never loop forever.
const maxIterations = 10000

// Expand generates every occurrence of master's recurrence rule that falls
// inside [windowStart, windowEnd]. Window bounds and the rule's end date
// compare at calendar-day granularity in the master's location; instances
// carry the master's time-of-day.
//
// The walk is anchored at the master's own date, not the window: a count
// budget is spent by occurrences before the window too, and interval parity
// stays fixed as the window moves. Results are strictly increasing. Rules
// that cannot generate (yearly, custom, weekly without weekdays, inverted
// windows) yield an empty slice, never an error.
func Expand(master model.Task, windowStart, windowEnd time.Time) []model.Task {
	rule := master.Recurrence
	if rule == nil {
		return nil
	}

	switch rule.Frequency {
	case model.FreqDaily, model.FreqWeekly, model.FreqMonthly:
	default:
		return nil
	}
	if rule.Frequency == model.FreqWeekly && len(rule.DaysOfWeek) == 0 {
		// No weekday to land on.
		return nil
	}

	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}

	loc := master.OccursAt.Location()
	anchor := startOfDay(master.OccursAt)
	winStart := startOfDay(windowStart.In(loc))
	end := startOfDay(windowEnd.In(loc))
	if rule.EndDate != nil {
		if e := startOfDay(rule.EndDate.In(loc)); e.Before(end) {
			end = e
		}
	}
	if end.Before(winStart) || end.Before(anchor) {
		return nil
	}

	hour, minute := master.OccursAt.Hour(), master.OccursAt.Minute()
	dayOfMonth := rule.DayOfMonth
	if dayOfMonth == 0 {
		dayOfMonth = anchor.Day()
	}
	weekdays := make(map[time.Weekday]bool, len(rule.DaysOfWeek))
	for _, wd := range rule.DaysOfWeek {
		weekdays[wd] = true
	}

	var out []model.Task
	occurrences := 0
	cursor := anchor
	for i := 0; i < maxIterations && !cursor.After(end); i++ {
		qualifies := false
		step := 1
		switch rule.Frequency {
		case model.FreqDaily:
			// Anchored stepping: every visited day is an occurrence.
			qualifies = true
			step = interval
		case model.FreqWeekly:
			qualifies = weekdays[cursor.Weekday()] && (daysBetween(anchor, cursor)/7)%interval == 0
		case model.FreqMonthly:
			// Months without the day are skipped entirely.
			qualifies = cursor.Day() == dayOfMonth && monthsBetween(anchor, cursor)%interval == 0
		}
		if qualifies {
			if !cursor.Before(winStart) {
				out = append(out, instance(master, cursor, hour, minute))
			}
			occurrences++
			if rule.Count > 0 && occurrences >= rule.Count {
				break
			}
		}
		cursor = cursor.AddDate(0, 0, step)
	}
	return out
}

// instance derives one concrete occurrence from the master. The instance
// gets a fresh id, no rule of its own, and records its nominal date so later
// edits cannot confuse deduplication.
func instance(master model.Task, day time.Time, hour, minute int) model.Task {
	occursAt := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
	nominal := occursAt
	return model.Task{
		ID:                uuid.NewString(),
		Title:             master.Title,
		Note:              master.Note,
		OccursAt:          occursAt,
		DurationMinutes:   master.DurationMinutes,
		Priority:          master.Priority,
		Notify:            master.Notify,
		RecurrenceGroupID: master.RecurrenceGroupID,
		OriginalDate:      &nominal,
		Category:          master.Category,
		Tags:              append([]string(nil), master.Tags...),
		Virtual:           true,
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring clock offsets.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
