package parser

import (
	"regexp"
	"time"

	"github.com/ajisai/yotei/internal/model"
)

var weekdayTokens = map[string]time.Weekday{
	"日": time.Sunday,
	"月": time.Monday,
	"火": time.Tuesday,
	"水": time.Wednesday,
	"木": time.Thursday,
	"金": time.Friday,
	"土": time.Saturday,
}

var (
	everyDayRe      = regexp.MustCompile(`毎日`)
	everyWeekdayRe  = regexp.MustCompile(`毎週([日月火水木金土])曜日?`)
	everyWeekRe     = regexp.MustCompile(`毎週`)
	everyMonthDayRe = regexp.MustCompile(`毎月([0-9０-９]{1,2})日`)
	everyMonthRe    = regexp.MustCompile(`毎月`)
	altDayRe        = regexp.MustCompile(`隔日|一日おき`)
	altWeekRe       = regexp.MustCompile(`隔週`)
)

// detectRecurrence tests the recurrence vocabulary in fixed precedence
// (毎日, weekday-qualified 毎週, bare 毎週, 毎月N日, bare 毎月, 隔日, 隔週)
// and returns the rule for the first hit, marking its phrase for stripping.
//
// Bare weekly forms (毎週, 隔週) and bare 毎月 anchor to occursAt: the rule
// materializes the task's own weekday or day-of-month so the series can
// actually generate.
func detectRecurrence(text string, occursAt time.Time, claims *spanSet) *model.RecurrenceRule {
	if m := everyDayRe.FindStringIndex(text); m != nil {
		claims.mark(m[0], m[1])
		return &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 1}
	}
	if m := everyWeekdayRe.FindStringSubmatchIndex(text); m != nil {
		wd := weekdayTokens[text[m[2]:m[3]]]
		claims.mark(m[0], m[1])
		return &model.RecurrenceRule{
			Frequency:  model.FreqWeekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{wd},
		}
	}
	if m := everyWeekRe.FindStringIndex(text); m != nil {
		claims.mark(m[0], m[1])
		return &model.RecurrenceRule{
			Frequency:  model.FreqWeekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{occursAt.Weekday()},
		}
	}
	if m := everyMonthDayRe.FindStringSubmatchIndex(text); m != nil {
		if day := jpAtoi(text[m[2]:m[3]]); day >= 1 && day <= 31 {
			claims.mark(m[0], m[1])
			return &model.RecurrenceRule{
				Frequency:  model.FreqMonthly,
				Interval:   1,
				DayOfMonth: day,
			}
		}
	}
	if m := everyMonthRe.FindStringIndex(text); m != nil {
		claims.mark(m[0], m[1])
		return &model.RecurrenceRule{
			Frequency:  model.FreqMonthly,
			Interval:   1,
			DayOfMonth: occursAt.Day(),
		}
	}
	if m := altDayRe.FindStringIndex(text); m != nil {
		claims.mark(m[0], m[1])
		return &model.RecurrenceRule{Frequency: model.FreqDaily, Interval: 2}
	}
	if m := altWeekRe.FindStringIndex(text); m != nil {
		claims.mark(m[0], m[1])
		return &model.RecurrenceRule{
			Frequency:  model.FreqWeekly,
			Interval:   2,
			DaysOfWeek: []time.Weekday{occursAt.Weekday()},
		}
	}
	return nil
}
