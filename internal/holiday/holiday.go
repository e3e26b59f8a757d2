package holiday

import (
	"sort"
	"time"
)

const dateFormat = "2006-01-02"

// Table maps a calendar date (formatted 2006-01-02) to a holiday name.
// Lookup happens on wall-clock dates, so callers pass times already in the
// timezone the planner displays.
type Table map[string]string

// Entry is one dated holiday, used for range listings.
type Entry struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// Lookup returns the holiday name for the calendar day of t, if any.
func (tb Table) Lookup(t time.Time) (string, bool) {
	name, ok := tb[t.Format(dateFormat)]
	return name, ok
}

// Range returns every holiday falling in [start, end], ordered by date.
func (tb Table) Range(start, end time.Time) []Entry {
	from := start.Format(dateFormat)
	to := end.Format(dateFormat)
	out := []Entry{}
	for date, name := range tb {
		if date >= from && date <= to {
			out = append(out, Entry{Date: date, Name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Default returns the built-in Japanese national holiday table, substitute
// holidays (振替休日) included.
func Default() Table {
	return Table{
		// 2025
		"2025-01-01": "元日",
		"2025-01-13": "成人の日",
		"2025-02-11": "建国記念の日",
		"2025-02-23": "天皇誕生日",
		"2025-02-24": "振替休日",
		"2025-03-20": "春分の日",
		"2025-04-29": "昭和の日",
		"2025-05-03": "憲法記念日",
		"2025-05-04": "みどりの日",
		"2025-05-05": "こどもの日",
		"2025-05-06": "振替休日",
		"2025-07-21": "海の日",
		"2025-08-11": "山の日",
		"2025-09-15": "敬老の日",
		"2025-09-23": "秋分の日",
		"2025-10-13": "スポーツの日",
		"2025-11-03": "文化の日",
		"2025-11-23": "勤労感謝の日",
		"2025-11-24": "振替休日",

		// 2026
		"2026-01-01": "元日",
		"2026-01-12": "成人の日",
		"2026-02-11": "建国記念の日",
		"2026-02-23": "天皇誕生日",
		"2026-03-20": "春分の日",
		"2026-04-29": "昭和の日",
		"2026-05-03": "憲法記念日",
		"2026-05-04": "みどりの日",
		"2026-05-05": "こどもの日",
		"2026-05-06": "振替休日",
		"2026-07-20": "海の日",
		"2026-08-11": "山の日",
		"2026-09-21": "敬老の日",
		"2026-09-22": "国民の休日",
		"2026-09-23": "秋分の日",
		"2026-10-12": "スポーツの日",
		"2026-11-03": "文化の日",
		"2026-11-23": "勤労感謝の日",

		// 2027
		"2027-01-01": "元日",
		"2027-01-11": "成人の日",
		"2027-02-11": "建国記念の日",
		"2027-02-23": "天皇誕生日",
		"2027-03-21": "春分の日",
		"2027-03-22": "振替休日",
		"2027-04-29": "昭和の日",
		"2027-05-03": "憲法記念日",
		"2027-05-04": "みどりの日",
		"2027-05-05": "こどもの日",
		"2027-07-19": "海の日",
		"2027-08-11": "山の日",
		"2027-09-20": "敬老の日",
		"2027-09-23": "秋分の日",
		"2027-10-11": "スポーツの日",
		"2027-11-03": "文化の日",
		"2027-11-23": "勤労感謝の日",
	}
}
