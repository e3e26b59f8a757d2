package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// Clock and duration vocabulary. Manually typed input mixes half-width and
// full-width digits, so every numeric class accepts both.
var (
	// 10時 / 午後3時半 / 朝9時15分 / 19時に. A 間 after 時 means the
	// phrase is a duration, which the matcher must leave alone.
	timeRe = regexp.MustCompile(`(午前|午後|朝|夜)?([0-9０-９]{1,2})時(間)?(半|[0-9０-９]{1,2}分)?(に|から)?`)

	// Relative day words resolve to a calendar date, which the parser
	// discards in favor of the caller's target date; they are recognized
	// only so the title can be stripped of them.
	relDayRe = regexp.MustCompile(`(一昨日|昨日|今日|本日|明日|あす|あした|明後日|あさって|再来週|来週|今週|来月|今月)の?`)

	durHourRe = regexp.MustCompile(`([0-9０-９]+)時間(半|[0-9０-９]+分)?`)
	durMinRe  = regexp.MustCompile(`([0-9０-９]+)分(間)?`)
)

// jpAtoi parses a decimal that may mix half-width and full-width digits,
// ignoring anything else (so "15分" parses as 15).
func jpAtoi(s string) int {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '０' && r <= '９':
			b.WriteRune('0' + (r - '０'))
		}
	}
	n, _ := strconv.Atoi(b.String())
	return n
}

// extractTimeOfDay returns the wall time named by the first valid clock
// phrase. Every valid clock phrase is claimed so it disappears from the
// title, but only the first one decides the time. Relative day words are
// marked for stripping too.
func extractTimeOfDay(text string, claims *spanSet) (hour, minute int, ok bool) {
	for _, m := range relDayRe.FindAllStringIndex(text, -1) {
		claims.mark(m[0], m[1])
	}

	for _, m := range timeRe.FindAllStringSubmatchIndex(text, -1) {
		// Group 3 is 間: NN時間 is a duration, not a clock time.
		if m[6] >= 0 {
			continue
		}
		h := jpAtoi(text[m[4]:m[5]])
		if h > 23 {
			continue
		}
		min := 0
		if m[8] >= 0 {
			if frag := text[m[8]:m[9]]; frag == "半" {
				min = 30
			} else {
				min = jpAtoi(frag)
			}
		}
		if min > 59 {
			continue
		}
		if m[2] >= 0 {
			switch text[m[2]:m[3]] {
			case "午後", "夜":
				if h < 12 {
					h += 12
				}
			case "午前":
				if h == 12 {
					h = 0
				}
			}
		}
		if !claims.claim(m[0], m[1]) {
			continue
		}
		if !ok {
			hour, minute, ok = h, min, true
		}
	}
	return hour, minute, ok
}

// extractDuration returns the minutes named by the first duration phrase
// outside already-claimed ranges, claiming it. Hour quantities convert to
// minutes and 半 adds thirty. Returns 0 when nothing usable matches.
func extractDuration(text string, claims *spanSet) int {
	for _, m := range durHourRe.FindAllStringSubmatchIndex(text, -1) {
		if claims.overlaps(m[0], m[1]) {
			continue
		}
		minutes := jpAtoi(text[m[2]:m[3]]) * 60
		if m[4] >= 0 {
			if frag := text[m[4]:m[5]]; frag == "半" {
				minutes += 30
			} else {
				minutes += jpAtoi(frag)
			}
		}
		if minutes <= 0 {
			continue
		}
		claims.claim(m[0], m[1])
		return minutes
	}
	for _, m := range durMinRe.FindAllStringSubmatchIndex(text, -1) {
		if claims.overlaps(m[0], m[1]) {
			continue
		}
		minutes := jpAtoi(text[m[2]:m[3]])
		if minutes <= 0 {
			continue
		}
		claims.claim(m[0], m[1])
		return minutes
	}
	return 0
}
