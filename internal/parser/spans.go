package parser

import (
	"sort"
	"strings"
)

// span is a half-open byte range [start, end) into the original text.
type span struct {
	start, end int
}

// spanSet collects the byte ranges matched by extraction passes. Time and
// duration matching claim ranges exclusively so one cannot re-read the
// other's digits; the independent scans (priority, category, tags,
// recurrence) mark ranges unconditionally. strip removes the union.
type spanSet struct {
	spans []span
}

func (s *spanSet) overlaps(start, end int) bool {
	for _, sp := range s.spans {
		if start < sp.end && sp.start < end {
			return true
		}
	}
	return false
}

// claim records [start, end) unless it overlaps an earlier range.
func (s *spanSet) claim(start, end int) bool {
	if end <= start || s.overlaps(start, end) {
		return false
	}
	s.spans = append(s.spans, span{start: start, end: end})
	return true
}

// mark records [start, end) regardless of overlap.
func (s *spanSet) mark(start, end int) {
	if end <= start {
		return
	}
	s.spans = append(s.spans, span{start: start, end: end})
}

// strip returns text with every recorded range removed. Overlapping ranges
// collapse into one cut.
func (s *spanSet) strip(text string) string {
	if len(s.spans) == 0 {
		return text
	}
	spans := make([]span, len(s.spans))
	copy(spans, s.spans)
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp.start > pos {
			b.WriteString(text[pos:sp.start])
		}
		if sp.end > pos {
			pos = sp.end
		}
	}
	if pos < len(text) {
		b.WriteString(text[pos:])
	}
	return b.String()
}
