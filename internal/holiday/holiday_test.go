package holiday

import (
	"testing"
	"time"
)

func TestLookup(t *testing.T) {
	table := Default()
	tests := []struct {
		date string
		want string
	}{
		{"2025-01-01", "元日"},
		{"2025-02-24", "振替休日"},
		{"2026-09-22", "国民の休日"},
		{"2026-11-03", "文化の日"},
		{"2027-07-19", "海の日"},
	}
	for _, tt := range tests {
		d, err := time.Parse("2006-01-02", tt.date)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.date, err)
		}
		got, ok := table.Lookup(d)
		if !ok {
			t.Errorf("Lookup(%s) = no holiday, want %q", tt.date, tt.want)
			continue
		}
		if got != tt.want {
			t.Errorf("Lookup(%s) = %q, want %q", tt.date, got, tt.want)
		}
	}
}

func TestLookupOrdinaryDay(t *testing.T) {
	d := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	if name, ok := Default().Lookup(d); ok {
		t.Errorf("Lookup(2026-06-10) = %q, want no holiday", name)
	}
}

func TestLookupIgnoresTimeOfDay(t *testing.T) {
	d := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	name, ok := Default().Lookup(d)
	if !ok || name != "元日" {
		t.Errorf("Lookup(2026-01-01 23:59) = %q, %v, want 元日", name, ok)
	}
}

func TestRangeGoldenWeek(t *testing.T) {
	start := time.Date(2026, 4, 29, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	got := Default().Range(start, end)

	want := []Entry{
		{Date: "2026-04-29", Name: "昭和の日"},
		{Date: "2026-05-03", Name: "憲法記念日"},
		{Date: "2026-05-04", Name: "みどりの日"},
		{Date: "2026-05-05", Name: "こどもの日"},
		{Date: "2026-05-06", Name: "振替休日"},
	}
	if len(got) != len(want) {
		t.Fatalf("Range() returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Range()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRangeEmpty(t *testing.T) {
	start := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 9, 0, 0, 0, 0, time.UTC)
	if got := Default().Range(start, end); len(got) != 0 {
		t.Errorf("Range() = %v, want empty", got)
	}
}

func TestRangeInvertedWindow(t *testing.T) {
	start := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 29, 0, 0, 0, 0, time.UTC)
	if got := Default().Range(start, end); len(got) != 0 {
		t.Errorf("Range() = %v, want empty for inverted window", got)
	}
}
