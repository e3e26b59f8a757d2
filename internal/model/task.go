package model

import "time"

// Priority buckets for a task. The parser promotes a task to PriorityHigh
// when the text contains an urgency keyword; everything else stays normal.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Frequency values for RecurrenceRule. Expansion generates instances for
// daily, weekly and monthly; yearly and custom are stored but expand to
// nothing.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
	FreqCustom  Frequency = "custom"
)

func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly, FreqCustom:
		return true
	}
	return false
}

// RecurrenceRule describes how a master task repeats.
type RecurrenceRule struct {
	Frequency Frequency `json:"frequency"`
	// Interval is the step in frequency units. 0 is treated as 1.
	Interval int `json:"interval"`
	// DaysOfWeek restricts weekly rules; 0=Sunday .. 6=Saturday.
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	// DayOfMonth restricts monthly rules; 0 means the master's own day.
	DayOfMonth int `json:"day_of_month,omitempty"`
	// EndDate is the last calendar day instances may fall on.
	EndDate *time.Time `json:"end_date,omitempty"`
	// Count caps total occurrences across the whole series; 0 is unlimited.
	Count int `json:"count,omitempty"`
}

type Task struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Note            string    `json:"note"`
	OccursAt        time.Time `json:"occurs_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Priority        Priority  `json:"priority"`
	Done            bool      `json:"done"`
	Notify          bool      `json:"notify"`
	// Recurrence is set on masters only; generated instances carry nil.
	Recurrence        *RecurrenceRule `json:"recurrence,omitempty"`
	RecurrenceGroupID string          `json:"recurrence_group_id,omitempty"`
	// OriginalDate is the series date an instance was generated for, kept
	// stable even if the user drags the instance to another slot.
	OriginalDate     *time.Time `json:"original_date,omitempty"`
	Category         string     `json:"category,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	ExternalEventRef string     `json:"external_event_ref,omitempty"`
	// Virtual marks an expanded instance that exists only in a response;
	// it is never persisted and clears when the client materializes the row.
	Virtual   bool      `json:"virtual,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
