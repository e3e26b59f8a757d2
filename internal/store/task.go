package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ajisai/yotei/internal/model"
)

// TaskStore persists tasks. Timestamps are written as UTC and converted to
// the store's location on the way out, so callers always see wall-clock
// times in the planner's configured timezone.
type TaskStore struct {
	db  *sql.DB
	loc *time.Location
}

func NewTaskStore(db *sql.DB, loc *time.Location) *TaskStore {
	if loc == nil {
		loc = time.UTC
	}
	return &TaskStore{db: db, loc: loc}
}

const taskCols = `id, title, note, occurs_at, duration_min, priority, done, notify,
	recur_freq, recur_interval, recur_days_of_week, recur_day_of_month, recur_end_date, recur_count,
	recurrence_group_id, original_date, category, tags, external_event_ref, created_at, updated_at`

func (s *TaskStore) scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var doneInt, notifyInt int
	var freq, days, tags sql.NullString
	var interval, dayOfMonth, count sql.NullInt64
	var endDate, originalDate sql.NullTime

	err := scanner.Scan(
		&t.ID, &t.Title, &t.Note, &t.OccursAt, &t.DurationMinutes, &t.Priority, &doneInt, &notifyInt,
		&freq, &interval, &days, &dayOfMonth, &endDate, &count,
		&t.RecurrenceGroupID, &originalDate, &t.Category, &tags, &t.ExternalEventRef, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Done = doneInt != 0
	t.Notify = notifyInt != 0
	t.OccursAt = t.OccursAt.In(s.loc)
	t.CreatedAt = t.CreatedAt.In(s.loc)
	t.UpdatedAt = t.UpdatedAt.In(s.loc)

	if freq.Valid {
		rule := &model.RecurrenceRule{
			Frequency:  model.Frequency(freq.String),
			Interval:   int(interval.Int64),
			DayOfMonth: int(dayOfMonth.Int64),
			Count:      int(count.Int64),
		}
		if days.Valid && days.String != "" {
			rule.DaysOfWeek = parseWeekdays(days.String)
		}
		if endDate.Valid {
			ed := endDate.Time.In(s.loc)
			rule.EndDate = &ed
		}
		t.Recurrence = rule
	}
	if originalDate.Valid {
		od := originalDate.Time.In(s.loc)
		t.OriginalDate = &od
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &t.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &t, nil
}

func (s *TaskStore) scanTasks(rows *sql.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *TaskStore) Create(t *model.Task) (*model.Task, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("create task: empty id")
	}
	freq, interval, days, dayOfMonth, endDate, count := ruleColumns(t.Recurrence)
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO tasks (id, title, note, occurs_at, duration_min, priority, done, notify,
		 recur_freq, recur_interval, recur_days_of_week, recur_day_of_month, recur_end_date, recur_count,
		 recurrence_group_id, original_date, category, tags, external_event_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Note, t.OccursAt.UTC(), t.DurationMinutes, t.Priority, boolInt(t.Done), boolInt(t.Notify),
		freq, interval, days, dayOfMonth, endDate, count,
		t.RecurrenceGroupID, nullTime(t.OriginalDate), t.Category, tags, t.ExternalEventRef,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return s.GetByID(t.ID)
}

func (s *TaskStore) GetByID(id string) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := s.scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) List() ([]model.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskCols + ` FROM tasks ORDER BY occurs_at ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

// ListByDateRange returns tasks whose own time falls in [start, end).
func (s *TaskStore) ListByDateRange(start, end time.Time) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks WHERE occurs_at >= ? AND occurs_at < ? ORDER BY occurs_at ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by range: %w", err)
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

// ListWithSeries returns tasks in [start, end) plus every recurring master
// and every materialized series member, wherever their own times fall.
// Expansion needs the masters to generate window instances and the members
// to deduplicate against.
func (s *TaskStore) ListWithSeries(start, end time.Time) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks
		 WHERE (occurs_at >= ? AND occurs_at < ?) OR recur_freq IS NOT NULL OR recurrence_group_id != ''
		 ORDER BY occurs_at ASC, created_at ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks with series: %w", err)
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

// ListNotifiable returns undone tasks with reminders enabled in [start, end).
func (s *TaskStore) ListNotifiable(start, end time.Time) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks
		 WHERE notify = 1 AND done = 0 AND occurs_at >= ? AND occurs_at < ?
		 ORDER BY occurs_at ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list notifiable tasks: %w", err)
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

func (s *TaskStore) Update(t *model.Task) (*model.Task, error) {
	freq, interval, days, dayOfMonth, endDate, count := ruleColumns(t.Recurrence)
	tags, err := encodeTags(t.Tags)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	_, err = s.db.Exec(
		`UPDATE tasks
		 SET title = ?, note = ?, occurs_at = ?, duration_min = ?, priority = ?, done = ?, notify = ?,
		     recur_freq = ?, recur_interval = ?, recur_days_of_week = ?, recur_day_of_month = ?, recur_end_date = ?, recur_count = ?,
		     recurrence_group_id = ?, original_date = ?, category = ?, tags = ?, external_event_ref = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		t.Title, t.Note, t.OccursAt.UTC(), t.DurationMinutes, t.Priority, boolInt(t.Done), boolInt(t.Notify),
		freq, interval, days, dayOfMonth, endDate, count,
		t.RecurrenceGroupID, nullTime(t.OriginalDate), t.Category, tags, t.ExternalEventRef,
		t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetByID(t.ID)
}

func (s *TaskStore) SetDone(id string, done bool) (*model.Task, error) {
	_, err := s.db.Exec(
		`UPDATE tasks SET done = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolInt(done), id,
	)
	if err != nil {
		return nil, fmt.Errorf("set task done: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func encodeTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode tags: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// ruleColumns flattens a recurrence rule into its nullable columns. A nil
// rule leaves recur_freq NULL, which is how a plain task is told apart from
// a master.
func ruleColumns(r *model.RecurrenceRule) (freq sql.NullString, interval sql.NullInt64, days sql.NullString, dayOfMonth sql.NullInt64, endDate sql.NullTime, count sql.NullInt64) {
	if r == nil {
		return
	}
	freq = sql.NullString{String: string(r.Frequency), Valid: true}
	interval = sql.NullInt64{Int64: int64(r.Interval), Valid: true}
	if len(r.DaysOfWeek) > 0 {
		days = sql.NullString{String: joinWeekdays(r.DaysOfWeek), Valid: true}
	}
	dayOfMonth = sql.NullInt64{Int64: int64(r.DayOfMonth), Valid: true}
	endDate = nullTime(r.EndDate)
	count = sql.NullInt64{Int64: int64(r.Count), Valid: true}
	return
}

func joinWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func parseWeekdays(csv string) []time.Weekday {
	var days []time.Weekday
	for _, part := range strings.Split(csv, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}
