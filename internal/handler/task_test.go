package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ajisai/yotei/internal/category"
	"github.com/ajisai/yotei/internal/database"
	"github.com/ajisai/yotei/internal/model"
	"github.com/ajisai/yotei/internal/parser"
	"github.com/ajisai/yotei/internal/store"
	"github.com/ajisai/yotei/internal/websocket"
)

type fakeScheduler struct {
	synced   []string
	canceled []string
}

func (f *fakeScheduler) Sync(task *model.Task, now time.Time) {
	if task != nil {
		f.synced = append(f.synced, task.ID)
	}
}

func (f *fakeScheduler) Cancel(taskID string) {
	f.canceled = append(f.canceled, taskID)
}

type fakeHub struct {
	messages []websocket.Message
}

func (f *fakeHub) Broadcast(msg websocket.Message) {
	f.messages = append(f.messages, msg)
}

func (f *fakeHub) last(t *testing.T) websocket.Message {
	t.Helper()
	if len(f.messages) == 0 {
		t.Fatal("no broadcast messages")
	}
	return f.messages[len(f.messages)-1]
}

func setupTaskHandler(t *testing.T) (*TaskHandler, *fakeScheduler, *fakeHub, *store.TaskStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tasks := store.NewTaskStore(db, time.UTC)
	sched := &fakeScheduler{}
	hub := &fakeHub{}
	h := NewTaskHandler(tasks, parser.New(category.Default()), sched, hub, time.UTC, 90, slog.Default())
	return h, sched, hub, tasks
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) model.Task {
	t.Helper()
	var task model.Task
	if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return task
}

func decodeTasks(t *testing.T, rec *httptest.ResponseRecorder) []model.Task {
	t.Helper()
	var tasks []model.Task
	if err := json.NewDecoder(rec.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	return tasks
}

func mustCreate(t *testing.T, tasks *store.TaskStore, task model.Task) *model.Task {
	t.Helper()
	if task.DurationMinutes == 0 {
		task.DurationMinutes = 30
	}
	if task.Priority == "" {
		task.Priority = model.PriorityNormal
	}
	created, err := tasks.Create(&task)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func TestParseCreatesTask(t *testing.T) {
	h, sched, hub, tasks := setupTaskHandler(t)

	body := `{"text":"明日15時に歯医者 重要","target_date":"2026-09-15"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/parse", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Parse(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	task := decodeTask(t, rec)
	if task.Title != "歯医者" {
		t.Errorf("title = %q, want 歯医者", task.Title)
	}
	want := time.Date(2026, 9, 15, 15, 0, 0, 0, time.UTC)
	if !task.OccursAt.Equal(want) {
		t.Errorf("occurs at = %v, want %v", task.OccursAt, want)
	}
	if task.Priority != model.PriorityHigh || !task.Notify {
		t.Errorf("priority = %q notify = %v, want high with notify", task.Priority, task.Notify)
	}

	stored, err := tasks.GetByID(task.ID)
	if err != nil || stored == nil {
		t.Fatalf("task not persisted: %v", err)
	}
	msg := hub.last(t)
	if msg.Type != "task_created" || msg.Task == nil {
		t.Errorf("broadcast = %+v, want task_created with payload", msg)
	}
	if len(sched.synced) != 1 || sched.synced[0] != task.ID {
		t.Errorf("scheduler synced = %v, want [%s]", sched.synced, task.ID)
	}
}

func TestParseRequiresText(t *testing.T) {
	h, _, _, _ := setupTaskHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/parse", strings.NewReader(`{"text":"   "}`))
	rec := httptest.NewRecorder()
	h.Parse(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestParseBadTargetDate(t *testing.T) {
	h, _, _, _ := setupTaskHandler(t)

	body := `{"text":"買い物","target_date":"15-09-2026"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks/parse", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Parse(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateTask(t *testing.T) {
	h, sched, hub, _ := setupTaskHandler(t)

	body := `{
		"title": "打ち合わせ",
		"occurs_at": "2026-09-16T14:00:00Z",
		"duration_minutes": 45,
		"notify": true,
		"category": "work",
		"tags": ["仕事"]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	task := decodeTask(t, rec)
	if task.ID == "" {
		t.Error("expected server-assigned id")
	}
	if task.Priority != model.PriorityNormal {
		t.Errorf("priority = %q, want normal default", task.Priority)
	}
	if task.DurationMinutes != 45 {
		t.Errorf("duration = %d, want 45", task.DurationMinutes)
	}
	if len(sched.synced) != 1 {
		t.Errorf("scheduler synced = %v", sched.synced)
	}
	if hub.last(t).Type != "task_created" {
		t.Errorf("broadcast type = %q", hub.last(t).Type)
	}
}

func TestCreateAssignsRecurrenceGroup(t *testing.T) {
	h, _, _, _ := setupTaskHandler(t)

	body := `{
		"title": "ストレッチ",
		"occurs_at": "2026-09-14T09:00:00Z",
		"recurrence": {"frequency": "weekly", "interval": 1, "days_of_week": [1]}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	task := decodeTask(t, rec)
	if task.RecurrenceGroupID == "" {
		t.Error("expected a generated recurrence group id")
	}
	if task.RecurrenceGroupID == task.ID {
		t.Error("group id must be distinct from the task id")
	}
}

func TestCreateValidation(t *testing.T) {
	h, _, _, _ := setupTaskHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"occurs_at":"2026-09-16T14:00:00Z"}`},
		{"missing occurs_at", `{"title":"買い物"}`},
		{"bad occurs_at", `{"title":"買い物","occurs_at":"tomorrow"}`},
		{"bad priority", `{"title":"買い物","occurs_at":"2026-09-16T14:00:00Z","priority":"urgent"}`},
		{"negative duration", `{"title":"買い物","occurs_at":"2026-09-16T14:00:00Z","duration_minutes":-5}`},
		{"bad recurrence", `{"title":"買い物","occurs_at":"2026-09-16T14:00:00Z","recurrence":{"frequency":"hourly"}}`},
		{"invalid json", `{"title":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Create(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListExpandsRecurring(t *testing.T) {
	h, _, _, tasks := setupTaskHandler(t)

	mustCreate(t, tasks, model.Task{
		ID:       "master-1",
		Title:    "ストレッチ",
		OccursAt: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), // Monday
		Notify:   true,
		Recurrence: &model.RecurrenceRule{
			Frequency:  model.FreqWeekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{time.Monday},
		},
		RecurrenceGroupID: "group-1",
	})
	mustCreate(t, tasks, model.Task{
		ID:       "task-1",
		Title:    "打ち合わせ",
		OccursAt: time.Date(2026, 9, 16, 14, 0, 0, 0, time.UTC),
	})
	mustCreate(t, tasks, model.Task{
		ID:       "task-2",
		Title:    "来月の用事",
		OccursAt: time.Date(2026, 9, 25, 10, 0, 0, 0, time.UTC),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?start=2026-09-14&end=2026-09-21", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decodeTasks(t, rec)
	if len(got) != 2 {
		t.Fatalf("got %d tasks, want 2: %+v", len(got), got)
	}

	// Ordered by time: the Monday instance first, then the meeting.
	if !got[0].Virtual || got[0].RecurrenceGroupID != "group-1" {
		t.Errorf("first task = %+v, want virtual instance of group-1", got[0])
	}
	want := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	if !got[0].OccursAt.Equal(want) {
		t.Errorf("instance at %v, want %v", got[0].OccursAt, want)
	}
	if got[1].ID != "task-1" {
		t.Errorf("second task = %q, want task-1", got[1].ID)
	}
}

func TestListExpandFalse(t *testing.T) {
	h, _, _, tasks := setupTaskHandler(t)

	mustCreate(t, tasks, model.Task{
		ID:       "master-1",
		Title:    "ストレッチ",
		OccursAt: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		Recurrence: &model.RecurrenceRule{
			Frequency:  model.FreqWeekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{time.Monday},
		},
		RecurrenceGroupID: "group-1",
	})
	mustCreate(t, tasks, model.Task{
		ID:       "task-1",
		Title:    "打ち合わせ",
		OccursAt: time.Date(2026, 9, 16, 14, 0, 0, 0, time.UTC),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?start=2026-09-14&end=2026-09-21&expand=false", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decodeTasks(t, rec)
	if len(got) != 1 || got[0].ID != "task-1" {
		t.Fatalf("got %+v, want only the persisted task", got)
	}
}

func TestListSkipsMaterializedSlot(t *testing.T) {
	h, _, _, tasks := setupTaskHandler(t)

	mustCreate(t, tasks, model.Task{
		ID:       "master-1",
		Title:    "ストレッチ",
		OccursAt: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		Recurrence: &model.RecurrenceRule{
			Frequency:  model.FreqWeekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{time.Monday},
		},
		RecurrenceGroupID: "group-1",
	})

	// Materialize the Sep 14 occurrence the way a client would.
	body := `{
		"title": "ストレッチ",
		"occurs_at": "2026-09-14T09:00:00Z",
		"recurrence_group_id": "group-1",
		"original_date": "2026-09-14T09:00:00Z"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("materialize status = %d: %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tasks?start=2026-09-14&end=2026-09-15", nil)
	rec = httptest.NewRecorder()
	h.List(rec, req)

	got := decodeTasks(t, rec)
	if len(got) != 1 {
		t.Fatalf("got %d tasks, want 1: %+v", len(got), got)
	}
	if got[0].Virtual {
		t.Error("materialized slot must not also produce a virtual instance")
	}
	if got[0].OriginalDate == nil {
		t.Error("materialized instance should keep its original date")
	}
}

func TestListInvertedWindow(t *testing.T) {
	h, _, _, _ := setupTaskHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?start=2026-09-21&end=2026-09-14", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListDefaultWindow(t *testing.T) {
	h, _, _, tasks := setupTaskHandler(t)

	mustCreate(t, tasks, model.Task{
		ID:       "soon",
		Title:    "明日の用事",
		OccursAt: time.Now().UTC().Add(24 * time.Hour),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decodeTasks(t, rec)
	if len(got) != 1 || got[0].ID != "soon" {
		t.Errorf("got %+v, want the upcoming task", got)
	}
}

func TestGetTask(t *testing.T) {
	h, _, _, tasks := setupTaskHandler(t)
	created := mustCreate(t, tasks, model.Task{
		ID:       "task-1",
		Title:    "買い物",
		OccursAt: time.Date(2026, 9, 16, 10, 0, 0, 0, time.UTC),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/task-1", nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeTask(t, rec); got.ID != created.ID {
		t.Errorf("id = %q, want %q", got.ID, created.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tasks/nope", nil)
	req.SetPathValue("id", "nope")
	rec = httptest.NewRecorder()
	h.Get(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateTask(t *testing.T) {
	h, sched, hub, tasks := setupTaskHandler(t)
	created := mustCreate(t, tasks, model.Task{
		ID:       "task-1",
		Title:    "買い物",
		OccursAt: time.Date(2026, 9, 16, 10, 0, 0, 0, time.UTC),
	})

	body := `{
		"title": "買い物リスト",
		"occurs_at": "2026-09-17T11:00:00Z",
		"priority": "high",
		"notify": true
	}`
	req := httptest.NewRequest(http.MethodPut, "/api/tasks/task-1", strings.NewReader(body))
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decodeTask(t, rec)
	if got.Title != "買い物リスト" || got.Priority != model.PriorityHigh || !got.Notify {
		t.Errorf("updated task = %+v", got)
	}
	want := time.Date(2026, 9, 17, 11, 0, 0, 0, time.UTC)
	if !got.OccursAt.Equal(want) {
		t.Errorf("occurs at = %v, want %v", got.OccursAt, want)
	}

	msg := hub.last(t)
	if msg.Type != "task_updated" || msg.Task == nil || msg.Task.Title != "買い物リスト" {
		t.Errorf("broadcast = %+v", msg)
	}
	if len(sched.synced) != 1 || sched.synced[0] != created.ID {
		t.Errorf("scheduler synced = %v", sched.synced)
	}
}

func TestUpdateMissingTask(t *testing.T) {
	h, _, _, _ := setupTaskHandler(t)

	body := `{"title":"買い物","occurs_at":"2026-09-17T11:00:00Z"}`
	req := httptest.NewRequest(http.MethodPut, "/api/tasks/nope", strings.NewReader(body))
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.Update(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	h, sched, hub, tasks := setupTaskHandler(t)
	created := mustCreate(t, tasks, model.Task{
		ID:       "task-1",
		Title:    "買い物",
		OccursAt: time.Date(2026, 9, 16, 10, 0, 0, 0, time.UTC),
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/task-1", nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got, _ := tasks.GetByID(created.ID); got != nil {
		t.Error("task should be gone")
	}
	if len(sched.canceled) != 1 || sched.canceled[0] != created.ID {
		t.Errorf("scheduler canceled = %v", sched.canceled)
	}
	msg := hub.last(t)
	if msg.Type != "task_deleted" || msg.ID != created.ID || msg.Task != nil {
		t.Errorf("broadcast = %+v, want bare task_deleted", msg)
	}
}

func TestToggleDone(t *testing.T) {
	h, sched, _, tasks := setupTaskHandler(t)
	created := mustCreate(t, tasks, model.Task{
		ID:       "task-1",
		Title:    "買い物",
		OccursAt: time.Date(2026, 9, 16, 10, 0, 0, 0, time.UTC),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/task-1/done", nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()
	h.ToggleDone(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeTask(t, rec); !got.Done {
		t.Error("task should be done after first toggle")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/tasks/task-1/done", nil)
	req.SetPathValue("id", created.ID)
	rec = httptest.NewRecorder()
	h.ToggleDone(rec, req)

	if got := decodeTask(t, rec); got.Done {
		t.Error("task should be undone after second toggle")
	}
	if len(sched.synced) != 2 {
		t.Errorf("scheduler synced %d times, want 2", len(sched.synced))
	}
}

func TestExportICSHandler(t *testing.T) {
	h, _, _, tasks := setupTaskHandler(t)

	mustCreate(t, tasks, model.Task{
		ID:       "master-1",
		Title:    "ストレッチ",
		OccursAt: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		Recurrence: &model.RecurrenceRule{
			Frequency:  model.FreqWeekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{time.Monday},
		},
		RecurrenceGroupID: "group-1",
	})
	mustCreate(t, tasks, model.Task{
		ID:       "task-1",
		Title:    "打ち合わせ",
		OccursAt: time.Date(2026, 9, 16, 14, 0, 0, 0, time.UTC),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/export/ics?start=2026-09-14&end=2026-09-21", nil)
	rec := httptest.NewRecorder()
	h.ExportICS(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") {
		t.Error("missing calendar envelope")
	}
	if !strings.Contains(body, "打ち合わせ") {
		t.Error("missing the one-off task")
	}
	// The master sits before the window but its series ships whole.
	if !strings.Contains(body, "ストレッチ") || !strings.Contains(body, "FREQ=WEEKLY") {
		t.Error("missing the recurring series")
	}
}
