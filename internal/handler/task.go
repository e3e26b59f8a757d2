package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajisai/yotei/internal/model"
	"github.com/ajisai/yotei/internal/parser"
	"github.com/ajisai/yotei/internal/recurrence"
	"github.com/ajisai/yotei/internal/store"
	"github.com/ajisai/yotei/internal/websocket"
)

const defaultDurationMinutes = 30

// ReminderScheduler is the slice of the notify scheduler the handlers use
// to keep reminder bookings in step with task mutations.
type ReminderScheduler interface {
	Sync(task *model.Task, now time.Time)
	Cancel(taskID string)
}

// Broadcaster pushes change-stream messages to connected devices.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type TaskHandler struct {
	tasks       *store.TaskStore
	parser      *parser.Parser
	scheduler   ReminderScheduler
	hub         Broadcaster
	loc         *time.Location
	horizonDays int
	logger      *slog.Logger
}

func NewTaskHandler(ts *store.TaskStore, p *parser.Parser, scheduler ReminderScheduler, hub Broadcaster, loc *time.Location, horizonDays int, logger *slog.Logger) *TaskHandler {
	if loc == nil {
		loc = time.UTC
	}
	if horizonDays <= 0 {
		horizonDays = 90
	}
	return &TaskHandler{
		tasks:       ts,
		parser:      p,
		scheduler:   scheduler,
		hub:         hub,
		loc:         loc,
		horizonDays: horizonDays,
		logger:      logger,
	}
}

type parseRequest struct {
	Text       string `json:"text"`
	TargetDate string `json:"target_date"`
}

// Parse handles POST /api/tasks/parse: free text in, stored task out.
// This is where a dictated memo enters the system.
func (h *TaskHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	target := time.Now().In(h.loc)
	if req.TargetDate != "" {
		var err error
		target, err = parseTimeParam(req.TargetDate, h.loc)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target_date must be RFC3339 or YYYY-MM-DD format"})
			return
		}
	}

	task := h.parser.Parse(text, target)
	created, err := h.tasks.Create(&task)
	if err != nil {
		h.logger.Error("create parsed task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
		return
	}

	h.afterChange(created, "created")
	writeJSON(w, http.StatusCreated, created)
}

type taskRequest struct {
	Title             string                `json:"title"`
	Note              string                `json:"note"`
	OccursAt          string                `json:"occurs_at"`
	DurationMinutes   int                   `json:"duration_minutes"`
	Priority          string                `json:"priority"`
	Done              bool                  `json:"done"`
	Notify            bool                  `json:"notify"`
	Recurrence        *model.RecurrenceRule `json:"recurrence"`
	RecurrenceGroupID string                `json:"recurrence_group_id"`
	OriginalDate      string                `json:"original_date"`
	Category          string                `json:"category"`
	Tags              []string              `json:"tags"`
	ExternalEventRef  string                `json:"external_event_ref"`
}

func (h *TaskHandler) parseAndValidate(w http.ResponseWriter, r *http.Request) (*model.Task, bool) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return nil, false
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return nil, false
	}

	if req.OccursAt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "occurs_at is required"})
		return nil, false
	}
	occursAt, err := time.Parse(time.RFC3339, req.OccursAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "occurs_at must be RFC3339 format"})
		return nil, false
	}

	priority := model.Priority(req.Priority)
	if req.Priority == "" {
		priority = model.PriorityNormal
	}
	if !priority.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "priority must be low, normal or high"})
		return nil, false
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = defaultDurationMinutes
	}
	if duration < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "duration_minutes must be positive"})
		return nil, false
	}

	if req.Recurrence != nil && !req.Recurrence.Frequency.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "recurrence frequency must be daily, weekly, monthly, yearly or custom"})
		return nil, false
	}

	var originalDate *time.Time
	if req.OriginalDate != "" {
		od, err := time.Parse(time.RFC3339, req.OriginalDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "original_date must be RFC3339 format"})
			return nil, false
		}
		od = od.In(h.loc)
		originalDate = &od
	}

	task := &model.Task{
		Title:             req.Title,
		Note:              req.Note,
		OccursAt:          occursAt.In(h.loc),
		DurationMinutes:   duration,
		Priority:          priority,
		Done:              req.Done,
		Notify:            req.Notify,
		Recurrence:        req.Recurrence,
		RecurrenceGroupID: req.RecurrenceGroupID,
		OriginalDate:      originalDate,
		Category:          req.Category,
		Tags:              req.Tags,
		ExternalEventRef:  req.ExternalEventRef,
	}
	// A rule without a series id starts a fresh series.
	if task.Recurrence != nil && task.RecurrenceGroupID == "" {
		task.RecurrenceGroupID = uuid.NewString()
	}
	return task, true
}

// Create handles POST /api/tasks. Posting a virtual instance's fields with
// its recurrence_group_id and original_date is how a client materializes it.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	task, ok := h.parseAndValidate(w, r)
	if !ok {
		return
	}
	task.ID = uuid.NewString()

	created, err := h.tasks.Create(task)
	if err != nil {
		h.logger.Error("create task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
		return
	}

	h.afterChange(created, "created")
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/tasks?start&end. The window defaults to today
// through the configured horizon. Recurring masters are expanded into the
// window unless expand=false.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if r.URL.Query().Get("expand") == "false" {
		tasks, err := h.tasks.ListByDateRange(start, end)
		if err != nil {
			h.logger.Error("list tasks", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
			return
		}
		if tasks == nil {
			tasks = []model.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
		return
	}

	tasks, err := h.expandedWindow(start, end)
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	task, err := h.tasks.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.tasks.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	task, ok := h.parseAndValidate(w, r)
	if !ok {
		return
	}
	task.ID = id

	updated, err := h.tasks.Update(task)
	if err != nil {
		h.logger.Error("update task", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update task"})
		return
	}

	h.afterChange(updated, "updated")
	writeJSON(w, http.StatusOK, updated)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.tasks.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	if err := h.tasks.Delete(id); err != nil {
		h.logger.Error("delete task", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete task"})
		return
	}

	h.scheduler.Cancel(id)
	h.hub.Broadcast(websocket.NewMessage("task", "deleted", id))
	w.WriteHeader(http.StatusNoContent)
}

// ToggleDone handles POST /api/tasks/{id}/done.
func (h *TaskHandler) ToggleDone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	existing, err := h.tasks.GetByID(id)
	if err != nil {
		h.logger.Error("get task", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	updated, err := h.tasks.SetDone(id, !existing.Done)
	if err != nil {
		h.logger.Error("toggle task done", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update task"})
		return
	}

	h.afterChange(updated, "updated")
	writeJSON(w, http.StatusOK, updated)
}

// afterChange re-syncs the reminder slot and tells connected devices.
func (h *TaskHandler) afterChange(task *model.Task, action string) {
	h.scheduler.Sync(task, time.Now().In(h.loc))
	h.hub.Broadcast(websocket.TaskMessage(action, task))
}

var errWindowInverted = errors.New("end must not be before start")

func errBadParam(name string) error {
	return fmt.Errorf("%s must be RFC3339 or YYYY-MM-DD format", name)
}

// window reads start/end query params, defaulting to today through the
// horizon. Returned errors are safe to show the client.
func (h *TaskHandler) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	now := time.Now().In(h.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.loc)

	var err error
	if s := q.Get("start"); s != "" {
		start, err = parseTimeParam(s, h.loc)
		if err != nil {
			return time.Time{}, time.Time{}, errBadParam("start")
		}
	}
	end := start.AddDate(0, 0, h.horizonDays)
	if e := q.Get("end"); e != "" {
		end, err = parseTimeParam(e, h.loc)
		if err != nil {
			return time.Time{}, time.Time{}, errBadParam("end")
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errWindowInverted
	}
	return start, end, nil
}

// expandedWindow returns persisted tasks and virtual instances in
// [start, end), ordered by time.
func (h *TaskHandler) expandedWindow(start, end time.Time) ([]model.Task, error) {
	all, err := h.tasks.ListWithSeries(start, end)
	if err != nil {
		return nil, err
	}
	merged := recurrence.Merge(all, start, end)

	tasks := make([]model.Task, 0, len(merged))
	for _, t := range merged {
		// ListWithSeries returns out-of-window masters so expansion can
		// seed from them; they do not belong in the response.
		if t.OccursAt.Before(start) || !t.OccursAt.Before(end) {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].OccursAt.Before(tasks[j].OccursAt)
	})
	return tasks, nil
}

// parseTimeParam accepts RFC3339 or a bare date; bare dates are midnight
// in the planner's timezone.
func parseTimeParam(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
