// Package notify pushes task reminders and a morning agenda to subscribed
// browsers. The Scheduler owns the pending reminder state: the application
// layer books and releases slots through Schedule and Cancel as tasks
// change, a cron tick fires entries as they come due, and a sweep over
// recurring series catches occurrences that exist only as virtual
// instances. The notification_log table keeps restarts and reseeds from
// repeating a send.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajisai/yotei/internal/category"
	"github.com/ajisai/yotei/internal/holiday"
	"github.com/ajisai/yotei/internal/model"
	"github.com/ajisai/yotei/internal/push"
	"github.com/ajisai/yotei/internal/recurrence"
	"github.com/ajisai/yotei/internal/store"

	"github.com/robfig/cron/v3"
)

// ReminderLead is how far before a task starts its reminder fires.
const ReminderLead = 10 * time.Minute

const (
	tickInterval = 30 * time.Second
	seedHorizon  = 365 * 24 * time.Hour

	// ledgerRetention is how long sent-notification rows are kept. Checks
	// only ever look at slots within the current day, so week-old rows are
	// unreachable.
	ledgerRetention = 7 * 24 * time.Hour
)

// summaryLedgerID keys daily summary sends in the notification log.
const summaryLedgerID = "daily-summary"

// Sender delivers one push message. *push.Service implements it. A nil
// Sender is allowed: the scheduler still runs its cron jobs but delivers
// nothing, which is the state before VAPID keys are configured.
type Sender interface {
	Send(sub *model.PushSubscription, payload push.Payload) error
}

type reminder struct {
	firesAt time.Time
	payload push.Payload
}

type dueReminder struct {
	id string
	reminder
}

// Scheduler owns pending reminders and the cron loop that fires them.
type Scheduler struct {
	logger   *slog.Logger
	sender   Sender
	tasks    *store.TaskStore
	subs     *store.PushStore
	holidays holiday.Table
	catalog  category.Catalog
	loc      *time.Location
	cron     *cron.Cron

	mu      sync.Mutex
	pending map[string]reminder
}

func NewScheduler(logger *slog.Logger, sender Sender, tasks *store.TaskStore, subs *store.PushStore, holidays holiday.Table, catalog category.Catalog, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		logger:   logger,
		sender:   sender,
		tasks:    tasks,
		subs:     subs,
		holidays: holidays,
		catalog:  catalog,
		loc:      loc,
		cron:     cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		pending:  make(map[string]reminder),
	}
}

// Start seeds pending reminders from the store, registers the reminder tick
// and a daily reseed, and begins the cron loop.
func (s *Scheduler) Start() error {
	s.seed(time.Now().In(s.loc))

	spec := fmt.Sprintf("@every %ds", int(tickInterval.Seconds()))
	if _, err := s.cron.AddFunc(spec, func() { s.tick(time.Now().In(s.loc)) }); err != nil {
		return fmt.Errorf("add reminder tick: %w", err)
	}
	// Tasks beyond the seed horizon rotate in as the horizon advances; the
	// same pass prunes ledger rows nothing can consult anymore.
	if _, err := s.cron.AddFunc("@daily", func() {
		now := time.Now().In(s.loc)
		s.seed(now)
		s.pruneLedger(now)
	}); err != nil {
		return fmt.Errorf("add reseed job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ScheduleDaily registers a job at the given HH:MM wall-clock time in the
// scheduler's location.
func (s *Scheduler) ScheduleDaily(timeStr string, job func()) error {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("add daily job: %w", err)
	}
	return nil
}

// Schedule books a reminder for the task, replacing any earlier slot. The
// firing time is truncated to the minute so it doubles as the ledger key:
// a task moved to a new slot reminds again, repeated bookings of the same
// slot do not.
func (s *Scheduler) Schedule(taskID string, firesAt time.Time, payload push.Payload) {
	if taskID == "" {
		return
	}
	s.mu.Lock()
	s.pending[taskID] = reminder{firesAt: firesAt.Truncate(time.Minute), payload: payload}
	s.mu.Unlock()
}

// Cancel releases the task's pending reminder, if any.
func (s *Scheduler) Cancel(taskID string) {
	s.mu.Lock()
	delete(s.pending, taskID)
	s.mu.Unlock()
}

// Sync reconciles a task's reminder with its current state. Done, silent,
// and already-started tasks lose their slot; everything else is booked at
// occursAt minus the lead.
func (s *Scheduler) Sync(task *model.Task, now time.Time) {
	if task == nil {
		return
	}
	if task.Done || !task.Notify || !task.OccursAt.After(now) {
		s.Cancel(task.ID)
		return
	}
	s.Schedule(task.ID, task.OccursAt.Add(-ReminderLead), s.reminderPayload(*task, task.ID))
}

// seed books reminders for every notifiable task on record. It runs at
// startup so bookings survive restarts, and daily thereafter; the ledger
// keeps rebooked slots that already fired quiet.
func (s *Scheduler) seed(now time.Time) {
	tasks, err := s.tasks.ListNotifiable(now, now.Add(seedHorizon))
	if err != nil {
		s.logger.Error("seed reminders", "error", err)
		return
	}
	for i := range tasks {
		s.Sync(&tasks[i], now)
	}
}

// pruneLedger drops sent-notification rows past the retention window.
func (s *Scheduler) pruneLedger(now time.Time) {
	if err := s.subs.CleanupSent(now.Add(-ledgerRetention)); err != nil {
		s.logger.Error("prune notification log", "error", err)
	}
}

// tick fires due pending reminders, then sweeps recurring series. An entry
// whose task has already started is dropped unsent; a late reminder helps
// nobody.
func (s *Scheduler) tick(now time.Time) {
	var subs []model.PushSubscription
	subsLoaded := false
	loadSubs := func() ([]model.PushSubscription, error) {
		if !subsLoaded {
			var err error
			subs, err = s.subs.List()
			if err != nil {
				return nil, err
			}
			subsLoaded = true
		}
		return subs, nil
	}

	for _, d := range s.takeDue(now) {
		if !now.Before(d.firesAt.Add(ReminderLead)) {
			continue
		}
		sent, err := s.subs.WasSent(d.id, d.firesAt)
		if err != nil {
			s.logger.Error("reminder tick: check sent", "error", err, "task_id", d.id)
			continue
		}
		if sent {
			continue
		}
		list, err := loadSubs()
		if err != nil {
			s.logger.Error("reminder tick: list subscriptions", "error", err)
			return
		}
		s.deliver(list, d.payload)
		if err := s.subs.RecordSent(d.id, d.firesAt); err != nil {
			s.logger.Error("reminder tick: record sent", "error", err, "task_id", d.id)
		}
	}

	s.sweepSeries(now, loadSubs)
}

// takeDue removes and returns every pending entry whose slot has arrived.
func (s *Scheduler) takeDue(now time.Time) []dueReminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []dueReminder
	for id, r := range s.pending {
		if now.Before(r.firesAt) {
			continue
		}
		due = append(due, dueReminder{id: id, reminder: r})
		delete(s.pending, id)
	}
	return due
}

// sweepSeries fires reminders for occurrences that exist only as virtual
// instances of a recurring series. Virtual ids change on every expansion,
// so the ledger keys them by the master instead, with the firing time
// telling occurrences apart.
func (s *Scheduler) sweepSeries(now time.Time, loadSubs func() ([]model.PushSubscription, error)) {
	windowEnd := now.Add(ReminderLead)

	collection, err := s.tasks.ListWithSeries(now, windowEnd)
	if err != nil {
		s.logger.Error("reminder tick: list series", "error", err)
		return
	}
	merged := recurrence.Merge(collection, now, windowEnd)

	masterByGroup := make(map[string]string)
	for _, t := range collection {
		if t.Recurrence == nil || t.RecurrenceGroupID == "" {
			continue
		}
		if _, ok := masterByGroup[t.RecurrenceGroupID]; !ok {
			masterByGroup[t.RecurrenceGroupID] = t.ID
		}
	}

	for _, task := range merged {
		if !task.Virtual || task.Done || !task.Notify {
			continue
		}
		if task.OccursAt.Before(now) || !task.OccursAt.Before(windowEnd) {
			continue
		}
		masterID := masterByGroup[task.RecurrenceGroupID]
		if masterID == "" {
			continue
		}
		firesAt := task.OccursAt.Add(-ReminderLead).Truncate(time.Minute)

		sent, err := s.subs.WasSent(masterID, firesAt)
		if err != nil {
			s.logger.Error("reminder tick: check sent", "error", err, "task_id", masterID)
			continue
		}
		if sent {
			continue
		}

		list, err := loadSubs()
		if err != nil {
			s.logger.Error("reminder tick: list subscriptions", "error", err)
			return
		}
		s.deliver(list, s.reminderPayload(task, masterID))

		if err := s.subs.RecordSent(masterID, firesAt); err != nil {
			s.logger.Error("reminder tick: record sent", "error", err, "task_id", masterID)
		}
	}
}

// SendDailySummary pushes the day's agenda to every subscription. It is
// meant to run once per morning via ScheduleDaily; the ledger keeps a
// second run on the same day from repeating it.
func (s *Scheduler) SendDailySummary(now time.Time) {
	now = now.In(s.loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	sent, err := s.subs.WasSent(summaryLedgerID, dayStart)
	if err != nil {
		s.logger.Error("daily summary: check sent", "error", err)
		return
	}
	if sent {
		return
	}

	collection, err := s.tasks.ListWithSeries(dayStart, dayEnd)
	if err != nil {
		s.logger.Error("daily summary: list tasks", "error", err)
		return
	}
	merged := recurrence.Merge(collection, dayStart, dayEnd)

	var today []model.Task
	for _, t := range merged {
		if t.Done {
			continue
		}
		if t.OccursAt.Before(dayStart) || !t.OccursAt.Before(dayEnd) {
			continue
		}
		today = append(today, t)
	}
	sort.Slice(today, func(i, j int) bool { return today[i].OccursAt.Before(today[j].OccursAt) })

	subs, err := s.subs.List()
	if err != nil {
		s.logger.Error("daily summary: list subscriptions", "error", err)
		return
	}

	s.deliver(subs, push.Payload{
		Title: "今日の予定",
		Body:  BuildSummary(dayStart, today, s.holidays, s.catalog),
		URL:   "/",
		Tag:   summaryLedgerID,
	})

	if err := s.subs.RecordSent(summaryLedgerID, dayStart); err != nil {
		s.logger.Error("daily summary: record sent", "error", err)
	}
}

func (s *Scheduler) reminderPayload(task model.Task, ledgerID string) push.Payload {
	return push.Payload{
		Title:  "リマインダー",
		Body:   fmt.Sprintf("%s %s", task.OccursAt.In(s.loc).Format("15:04"), task.Title),
		URL:    "/",
		Tag:    "task-" + ledgerID,
		TaskID: ledgerID,
	}
}

func (s *Scheduler) deliver(subs []model.PushSubscription, payload push.Payload) {
	if s.sender == nil {
		return
	}
	for _, sub := range subs {
		if err := s.sender.Send(&sub, payload); err != nil {
			if errors.Is(err, push.ErrExpired) {
				if err := s.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
					s.logger.Error("drop expired subscription", "error", err, "endpoint", sub.Endpoint)
				}
				continue
			}
			s.logger.Error("send push", "error", err, "endpoint", sub.Endpoint)
		}
	}
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
