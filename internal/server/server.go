// Package server wires stores, schedulers and handlers into the HTTP
// surface of the planner.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ajisai/yotei/internal/backup"
	"github.com/ajisai/yotei/internal/config"
	"github.com/ajisai/yotei/internal/handler"
	"github.com/ajisai/yotei/internal/holiday"
	"github.com/ajisai/yotei/internal/middleware"
	"github.com/ajisai/yotei/internal/notify"
	"github.com/ajisai/yotei/internal/parser"
	"github.com/ajisai/yotei/internal/push"
	"github.com/ajisai/yotei/internal/store"
	ws "github.com/ajisai/yotei/internal/websocket"
)

type Server struct {
	cfg *config.Config
	db  *sql.DB
	loc *time.Location
	hub *ws.Hub

	taskH     *handler.TaskHandler
	categoryH *handler.CategoryHandler
	holidayH  *handler.HolidayHandler
	pushH     *handler.PushHandler
	backupH   *handler.BackupHandler

	scheduler *notify.Scheduler
	backupMgr *backup.Manager
	throttle  *middleware.Throttle
	logger    *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	catalog := cfg.Catalog()
	holidays := holiday.Default()

	hub := ws.NewHub(logger.With("component", "websocket"))

	taskStore := store.NewTaskStore(db, loc)
	pushStore := store.NewPushStore(db)
	backupStore := store.NewBackupStore(db)

	// Push stays nil until VAPID keys are configured; the handler and the
	// scheduler both tolerate that.
	var pushSvc *push.Service
	var sender notify.Sender
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		pushSvc = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey)
		sender = pushSvc
	}

	scheduler := notify.NewScheduler(logger.With("component", "notify"), sender,
		taskStore, pushStore, holidays, catalog, loc)

	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		},
		DBPath:        cfg.DBPath,
		Passphrase:    cfg.Backup.Passphrase,
		RetentionDays: cfg.Backup.RetentionDays,
	}, db, backupStore, func(backup.Status) {
		// Signal only; clients refetch /api/backup/status.
		hub.Broadcast(ws.NewMessage("backup", "status", ""))
	}, logger.With("component", "backup"))

	return &Server{
		cfg: cfg,
		db:  db,
		loc: loc,
		hub: hub,
		taskH: handler.NewTaskHandler(taskStore, parser.New(catalog), scheduler, hub,
			loc, cfg.HorizonDays, logger.With("component", "task")),
		categoryH:   handler.NewCategoryHandler(catalog),
		holidayH:    handler.NewHolidayHandler(holidays, loc),
		pushH:       handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push")),
		backupH:     handler.NewBackupHandler(backupMgr, backupStore, logger.With("component", "backup")),
		scheduler: scheduler,
		backupMgr: backupMgr,
		throttle:  middleware.NewThrottle(10, time.Minute),
		logger:    logger,
	}, nil
}

// Start registers the daily jobs and begins the reminder loop. Call Stop to
// wind the cron down.
func (s *Server) Start() error {
	if err := s.scheduler.ScheduleDaily(s.cfg.Push.DailySummaryAt, func() {
		s.scheduler.SendDailySummary(time.Now().In(s.loc))
	}); err != nil {
		return fmt.Errorf("schedule daily summary: %w", err)
	}

	if s.backupMgr.Enabled() {
		if err := s.scheduler.ScheduleDaily(s.cfg.Backup.DailyAt, func() {
			s.backupMgr.RunScheduled(context.Background())
		}); err != nil {
			return fmt.Errorf("schedule backups: %w", err)
		}
	}

	if s.cfg.BasicAuth.Enabled() {
		// The auth throttle map only grows on failed attempts.
		if err := s.scheduler.ScheduleDaily("04:30", s.throttle.Sweep); err != nil {
			return fmt.Errorf("schedule throttle sweep: %w", err)
		}
	}

	return s.scheduler.Start()
}

// Stop halts the scheduler and waits for in-flight jobs.
func (s *Server) Stop() {
	s.scheduler.Stop()
}

// BackupManager exposes the backup manager for command-line restore and
// history listing.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupMgr
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/tasks/parse", s.taskH.Parse)
	mux.HandleFunc("POST /api/tasks", s.taskH.Create)
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.HandleFunc("PUT /api/tasks/{id}", s.taskH.Update)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Delete)
	mux.HandleFunc("POST /api/tasks/{id}/done", s.taskH.ToggleDone)

	mux.HandleFunc("GET /api/categories", s.categoryH.List)
	mux.HandleFunc("GET /api/holidays", s.holidayH.List)
	mux.HandleFunc("GET /api/export/ics", s.taskH.ExportICS)

	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	mux.HandleFunc("GET /api/backup/status", s.backupH.Status)
	mux.HandleFunc("POST /api/backup/run", s.backupH.Run)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))
	mux.HandleFunc("GET /health", s.healthHandler)

	var h http.Handler = mux
	if s.cfg.BasicAuth.Enabled() {
		h = middleware.BasicAuth(s.cfg.BasicAuth.Username, s.cfg.BasicAuth.Password, s.throttle)(h)
	}
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
