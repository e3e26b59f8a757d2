// Package backup snapshots the sqlite database, encrypts the copy and
// uploads it to S3-compatible storage. Retention pruning and restore run
// through the same Manager.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/ajisai/yotei/internal/database"
	"github.com/ajisai/yotei/internal/model"
	"github.com/ajisai/yotei/internal/store"
)

const (
	defaultRetentionDays = 30
	uploadRetries        = 3
)

var (
	// ErrNotConfigured is returned when the backup section of the config
	// is missing credentials or a passphrase.
	ErrNotConfigured = errors.New("backups are not configured")
	// ErrBusy is returned when a backup is already running.
	ErrBusy = errors.New("backup already in progress")
)

// s3Client is the slice of the S3 API the manager uses. Tests substitute
// an in-memory implementation.
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

type Config struct {
	S3            S3Config
	DBPath        string
	Passphrase    string
	RetentionDays int
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is invoked on every status change, e.g. to push the new
// state to connected clients.
type StatusCallback func(Status)

type Manager struct {
	cfg      Config
	db       *sql.DB
	store    *store.BackupStore
	client   s3Client
	callback StatusCallback
	logger   *slog.Logger

	// newBackoff builds the upload retry policy. Backoff state is
	// per-attempt-sequence, so a fresh one is built for every upload.
	// Tests swap in a flat, fast policy.
	newBackoff func() retry.Backoff

	mu     sync.Mutex
	status Status
}

func NewManager(cfg Config, db *sql.DB, st *store.BackupStore, callback StatusCallback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		db:       db,
		store:    st,
		callback: callback,
		logger:   logger,
		newBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(uploadRetries, retry.NewExponential(time.Second))
		},
	}

	if !m.Enabled() {
		m.status = Status{State: StateDisabled}
		return m
	}

	m.client = newS3Client(cfg.S3)
	m.status = Status{State: StateIdle}
	if latest, err := st.LatestCompleted(); err != nil {
		logger.Warn("load last backup time", "error", err)
	} else if latest != nil {
		m.status.LastBackup = latest.CompletedAt
	}
	return m
}

// Enabled reports whether the manager has everything it needs to run:
// bucket credentials and an encryption passphrase.
func (m *Manager) Enabled() bool {
	return m.cfg.S3.Bucket != "" &&
		m.cfg.S3.AccessKeyID != "" &&
		m.cfg.S3.SecretAccessKey != "" &&
		m.cfg.Passphrase != ""
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// RunNow takes a snapshot, encrypts it and uploads it. It returns the id
// of the backup record, which is also set on failures that happen after
// the record was created.
func (m *Manager) RunNow(ctx context.Context) (int64, error) {
	if !m.Enabled() {
		return 0, ErrNotConfigured
	}

	m.mu.Lock()
	if m.status.InProgress {
		m.mu.Unlock()
		return 0, ErrBusy
	}
	m.status.State = StateRunning
	m.status.InProgress = true
	m.status.Error = ""
	st := m.status
	m.mu.Unlock()
	m.notify(st)

	id, err := m.runBackup(ctx)
	if err != nil {
		m.setStatus(StateError, err.Error())
		return id, err
	}
	m.markCompleted(time.Now())
	return id, nil
}

// RunScheduled runs a backup followed by retention cleanup. It is meant
// to be called from a cron job, so failures are logged rather than
// returned.
func (m *Manager) RunScheduled(ctx context.Context) {
	if !m.Enabled() {
		return
	}
	if _, err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled backup", "error", err)
		return
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup", "error", err)
	}
}

func (m *Manager) runBackup(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	filename := fmt.Sprintf("backup-%s.db.enc", now.Format("2006-01-02T150405.000Z"))
	s3Key := "backups/" + filename

	rec, err := m.store.Create(filename, s3Key)
	if err != nil {
		return 0, err
	}
	fail := func(err error) (int64, error) {
		if uerr := m.store.UpdateStatus(rec.ID, model.BackupStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark backup failed", "id", rec.ID, "error", uerr)
		}
		return rec.ID, err
	}

	// Flush the WAL so the main file on disk is the full database.
	if err := database.Checkpoint(m.db); err != nil {
		return fail(err)
	}

	tmpDir, err := os.MkdirTemp("", "yotei-backup-*")
	if err != nil {
		return fail(fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if err := copyFile(m.cfg.DBPath, snapshot); err != nil {
		return fail(fmt.Errorf("copy database: %w", err))
	}

	encrypted := filepath.Join(tmpDir, filename)
	if err := EncryptFile(snapshot, encrypted, m.cfg.Passphrase); err != nil {
		return fail(fmt.Errorf("encrypt snapshot: %w", err))
	}

	data, err := os.ReadFile(encrypted)
	if err != nil {
		return fail(fmt.Errorf("read encrypted snapshot: %w", err))
	}

	if err := m.store.UpdateStatus(rec.ID, model.BackupStatusUploading, ""); err != nil {
		return fail(err)
	}

	err = retry.Do(ctx, m.newBackoff(), func(ctx context.Context) error {
		_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(m.cfg.S3.Bucket),
			Key:           aws.String(s3Key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			m.logger.Warn("upload attempt failed", "key", s3Key, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	if err := m.store.UpdateCompleted(rec.ID, int64(len(data))); err != nil {
		return fail(err)
	}

	m.logger.Info("backup uploaded", "id", rec.ID, "key", s3Key, "bytes", len(data))
	return rec.ID, nil
}

// Restore downloads the given backup, decrypts it, verifies the snapshot
// and replaces the database file at the configured path. The process must
// be restarted afterwards so connections reopen against the restored file.
func (m *Manager) Restore(ctx context.Context, backupID int64) error {
	if !m.Enabled() {
		return ErrNotConfigured
	}

	rec, err := m.store.GetByID(backupID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("backup %d not found", backupID)
	}
	if rec.Status != model.BackupStatusCompleted {
		return fmt.Errorf("backup %d is %s, not completed", backupID, rec.Status)
	}

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(rec.S3Key),
	})
	if err != nil {
		return fmt.Errorf("download backup: %w", err)
	}
	defer out.Body.Close()

	tmpDir, err := os.MkdirTemp("", "yotei-restore-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	encrypted := filepath.Join(tmpDir, rec.Filename)
	f, err := os.Create(encrypted)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return fmt.Errorf("save download: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save download: %w", err)
	}

	snapshot := filepath.Join(tmpDir, "restored.db")
	if err := DecryptFile(encrypted, snapshot, m.cfg.Passphrase); err != nil {
		return err
	}

	if err := verifySnapshot(snapshot); err != nil {
		return err
	}

	if err := copyFile(snapshot, m.cfg.DBPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	// Drop stale WAL files so sqlite does not replay writes from the
	// overwritten database on next open.
	os.Remove(m.cfg.DBPath + "-wal")
	os.Remove(m.cfg.DBPath + "-shm")

	m.logger.Info("database restored", "id", backupID, "key", rec.S3Key)
	return nil
}

// Cleanup removes backups past the retention window, both the local
// records and the uploaded objects.
func (m *Manager) Cleanup(ctx context.Context) error {
	days := m.cfg.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	keys, err := m.store.DeleteOlderThan(time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return err
	}

	var errs error
	for _, key := range keys {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		m.logger.Info("pruned backup", "key", key)
	}
	return errs
}

// History returns the most recent backup records, newest first.
func (m *Manager) History(limit int) ([]model.Backup, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return m.store.List(limit)
}

func (m *Manager) setStatus(state State, errMsg string) {
	m.mu.Lock()
	m.status.State = state
	m.status.Error = errMsg
	m.status.InProgress = state == StateRunning
	st := m.status
	m.mu.Unlock()
	m.notify(st)
}

func (m *Manager) markCompleted(at time.Time) {
	m.mu.Lock()
	m.status.State = StateIdle
	m.status.Error = ""
	m.status.InProgress = false
	m.status.LastBackup = &at
	st := m.status
	m.mu.Unlock()
	m.notify(st)
}

func (m *Manager) notify(st Status) {
	if m.callback != nil {
		m.callback(st)
	}
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func verifySnapshot(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
