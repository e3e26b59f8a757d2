package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ajisai/yotei/internal/backup"
	"github.com/ajisai/yotei/internal/store"
)

type BackupHandler struct {
	manager *backup.Manager
	store   *store.BackupStore
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, st *store.BackupStore, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, store: st, logger: logger}
}

type backupStatusResponse struct {
	backup.Status
	StoredCount    int64 `json:"stored_count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Status handles GET /api/backup/status. The stored totals are soft: a
// counting error still renders the manager state.
func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := backupStatusResponse{Status: h.manager.Status()}
	if count, err := h.store.Count(); err == nil {
		resp.StoredCount = count
	} else {
		h.logger.Error("count backups", "error", err)
	}
	if size, err := h.store.TotalSize(); err == nil {
		resp.TotalSizeBytes = size
	} else {
		h.logger.Error("total backup size", "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Run handles POST /api/backup/run. The snapshot and upload happen inline,
// so a success response means the backup is already stored.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := h.manager.RunNow(r.Context())
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backups are not configured"})
		return
	case errors.Is(err, backup.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "backup already in progress"})
		return
	case err != nil:
		h.logger.Error("run backup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "backup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}
