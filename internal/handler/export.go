package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/ajisai/yotei/internal/ics"
)

// ExportICS handles GET /api/export/ics?start&end. One-off tasks are
// window-filtered; recurring series ship whole, as the master's RRULE plus
// any materialized overrides, and the consuming calendar regenerates the
// occurrences itself.
func (h *TaskHandler) ExportICS(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.window(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	tasks, err := h.tasks.ListWithSeries(start, end)
	if err != nil {
		h.logger.Error("export tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to export tasks"})
		return
	}

	body := ics.Export(tasks, time.Now().In(h.loc))
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="yotei.ics"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}
