package handler

import (
	"net/http"
	"time"

	"github.com/ajisai/yotei/internal/holiday"
)

type HolidayHandler struct {
	table holiday.Table
	loc   *time.Location
}

func NewHolidayHandler(table holiday.Table, loc *time.Location) *HolidayHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &HolidayHandler{table: table, loc: loc}
}

// List handles GET /api/holidays?start&end.
func (h *HolidayHandler) List(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")
	if startStr == "" || endStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start and end query parameters are required"})
		return
	}

	start, err := parseTimeParam(startStr, h.loc)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errBadParam("start").Error()})
		return
	}
	end, err := parseTimeParam(endStr, h.loc)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errBadParam("end").Error()})
		return
	}
	if end.Before(start) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errWindowInverted.Error()})
		return
	}

	writeJSON(w, http.StatusOK, h.table.Range(start, end))
}
