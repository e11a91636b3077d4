package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tasvid/internal/models"
)

type scheduleRequest struct {
	models.DownloadRequest
	ScheduledTime string `json:"scheduled_time"`
}

func parseFireAt(s string) (time.Time, error) {
	return models.ParseFireTime(s)
}

// CreateSchedule defers a download until its fire time
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	fireAt, err := parseFireAt(req.ScheduledTime)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.schedules.Schedule(req.DownloadRequest, fireAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ListSchedules returns the pending scheduled downloads
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schedules.List())
}

// CancelSchedule drops a pending scheduled download
func (h *Handler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.schedules.Cancel(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
