package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tasvid/internal/models"
)

type probeRequest struct {
	URL         string `json:"url"`
	CookiesFile string `json:"cookies_file,omitempty"`
}

type startResponse struct {
	ID string `json:"id"`
}

// Probe lists the encodings available for a URL
func (h *Handler) Probe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.editor.Probe(r.Context(), req.URL, req.CookiesFile)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StartDownload starts a background download and returns its handle
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req models.DownloadRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.downloads.Start(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("download accepted",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("id", id),
		zap.String("url", req.URL))
	writeJSON(w, http.StatusAccepted, startResponse{ID: id})
}

// ListDownloads returns every tracked download
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	records := h.downloads.List()
	views := make([]models.DownloadView, 0, len(records))
	for _, rec := range records {
		views = append(views, rec.View(now))
	}
	writeJSON(w, http.StatusOK, views)
}

// DownloadStatus returns one download snapshot
func (h *Handler) DownloadStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.downloads.Status(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.View(h.now()))
}

// CancelDownload cancels a download; finished downloads are left as they are
func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.downloads.Cancel(id); err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.downloads.Status(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.View(h.now()))
}
