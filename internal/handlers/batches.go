package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tasvid/internal/models"
)

type batchRequest struct {
	models.DownloadRequest
	URLs []string `json:"urls"`
}

type batchAccepted struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}

type batchResponse struct {
	models.BatchRecord
	NotStarted int `json:"not_started"`
}

// StartBatch fans a list of URLs out to the orchestrator
func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.batches.Submit(req.URLs, req.DownloadRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.acceptBatch(w, r, id)
}

// StartPlaylist expands a playlist and downloads every entry as a batch
func (h *Handler) StartPlaylist(w http.ResponseWriter, r *http.Request) {
	var req models.DownloadRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.batches.SubmitPlaylist(r.Context(), req.URL, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.acceptBatch(w, r, id)
}

func (h *Handler) acceptBatch(w http.ResponseWriter, r *http.Request, id string) {
	b, err := h.batches.Status(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("batch accepted",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("batch_id", id),
		zap.Int("total", b.Total))
	writeJSON(w, http.StatusAccepted, batchAccepted{BatchID: id, Total: b.Total})
}

// BatchStatus returns the aggregate state of a batch
func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	b, err := h.batches.Status(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{BatchRecord: b, NotStarted: b.NotStarted()})
}
