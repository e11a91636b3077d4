package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tasvid/internal/auth"
	"tasvid/internal/models"
)

type historyItem struct {
	models.HistoryEntry
	Link string `json:"link"`
}

// ListHistory returns completed downloads with links to their files
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{HistoryEntry: e, Link: h.signer.Link(e.ID)})
	}
	writeJSON(w, http.StatusOK, items)
}

// DeleteHistoryEntry removes one history entry. The file stays on disk.
func (h *Handler) DeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearHistory removes every history entry
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Clear(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("history cleared", zap.String("request_id", GetRequestID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// ServeFile streams the file of a history entry behind a signed link
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	if err := h.signer.Verify(id, query.Get("expiry"), query.Get("signature")); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrExpired) {
			status = http.StatusGone
			h.logger.Warn("expired file link", zap.String("id", id))
		} else {
			h.logger.Warn("file link verification failed", zap.String("id", id), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	entry, err := h.history.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Error("history lookup failed", zap.String("id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		h.logger.Warn("history file missing", zap.String("id", id), zap.String("path", entry.Path), zap.Error(err))
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	name := filepath.Base(entry.Path)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, sanitizeHeaderValue(name)))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// sanitizeHeaderValue keeps a file name safe inside a quoted header value
func sanitizeHeaderValue(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r < 32 || r == 127 || r == '"' || r == '\\' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}
