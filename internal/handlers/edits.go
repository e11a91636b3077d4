package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"tasvid/internal/database"
	"tasvid/internal/edit"
	"tasvid/internal/models"
)

type trimRequest struct {
	Path  string `json:"path"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type volumeRequest struct {
	Path   string  `json:"path"`
	Factor float64 `json:"factor"`
}

type extractAudioRequest struct {
	Path    string `json:"path"`
	Format  string `json:"format"`
	Bitrate int    `json:"bitrate"`
}

type renameRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type organizeRequest struct {
	Path        string `json:"path"`
	Mode        string `json:"mode"`
	URL         string `json:"url,omitempty"`
	CookiesFile string `json:"cookies_file,omitempty"`
}

type uploadRequest struct {
	Path string `json:"path"`
}

type editResponse struct {
	Path     string `json:"path,omitempty"`
	Label    string `json:"label,omitempty"`
	Location string `json:"location,omitempty"`
}

// Trim cuts a file down to a time window
func (h *Handler) Trim(w http.ResponseWriter, r *http.Request) {
	var req trimRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.editor.Trim(r.Context(), req.Path, req.Start, req.End)
	h.editDone(w, r, editResponse{Path: out}, err)
}

// AdjustVolume scales the audio level of a file
func (h *Handler) AdjustVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.editor.AdjustVolume(r.Context(), req.Path, req.Factor)
	h.editDone(w, r, editResponse{Path: out}, err)
}

// ExtractAudio writes the audio track of a file
func (h *Handler) ExtractAudio(w http.ResponseWriter, r *http.Request) {
	var req extractAudioRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.editor.ExtractAudio(r.Context(), req.Path, req.Format, req.Bitrate)
	h.editDone(w, r, editResponse{Path: out}, err)
}

// Rename renames a file and repoints its history entry
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.editor.Rename(r.Context(), req.Path, req.Name)
	h.editDone(w, r, editResponse{Path: out}, err)
}

// Organize files a download by category or date. The category comes from
// the source metadata when a URL is given, otherwise from the file name.
func (h *Handler) Organize(w http.ResponseWriter, r *http.Request) {
	var req organizeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	info := &models.ProbeResult{Title: database.TitleFromPath(req.Path)}
	if req.URL != "" && req.Mode != edit.OrganizeByDate {
		probed, err := h.editor.Probe(r.Context(), req.URL, req.CookiesFile)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		info = probed
	}

	out, label, err := h.editor.Organize(r.Context(), req.Path, info, req.Mode)
	h.editDone(w, r, editResponse{Path: out, Label: label}, err)
}

// Upload copies a file to the storage backend
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	location, err := h.editor.Upload(r.Context(), req.Path)
	h.editDone(w, r, editResponse{Location: location}, err)
}

func (h *Handler) editDone(w http.ResponseWriter, r *http.Request, resp editResponse, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("edit completed",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("route", r.URL.Path),
		zap.String("path", resp.Path),
		zap.String("location", resp.Location))
	writeJSON(w, http.StatusOK, resp)
}
