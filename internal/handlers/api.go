package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tasvid/internal/auth"
	"tasvid/internal/models"
)

const maxBodyBytes = 1 << 20

// Downloads is the single-download surface of the orchestrator
type Downloads interface {
	Start(req models.DownloadRequest) (string, error)
	Status(id string) (models.DownloadRecord, error)
	List() []models.DownloadRecord
	Cancel(id string) error
}

// Batches is the batch coordinator surface
type Batches interface {
	Submit(urls []string, req models.DownloadRequest) (string, error)
	SubmitPlaylist(ctx context.Context, playlistURL string, req models.DownloadRequest) (string, error)
	Status(id string) (models.BatchRecord, error)
}

// Schedules is the scheduler surface
type Schedules interface {
	Schedule(req models.DownloadRequest, fireAt time.Time) (models.ScheduleEntry, error)
	Cancel(id string) error
	List() []models.ScheduleEntry
}

// History is the read and delete surface of the history store
type History interface {
	List(ctx context.Context) ([]models.HistoryEntry, error)
	Get(ctx context.Context, id string) (*models.HistoryEntry, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Editor runs probes and post-download edits
type Editor interface {
	Probe(ctx context.Context, url, cookiesFile string) (*models.ProbeResult, error)
	Trim(ctx context.Context, path, start, end string) (string, error)
	AdjustVolume(ctx context.Context, path string, factor float64) (string, error)
	ExtractAudio(ctx context.Context, path, format string, bitrateKbps int) (string, error)
	Rename(ctx context.Context, path, newName string) (string, error)
	Organize(ctx context.Context, path string, info *models.ProbeResult, mode string) (string, string, error)
	Upload(ctx context.Context, path string) (string, error)
}

// Handler serves the JSON API
type Handler struct {
	logger    *zap.Logger
	downloads Downloads
	batches   Batches
	schedules Schedules
	history   History
	editor    Editor
	signer    *auth.Signer
	now       func() time.Time
}

// NewHandler creates the API handler
func NewHandler(
	logger *zap.Logger,
	downloads Downloads,
	batches Batches,
	schedules Schedules,
	history History,
	editor Editor,
	signer *auth.Signer,
) *Handler {
	return &Handler{
		logger:    logger,
		downloads: downloads,
		batches:   batches,
		schedules: schedules,
		history:   history,
		editor:    editor,
		signer:    signer,
		now:       time.Now,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to its HTTP status
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindChallenge:
		return http.StatusForbidden
	case models.KindRightsProtected:
		return http.StatusUnavailableForLegalReasons
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}

	kind := models.KindOf(err)
	switch kind {
	case models.KindRateLimited, models.KindChallenge, models.KindRightsProtected:
		writeJSON(w, status, errorResponse{Error: models.UserMessage(kind), Kind: string(kind)})
		return
	}

	msg := err.Error()
	var e *models.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: string(kind)})
}

// decode reads a JSON body into v, rejecting unknown shapes as validation errors
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return models.ValidationError("request body is required")
		}
		return models.ValidationError("invalid request body: %v", err)
	}
	return nil
}
