package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tasvid/internal/metrics"
	"tasvid/internal/models"
	"tasvid/internal/storage"
)

// HistoryGetter is the lookup used to probe the history store
type HistoryGetter interface {
	Get(ctx context.Context, id string) (*models.HistoryEntry, error)
}

// Versioner reports the version of an external tool
type Versioner interface {
	Version(ctx context.Context) (string, error)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	logger  *zap.Logger
	history HistoryGetter
	storage storage.Provider
	fetcher Versioner
	metrics *metrics.Metrics
}

// NewHealthHandler creates a new health check handler. storageProvider may be
// nil when uploads are disabled.
func NewHealthHandler(logger *zap.Logger, history HistoryGetter, storageProvider storage.Provider, fetcher Versioner, m *metrics.Metrics) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		history: history,
		storage: storageProvider,
		fetcher: fetcher,
		metrics: m,
	}
}

type healthResponse struct {
	Status       string            `json:"status"`
	Checks       map[string]string `json:"checks,omitempty"`
	YTDLPVersion string            `json:"ytdlp_version,omitempty"`
	Version      string            `json:"version,omitempty"`
}

// Health returns health status (checks dependencies)
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	record := func(component string, err error) {
		if err == nil {
			checks[component] = "ok"
			h.metrics.HealthStatus.WithLabelValues(component).Set(1)
			return
		}
		checks[component] = "unavailable"
		allHealthy = false
		h.metrics.HealthStatus.WithLabelValues(component).Set(0)
		h.metrics.HealthChecksFailed.WithLabelValues(component).Inc()
		h.logger.Warn("health check failed", zap.String("component", component), zap.Error(err))
	}

	record("history", h.checkHistory(ctx))

	if h.storage != nil {
		record("storage", h.storage.HealthCheck(ctx))
	} else {
		checks["storage"] = "disabled"
	}

	version, err := h.fetcher.Version(ctx)
	record("ytdlp", err)

	w.Header().Set("Content-Type", "application/json")
	if !allHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(healthResponse{
		Status:       map[bool]string{true: "healthy", false: "unhealthy"}[allHealthy],
		Checks:       checks,
		YTDLPVersion: version,
		Version:      "1.0.0",
	})
}

// checkHistory looks up an entry that never exists; a not-found answer
// means the backend is reachable
func (h *HealthHandler) checkHistory(ctx context.Context) error {
	_, err := h.history.Get(ctx, "__health_check__")
	if err == nil || errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}
