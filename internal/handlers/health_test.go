package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"tasvid/internal/models"
	"tasvid/internal/storage"
)

type mockHistory struct {
	shouldFail bool
}

func (m *mockHistory) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	if m.shouldFail {
		return nil, context.DeadlineExceeded
	}
	return nil, models.NotFound("history entry", id)
}

type mockStorage struct {
	shouldFail bool
}

func (m *mockStorage) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64) (string, error) {
	return "mock://" + key, nil
}

func (m *mockStorage) HealthCheck(ctx context.Context) error {
	if m.shouldFail {
		return context.DeadlineExceeded
	}
	return nil
}

type mockVersioner struct {
	shouldFail bool
}

func (m *mockVersioner) Version(ctx context.Context) (string, error) {
	if m.shouldFail {
		return "", errors.New("executable file not found in $PATH")
	}
	return "2025.01.15", nil
}

func TestHealthHandler_Health(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name              string
		historyFails      bool
		storageFails      bool
		noStorage         bool
		ytdlpFails        bool
		wantStatus        int
		wantHealthy       bool
		wantHistoryStatus string
		wantStorageStatus string
		wantYTDLPStatus   string
	}{
		{
			name:              "all healthy",
			wantStatus:        http.StatusOK,
			wantHealthy:       true,
			wantHistoryStatus: "ok",
			wantStorageStatus: "ok",
			wantYTDLPStatus:   "ok",
		},
		{
			name:              "uploads disabled",
			noStorage:         true,
			wantStatus:        http.StatusOK,
			wantHealthy:       true,
			wantHistoryStatus: "ok",
			wantStorageStatus: "disabled",
			wantYTDLPStatus:   "ok",
		},
		{
			name:              "history unhealthy",
			historyFails:      true,
			wantStatus:        http.StatusServiceUnavailable,
			wantHistoryStatus: "unavailable",
			wantStorageStatus: "ok",
			wantYTDLPStatus:   "ok",
		},
		{
			name:              "storage unhealthy",
			storageFails:      true,
			wantStatus:        http.StatusServiceUnavailable,
			wantHistoryStatus: "ok",
			wantStorageStatus: "unavailable",
			wantYTDLPStatus:   "ok",
		},
		{
			name:              "yt-dlp missing",
			ytdlpFails:        true,
			wantStatus:        http.StatusServiceUnavailable,
			wantHistoryStatus: "ok",
			wantStorageStatus: "ok",
			wantYTDLPStatus:   "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var provider storage.Provider = &mockStorage{shouldFail: tt.storageFails}
			if tt.noStorage {
				provider = nil
			}
			handler := NewHealthHandler(logger, &mockHistory{shouldFail: tt.historyFails}, provider,
				&mockVersioner{shouldFail: tt.ytdlpFails}, sharedMetrics)

			w := httptest.NewRecorder()
			handler.Health(w, httptest.NewRequest("GET", "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Health() status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp healthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			expectedStatus := "healthy"
			if !tt.wantHealthy {
				expectedStatus = "unhealthy"
			}
			if resp.Status != expectedStatus {
				t.Errorf("Health() status = %s, want %s", resp.Status, expectedStatus)
			}
			if resp.Checks["history"] != tt.wantHistoryStatus {
				t.Errorf("history check = %s, want %s", resp.Checks["history"], tt.wantHistoryStatus)
			}
			if resp.Checks["storage"] != tt.wantStorageStatus {
				t.Errorf("storage check = %s, want %s", resp.Checks["storage"], tt.wantStorageStatus)
			}
			if resp.Checks["ytdlp"] != tt.wantYTDLPStatus {
				t.Errorf("ytdlp check = %s, want %s", resp.Checks["ytdlp"], tt.wantYTDLPStatus)
			}
			if !tt.ytdlpFails && resp.YTDLPVersion != "2025.01.15" {
				t.Errorf("ytdlp version = %q", resp.YTDLPVersion)
			}
		})
	}
}
