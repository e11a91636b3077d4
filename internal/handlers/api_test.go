package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tasvid/internal/auth"
	"tasvid/internal/models"
)

type testAPI struct {
	h         *Handler
	downloads *fakeDownloads
	batches   *fakeBatches
	schedules *fakeSchedules
	history   *fakeHistory
	editor    *fakeEditor
}

func newTestAPI(signer *auth.Signer) *testAPI {
	if signer == nil {
		signer = auth.NewSigner(nil, false, 0, sharedMetrics)
	}
	api := &testAPI{
		downloads: newFakeDownloads(),
		batches:   &fakeBatches{},
		schedules: &fakeSchedules{},
		history:   &fakeHistory{},
		editor:    &fakeEditor{probe: &models.ProbeResult{Title: "Lofi Music Mix", Tags: []string{"music"}}},
	}
	api.h = NewHandler(zap.NewNop(), api.downloads, api.batches, api.schedules, api.history, api.editor, signer)
	return api
}

func call(fn http.HandlerFunc, method, target, body string, vars map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	w := httptest.NewRecorder()
	fn(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func TestHandler_StartDownload(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKind   string
	}{
		{
			name:       "accepted",
			body:       `{"url":"https://example.com/v/1","format_id":"137","resolution":"720p","compression":"auto"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "missing url",
			body:       `{"format_id":"137"}`,
			wantStatus: http.StatusBadRequest,
			wantKind:   "validation",
		},
		{
			name:       "malformed body",
			body:       `{"url":`,
			wantStatus: http.StatusBadRequest,
			wantKind:   "validation",
		},
		{
			name:       "empty body",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantKind:   "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(nil)
			w := call(api.h.StartDownload, "POST", "/api/downloads", tt.body, nil)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantKind != "" {
				var resp errorResponse
				decodeBody(t, w, &resp)
				if resp.Kind != tt.wantKind || resp.Error == "" {
					t.Errorf("unexpected error response: %+v", resp)
				}
				return
			}

			var resp startResponse
			decodeBody(t, w, &resp)
			if resp.ID == "" {
				t.Error("expected a download id")
			}
			if len(api.downloads.started) != 1 || api.downloads.started[0].Resolution != "720p" {
				t.Errorf("request not forwarded: %+v", api.downloads.started)
			}
		})
	}
}

func TestHandler_DownloadStatusAndCancel(t *testing.T) {
	api := newTestAPI(nil)
	id, _ := api.downloads.Start(models.DownloadRequest{URL: "https://example.com/v/1", FormatSelector: "best"})

	w := call(api.h.DownloadStatus, "GET", "/api/downloads/"+id, "", map[string]string{"id": id})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view map[string]any
	decodeBody(t, w, &view)
	if view["status"] != "starting" || view["size"] != "Calculating..." || view["eta_text"] != "Unknown" {
		t.Errorf("unexpected view: %v", view)
	}

	w = call(api.h.CancelDownload, "POST", "/api/downloads/"+id+"/cancel", "", map[string]string{"id": id})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	var cancelled models.DownloadView
	decodeBody(t, w, &cancelled)
	if cancelled.Status != models.StatusCancelled {
		t.Errorf("status after cancel = %s", cancelled.Status)
	}

	for _, fn := range []http.HandlerFunc{api.h.DownloadStatus, api.h.CancelDownload} {
		if w := call(fn, "GET", "/", "", map[string]string{"id": "nope"}); w.Code != http.StatusNotFound {
			t.Errorf("unknown id status = %d, want 404", w.Code)
		}
	}

	w = call(api.h.ListDownloads, "GET", "/api/downloads", "", nil)
	var list []models.DownloadView
	decodeBody(t, w, &list)
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestHandler_Batches(t *testing.T) {
	api := newTestAPI(nil)

	w := call(api.h.StartBatch, "POST", "/api/batches",
		`{"urls":["https://example.com/a","https://example.com/b"],"format_id":"best","compression":"none"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var accepted batchAccepted
	decodeBody(t, w, &accepted)
	if accepted.BatchID != "batch-1" || accepted.Total != 2 {
		t.Errorf("unexpected response: %+v", accepted)
	}

	w = call(api.h.BatchStatus, "GET", "/api/batches/batch-1", "", map[string]string{"id": "batch-1"})
	var status batchResponse
	decodeBody(t, w, &status)
	if status.Total != 2 || status.Completed != 1 || status.NotStarted != 1 {
		t.Errorf("unexpected batch status: %+v", status)
	}

	if w := call(api.h.StartBatch, "POST", "/api/batches", `{"urls":[],"format_id":"best"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", w.Code)
	}
	if w := call(api.h.BatchStatus, "GET", "/", "", map[string]string{"id": "missing"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown batch status = %d, want 404", w.Code)
	}
}

func TestHandler_StartPlaylist(t *testing.T) {
	api := newTestAPI(nil)
	api.batches.playlist = []string{"https://example.com/1", "https://example.com/2", "https://example.com/3"}

	w := call(api.h.StartPlaylist, "POST", "/api/playlists", `{"url":"https://example.com/list?id=1","format_id":"best"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	var accepted batchAccepted
	decodeBody(t, w, &accepted)
	if accepted.Total != 3 {
		t.Errorf("Total = %d, want 3", accepted.Total)
	}

	api.batches.err = models.ValidationError("no videos found in playlist")
	if w := call(api.h.StartPlaylist, "POST", "/api/playlists", `{"url":"https://example.com/empty","format_id":"best"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty playlist status = %d, want 400", w.Code)
	}
}

func TestParseFireAt(t *testing.T) {
	local := time.Date(2030, 1, 2, 3, 4, 0, 0, time.Local)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339", input: "2030-01-02T03:04:05Z", want: time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)},
		{name: "rfc3339 with offset", input: "2030-01-02T03:04:05+02:00", want: time.Date(2030, 1, 2, 1, 4, 5, 0, time.UTC)},
		{name: "datetime-local", input: "2030-01-02T03:04", want: local},
		{name: "zoneless with seconds", input: "2030-01-02T03:04:05.5", want: local.Add(5500 * time.Millisecond)},
		{name: "empty", input: " ", wantErr: true},
		{name: "garbage", input: "tomorrow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFireAt(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFireAt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseFireAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandler_Schedules(t *testing.T) {
	api := newTestAPI(nil)

	w := call(api.h.CreateSchedule, "POST", "/api/schedules",
		`{"url":"https://example.com/v","format_id":"best","scheduled_time":"2030-01-02T03:04:05Z"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var entry models.ScheduleEntry
	decodeBody(t, w, &entry)
	if entry.ID != "sched-1" || !entry.FireAt.Equal(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("unexpected entry: %+v", entry)
	}

	if w := call(api.h.CreateSchedule, "POST", "/api/schedules", `{"url":"https://example.com/v","format_id":"best"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing time status = %d, want 400", w.Code)
	}

	w = call(api.h.ListSchedules, "GET", "/api/schedules", "", nil)
	var list []models.ScheduleEntry
	decodeBody(t, w, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(list))
	}

	if w := call(api.h.CancelSchedule, "DELETE", "/", "", map[string]string{"id": "sched-1"}); w.Code != http.StatusNoContent {
		t.Errorf("cancel status = %d, want 204", w.Code)
	}
	if w := call(api.h.CancelSchedule, "DELETE", "/", "", map[string]string{"id": "sched-1"}); w.Code != http.StatusNotFound {
		t.Errorf("second cancel status = %d, want 404", w.Code)
	}
}

func TestHandler_History(t *testing.T) {
	signer := auth.NewSigner([]byte("secret"), true, time.Hour, sharedMetrics)
	api := newTestAPI(signer)
	api.history.entries = []models.HistoryEntry{
		{ID: "h1", Title: "one", Path: "downloads/videos/one.mp4"},
		{ID: "h2", Title: "two", Path: "downloads/videos/two.mp4"},
	}

	w := call(api.h.ListHistory, "GET", "/api/history", "", nil)
	var items []historyItem
	decodeBody(t, w, &items)
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(items))
	}
	if !strings.HasPrefix(items[0].Link, "/files/h1?") || !strings.Contains(items[0].Link, "signature=") {
		t.Errorf("unexpected link %q", items[0].Link)
	}

	if w := call(api.h.DeleteHistoryEntry, "DELETE", "/", "", map[string]string{"id": "h1"}); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := call(api.h.DeleteHistoryEntry, "DELETE", "/", "", map[string]string{"id": "h1"}); w.Code != http.StatusNotFound {
		t.Errorf("repeat delete status = %d, want 404", w.Code)
	}
	if w := call(api.h.ClearHistory, "DELETE", "/api/history", "", nil); w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d", w.Code)
	}
	if len(api.history.entries) != 0 {
		t.Errorf("history not cleared: %+v", api.history.entries)
	}

	api.history.err = errBackend
	w = call(api.h.ListHistory, "GET", "/api/history", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("backend failure status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("internal error leaked to client: %s", w.Body.String())
	}
}

func TestHandler_ServeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("media bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	secret := []byte("test-secret")
	signer := auth.NewSigner(secret, true, time.Hour, sharedMetrics)
	expired := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)

	linkQuery := func(link string) string {
		u, _ := url.Parse(link)
		return u.RawQuery
	}

	tests := []struct {
		name       string
		id         string
		query      string
		wantStatus int
		wantBody   string
	}{
		{name: "valid link", id: "h1", query: linkQuery(signer.Link("h1")), wantStatus: http.StatusOK, wantBody: "media bytes"},
		{name: "missing signature", id: "h1", wantStatus: http.StatusUnauthorized},
		{name: "signature for another id", id: "h1", query: linkQuery(signer.Link("h2")), wantStatus: http.StatusUnauthorized},
		{name: "expired", id: "h1", query: "expiry=" + expired + "&signature=" + signer.Sign("h1", expired), wantStatus: http.StatusGone},
		{name: "unknown entry", id: "zzz", query: linkQuery(signer.Link("zzz")), wantStatus: http.StatusNotFound},
		{name: "file removed", id: "h2", query: linkQuery(signer.Link("h2")), wantStatus: http.StatusNotFound},
		{name: "missing id", id: "", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(signer)
			api.history.entries = []models.HistoryEntry{
				{ID: "h1", Path: path},
				{ID: "h2", Path: filepath.Join(dir, "gone.mp4")},
			}

			target := "/files/" + tt.id
			if tt.query != "" {
				target += "?" + tt.query
			}
			w := call(api.h.ServeFile, "GET", target, "", map[string]string{"id": tt.id})

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantBody != "" {
				if w.Body.String() != tt.wantBody {
					t.Errorf("body = %q", w.Body.String())
				}
				if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="clip.mp4"` {
					t.Errorf("Content-Disposition = %q", cd)
				}
			}
		})
	}
}

func TestHandler_Edits(t *testing.T) {
	tests := []struct {
		name       string
		fn         func(h *Handler) http.HandlerFunc
		body       string
		wantStatus int
		wantPath   string
	}{
		{
			name:       "trim",
			fn:         func(h *Handler) http.HandlerFunc { return h.Trim },
			body:       `{"path":"downloads/a.mp4","start":"0:10","end":"1:00"}`,
			wantStatus: http.StatusOK,
			wantPath:   "downloads/a.mp4.trimmed",
		},
		{
			name:       "volume rejects zero factor",
			fn:         func(h *Handler) http.HandlerFunc { return h.AdjustVolume },
			body:       `{"path":"downloads/a.mp4","factor":0}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "extract audio",
			fn:         func(h *Handler) http.HandlerFunc { return h.ExtractAudio },
			body:       `{"path":"downloads/a.mp4","format":"wav"}`,
			wantStatus: http.StatusOK,
			wantPath:   "downloads/a.mp4.wav",
		},
		{
			name:       "rename",
			fn:         func(h *Handler) http.HandlerFunc { return h.Rename },
			body:       `{"path":"downloads/a.mp4","name":"b"}`,
			wantStatus: http.StatusOK,
			wantPath:   "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(nil)
			w := call(tt.fn(api.h), "POST", "/api/edits", tt.body, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantPath != "" {
				var resp editResponse
				decodeBody(t, w, &resp)
				if resp.Path != tt.wantPath {
					t.Errorf("path = %q, want %q", resp.Path, tt.wantPath)
				}
			}
		})
	}
}

func TestHandler_Organize(t *testing.T) {
	t.Run("uses source metadata when a url is given", func(t *testing.T) {
		api := newTestAPI(nil)
		w := call(api.h.Organize, "POST", "/api/edits/organize",
			`{"path":"downloads/videos/x.mp4","mode":"category","url":"https://example.com/v"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if got := api.editor.organized[0].info.Title; got != "Lofi Music Mix" {
			t.Errorf("organized with title %q", got)
		}
		var resp editResponse
		decodeBody(t, w, &resp)
		if resp.Label != "music" {
			t.Errorf("label = %q", resp.Label)
		}
	})

	t.Run("falls back to the file name", func(t *testing.T) {
		api := newTestAPI(nil)
		call(api.h.Organize, "POST", "/api/edits/organize", `{"path":"downloads/videos/Speedrun Gaming.mp4"}`, nil)
		if got := api.editor.organized[0].info.Title; got != "Speedrun Gaming" {
			t.Errorf("organized with title %q", got)
		}
	})

	t.Run("probe failure is reported", func(t *testing.T) {
		api := newTestAPI(nil)
		api.editor.err = models.NewError(models.KindRateLimited, "too many requests", nil)
		w := call(api.h.Organize, "POST", "/api/edits/organize", `{"path":"downloads/x.mp4","url":"https://example.com/v"}`, nil)
		if w.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429", w.Code)
		}
		if len(api.editor.organized) != 0 {
			t.Error("organize ran despite probe failure")
		}
	})
}

func TestHandler_ProbeFailureKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   models.ErrorKind
	}{
		{name: "rate limited", err: models.NewError(models.KindRateLimited, "HTTP Error 429", nil), wantStatus: http.StatusTooManyRequests, wantKind: models.KindRateLimited},
		{name: "captcha", err: models.NewError(models.KindChallenge, "confirm you're not a bot", nil), wantStatus: http.StatusForbidden, wantKind: models.KindChallenge},
		{name: "drm", err: models.NewError(models.KindRightsProtected, "DRM protected", nil), wantStatus: http.StatusUnavailableForLegalReasons, wantKind: models.KindRightsProtected},
		{name: "transient", err: models.NewError(models.KindTransientIO, "exec: yt-dlp not found", nil), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(nil)
			api.editor.err = tt.err

			w := call(api.h.Probe, "POST", "/api/probe", `{"url":"https://example.com/v"}`, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp errorResponse
			decodeBody(t, w, &resp)
			if tt.wantKind == "" {
				if resp.Error != "internal error" {
					t.Errorf("internal failure leaked %q", resp.Error)
				}
				return
			}
			if resp.Kind != string(tt.wantKind) {
				t.Errorf("kind = %q, want %q", resp.Kind, tt.wantKind)
			}
			if resp.Error != models.UserMessage(tt.wantKind) {
				t.Errorf("error = %q, want %q", resp.Error, models.UserMessage(tt.wantKind))
			}
		})
	}
}

func TestHandler_UploadAndProbe(t *testing.T) {
	api := newTestAPI(nil)

	w := call(api.h.Upload, "POST", "/api/edits/upload", `{"path":"videos/a.mp4"}`, nil)
	var resp editResponse
	decodeBody(t, w, &resp)
	if resp.Location != "s3://media/videos/a.mp4" {
		t.Errorf("location = %q", resp.Location)
	}

	w = call(api.h.Probe, "POST", "/api/probe", `{"url":"https://example.com/v"}`, nil)
	var probe models.ProbeResult
	decodeBody(t, w, &probe)
	if probe.Title != "Lofi Music Mix" {
		t.Errorf("probe title = %q", probe.Title)
	}

	api.editor.err = models.ValidationError("uploads are not configured")
	if w := call(api.h.Upload, "POST", "/api/edits/upload", `{"path":"videos/a.mp4"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("disabled uploads status = %d, want 400", w.Code)
	}
}
