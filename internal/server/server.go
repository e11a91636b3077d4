package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"tasvid/internal/config"
	"tasvid/internal/handlers"
	"tasvid/internal/metrics"
)

// shutdownTimeout bounds the whole graceful stop, including in-flight downloads
const shutdownTimeout = 30 * time.Second

// Server wraps the HTTP server
type Server struct {
	logger *zap.Logger
	cfg    *config.Config
	srv    *http.Server
	hooks  []func(context.Context) error
}

// New creates a new server instance. live serves the websocket update
// stream and may be nil.
func New(logger *zap.Logger, cfg *config.Config, m *metrics.Metrics, api *handlers.Handler, healthHandler *handlers.HealthHandler, live http.Handler) *Server {
	r := mux.NewRouter()

	r.Use(handlers.RequestIDMiddleware)
	r.Use(handlers.Instrument(logger, m))

	// Metrics endpoint with optional basic auth
	metricsHandler := promhttp.Handler()
	if cfg.MetricsUsername != "" && cfg.MetricsPassword != "" {
		authMiddleware := handlers.BasicAuth(cfg.MetricsUsername, cfg.MetricsPassword)
		r.Handle("/metrics", authMiddleware(metricsHandler))
	} else {
		r.Handle("/metrics", metricsHandler)
	}

	r.HandleFunc("/health", healthHandler.Health).Methods("GET")

	if live != nil {
		r.Handle("/ws", live).Methods("GET")
	}

	r.HandleFunc("/files/{id}", api.ServeFile).Methods("GET")

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/probe", api.Probe).Methods("POST")

	a.HandleFunc("/downloads", api.StartDownload).Methods("POST")
	a.HandleFunc("/downloads", api.ListDownloads).Methods("GET")
	a.HandleFunc("/downloads/{id}", api.DownloadStatus).Methods("GET")
	a.HandleFunc("/downloads/{id}/cancel", api.CancelDownload).Methods("POST")

	a.HandleFunc("/batches", api.StartBatch).Methods("POST")
	a.HandleFunc("/batches/{id}", api.BatchStatus).Methods("GET")
	a.HandleFunc("/playlists", api.StartPlaylist).Methods("POST")

	a.HandleFunc("/schedules", api.CreateSchedule).Methods("POST")
	a.HandleFunc("/schedules", api.ListSchedules).Methods("GET")
	a.HandleFunc("/schedules/{id}", api.CancelSchedule).Methods("DELETE")

	a.HandleFunc("/history", api.ListHistory).Methods("GET")
	a.HandleFunc("/history", api.ClearHistory).Methods("DELETE")
	a.HandleFunc("/history/{id}", api.DeleteHistoryEntry).Methods("DELETE")

	e := a.PathPrefix("/edits").Subrouter()
	e.HandleFunc("/trim", api.Trim).Methods("POST")
	e.HandleFunc("/volume", api.AdjustVolume).Methods("POST")
	e.HandleFunc("/extract-audio", api.ExtractAudio).Methods("POST")
	e.HandleFunc("/rename", api.Rename).Methods("POST")
	e.HandleFunc("/organize", api.Organize).Methods("POST")
	e.HandleFunc("/upload", api.Upload).Methods("POST")

	return &Server{
		logger: logger,
		cfg:    cfg,
		srv: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the routed handler, including middleware
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// OnShutdown registers fn to run after the listener stops, in registration order
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.hooks = append(s.hooks, fn)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.cfg.EnableHTTPS {
		return s.startHTTPS()
	}
	return s.startHTTP()
}

func (s *Server) startHTTP() error {
	s.srv.Addr = ":" + s.cfg.Port
	s.logger.Info("starting HTTP server", zap.String("addr", s.srv.Addr))

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

func (s *Server) startHTTPS() error {
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(s.cfg.LetsEncryptDomains...),
		Cache:      autocert.DirCache(s.cfg.LetsEncryptCacheDir),
		Email:      s.cfg.LetsEncryptEmail,
	}

	// HTTP server for ACME challenges and redirects
	go func() {
		s.logger.Info("starting HTTP server for challenges/redirects", zap.String("addr", ":80"))
		if err := http.ListenAndServe(":80", m.HTTPHandler(nil)); err != nil {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.srv.Addr = ":443"
	s.srv.TLSConfig = &tls.Config{GetCertificate: m.GetCertificate}
	s.logger.Info("starting HTTPS server", zap.String("addr", s.srv.Addr), zap.Strings("domains", s.cfg.LetsEncryptDomains))

	go func() {
		if err := s.srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("HTTPS server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown stops accepting requests, then runs the shutdown hooks. Every
// hook runs even when an earlier step fails.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, fn := range s.hooks {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WaitForShutdown waits for interrupt signal and gracefully shuts down the server
func (s *Server) WaitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	<-stop

	s.logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("server stopped")
	return nil
}
