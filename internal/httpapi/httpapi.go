// SPDX-License-Identifier: MIT

// Package httpapi implements the HTTP Control API (C9): the REST surface
// for starting/stopping channels, querying status and error history, and
// serving HLS output.
//
// Grounded on routes.py in full for the route set, status codes, and the
// {code, message, data} envelope, and on the teacher's
// internal/health/health.go for the no-framework net/http idiom
// (http.Server with explicit timeouts, context-driven graceful shutdown,
// a ListenAndServeReady-style bind-then-signal-readiness startup).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/liyun-hub/transcoder-supervisor/internal/channel"
	"github.com/liyun-hub/transcoder-supervisor/internal/cleaner"
	"github.com/liyun-hub/transcoder-supervisor/internal/journal"
	"github.com/liyun-hub/transcoder-supervisor/internal/lockreg"
	"github.com/liyun-hub/transcoder-supervisor/internal/supervise"
)

// Supervisor is the subset of *supervise.Supervisor the API needs.
type Supervisor interface {
	Start(channelID, streamURL string) (channel.Record, error)
	Stop(channelID string) bool
	GetStatus(channelID string) (channel.Record, bool)
	List() []channel.Record
	UpdateActivity(channelID string)
}

// StatusSource reports the overall running/initialized state of the
// Service Container for /api/status. An interface rather than a direct
// import of internal/container, to avoid the import cycle that would
// result from the container adding this server as a suture.Service.
type StatusSource interface {
	IsRunning() bool
}

// Info describes static application/build metadata for /api/info.
type Info struct {
	Name            string
	Version         string
	HLSOutputDir    string
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// Server serves the HTTP Control API. It implements suture.Service
// (Serve(ctx) error) so it can run inside the same supervision tree as the
// Idle Reaper and Artifact Cleaner.
type Server struct {
	Addr    string
	Sup     Supervisor
	Journal *journal.Journal
	Locks   *lockreg.Registry
	Cleaner *cleaner.Cleaner
	Status  StatusSource
	HLSRoot string
	Info    Info
	Logger  *slog.Logger

	mux *http.ServeMux
}

// New builds a Server ready to Serve. Callers assemble its dependencies
// (Process Supervisor, Error Journal, Lock Registry, Artifact Cleaner)
// themselves, typically via the Service Container, then pass them here.
func New(addr string, sup Supervisor, j *journal.Journal, locks *lockreg.Registry, clean *cleaner.Cleaner, status StatusSource, hlsRoot string, info Info, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Addr:    addr,
		Sup:     sup,
		Journal: j,
		Locks:   locks,
		Cleaner: clean,
		Status:  status,
		HLSRoot: hlsRoot,
		Info:    info,
		Logger:  logger,
	}
}

func (s *Server) handler() http.Handler {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process/{channel_id}/start", s.handleStart)
	mux.HandleFunc("POST /api/process/{channel_id}/stop", s.handleStop)
	mux.HandleFunc("GET /api/process/{channel_id}/status", s.handleProcessStatus)
	mux.HandleFunc("POST /api/process/{channel_id}/activity", s.handleActivity)
	mux.HandleFunc("GET /api/processes", s.handleListProcesses)
	mux.HandleFunc("GET /api/status", s.handleServiceStatus)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealthSimple)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/errors", s.handleErrors)
	mux.HandleFunc("POST /api/cleanup", s.handleCleanup)
	mux.HandleFunc("POST /api/recovery/{channel_id}", s.handleRecovery)
	mux.HandleFunc("/hls/{channel_id}/{filename}", s.handleHLSFile)
	s.mux = mux
	return s.mux
}

// Serve runs the HTTP server until ctx is cancelled, satisfying suture's
// Service interface. Mirrors the teacher's ListenAndServeReady: bind
// synchronously so port-in-use errors surface immediately, not just after
// shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second, // HLS segment responses can be larger than typical API replies
	}

	s.Logger.Info("http control api listening", "event", "http_listen", "addr", s.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// ---- envelope helpers ----

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Code: status, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, msg, nil)
}

// ---- process control routes ----

type startRequest struct {
	StreamURL string `json:"stream_url"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel_id")

	var body startRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	streamURL := body.StreamURL
	if streamURL == "" {
		streamURL = r.URL.Query().Get("stream_url")
	}
	if streamURL == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameter: stream_url")
		return
	}

	rec, err := s.Sup.Start(channelID, streamURL)
	if err != nil {
		var serr *supervise.Error
		if errors.As(err, &serr) {
			switch serr.Kind {
			case supervise.ErrAlreadyRunning:
				writeError(w, http.StatusConflict, serr.Message)
			case supervise.ErrInvalidArgument:
				writeError(w, http.StatusBadRequest, serr.Message)
			default:
				writeError(w, http.StatusInternalServerError, "Failed to start process: "+serr.Message)
			}
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start process: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, "Process started successfully", map[string]any{
		"channel_id":     rec.ChannelID,
		"pid":            rec.PID,
		"status":         rec.Status,
		"start_time":     rec.StartTime,
		"hls_output_dir": rec.OutputDir,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel_id")
	if !s.Sup.Stop(channelID) {
		writeError(w, http.StatusNotFound, "Process not found")
		return
	}
	writeJSON(w, http.StatusOK, "Process stopped successfully", map[string]any{
		"channel_id": channelID,
		"status":     "stopped",
	})
}

func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel_id")
	rec, ok := s.Sup.GetStatus(channelID)
	if !ok {
		writeError(w, http.StatusNotFound, "Process not found")
		return
	}
	writeJSON(w, http.StatusOK, "success", recordPayload(rec))
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	records := s.Sup.List()
	list := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		list = append(list, recordPayload(rec))
	}
	writeJSON(w, http.StatusOK, "success", map[string]any{
		"total":     len(list),
		"processes": list,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel_id")
	s.Sup.UpdateActivity(channelID)
	writeJSON(w, http.StatusOK, "Activity time updated", map[string]any{
		"channel_id": channelID,
		"updated_at": time.Now(),
	})
}

func recordPayload(rec channel.Record) map[string]any {
	m := map[string]any{
		"channel_id":         rec.ChannelID,
		"pid":                rec.PID,
		"status":             rec.Status,
		"stream_url":         rec.StreamURL,
		"start_time":         rec.StartTime,
		"last_activity_time": rec.LastActivityTime,
		"hls_output_dir":     rec.OutputDir,
	}
	if rec.ErrorMessage != "" {
		m["error_message"] = rec.ErrorMessage
	}
	return m
}

// ---- service/system status routes ----

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	records := s.Sup.List()
	active := 0
	for _, rec := range records {
		if rec.Status == channel.StatusRunning {
			active++
		}
	}
	writeJSON(w, http.StatusOK, "success", map[string]any{
		"initialized":      true,
		"running":          s.Status == nil || s.Status.IsRunning(),
		"total_processes":  len(records),
		"active_processes": active,
		"active_locks":     len(s.Locks.ListActive()),
		"error_statistics": s.Journal.Statistics(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "success", map[string]any{
		"application": map[string]any{
			"name":    s.Info.Name,
			"version": s.Info.Version,
		},
		"configuration": map[string]any{
			"hls_output_dir":   s.Info.HLSOutputDir,
			"idle_timeout":     s.Info.IdleTimeout.Seconds(),
			"cleanup_interval": s.Info.CleanupInterval.Seconds(),
		},
	})
}

func (s *Server) handleHealthSimple(w http.ResponseWriter, r *http.Request) {
	health := s.Journal.Health()
	running := s.Status == nil || s.Status.IsRunning()
	healthy := running && health.Level != journal.HealthError

	status := http.StatusOK
	body := map[string]any{"status": "healthy", "timestamp": time.Now()}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["details"] = health
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.Journal.Health()
	status := http.StatusOK
	if health.Level == journal.HealthError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, "System status: "+string(health.Level), health)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	minutes := 60
	if v := r.URL.Query().Get("minutes"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			minutes = n
		}
	}
	recent := s.Journal.Recent(minutes)
	writeJSON(w, http.StatusOK, "success", map[string]any{
		"recent_errors":      recent,
		"statistics":         s.Journal.Statistics(),
		"time_range_minutes": minutes,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.Cleaner == nil {
		writeError(w, http.StatusInternalServerError, "cleanup is not available")
		return
	}
	stats := s.Cleaner.Sweep()
	writeJSON(w, http.StatusOK, "cleanup completed", map[string]any{
		"deleted_files": stats.DeletedFiles,
		"removed_dirs":  stats.RemovedDirs,
		"errors":        stats.Errors,
	})
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel_id")
	entry, ok := s.Journal.ReplayRecovery(channelID)
	if !ok {
		writeError(w, http.StatusNotFound, "No journaled error found for channel")
		return
	}
	writeJSON(w, http.StatusOK, "Recovery replayed", map[string]any{
		"channel_id":          channelID,
		"kind":                entry.Kind,
		"recovery_attempted":  entry.RecoveryAttempted,
		"recovery_successful": entry.RecoverySuccessful,
		"timestamp":           entry.Timestamp,
	})
}

// ---- HLS file serving ----

func (s *Server) handleHLSFile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	channelID := r.PathValue("channel_id")
	filename := r.PathValue("filename")
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		writeError(w, http.StatusBadRequest, "Invalid file name")
		return
	}

	filePath := filepath.Join(s.HLSRoot, channelID, filename)

	if strings.HasSuffix(filename, ".m3u8") {
		s.waitForPlaylist(channelID, filePath)
	}

	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "HLS file not found")
		return
	}

	switch {
	case strings.HasSuffix(filename, ".m3u8"):
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	case strings.HasSuffix(filename, ".ts"):
		w.Header().Set("Content-Type", "video/MP2T")
		w.Header().Set("Cache-Control", "public, max-age=60")
	default:
		writeError(w, http.StatusBadRequest, "Unsupported file type")
		return
	}

	http.ServeFile(w, r, filePath)
}

// waitForPlaylist polls for up to 500ms (in 20ms steps) for a playlist to
// appear, aborting early if the channel stops running — matching
// routes.py's serve_hls_file wait loop exactly.
func (s *Server) waitForPlaylist(channelID, filePath string) {
	const maxWait = 500 * time.Millisecond
	const interval = 20 * time.Millisecond

	waited := time.Duration(0)
	for waited < maxWait {
		if _, err := os.Stat(filePath); err == nil {
			return
		}
		rec, ok := s.Sup.GetStatus(channelID)
		if !ok || rec.Status != channel.StatusRunning {
			return
		}
		time.Sleep(interval)
		waited += interval
	}
}
