package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/audiolibrelab/spatialrec/internal/audio"
	"github.com/audiolibrelab/spatialrec/internal/config"
	"github.com/audiolibrelab/spatialrec/internal/service"
	"github.com/audiolibrelab/spatialrec/internal/session"
)

const maxRequestBody = 1 << 16

// Server represents the web server for controlling spatialrec
type Server struct {
	service service.Service
	port    string
}

// RecordRequest is the body of POST /record. Omitted fields fall back to
// the configured session defaults.
type RecordRequest struct {
	Direction       *int    `json:"direction"`
	Distance        *int    `json:"distance"`
	DurationSeconds *int    `json:"duration_seconds"`
	Tag             *string `json:"tag"`
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Success bool           `json:"success"`
	Status  session.Status `json:"status"`
	Message string         `json:"message"`
}

// RecordingResponse carries a single recording.
type RecordingResponse struct {
	Success   bool               `json:"success"`
	Message   string             `json:"message,omitempty"`
	Recording *session.Recording `json:"recording,omitempty"`
}

// RecordingsResponse lists recordings.
type RecordingsResponse struct {
	Success    bool                    `json:"success"`
	Recordings []service.RecordingInfo `json:"recordings"`
	Count      int                     `json:"count"`
}

// ProfileResponse reports the session defaults after a profile switch.
type ProfileResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Profile string               `json:"profile"`
	Session config.SessionConfig `json:"session"`
}

// StatsResponse carries library statistics.
type StatsResponse struct {
	Success bool                `json:"success"`
	Stats   *service.Statistics `json:"stats"`
}

// GenericResponse represents a generic success/error response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, port int) *Server {
	return &Server{
		service: svc,
		port:    strconv.Itoa(port),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "POST /probe", s.handleProbe)
	s.handle(mux, "POST /record", s.handleRecord)
	s.handle(mux, "POST /stop", s.handleStop)
	s.handle(mux, "GET /status", s.handleStatus)
	s.handle(mux, "GET /recordings", s.handleRecordings)
	s.handle(mux, "GET /recordings/{id}/download", s.handleDownload)
	s.handle(mux, "DELETE /recordings/{id}", s.handleDelete)
	s.handle(mux, "POST /recordings/clear", s.handleClear)
	s.handle(mux, "GET /stats", s.handleStats)
	s.handle(mux, "POST /profile", s.handleSelectProfile)
	mux.Handle("GET /metrics", s.service.Metrics().Handler())
	return mux
}

// handle registers h and records request metrics under pattern.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.service.Metrics().RecordHTTPRequest(r.Method, pattern, strconv.Itoa(rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting spatialrec web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleProbe requests microphone access
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	capability, err := s.service.Probe(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "probe")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"capability": capability,
		"mic_type":   capability.MicType(),
	})
}

// handleRecord starts a session; it returns once capture is running
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRecordRequest(r)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "record")
		return
	}

	slog.Debug("Record request received", "direction", req.Direction, "distance", req.Distance, "duration", req.Duration)
	if err := s.service.StartRecording(r.Context(), req); err != nil {
		s.sendServiceError(w, err, "operation", "record")
		return
	}

	sendJSON(w, http.StatusAccepted, StatusResponse{
		Success: true,
		Status:  s.service.GetStatus(),
		Message: "Recording started",
	})
}

func (s *Server) parseRecordRequest(r *http.Request) (session.Request, error) {
	req := s.service.DefaultRequest()

	var body RecordRequest
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return req, fmt.Errorf("invalid request body: %v", err)
		}
	}

	if body.Direction != nil {
		if *body.Direction < 0 || *body.Direction >= 360 {
			return req, fmt.Errorf("direction must be in [0, 360), got %d", *body.Direction)
		}
		req.Direction = *body.Direction
	}
	if body.Distance != nil {
		if *body.Distance < 0 {
			return req, fmt.Errorf("distance must not be negative, got %d", *body.Distance)
		}
		req.Distance = *body.Distance
	}
	if body.DurationSeconds != nil {
		if *body.DurationSeconds < 1 {
			return req, fmt.Errorf("duration_seconds must be at least 1, got %d", *body.DurationSeconds)
		}
		req.Duration = time.Duration(*body.DurationSeconds) * time.Second
	}
	if body.Tag != nil {
		req.Tag = *body.Tag
	}
	return req, nil
}

// handleStop stops the current recording session
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.StopRecording(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "stop_recording")
		return
	}

	message := "No recording in progress"
	if rec != nil {
		message = "Recording stopped"
		if rec.PersistError != "" {
			message = "Recording stopped but could not be saved: " + rec.PersistError
		}
	}
	sendJSON(w, http.StatusOK, RecordingResponse{
		Success:   true,
		Message:   message,
		Recording: rec,
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.service.GetStatus()
	sendJSON(w, http.StatusOK, StatusResponse{
		Success: true,
		Status:  status,
		Message: generateStatusMessage(status),
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.ListRecordings(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "list_recordings")
		return
	}
	sendJSON(w, http.StatusOK, RecordingsResponse{
		Success:    true,
		Recordings: recs,
		Count:      len(recs),
	})
}

// handleDownload serves the WAV file of a recording
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, data, err := s.service.GetRecording(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err, "operation", "download", "id", id)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", rec.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Error("Error serving recording download", "id", id, "error", err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.DeleteRecording(r.Context(), id); err != nil {
		s.sendServiceError(w, err, "operation", "delete", "id", id)
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording deleted"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearRecordings(r.Context()); err != nil {
		s.sendServiceError(w, err, "operation", "clear")
		return
	}
	sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "All recordings cleared"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Statistics(r.Context())
	if err != nil {
		s.sendServiceError(w, err, "operation", "stats")
		return
	}
	sendJSON(w, http.StatusOK, StatsResponse{Success: true, Stats: stats})
}

// handleSelectProfile switches the session defaults to another profile
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "profile_selection")
		return
	}

	profile := r.FormValue("profile")
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "profile is required", "operation", "profile_selection")
		return
	}
	slog.Debug("Profile selection request", "profile", profile)

	if err := s.service.LoadProfile(r.Context(), profile); err != nil {
		s.sendServiceError(w, err, "profile", profile, "operation", "profile_selection")
		return
	}

	cfg := s.service.GetConfig()
	sendJSON(w, http.StatusOK, ProfileResponse{
		Success: true,
		Message: fmt.Sprintf("Profile '%s' selected", profile),
		Profile: cfg.Profile,
		Session: cfg.Session,
	})
}

// generateStatusMessage creates a human-readable status message
func generateStatusMessage(status session.Status) string {
	switch status.State {
	case session.StateIdle:
		if !status.Ready {
			return "Microphone not granted yet"
		}
		return fmt.Sprintf("Ready (%s mic, %d Hz)", status.Capability.MicType(), status.Capability.SampleRate)
	case session.StateArming:
		return "Cue tone playing, capture about to start"
	case session.StateCapturing:
		if status.Session != nil {
			return fmt.Sprintf("Recording %ddeg %dft, %s remaining",
				status.Session.Request.Direction, status.Session.Request.Distance, status.Session.Remaining)
		}
		return "Recording"
	case session.StateStopping, session.StateEncoding:
		return "Encoding recording"
	case session.StateComplete:
		return "Recording complete"
	case session.StateFailed:
		return "Recording failed: " + status.LastError
	}
	return string(status.State)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var denied *audio.AccessDeniedError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidProfile):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoInputSource), errors.As(err, &denied):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrSessionCancelled):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) sendServiceError(w http.ResponseWriter, err error, logContext ...interface{}) {
	s.sendErrorResponse(w, statusFor(err), err.Error(), logContext...)
}

// sendErrorResponse sends a JSON error response and logs it with structured context
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
