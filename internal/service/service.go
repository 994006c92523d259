package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/audiolibrelab/spatialrec/internal/audio"
	"github.com/audiolibrelab/spatialrec/internal/config"
	"github.com/audiolibrelab/spatialrec/internal/cue"
	"github.com/audiolibrelab/spatialrec/internal/export"
	"github.com/audiolibrelab/spatialrec/internal/metrics"
	"github.com/audiolibrelab/spatialrec/internal/play"
	"github.com/audiolibrelab/spatialrec/internal/session"
	"github.com/audiolibrelab/spatialrec/internal/storage"
)

// ErrNotFound is returned for unknown recording IDs.
var ErrNotFound = storage.ErrNotFound

// ErrInvalidProfile is returned when a profile cannot be loaded.
var ErrInvalidProfile = errors.New("invalid profile")

const shutdownTimeout = 5 * time.Second

// Service represents the core spatialrec service interface
type Service interface {
	// Device operations
	Probe(ctx context.Context) (audio.DeviceCapability, error)

	// Recording operations
	StartRecording(ctx context.Context, req session.Request) error
	StopRecording(ctx context.Context) (*session.Recording, error)
	WaitRecording(ctx context.Context) (*session.Recording, error)
	Record(ctx context.Context, req session.Request) (*session.Recording, error)
	GetStatus() session.Status
	DefaultRequest() session.Request
	SetObserver(fn func(session.Event))

	// Library operations
	ListRecordings(ctx context.Context) ([]RecordingInfo, error)
	GetRecording(ctx context.Context, id string) (*session.Recording, []byte, error)
	DeleteRecording(ctx context.Context, id string) error
	ClearRecordings(ctx context.Context) error
	Statistics(ctx context.Context) (*Statistics, error)

	// Export and playback operations
	Export(ctx context.Context, id string) error
	ExportAll(ctx context.Context, progress export.ProgressFunc) error
	Play(ctx context.Context, id string) error

	// Pipeline operations
	RunPipeline(ctx context.Context, id string, steps string) error

	// Configuration operations
	LoadProfile(ctx context.Context, profile string) error
	GetConfig() *config.Config

	// Information operations
	GetLastError() string
	Metrics() *metrics.Metrics

	Close() error
}

// RecordingInfo is a recording as listed to users.
type RecordingInfo struct {
	*session.Recording
	SizeHuman   string `json:"size_human"`
	Stored      bool   `json:"stored"`
	DownloadURL string `json:"download_url"`
}

// Statistics summarises the recording library.
type Statistics struct {
	TotalRecordings int     `json:"total_recordings"`
	TotalSize       int64   `json:"total_size"`
	TotalSizeHuman  string  `json:"total_size_human"`
	TotalDuration   float64 `json:"total_duration_seconds"`
	DualMic         int     `json:"dual_mic_recordings"`
	Unsaved         int     `json:"unsaved_recordings"`
}

// Player plays WAV data.
type Player interface {
	PlayData(ctx context.Context, data []byte, filename string) error
}

// Deps overrides the collaborators built from the configuration.
type Deps struct {
	Source   audio.CaptureSource
	Store    storage.Store
	Exporter export.Exporter
	Cue      cue.Player
	Player   Player
	Metrics  *metrics.Metrics
	Fs       afero.Fs
}

// SpatialRecService is the main service implementation
type SpatialRecService struct {
	cfg        *config.Config
	configFile string
	deps       Deps

	controllerMutex sync.RWMutex
	controller      *session.Controller

	observerMutex sync.RWMutex
	observer      func(session.Event)

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service wired from the configuration.
func New(ctx context.Context, cfg *config.Config, configFile string) (*SpatialRecService, error) {
	return NewWithDeps(ctx, cfg, configFile, Deps{})
}

// NewWithDeps creates a service, building every collaborator left nil
// in deps from the configuration.
func NewWithDeps(ctx context.Context, cfg *config.Config, configFile string, deps Deps) (*SpatialRecService, error) {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics()
	}
	if deps.Source == nil {
		deps.Source = audio.NewCaptureSource(cfg, slog.Default())
	}
	if deps.Cue == nil {
		deps.Cue = cue.FromConfig(cfg)
	}
	if deps.Exporter == nil {
		deps.Exporter = export.NewDirExporter(deps.Fs, cfg.Export.Directory)
	}
	if deps.Player == nil {
		deps.Player = play.New()
	}
	if deps.Store == nil {
		store, err := storage.Open(ctx, cfg, deps.Fs)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		deps.Store = store
	}

	s := &SpatialRecService{
		cfg:        cfg,
		configFile: configFile,
		deps:       deps,
	}
	s.controller = s.newController(cfg, nil)
	return s, nil
}

func (s *SpatialRecService) newController(cfg *config.Config, kept []*session.Recording) *session.Controller {
	opts := session.Options{
		Source:      s.deps.Source,
		Constraints: audio.ConstraintsFromConfig(cfg),
		Encoder:     audio.PCMEncoder{},
		Cue:         s.deps.Cue,
		Metrics:     s.deps.Metrics,
		Observer:    s.notify,
		Duration:    cfg.Duration(),
		PreRoll:     cfg.PreRoll(),
		BlockSize:   cfg.Capture.BlockSize,
		MonitorGain: cfg.Capture.MonitorGain,
		DeviceClass: cfg.Capture.DeviceClass,
		Recordings:  kept,
	}
	if s.deps.Store != nil {
		opts.Store = s.deps.Store
	}
	return session.NewController(opts)
}

func (s *SpatialRecService) ctrl() *session.Controller {
	s.controllerMutex.RLock()
	defer s.controllerMutex.RUnlock()
	return s.controller
}

func (s *SpatialRecService) config() *config.Config {
	s.controllerMutex.RLock()
	defer s.controllerMutex.RUnlock()
	return s.cfg
}

func (s *SpatialRecService) notify(ev session.Event) {
	switch ev.Type {
	case session.EventCountdown:
		slog.Debug("Recording", "remaining", ev.Countdown, "level", fmt.Sprintf("%.2f", ev.Level))
	case session.EventFailed:
		s.setLastError(fmt.Sprintf("Recording failed: %v", ev.Err))
	default:
		slog.Debug("Session state changed", "state", ev.State)
	}

	s.observerMutex.RLock()
	fn := s.observer
	s.observerMutex.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// SetObserver registers a callback for session events.
func (s *SpatialRecService) SetObserver(fn func(session.Event)) {
	s.observerMutex.Lock()
	s.observer = fn
	s.observerMutex.Unlock()
}

// Probe requests microphone access (IDLE, not ready -> IDLE, ready)
func (s *SpatialRecService) Probe(ctx context.Context) (audio.DeviceCapability, error) {
	capability, err := s.ctrl().Probe(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Microphone access denied: %v", err))
		return capability, err
	}
	s.clearLastError()
	return capability, nil
}

// StartRecording arms and starts a session, probing first when needed.
func (s *SpatialRecService) StartRecording(ctx context.Context, req session.Request) error {
	slog.Debug("Service.StartRecording called", "direction", req.Direction, "distance", req.Distance)
	s.clearLastError()

	c := s.ctrl()
	if !c.Ready() {
		if _, err := s.Probe(ctx); err != nil {
			return err
		}
	}

	if err := c.Start(ctx, req); err != nil {
		slog.Error("Service.StartRecording failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// StopRecording stops the current recording session
func (s *SpatialRecService) StopRecording(ctx context.Context) (*session.Recording, error) {
	rec, err := s.ctrl().Stop(ctx)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}
	if rec != nil && rec.PersistError != "" {
		s.setLastError(fmt.Sprintf("Recording kept in memory only: %s", rec.PersistError))
	}
	return rec, nil
}

// WaitRecording blocks until the running session has finished.
func (s *SpatialRecService) WaitRecording(ctx context.Context) (*session.Recording, error) {
	return s.ctrl().Wait(ctx)
}

// Record runs a full session and returns its recording. Cancelling ctx
// stops the capture early and still encodes what was captured.
func (s *SpatialRecService) Record(ctx context.Context, req session.Request) (*session.Recording, error) {
	if err := s.StartRecording(ctx, req); err != nil {
		return nil, err
	}

	rec, err := s.WaitRecording(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Info("Recording interrupted, stopping early")
		stopped, stopErr := s.StopRecording(context.Background())
		if stopErr != nil {
			return nil, stopErr
		}
		if stopped != nil {
			return stopped, nil
		}
		return s.WaitRecording(context.Background())
	}
	return rec, err
}

// GetStatus returns the controller snapshot
func (s *SpatialRecService) GetStatus() session.Status {
	st := s.ctrl().Status()
	if st.LastError == "" {
		st.LastError = s.GetLastError()
	}
	return st
}

// DefaultRequest builds a request from the session configuration.
func (s *SpatialRecService) DefaultRequest() session.Request {
	cfg := s.config()
	return session.Request{
		Direction: cfg.Session.Direction,
		Distance:  cfg.Session.Distance,
		Duration:  cfg.Duration(),
		Tag:       cfg.Session.Tag,
	}
}

// ListRecordings merges stored recordings with the ones held in memory,
// oldest first.
func (s *SpatialRecService) ListRecordings(ctx context.Context) ([]RecordingInfo, error) {
	byID := map[string]RecordingInfo{}

	if s.deps.Store != nil {
		stored, err := s.deps.Store.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stored recordings: %w", err)
		}
		for _, rec := range stored {
			byID[rec.ID] = s.info(rec, true)
		}
	}
	for _, rec := range s.ctrl().Recordings() {
		_, stored := byID[rec.ID]
		byID[rec.ID] = s.info(rec, stored || (s.deps.Store != nil && rec.PersistError == ""))
	}

	out := make([]RecordingInfo, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *SpatialRecService) info(rec *session.Recording, stored bool) RecordingInfo {
	return RecordingInfo{
		Recording:   rec,
		SizeHuman:   formatBytes(int64(rec.Size)),
		Stored:      stored,
		DownloadURL: fmt.Sprintf("/recordings/%s/download", rec.ID),
	}
}

// GetRecording returns a recording and its WAV data.
func (s *SpatialRecService) GetRecording(ctx context.Context, id string) (*session.Recording, []byte, error) {
	for _, rec := range s.ctrl().Recordings() {
		if rec.ID == id && rec.Data != nil {
			return rec, rec.Data, nil
		}
	}
	if s.deps.Store == nil {
		return nil, nil, ErrNotFound
	}

	rec, err := s.deps.Store.Metadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.deps.Store.Blob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec, data, nil
}

// DeleteRecording removes a recording from memory and storage.
func (s *SpatialRecService) DeleteRecording(ctx context.Context, id string) error {
	forgotten := s.ctrl().Forget(id)
	if s.deps.Store != nil {
		err := s.deps.Store.Delete(ctx, id)
		if err == nil || (errors.Is(err, storage.ErrNotFound) && forgotten) {
			return nil
		}
		return err
	}
	if !forgotten {
		return ErrNotFound
	}
	return nil
}

// ClearRecordings removes every recording.
func (s *SpatialRecService) ClearRecordings(ctx context.Context) error {
	s.ctrl().ForgetAll()
	if s.deps.Store != nil {
		if err := s.deps.Store.Clear(ctx); err != nil {
			s.setLastError(fmt.Sprintf("Failed to clear recordings: %v", err))
			return err
		}
	}
	return nil
}

// Statistics computes totals over all recordings.
func (s *SpatialRecService) Statistics(ctx context.Context) (*Statistics, error) {
	recs, err := s.ListRecordings(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{TotalRecordings: len(recs)}
	for _, rec := range recs {
		stats.TotalSize += int64(rec.Size)
		stats.TotalDuration += rec.ActualDuration
		if rec.MicType == "DUAL" {
			stats.DualMic++
		}
		if !rec.Stored {
			stats.Unsaved++
		}
	}
	stats.TotalSizeHuman = formatBytes(stats.TotalSize)
	return stats, nil
}

// Export hands one recording to the exporter.
func (s *SpatialRecService) Export(ctx context.Context, id string) error {
	rec, data, err := s.GetRecording(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deps.Exporter.TriggerDownload(ctx, data, rec.Filename); err != nil {
		s.setLastError(fmt.Sprintf("Failed to export %s: %v", rec.Filename, err))
		return err
	}
	s.deps.Metrics.RecordExport()
	return nil
}

// ExportAll exports every recording with the configured spacing.
func (s *SpatialRecService) ExportAll(ctx context.Context, progress export.ProgressFunc) error {
	infos, err := s.ListRecordings(ctx)
	if err != nil {
		return err
	}
	recs := make([]*session.Recording, len(infos))
	for i, info := range infos {
		recs[i] = info.Recording
	}

	var loader export.BlobLoader
	if s.deps.Store != nil {
		loader = s.deps.Store
	}
	err = export.ExportAll(ctx, s.deps.Exporter, recs, loader, s.config().ExportSpacing(), func(done, total int, filename string, err error) {
		if err == nil {
			s.deps.Metrics.RecordExport()
		}
		if progress != nil {
			progress(done, total, filename, err)
		}
	})
	if err != nil {
		s.setLastError(fmt.Sprintf("Export incomplete: %v", err))
	}
	return err
}

// Play plays one recording.
func (s *SpatialRecService) Play(ctx context.Context, id string) error {
	rec, data, err := s.GetRecording(ctx, id)
	if err != nil {
		return err
	}
	return s.deps.Player.PlayData(ctx, data, rec.Filename)
}

// RunPipeline executes post-record steps for a recording
func (s *SpatialRecService) RunPipeline(ctx context.Context, id string, steps string) error {
	for _, step := range steps {
		switch step {
		case 'e':
			if err := s.Export(ctx, id); err != nil {
				return fmt.Errorf("pipeline export failed: %w", err)
			}
		case 'p':
			if err := s.Play(ctx, id); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: e=export, p=play)", step)
		}
	}
	return nil
}

// LoadProfile reloads the configuration with another session profile.
// Recordings held in memory survive the switch. The input stream is
// probed again if it was granted before.
func (s *SpatialRecService) LoadProfile(ctx context.Context, profile string) error {
	newCfg, err := config.Load(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("%w '%s': %v", ErrInvalidProfile, profile, err)
	}

	s.controllerMutex.Lock()
	old := s.controller
	if st := old.Status().State; st != session.StateIdle {
		s.controllerMutex.Unlock()
		return session.ErrSessionActive
	}
	wasReady := old.Ready()
	kept := old.Recordings()
	if err := old.Close(); err != nil {
		slog.Warn("Failed to close previous controller", "error", err)
	}
	s.cfg = newCfg
	s.controller = s.newController(newCfg, kept)
	s.controllerMutex.Unlock()

	if wasReady {
		if _, err := s.Probe(ctx); err != nil {
			return err
		}
	}
	slog.Info("Profile loaded", "profile", profile)
	return nil
}

// GetConfig returns the current configuration
func (s *SpatialRecService) GetConfig() *config.Config {
	return s.config()
}

// Metrics returns the metrics registry holder.
func (s *SpatialRecService) Metrics() *metrics.Metrics {
	return s.deps.Metrics
}

// Close releases the input stream and the store.
func (s *SpatialRecService) Close() error {
	var result *multierror.Error
	if err := s.ctrl().Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// GetLastError returns the last error message (thread-safe)
func (s *SpatialRecService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *SpatialRecService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	// Log all errors for debugging and monitoring
	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *SpatialRecService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

var _ Service = (*SpatialRecService)(nil)

// Shutdown stops a running session, keeping its recording, then closes.
func (s *SpatialRecService) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if _, err := s.StopRecording(ctx); err != nil {
		slog.Warn("Stop on shutdown failed", "error", err)
	}
	return s.Close()
}
