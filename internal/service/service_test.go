package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/spatialrec/internal/audio"
	"github.com/audiolibrelab/spatialrec/internal/config"
	"github.com/audiolibrelab/spatialrec/internal/cue"
	"github.com/audiolibrelab/spatialrec/internal/session"
)

type recordingPlayer struct {
	played []string
	err    error
}

func (p *recordingPlayer) PlayData(ctx context.Context, data []byte, filename string) error {
	p.played = append(p.played, filename)
	return p.err
}

type deniedSource struct{}

func (deniedSource) Name() string { return "denied" }

func (deniedSource) Open(ctx context.Context, c audio.Constraints) (audio.InputStream, error) {
	return nil, &audio.AccessDeniedError{Backend: "denied", Err: errors.New("permission refused")}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Capture.BlockSize = 1024
	cfg.Session.PreRollMs = 0
	cfg.Cue.Enabled = false
	cfg.Storage.Backend = "fs"
	cfg.Storage.Directory = "/recordings"
	cfg.Export.Directory = "/downloads"
	cfg.Export.SpacingMs = 1
	return cfg
}

func newTestService(t *testing.T) (*SpatialRecService, *recordingPlayer, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	player := &recordingPlayer{}
	svc, err := NewWithDeps(context.Background(), testConfig(), "", Deps{
		Source: audio.NewSyntheticSource(nil, audio.WithPeriod(5*time.Millisecond)),
		Cue:    cue.Nop{},
		Player: player,
		Fs:     fs,
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, player, fs
}

func shortRequest() session.Request {
	return session.Request{Direction: 90, Distance: 6, Duration: 250 * time.Millisecond, Tag: "test"}
}

func TestRecord_PersistsAndLists(t *testing.T) {
	svc, _, fs := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Record(ctx, shortRequest())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Empty(t, rec.PersistError)
	assert.Greater(t, rec.Size, audio.WAVHeaderSize)
	assert.Contains(t, rec.Filename, "SPATIAL_90deg_6ft_")

	exists, err := afero.Exists(fs, "/recordings/blobs/"+rec.ID+".wav")
	require.NoError(t, err)
	assert.True(t, exists)

	recs, err := svc.ListRecordings(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Stored)
	assert.Equal(t, "/recordings/"+rec.ID+"/download", recs[0].DownloadURL)

	got, data, err := svc.GetRecording(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	_, err = audio.ReadInfoBytes(data)
	assert.NoError(t, err)

	assert.Equal(t, session.StateIdle, svc.GetStatus().State)
}

func TestGetRecording_FromStoreAfterRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testConfig()
	deps := Deps{
		Source: audio.NewSyntheticSource(nil, audio.WithPeriod(5*time.Millisecond)),
		Cue:    cue.Nop{},
		Player: &recordingPlayer{},
		Fs:     fs,
	}

	first, err := NewWithDeps(context.Background(), cfg, "", deps)
	require.NoError(t, err)
	rec, err := first.Record(context.Background(), shortRequest())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewWithDeps(context.Background(), cfg, "", deps)
	require.NoError(t, err)
	defer second.Close()

	got, data, err := second.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Filename, got.Filename)
	assert.Len(t, data, rec.Size)

	_, _, err = second.GetRecording(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartRecording_AccessDenied(t *testing.T) {
	svc, err := NewWithDeps(context.Background(), testConfig(), "", Deps{
		Source: deniedSource{},
		Cue:    cue.Nop{},
		Fs:     afero.NewMemMapFs(),
	})
	require.NoError(t, err)
	defer svc.Close()

	err = svc.StartRecording(context.Background(), shortRequest())
	var denied *audio.AccessDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Contains(t, svc.GetLastError(), "Microphone access denied")
	assert.False(t, svc.GetStatus().Ready)
}

func TestStartRecording_RejectsSecondSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := shortRequest()
	req.Duration = 5 * time.Second
	require.NoError(t, svc.StartRecording(ctx, req))
	assert.ErrorIs(t, svc.StartRecording(ctx, req), session.ErrSessionActive)

	rec, err := svc.StopRecording(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Less(t, rec.ActualDuration, 5.0)
}

func TestRecord_CancelledContextStopsEarly(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := shortRequest()
	req.Duration = 10 * time.Second
	ctx, cancel := context.WithCancel(context.Background())
	svc.SetObserver(func(ev session.Event) {
		if ev.Type == session.EventState && ev.State == session.StateCapturing {
			time.AfterFunc(100*time.Millisecond, cancel)
		}
	})

	start := time.Now()
	rec, err := svc.Record(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExportAndPipeline(t *testing.T) {
	svc, player, fs := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Record(ctx, shortRequest())
	require.NoError(t, err)

	require.NoError(t, svc.RunPipeline(ctx, rec.ID, "ep"))
	exists, err := afero.Exists(fs, "/downloads/"+rec.Filename)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, []string{rec.Filename}, player.played)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.Metrics().Exports))

	err = svc.RunPipeline(ctx, rec.ID, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pipeline step")

	err = svc.RunPipeline(ctx, "missing", "e")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExportAll_Progress(t *testing.T) {
	svc, _, fs := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Record(ctx, shortRequest())
		require.NoError(t, err)
	}

	var done []int
	err := svc.ExportAll(ctx, func(n, total int, filename string, err error) {
		assert.NoError(t, err)
		assert.Equal(t, 2, total)
		done = append(done, n)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, done)

	files, err := afero.ReadDir(fs, "/downloads")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestDeleteAndClear(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Record(ctx, shortRequest())
	require.NoError(t, err)
	_, err = svc.Record(ctx, shortRequest())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRecording(ctx, a.ID))
	assert.ErrorIs(t, svc.DeleteRecording(ctx, a.ID), ErrNotFound)

	recs, err := svc.ListRecordings(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, svc.ClearRecordings(ctx))
	recs, err = svc.ListRecordings(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStatistics(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Record(ctx, shortRequest())
	require.NoError(t, err)

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecordings)
	assert.Equal(t, int64(rec.Size), stats.TotalSize)
	assert.Equal(t, 1, stats.DualMic)
	assert.Zero(t, stats.Unsaved)
	assert.NotEmpty(t, stats.TotalSizeHuman)
}

func TestNoStorageKeepsRecordingsInMemory(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "none"
	svc, err := NewWithDeps(context.Background(), cfg, "", Deps{
		Source: audio.NewSyntheticSource(nil, audio.WithPeriod(5*time.Millisecond)),
		Cue:    cue.Nop{},
		Fs:     afero.NewMemMapFs(),
	})
	require.NoError(t, err)
	defer svc.Close()

	rec, err := svc.Record(context.Background(), shortRequest())
	require.NoError(t, err)

	recs, err := svc.ListRecordings(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Stored)

	_, data, err := svc.GetRecording(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Len(t, data, rec.Size)
}

const profileConfig = `
capture:
  backend: synthetic
  block_size: 1024
session:
  duration_seconds: 2
  distance: 3
  pre_roll_ms: 0
cue:
  enabled: false
storage:
  backend: none
export:
  directory: /downloads
profiles:
  left:
    direction: 270
    distance: 9
`

func newProfileService(t *testing.T) *SpatialRecService {
	t.Helper()
	file := filepath.Join(t.TempDir(), "spatialrec.yaml")
	require.NoError(t, os.WriteFile(file, []byte(profileConfig), 0644))

	cfg, err := config.Load(file, "")
	require.NoError(t, err)
	svc, err := NewWithDeps(context.Background(), cfg, file, Deps{
		Source: audio.NewSyntheticSource(nil, audio.WithPeriod(5*time.Millisecond)),
		Cue:    cue.Nop{},
		Fs:     afero.NewMemMapFs(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestLoadProfile_KeepsUnsavedRecordings(t *testing.T) {
	svc := newProfileService(t)
	ctx := context.Background()

	rec, err := svc.Record(ctx, shortRequest())
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = svc.DefaultRequest()
				_ = svc.GetConfig()
			}
		}
	}()

	require.NoError(t, svc.LoadProfile(ctx, "left"))
	close(stop)
	wg.Wait()

	req := svc.DefaultRequest()
	assert.Equal(t, 270, req.Direction)
	assert.Equal(t, 9, req.Distance)
	assert.Equal(t, "left", svc.GetConfig().Profile)
	assert.True(t, svc.GetStatus().Ready)

	recs, err := svc.ListRecordings(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	_, data, err := svc.GetRecording(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, data, rec.Size)
}

func TestLoadProfile_Rejected(t *testing.T) {
	svc := newProfileService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.LoadProfile(ctx, "rear"), ErrInvalidProfile)

	req := shortRequest()
	req.Duration = 5 * time.Second
	require.NoError(t, svc.StartRecording(ctx, req))
	assert.ErrorIs(t, svc.LoadProfile(ctx, "left"), session.ErrSessionActive)

	_, err := svc.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.DefaultRequest().Direction)
}

func TestDefaultRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := svc.DefaultRequest()
	assert.Equal(t, 2*time.Second, req.Duration)
	assert.Equal(t, 3, req.Distance)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
