package config

import (
	"strings"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Capture.Backend = "alsa" }, "capture.backend"},
		{"three channels", func(c *Config) { c.Capture.ChannelCount = 3 }, "capture.channel_count"},
		{"zero block size", func(c *Config) { c.Capture.BlockSize = 0 }, "capture.block_size"},
		{"negative gain", func(c *Config) { c.Capture.MonitorGain = -1 }, "capture.monitor_gain"},
		{"device class", func(c *Config) { c.Capture.DeviceClass = "TAB" }, "capture.device_class"},
		{"zero duration", func(c *Config) { c.Session.DurationSeconds = 0 }, "session.duration_seconds"},
		{"direction out of range", func(c *Config) { c.Session.Direction = 360 }, "session.direction"},
		{"negative distance", func(c *Config) { c.Session.Distance = -3 }, "session.distance"},
		{"negative pre-roll", func(c *Config) { c.Session.PreRollMs = -1 }, "session.pre_roll_ms"},
		{"cue volume", func(c *Config) { c.Cue.Volume = 1.5 }, "cue.volume"},
		{"cue frequency", func(c *Config) { c.Cue.FrequencyHz = 0 }, "cue.frequency_hz"},
		{"storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"fs without directory", func(c *Config) { c.Storage.Directory = "" }, "storage.directory"},
		{"redis without addr", func(c *Config) { c.Storage.Backend = "redis"; c.Storage.RedisAddr = "" }, "storage.redis_addr"},
		{"export spacing", func(c *Config) { c.Export.SpacingMs = -5 }, "export.spacing_ms"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_DisabledCueSkipsCueChecks(t *testing.T) {
	cfg := Default()
	cfg.Cue.Enabled = false
	cfg.Cue.Volume = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected disabled cue to skip checks, got: %v", err)
	}
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	configFile := createTempConfig(t, `
capture:
  backend: jack
`)
	_, err := Load(configFile, "")
	if err == nil {
		t.Fatal("Expected validation error for an unsupported backend")
	}
	if !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("Expected wrapped validation error, got: %v", err)
	}
}
