package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SPATIALREC"

type Config struct {
	ActiveProfile string                    `mapstructure:"active_profile" yaml:"active_profile"`
	Capture       CaptureConfig             `mapstructure:"capture" yaml:"capture"`
	Session       SessionConfig             `mapstructure:"session" yaml:"session"`
	Cue           CueConfig                 `mapstructure:"cue" yaml:"cue"`
	Storage       StorageConfig             `mapstructure:"storage" yaml:"storage"`
	Export        ExportConfig              `mapstructure:"export" yaml:"export"`
	Server        ServerConfig              `mapstructure:"server" yaml:"server"`
	Profiles      map[string]*SessionConfig `mapstructure:"profiles" yaml:"profiles,omitempty"`

	// Name of the profile merged into Session, empty when none was applied
	Profile string `mapstructure:"-" yaml:"-"`
}

type CaptureConfig struct {
	Backend      string  `mapstructure:"backend" yaml:"backend"` // "pulse", "synthetic", "auto"
	Source       string  `mapstructure:"source" yaml:"source"`   // pulse source name, empty = default
	SampleRate   int     `mapstructure:"sample_rate" yaml:"sample_rate"`
	ChannelCount int     `mapstructure:"channel_count" yaml:"channel_count"`
	BlockSize    int     `mapstructure:"block_size" yaml:"block_size"`
	LatencyMs    int     `mapstructure:"latency_ms" yaml:"latency_ms"`
	MonitorGain  float64 `mapstructure:"monitor_gain" yaml:"monitor_gain"`
	DeviceClass  string  `mapstructure:"device_class" yaml:"device_class"` // "DSK" or "MOB"

	Synthetic SyntheticConfig `mapstructure:"synthetic" yaml:"synthetic"`
}

type SyntheticConfig struct {
	LeftHz    float64 `mapstructure:"left_hz" yaml:"left_hz"`
	RightHz   float64 `mapstructure:"right_hz" yaml:"right_hz"`
	Amplitude float64 `mapstructure:"amplitude" yaml:"amplitude"`
	Mono      bool    `mapstructure:"mono" yaml:"mono"`
}

type SessionConfig struct {
	DurationSeconds int    `mapstructure:"duration_seconds" yaml:"duration_seconds"`
	Direction       int    `mapstructure:"direction" yaml:"direction"`
	Distance        int    `mapstructure:"distance" yaml:"distance"`
	Tag             string `mapstructure:"tag" yaml:"tag"`
	PreRollMs       int    `mapstructure:"pre_roll_ms" yaml:"pre_roll_ms"`
}

type CueConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	FrequencyHz float64 `mapstructure:"frequency_hz" yaml:"frequency_hz"`
	DurationMs  int     `mapstructure:"duration_ms" yaml:"duration_ms"`
	Volume      float64 `mapstructure:"volume" yaml:"volume"`
}

type StorageConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // "fs", "redis", "none"
	Directory     string `mapstructure:"directory" yaml:"directory"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

type ExportConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	SpacingMs int    `mapstructure:"spacing_ms" yaml:"spacing_ms"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// DefaultConfigFile returns the config path used when --config is not given.
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "spatialrec.yaml")
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "spatialrec")

	v.SetDefault("capture.backend", "auto")
	v.SetDefault("capture.source", "")
	v.SetDefault("capture.sample_rate", 48000)
	v.SetDefault("capture.channel_count", 2)
	v.SetDefault("capture.block_size", 8192)
	v.SetDefault("capture.latency_ms", 10)
	v.SetDefault("capture.monitor_gain", 0.9)
	v.SetDefault("capture.device_class", "DSK")
	v.SetDefault("capture.synthetic.left_hz", 440.0)
	v.SetDefault("capture.synthetic.right_hz", 660.0)
	v.SetDefault("capture.synthetic.amplitude", 0.5)
	v.SetDefault("capture.synthetic.mono", false)

	v.SetDefault("session.duration_seconds", 2)
	v.SetDefault("session.direction", 0)
	v.SetDefault("session.distance", 3)
	v.SetDefault("session.tag", "")
	v.SetDefault("session.pre_roll_ms", 200)

	v.SetDefault("cue.enabled", true)
	v.SetDefault("cue.frequency_hz", 1000.0)
	v.SetDefault("cue.duration_ms", 400)
	v.SetDefault("cue.volume", 0.3)

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.directory", filepath.Join(dataDir, "recordings"))
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.key_prefix", "spatialrec")

	v.SetDefault("export.directory", filepath.Join(home, "Downloads"))
	v.SetDefault("export.spacing_ms", 500)

	v.SetDefault("server.port", 8080)
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not unmarshal: %v", err))
	}
	return &cfg
}

// Load reads configFile (or the default file when it exists), applies
// SPATIALREC_* environment overrides and merges the selected profile
// into the session section. An empty profile selects active_profile.
func Load(configFile, profile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile()
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			switch {
			case explicit:
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
				// default file is optional
			default:
				if _, statErr := os.Stat(configFile); statErr == nil {
					return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding configuration: %w", err)
	}

	if err := cfg.applyProfile(profile); err != nil {
		return nil, err
	}

	cfg.Storage.Directory = expandPath(cfg.Storage.Directory)
	cfg.Export.Directory = expandPath(cfg.Export.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyProfile overrides the session section with the non-zero fields of
// the named profile.
func (c *Config) applyProfile(name string) error {
	if name == "" {
		name = c.ActiveProfile
	}
	if name == "" {
		return nil
	}
	p, ok := c.Profiles[name]
	if !ok || p == nil {
		return fmt.Errorf("profile '%s' not found", name)
	}
	c.Session = mergeSession(c.Session, *p)
	c.Profile = name
	return nil
}

func mergeSession(base, profile SessionConfig) SessionConfig {
	result := base
	if profile.DurationSeconds != 0 {
		result.DurationSeconds = profile.DurationSeconds
	}
	if profile.Direction != 0 {
		result.Direction = profile.Direction
	}
	if profile.Distance != 0 {
		result.Distance = profile.Distance
	}
	if profile.Tag != "" {
		result.Tag = profile.Tag
	}
	if profile.PreRollMs != 0 {
		result.PreRollMs = profile.PreRollMs
	}
	return result
}

// UpdateActiveProfile updates the active_profile field in the config file
func UpdateActiveProfile(configFile, profile string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	profiles := v.GetStringMap("profiles")
	if _, ok := profiles[profile]; !ok {
		return fmt.Errorf("profile '%s' not found", profile)
	}

	v.Set("active_profile", profile)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Capture.Backend) {
	case "pulse", "synthetic", "auto":
	default:
		return fmt.Errorf("capture.backend: invalid value '%s', must be 'pulse', 'synthetic' or 'auto'", c.Capture.Backend)
	}
	if c.Capture.SampleRate < 0 {
		return fmt.Errorf("capture.sample_rate: must not be negative, got %d", c.Capture.SampleRate)
	}
	if c.Capture.ChannelCount < 1 || c.Capture.ChannelCount > 2 {
		return fmt.Errorf("capture.channel_count: must be 1 or 2, got %d", c.Capture.ChannelCount)
	}
	if c.Capture.BlockSize < 1 {
		return fmt.Errorf("capture.block_size: must be positive, got %d", c.Capture.BlockSize)
	}
	if c.Capture.LatencyMs < 0 {
		return fmt.Errorf("capture.latency_ms: must not be negative, got %d", c.Capture.LatencyMs)
	}
	if c.Capture.MonitorGain < 0 {
		return fmt.Errorf("capture.monitor_gain: must not be negative, got %g", c.Capture.MonitorGain)
	}
	switch c.Capture.DeviceClass {
	case "DSK", "MOB":
	default:
		return fmt.Errorf("capture.device_class: invalid value '%s', must be 'DSK' or 'MOB'", c.Capture.DeviceClass)
	}

	if c.Session.DurationSeconds < 1 {
		return fmt.Errorf("session.duration_seconds: must be at least 1, got %d", c.Session.DurationSeconds)
	}
	if c.Session.Direction < 0 || c.Session.Direction >= 360 {
		return fmt.Errorf("session.direction: must be in [0, 360), got %d", c.Session.Direction)
	}
	if c.Session.Distance < 0 {
		return fmt.Errorf("session.distance: must not be negative, got %d", c.Session.Distance)
	}
	if c.Session.PreRollMs < 0 {
		return fmt.Errorf("session.pre_roll_ms: must not be negative, got %d", c.Session.PreRollMs)
	}

	if c.Cue.Enabled {
		if c.Cue.FrequencyHz <= 0 {
			return fmt.Errorf("cue.frequency_hz: must be positive, got %g", c.Cue.FrequencyHz)
		}
		if c.Cue.DurationMs <= 0 {
			return fmt.Errorf("cue.duration_ms: must be positive, got %d", c.Cue.DurationMs)
		}
		if c.Cue.Volume <= 0 || c.Cue.Volume > 1 {
			return fmt.Errorf("cue.volume: must be in (0, 1], got %g", c.Cue.Volume)
		}
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "fs":
		if c.Storage.Directory == "" {
			return fmt.Errorf("storage.directory: required for the fs backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr: required for the redis backend")
		}
	case "none":
	default:
		return fmt.Errorf("storage.backend: invalid value '%s', must be 'fs', 'redis' or 'none'", c.Storage.Backend)
	}

	if c.Export.SpacingMs < 0 {
		return fmt.Errorf("export.spacing_ms: must not be negative, got %d", c.Export.SpacingMs)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: must be in [0, 65535], got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) Duration() time.Duration {
	return time.Duration(c.Session.DurationSeconds) * time.Second
}

func (c *Config) PreRoll() time.Duration {
	return time.Duration(c.Session.PreRollMs) * time.Millisecond
}

func (c *Config) Latency() time.Duration {
	return time.Duration(c.Capture.LatencyMs) * time.Millisecond
}

func (c *Config) CueDuration() time.Duration {
	return time.Duration(c.Cue.DurationMs) * time.Millisecond
}

func (c *Config) ExportSpacing() time.Duration {
	return time.Duration(c.Export.SpacingMs) * time.Millisecond
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
