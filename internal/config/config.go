// Package config handles configuration loading for the engine.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Perf     PerfConfig     `mapstructure:"perf"`
	TUI      TUIConfig      `mapstructure:"tui"`
	Store    StoreConfig    `mapstructure:"store"`
}

// DefaultsConfig holds default values applied to submitted jobs.
type DefaultsConfig struct {
	// QualityThreshold is the commit threshold for jobs that don't set one.
	QualityThreshold float64 `mapstructure:"quality_threshold"`
	// MaxIterations caps consensus rounds for jobs that don't set one.
	MaxIterations int `mapstructure:"max_iterations"`
	// CriticCapability is the capability tag critics declare.
	CriticCapability string `mapstructure:"critic_capability"`
	// HeartbeatWindow is how long an agent may go silent before it is
	// marked unreachable.
	HeartbeatWindow time.Duration `mapstructure:"heartbeat_window"`
}

// TimeoutsConfig holds message-wait bounds.
type TimeoutsConfig struct {
	// State bounds each protocol state's wait for message arrival.
	State time.Duration `mapstructure:"state"`
	// Round bounds the wait for critic votes in one consensus round.
	Round time.Duration `mapstructure:"round"`
	// Revision bounds the wait for a producer's revised artifact.
	Revision time.Duration `mapstructure:"revision"`
}

// ProtocolConfig holds coordination-protocol tuning.
type ProtocolConfig struct {
	// MaxTaskRetries bounds reassignments of one task after timeouts.
	MaxTaskRetries int `mapstructure:"max_task_retries"`
	// BlackboardCycles bounds the opportunistic-contribute loop.
	BlackboardCycles int `mapstructure:"blackboard_cycles"`
	// SwarmWidth is how many agents explore in parallel per wave.
	SwarmWidth int `mapstructure:"swarm_width"`
}

// PerfConfig holds performance-tracker tuning.
type PerfConfig struct {
	// Alpha is the EMA smoothing factor in (0,1].
	Alpha float64 `mapstructure:"alpha"`
	// MinObservations is how many observations a critic needs before its
	// vote weight reflects its quality score.
	MinObservations int `mapstructure:"min_observations"`
}

// TUIConfig holds watch display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the SQLite database path. Empty selects the project-local
	// database.
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONVOKE_*)
// 2. Project config (.convoke.yaml in current directory or parent)
// 3. User config (~/.config/convoke/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONVOKE")
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Watch reloads the config file whenever it changes on disk and calls
// onChange with each successfully parsed result. Parse failures keep the
// previous config and are reported through onError.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config from %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reloading %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("defaults.quality_threshold", cfg.Defaults.QualityThreshold)
	v.Set("defaults.max_iterations", cfg.Defaults.MaxIterations)
	v.Set("defaults.critic_capability", cfg.Defaults.CriticCapability)
	v.Set("defaults.heartbeat_window", cfg.Defaults.HeartbeatWindow.String())
	v.Set("timeouts.state", cfg.Timeouts.State.String())
	v.Set("timeouts.round", cfg.Timeouts.Round.String())
	v.Set("timeouts.revision", cfg.Timeouts.Revision.String())
	v.Set("protocol.max_task_retries", cfg.Protocol.MaxTaskRetries)
	v.Set("protocol.blackboard_cycles", cfg.Protocol.BlackboardCycles)
	v.Set("protocol.swarm_width", cfg.Protocol.SwarmWidth)
	v.Set("perf.alpha", cfg.Perf.Alpha)
	v.Set("perf.min_observations", cfg.Perf.MinObservations)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())
	v.Set("store.path", cfg.Store.Path)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.quality_threshold", 0.85)
	v.SetDefault("defaults.max_iterations", 4)
	v.SetDefault("defaults.critic_capability", "critique")
	v.SetDefault("defaults.heartbeat_window", "30s")

	v.SetDefault("timeouts.state", "15s")
	v.SetDefault("timeouts.round", "15s")
	v.SetDefault("timeouts.revision", "15s")

	v.SetDefault("protocol.max_task_retries", 2)
	v.SetDefault("protocol.blackboard_cycles", 3)
	v.SetDefault("protocol.swarm_width", 3)

	v.SetDefault("perf.alpha", 0.2)
	v.SetDefault("perf.min_observations", 5)

	v.SetDefault("tui.refresh_rate", "100ms")
	v.SetDefault("store.path", "")
}

// getUserConfigDir returns the XDG config directory for the engine.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "convoke")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "convoke")
	}
	return filepath.Join(home, ".config", "convoke")
}

// findProjectConfig searches for .convoke.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".convoke.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			QualityThreshold: 0.85,
			MaxIterations:    4,
			CriticCapability: "critique",
			HeartbeatWindow:  30 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			State:    15 * time.Second,
			Round:    15 * time.Second,
			Revision: 15 * time.Second,
		},
		Protocol: ProtocolConfig{
			MaxTaskRetries:   2,
			BlackboardCycles: 3,
			SwarmWidth:       3,
		},
		Perf: PerfConfig{
			Alpha:           0.2,
			MinObservations: 5,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
