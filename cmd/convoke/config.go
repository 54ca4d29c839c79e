package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/echiweshe/convoke/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Convoke configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/convoke/config.yaml
Project-specific overrides can be placed in .convoke.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("defaults.quality_threshold: %.2f\n", cfg.Defaults.QualityThreshold)
	fmt.Printf("defaults.max_iterations: %d\n", cfg.Defaults.MaxIterations)
	fmt.Printf("defaults.critic_capability: %s\n", cfg.Defaults.CriticCapability)
	fmt.Printf("defaults.heartbeat_window: %s\n", cfg.Defaults.HeartbeatWindow)
	fmt.Printf("timeouts.state: %s\n", cfg.Timeouts.State)
	fmt.Printf("timeouts.round: %s\n", cfg.Timeouts.Round)
	fmt.Printf("timeouts.revision: %s\n", cfg.Timeouts.Revision)
	fmt.Printf("protocol.max_task_retries: %d\n", cfg.Protocol.MaxTaskRetries)
	fmt.Printf("protocol.blackboard_cycles: %d\n", cfg.Protocol.BlackboardCycles)
	fmt.Printf("protocol.swarm_width: %d\n", cfg.Protocol.SwarmWidth)
	fmt.Printf("perf.alpha: %.2f\n", cfg.Perf.Alpha)
	fmt.Printf("perf.min_observations: %d\n", cfg.Perf.MinObservations)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = "(project default)"
	}
	fmt.Printf("store.path: %s\n", storePath)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "defaults.quality_threshold":
		return strconv.FormatFloat(cfg.Defaults.QualityThreshold, 'f', 2, 64), nil
	case "defaults.max_iterations":
		return strconv.Itoa(cfg.Defaults.MaxIterations), nil
	case "defaults.critic_capability":
		return cfg.Defaults.CriticCapability, nil
	case "defaults.heartbeat_window":
		return cfg.Defaults.HeartbeatWindow.String(), nil
	case "timeouts.state":
		return cfg.Timeouts.State.String(), nil
	case "timeouts.round":
		return cfg.Timeouts.Round.String(), nil
	case "timeouts.revision":
		return cfg.Timeouts.Revision.String(), nil
	case "protocol.max_task_retries":
		return strconv.Itoa(cfg.Protocol.MaxTaskRetries), nil
	case "protocol.blackboard_cycles":
		return strconv.Itoa(cfg.Protocol.BlackboardCycles), nil
	case "protocol.swarm_width":
		return strconv.Itoa(cfg.Protocol.SwarmWidth), nil
	case "perf.alpha":
		return strconv.FormatFloat(cfg.Perf.Alpha, 'f', 2, 64), nil
	case "perf.min_observations":
		return strconv.Itoa(cfg.Perf.MinObservations), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	case "store.path":
		if cfg.Store.Path == "" {
			return "(project default)", nil
		}
		return cfg.Store.Path, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "defaults.quality_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for quality_threshold: %w", err)
		}
		if f <= 0 || f > 1 {
			return fmt.Errorf("quality_threshold must be in (0, 1], got %s", value)
		}
		cfg.Defaults.QualityThreshold = f
	case "defaults.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_iterations: %w", err)
		}
		cfg.Defaults.MaxIterations = n
	case "defaults.critic_capability":
		cfg.Defaults.CriticCapability = value
	case "defaults.heartbeat_window":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for heartbeat_window: %w", err)
		}
		cfg.Defaults.HeartbeatWindow = d
	case "timeouts.state":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.state: %w", err)
		}
		cfg.Timeouts.State = d
	case "timeouts.round":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.round: %w", err)
		}
		cfg.Timeouts.Round = d
	case "timeouts.revision":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for timeouts.revision: %w", err)
		}
		cfg.Timeouts.Revision = d
	case "protocol.max_task_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_task_retries: %w", err)
		}
		cfg.Protocol.MaxTaskRetries = n
	case "protocol.blackboard_cycles":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for blackboard_cycles: %w", err)
		}
		cfg.Protocol.BlackboardCycles = n
	case "protocol.swarm_width":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for swarm_width: %w", err)
		}
		cfg.Protocol.SwarmWidth = n
	case "perf.alpha":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for perf.alpha: %w", err)
		}
		cfg.Perf.Alpha = f
	case "perf.min_observations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for min_observations: %w", err)
		}
		cfg.Perf.MinObservations = n
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	case "store.path":
		cfg.Store.Path = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
