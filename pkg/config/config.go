// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// DefaultFileName is looked for at the project root when no explicit
// config path is given
const DefaultFileName = "selfreleaser.config.json"

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a file, accepting JSON or YAML
func (m *Manager) LoadConfig(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.Config

	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	if err := yaml.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// FindConfig walks up from dir looking for the default config file
func (m *Manager) FindConfig(dir string) (string, error) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(current, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no %s found from %s upward", DefaultFileName, dir)
		}
		current = parent
	}
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(config *types.Config) error {
	if config.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", config.Version)
	}

	if config.Throttle.Workflow == "" {
		return fmt.Errorf("throttle.workflow is required")
	}
	if config.Throttle.ThresholdSeconds <= 0 {
		return fmt.Errorf("throttle.thresholdSeconds must be positive")
	}
	if config.Throttle.Retries != nil && *config.Throttle.Retries < 0 {
		return fmt.Errorf("throttle.retries must not be negative")
	}

	if config.Execution.ContainerParallelism < 0 {
		return fmt.Errorf("execution.containerParallelism must not be negative")
	}

	for name, host := range map[string]string{
		"hosts.macos":   config.Hosts.MacOS,
		"hosts.windows": config.Hosts.Windows,
	} {
		if host == "" {
			continue
		}
		if strings.ContainsAny(host, " \t\n") {
			return fmt.Errorf("%s: host %q must be a bare ssh destination", name, host)
		}
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func (m *Manager) GetDefaultConfig() *types.Config {
	enabled := true

	return &types.Config{
		Version: "1.0",
		Throttle: types.ThrottleConfig{
			Workflow:         "release.yml",
			ThresholdSeconds: 900,
		},
		Execution: types.ExecutionConfig{
			ContainerParallelism: 2,
			TargetTimeoutMinutes: 30,
			RunTimeoutMinutes:    120,
		},
		Lock: types.LockConfig{
			HeartbeatTimeoutSecs:  300,
			HeartbeatIntervalSecs: 10,
		},
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
	}
}

func (m *Manager) validateConfig(cfg *types.Config) (*types.Config, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
