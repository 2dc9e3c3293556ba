// Package config handles project configuration loading and validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"bidsbv/internal/runlog"
)

// ConfigErrorType represents the type of configuration error.
type ConfigErrorType string

const (
	FileNotFound    ConfigErrorType = "FILE_NOT_FOUND"
	InvalidJSON     ConfigErrorType = "INVALID_JSON"
	ValidationError ConfigErrorType = "VALIDATION_ERROR"
)

// ConfigError represents an error that occurred during configuration loading.
type ConfigError struct {
	Type    ConfigErrorType
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	switch e.Type {
	case FileNotFound:
		return fmt.Sprintf("configuration file not found: %s", e.Path)
	case InvalidJSON:
		return fmt.Sprintf("invalid JSON in configuration file: %s", e.Message)
	case ValidationError:
		return fmt.Sprintf("configuration validation error: %s", e.Message)
	default:
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
}

// Filters restricts processing to matching entity sets. Empty fields
// match everything.
type Filters struct {
	Subject string `json:"subject,omitempty"`
	Session string `json:"session,omitempty"`
	Task    string `json:"task,omitempty"`
	Run     int    `json:"run,omitempty"`
}

// Acquisition holds scan parameters that cannot be derived from the
// files themselves.
type Acquisition struct {
	TRMillis  int `json:"trMillis,omitempty"`
	NrVolumes int `json:"nrVolumes,omitempty"`
}

// WatchConfig holds settings for the filesystem watcher.
type WatchConfig struct {
	DebounceMillis  int      `json:"debounceMillis,omitempty"`
	StabilityMillis int      `json:"stabilityMillis,omitempty"`
	IgnorePatterns  []string `json:"ignorePatterns,omitempty"`
}

// Configuration holds all project settings.
type Configuration struct {
	DatasetRoot  string         `json:"datasetRoot"`
	PipelineFile string         `json:"pipelineFile,omitempty"`
	Filters      Filters        `json:"filters,omitempty"`
	Acquisition  Acquisition    `json:"acquisition,omitempty"`
	Watch        *WatchConfig   `json:"watch,omitempty"`
	Runlog       *runlog.Config `json:"runlog,omitempty"`
}

// Validate checks that the configuration has all required fields.
func (c *Configuration) Validate() error {
	if c.DatasetRoot == "" {
		return &ConfigError{
			Type:    ValidationError,
			Message: "datasetRoot must be set",
		}
	}
	if c.Filters.Run < 0 {
		return &ConfigError{
			Type:    ValidationError,
			Message: "filters.run cannot be negative",
		}
	}
	if c.Acquisition.TRMillis < 0 {
		return &ConfigError{
			Type:    ValidationError,
			Message: "acquisition.trMillis cannot be negative",
		}
	}
	return nil
}

// ApplyDefaults fills in zero-valued runlog and watch settings.
func (c *Configuration) ApplyDefaults() {
	rlDefaults := runlog.DefaultConfig()
	if c.Runlog == nil {
		c.Runlog = &rlDefaults
	} else {
		if c.Runlog.LogDirectory == "" {
			c.Runlog.LogDirectory = rlDefaults.LogDirectory
		}
		// RetentionDays/RetentionRuns 0 means unlimited, not unset
		if c.Runlog.MinRetentionDays == 0 {
			c.Runlog.MinRetentionDays = rlDefaults.MinRetentionDays
		}
	}

	if c.Watch == nil {
		c.Watch = &WatchConfig{}
	}
	if c.Watch.DebounceMillis == 0 {
		c.Watch.DebounceMillis = 500
	}
	if c.Watch.StabilityMillis == 0 {
		c.Watch.StabilityMillis = 1000
	}
}

// Load reads and parses a configuration file from the given path.
func Load(filePath string) (*Configuration, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigError{
				Type: FileNotFound,
				Path: filePath,
			}
		}
		return nil, &ConfigError{
			Type:    FileNotFound,
			Path:    filePath,
			Message: err.Error(),
		}
	}

	var config Configuration
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &ConfigError{
			Type:    InvalidJSON,
			Message: err.Error(),
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	return &config, nil
}

// LoadOrCreate loads config if it exists, or returns a default config
// rooted at the given fallback directory if the file doesn't exist.
func LoadOrCreate(filePath, fallbackRoot string) (*Configuration, error) {
	config, err := Load(filePath)
	if err == nil {
		return config, nil
	}

	var cerr *ConfigError
	if errors.As(err, &cerr) && cerr.Type == FileNotFound {
		config = &Configuration{DatasetRoot: fallbackRoot}
		config.ApplyDefaults()
		return config, nil
	}
	return nil, err
}

// Save serializes and writes a configuration to the given path.
func Save(config *Configuration, filePath string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return &ConfigError{
			Type:    InvalidJSON,
			Message: err.Error(),
		}
	}

	if err := os.WriteFile(filePath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}
