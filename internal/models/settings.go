// Package models contains data structures used throughout the application
package models

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings contains connection and engine settings persisted as JSON
// under the user config directory.
type Settings struct {
	// Connection settings
	NightscoutURL string `json:"nightscoutUrl"`
	APISecret     string `json:"apiSecret"` // Plain API secret (will be hashed)
	APIToken      string `json:"apiToken"`  // Token-based auth
	UseToken      bool   `json:"useToken"`  // Use token instead of secret

	// Cache settings
	RetentionDays int `json:"retentionDays"` // Rolling history window (days)

	// Target band used for time-in-range and strategy outcomes (mg/dL)
	TargetLow   float64 `json:"targetLow"`
	TargetHigh  float64 `json:"targetHigh"`
	IdealTarget float64 `json:"idealTarget"`
}

// DefaultSettings returns settings with default values
func DefaultSettings() *Settings {
	return &Settings{
		NightscoutURL: "",
		APISecret:     "",
		APIToken:      "",
		UseToken:      false,

		RetentionDays: 90,

		TargetLow:   70,
		TargetHigh:  140,
		IdealTarget: 110,
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	appDir := filepath.Join(configDir, "glucose-oracle")
	if err := os.MkdirAll(appDir, 0750); err != nil {
		return "", err
	}

	return appDir, nil
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.json"), nil
}

// Load loads settings from disk, falling back to defaults when the file
// does not exist yet.
func (s *Settings) Load() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path) //nolint:gosec // Config path is controlled by the app, not user input
	if err != nil {
		if os.IsNotExist(err) {
			*s = *DefaultSettings()
			return nil
		}
		return err
	}

	return json.Unmarshal(data, s)
}

// Save saves settings to disk
func (s *Settings) Save() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// IsConfigured returns true if minimum required settings are set
func (s *Settings) IsConfigured() bool {
	return s.NightscoutURL != ""
}
