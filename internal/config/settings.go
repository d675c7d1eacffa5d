package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Fixed keys under which client-side settings persist across sessions.
const (
	KeySystemConfig      = "strawberry_system_config"
	KeyAccentColor       = "accent_color"
	KeyCustomBackground  = "custom_background"
	KeyPreferredCameraID = "preferredCameraId"
)

// SystemConfig is the client-side system configuration blob.
type SystemConfig struct {
	APIBaseURL      string        `json:"api_base_url"`
	APITimeout      time.Duration `json:"api_timeout"`
	EnableAI        bool          `json:"enable_ai"`
	UseMockFallback bool          `json:"use_mock_fallback"`
}

// DefaultSystemConfig mirrors the backend's default listen address.
func DefaultSystemConfig() SystemConfig {
	cfg := SystemConfig{
		APIBaseURL: "http://localhost:5000/api",
		APITimeout: 30 * time.Second,
		EnableAI:   true,
	}
	if v := os.Getenv("STRAWBERRY_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v, err := strconv.ParseBool(os.Getenv("STRAWBERRY_API_USE_MOCK")); err == nil {
		cfg.UseMockFallback = v
	}
	return cfg
}

// Settings is the client-side persisted state, a key/value file that survives
// across sessions. Values are raw JSON so callers can store the system config
// blob and plain strings under the same keys.
type Settings struct {
	path   string
	values map[string]json.RawMessage
}

// OpenSettings loads the settings file at path, creating an empty set if the
// file does not exist yet.
func OpenSettings(path string) (*Settings, error) {
	s := &Settings{path: path, values: map[string]json.RawMessage{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return s, nil
}

// DefaultSettingsPath places the settings file in the user config directory.
func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "strawberrytrace", "settings.json")
}

// Get unmarshals the value stored under key into out. It reports whether the
// key was present.
func (s *Settings) Get(key string, out any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key and writes the file.
func (s *Settings) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}
	s.values[key] = raw
	return s.flush()
}

// Delete removes key and writes the file.
func (s *Settings) Delete(key string) error {
	delete(s.values, key)
	return s.flush()
}

// SystemConfig returns the stored system config merged over the defaults.
func (s *Settings) SystemConfig() SystemConfig {
	cfg := DefaultSystemConfig()
	if _, err := s.Get(KeySystemConfig, &cfg); err != nil {
		return DefaultSystemConfig()
	}
	return cfg
}

// SaveSystemConfig persists the system config blob.
func (s *Settings) SaveSystemConfig(cfg SystemConfig) error {
	return s.Set(KeySystemConfig, cfg)
}

func (s *Settings) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
