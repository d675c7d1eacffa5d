package ai

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"strawberrytrace/internal/models"
)

// DefaultPrompt asks for a structured markdown observation of the plant.
const DefaultPrompt = `Describe this strawberry plant photo in detail, in Markdown. Include:

## Basic observation
- Color:
- Shape:
- Size:
- Ripeness:

## Growth state
- Overall health:
- Surface features:
- Growth stage:

## Other
- Unusual marks or anomalies:
- Suggestions:`

// DefaultConfig is used when no ai_config.json exists yet.
func DefaultConfig() models.AIConfig {
	return models.AIConfig{
		Enabled:      false,
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		MaxTokens:    300,
		Temperature:  0.7,
		CustomPrompt: DefaultPrompt,
	}
}

// ConfigStore persists the AI configuration to a JSON file.
type ConfigStore struct {
	mu   sync.Mutex
	path string
}

// NewConfigStore manages the config file at path.
func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: path}
}

// Load reads the stored configuration merged over the defaults.
func (s *ConfigStore) Load() (models.AIConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := DefaultConfig()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read ai config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse ai config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration.
func (s *ConfigStore) Save(cfg models.AIConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write ai config: %w", err)
	}
	return nil
}
