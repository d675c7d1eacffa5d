// Package ai generates plant descriptions from observation images through a
// configurable vision provider.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"strawberrytrace/internal/models"
)

// ErrDisabled is returned when analysis is requested with AI turned off.
var ErrDisabled = errors.New("ai service disabled")

// Provider represents a vision model that can describe an image.
type Provider interface {
	// Load initializes the provider with its configuration
	Load(ctx context.Context) error
	// Describe takes an image and returns a textual description
	Describe(ctx context.Context, imageData []byte) (string, error)
}

// NewProvider creates a provider instance for the configured backend.
func NewProvider(cfg models.AIConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return &OpenAIProvider{cfg: cfg, httpc: defaultHTTPClient()}, nil
	case "dashscope":
		return &DashScopeProvider{cfg: cfg, httpc: defaultHTTPClient()}, nil
	case "custom":
		return &CustomProvider{cfg: cfg, httpc: defaultHTTPClient()}, nil
	case "google":
		return &GoogleProvider{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// Service ties the config store to provider selection.
type Service struct {
	store *ConfigStore
}

// NewService creates the AI service over the given config store.
func NewService(store *ConfigStore) *Service {
	return &Service{store: store}
}

// Config returns the current configuration.
func (s *Service) Config() (models.AIConfig, error) {
	return s.store.Load()
}

// Update persists a new configuration.
func (s *Service) Update(cfg models.AIConfig) error {
	return s.store.Save(cfg)
}

// Status reports enablement and credential presence without exposing keys.
func (s *Service) Status() (models.AIStatus, error) {
	cfg, err := s.store.Load()
	if err != nil {
		return models.AIStatus{}, err
	}
	return models.AIStatus{
		Enabled:   cfg.Enabled,
		Provider:  cfg.Provider,
		HasAPIKey: cfg.APIKey != "",
	}, nil
}

// Analyze produces a description for imageData with the configured provider.
func (s *Service) Analyze(ctx context.Context, imageData []byte) (models.AIAnalysis, error) {
	cfg, err := s.store.Load()
	if err != nil {
		return models.AIAnalysis{}, err
	}
	if !cfg.Enabled {
		return models.AIAnalysis{}, ErrDisabled
	}
	provider, err := NewProvider(cfg)
	if err != nil {
		return models.AIAnalysis{}, err
	}
	if err := provider.Load(ctx); err != nil {
		return models.AIAnalysis{}, fmt.Errorf("load provider %s: %w", cfg.Provider, err)
	}
	description, err := provider.Describe(ctx, imageData)
	if err != nil {
		return models.AIAnalysis{}, fmt.Errorf("provider %s: %w", cfg.Provider, err)
	}
	return models.AIAnalysis{Description: description, Provider: cfg.Provider}, nil
}

// TestConnection verifies the provider can be constructed and initialized
// with the current credentials.
func (s *Service) TestConnection(ctx context.Context) error {
	cfg, err := s.store.Load()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return ErrDisabled
	}
	if cfg.Provider != "google" && cfg.APIKey == "" {
		return errors.New("api key not configured")
	}
	provider, err := NewProvider(cfg)
	if err != nil {
		return err
	}
	return provider.Load(ctx)
}
