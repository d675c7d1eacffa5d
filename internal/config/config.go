package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all server-side application configuration
type Config struct {
	Server struct {
		Port      string `json:"port"`
		StaticDir string `json:"static_dir"`
		Debug     bool   `json:"debug"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	Images struct {
		Dir      string `json:"dir"`       // observation record images
		PhotoDir string `json:"photo_dir"` // raw scan captures
		QRDir    string `json:"qr_dir"`    // generated QR code images
	} `json:"images"`

	AI struct {
		ConfigPath string `json:"config_path"` // path to ai_config.json
	} `json:"ai"`
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "5000"
	cfg.Server.StaticDir = "./static"
	cfg.Database.Path = "strawberry.db"
	cfg.Images.Dir = "images"
	cfg.Images.PhotoDir = "photos"
	cfg.Images.QRDir = "qrcodes"
	cfg.AI.ConfigPath = "ai_config.json"
	return cfg
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("STRAWBERRY_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
