package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := OpenSettings(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyAccentColor, "#e84b4b"))
	require.NoError(t, s.Set(KeyPreferredCameraID, "cam-rear"))

	// A fresh open reads back what was written.
	reopened, err := OpenSettings(path)
	require.NoError(t, err)

	var color, camera string
	ok, err := reopened.Get(KeyAccentColor, &color)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "#e84b4b", color)

	ok, err = reopened.Get(KeyPreferredCameraID, &camera)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cam-rear", camera)
}

func TestSettingsGetMissingKey(t *testing.T) {
	s, err := OpenSettings(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	var out string
	ok, err := s.Get(KeyCustomBackground, &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettingsDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := OpenSettings(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyAccentColor, "#ffffff"))
	require.NoError(t, s.Delete(KeyAccentColor))

	reopened, err := OpenSettings(path)
	require.NoError(t, err)
	var out string
	ok, err := reopened.Get(KeyAccentColor, &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSystemConfigDefaults(t *testing.T) {
	t.Setenv("STRAWBERRY_API_BASE_URL", "")
	t.Setenv("STRAWBERRY_API_USE_MOCK", "")

	s, err := OpenSettings(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	cfg := s.SystemConfig()
	assert.Equal(t, "http://localhost:5000/api", cfg.APIBaseURL)
	assert.Equal(t, 30*time.Second, cfg.APITimeout)
	assert.True(t, cfg.EnableAI)
	assert.False(t, cfg.UseMockFallback)
}

func TestSystemConfigEnvOverrides(t *testing.T) {
	t.Setenv("STRAWBERRY_API_BASE_URL", "http://farm.local:9000/api")
	t.Setenv("STRAWBERRY_API_USE_MOCK", "true")

	cfg := DefaultSystemConfig()
	assert.Equal(t, "http://farm.local:9000/api", cfg.APIBaseURL)
	assert.True(t, cfg.UseMockFallback)
}

func TestSystemConfigPersistedOverridesWin(t *testing.T) {
	t.Setenv("STRAWBERRY_API_BASE_URL", "")
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := OpenSettings(path)
	require.NoError(t, err)
	saved := DefaultSystemConfig()
	saved.APIBaseURL = "http://greenhouse:5000/api"
	saved.UseMockFallback = true
	require.NoError(t, s.SaveSystemConfig(saved))

	reopened, err := OpenSettings(path)
	require.NoError(t, err)
	cfg := reopened.SystemConfig()
	assert.Equal(t, "http://greenhouse:5000/api", cfg.APIBaseURL)
	assert.True(t, cfg.UseMockFallback)
}
