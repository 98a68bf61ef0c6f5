package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("Missing API key is fatal", func(t *testing.T) {
		t.Setenv("GOOGLE_MAPS_API_KEY", "")
		_, err := LoadFromEnv()
		assert.ErrorContains(t, err, "GOOGLE_MAPS_API_KEY")
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("GOOGLE_MAPS_API_KEY", "test-key")
		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		assert.Equal(t, "test-key", cfg.Provider.APIKey)
		assert.Equal(t, defaultRoutesURL, cfg.Provider.RoutesURL)
		assert.Equal(t, 10*time.Second, cfg.Provider.Timeout)
		assert.Equal(t, 8, cfg.Provider.MaxConcurrency)
		assert.Equal(t, "8000", cfg.Server.Port)
		assert.Equal(t, "none", cfg.Cache.Backend)
		assert.Equal(t, DefaultScoringProfile(), cfg.Scoring)
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("GOOGLE_MAPS_API_KEY", "test-key")
		t.Setenv("PROVIDER_TIMEOUT", "3s")
		t.Setenv("PROVIDER_MAX_CONCURRENCY", "2")
		t.Setenv("CACHE_BACKEND", "memory")
		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		assert.Equal(t, 3*time.Second, cfg.Provider.Timeout)
		assert.Equal(t, 2, cfg.Provider.MaxConcurrency)
		assert.Equal(t, "memory", cfg.Cache.Backend)
	})

	t.Run("Unknown cache backend is rejected", func(t *testing.T) {
		t.Setenv("GOOGLE_MAPS_API_KEY", "test-key")
		t.Setenv("CACHE_BACKEND", "memcached")
		_, err := LoadFromEnv()
		assert.ErrorContains(t, err, "invalid cache config")
	})
}

func TestScoringProfile(t *testing.T) {
	t.Run("Default weights sum to one", func(t *testing.T) {
		p := DefaultScoringProfile()
		assert.InDelta(t, 1.0, p.Weights.Sum(), 1e-9)
		assert.NoError(t, p.Validate())
	})

	t.Run("Weights not summing to one are rejected", func(t *testing.T) {
		p := DefaultScoringProfile()
		p.Weights.Time = 0.5
		assert.ErrorContains(t, p.Validate(), "weights must sum to 1.0")
	})

	t.Run("Load from YAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profile.yml")
		content := "weights:\n  time: 0.4\n  traffic: 0.2\n  density: 0.2\n  connectivity: 0.2\nmax_waypoints: 8\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		p, err := LoadScoringProfile(path)
		require.NoError(t, err)
		assert.Equal(t, 0.4, p.Weights.Time)
		assert.Equal(t, 8, p.MaxWaypoints)
		assert.Equal(t, 500, p.CorridorWidth)
	})

	t.Run("Invalid YAML profile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profile.yml")
		require.NoError(t, os.WriteFile(path, []byte("weights:\n  time: 0.9\n"), 0o644))

		_, err := LoadScoringProfile(path)
		assert.Error(t, err)
	})
}
