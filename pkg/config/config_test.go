package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Enrichment.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Enrichment.BatchDelay)
	assert.Equal(t, 80000.0, cfg.Search.RadiusMeters)
	assert.Len(t, cfg.Sources.Overpass.Mirrors, 4)
	assert.Contains(t, cfg.Exploration.DenseCities, "vienna")
}

func TestLoad_EnvOverridesFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
server:
  port: 9090
exploration:
  timeout: 7s
  auto_approve: false
search:
  radius_meters: 50000
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SEARCH_RADIUS_METERS", "25000")
	t.Setenv("OVERPASS_MIRRORS", "https://a.example/api, https://b.example/api")
	t.Setenv("GOOGLE_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 7*time.Second, cfg.Exploration.Timeout)
	assert.False(t, cfg.Exploration.AutoApprove)
	assert.Equal(t, 25000.0, cfg.Search.RadiusMeters)
	assert.Equal(t, []string{"https://a.example/api", "https://b.example/api"}, cfg.Sources.Overpass.Mirrors)
	assert.True(t, cfg.Sources.Places.Enabled())
	assert.Equal(t, 2, cfg.Enrichment.BatchSize)
}

func TestEnvTransformFunc_DropsUnknownVariables(t *testing.T) {
	assert.Equal(t, "database.url", envTransformFunc("DATABASE_URL"))
	assert.Equal(t, "sources.street_imagery.access_token", envTransformFunc("MAPILLARY_TOKEN"))
	assert.Empty(t, envTransformFunc("HOME"))
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 0
	cfg.Sources.Overpass.Mirrors = nil
	cfg.Observability.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "mirrors")
	assert.Contains(t, err.Error(), "log_format")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p@ss", Name: "heritage", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/heritage?sslmode=disable", d.DSN())

	d.URL = "postgres://override"
	assert.Equal(t, "postgres://override", d.DSN())
}
