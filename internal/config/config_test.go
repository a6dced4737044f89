package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rohankatakam/repograph/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks the overrides Load honours so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD", "NEO4J_DATABASE",
		"REPOGRAPH_WORKERS", "REPOGRAPH_INCREMENTAL", "REPOGRAPH_DEBOUNCE", "REPOGRAPH_STATE_PATH",
		"REPOGRAPH_LOG_LEVEL", "REPOGRAPH_LOG_FORMAT", "REPOGRAPH_LOG_FILE", "REPOGRAPH_MODE",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Neo4j.URI, cfg.Neo4j.URI)
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.RenameWindow)
	assert.True(t, cfg.Watch.UseGitignore)
	assert.Equal(t, def.Index.Workers, cfg.Index.Workers)
	assert.Equal(t, 500, cfg.Graph.BatchSize)
	assert.Equal(t, "auto", cfg.Log.Format)
}

func TestLoad_FileMergesWithDefaults(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
neo4j:
  uri: neo4j://graph.internal:7687
  password: s3cret
watch:
  debounce: 500ms
  ignore_patterns: ["*.snap", "fixtures/**"]
graph:
  batch_size: 50
  timeouts:
    ingest: 10s
tracker:
  state_path: /tmp/repograph/state.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "neo4j://graph.internal:7687", cfg.Neo4j.URI)
	assert.Equal(t, "neo4j", cfg.Neo4j.User, "unset keys keep their defaults")
	assert.Equal(t, "s3cret", cfg.Neo4j.Password)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.SweepInterval)
	assert.Equal(t, []string{"*.snap", "fixtures/**"}, cfg.Watch.IgnorePatterns)
	assert.Equal(t, 50, cfg.Graph.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Graph.Timeouts["ingest"])
	assert.Equal(t, "/tmp/repograph/state.db", cfg.Tracker.StatePath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NEO4J_URI", "bolt://db:7687")
	t.Setenv("NEO4J_PASSWORD", "from-env")
	t.Setenv("REPOGRAPH_WORKERS", "3")
	t.Setenv("REPOGRAPH_LOG_LEVEL", "debug")
	t.Setenv("REPOGRAPH_DEBOUNCE", "1s")

	cfg, err := Load(writeConfig(t, "neo4j:\n  uri: bolt://file:7687\n"))
	require.NoError(t, err)

	assert.Equal(t, "bolt://db:7687", cfg.Neo4j.URI)
	assert.Equal(t, "from-env", cfg.Neo4j.Password)
	assert.Equal(t, 3, cfg.Index.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeConfig(t, "neo4j: [unclosed\n"))
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)

	cfg := Default()
	cfg.Neo4j.Password = "pw"
	cfg.Watch.IgnorePatterns = []string{"*.gen.ts"}
	cfg.Graph.Timeouts = map[string]time.Duration{"remove_file": 5 * time.Second}
	cfg.Index.Incremental = true

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Neo4j, loaded.Neo4j)
	assert.Equal(t, cfg.Watch, loaded.Watch)
	assert.Equal(t, cfg.Index, loaded.Index)
	assert.Equal(t, 5*time.Second, loaded.Graph.Timeouts["remove_file"])
}

func TestMasked(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Neo4j.Password = "hunter2"
	masked := cfg.Masked()

	assert.Equal(t, "********", masked.Neo4j.Password)
	assert.Equal(t, "hunter2", cfg.Neo4j.Password, "original is untouched")

	m := masked.ToMap()
	assert.Equal(t, "********", m["neo4j"]["password"])
	assert.Equal(t, "300ms", m["watch"]["debounce"])
	assert.Equal(t, "200ms", m["graph"]["retry_backoff"])
}

func TestValidateWithMode(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.Neo4j.Password = "a-strong-password"
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		mode     DeploymentMode
		wantErr  bool
		wantWarn bool
	}{
		{"defaults with password", func(*Config) {}, ModeDevelopment, false, false},
		{"missing password", func(c *Config) { c.Neo4j.Password = "" }, ModeDevelopment, true, false},
		{"missing uri", func(c *Config) { c.Neo4j.URI = "" }, ModeDevelopment, true, false},
		{"http scheme", func(c *Config) { c.Neo4j.URI = "http://localhost:7474" }, ModeDevelopment, true, false},
		{"common password in development", func(c *Config) { c.Neo4j.Password = "neo4j" }, ModeDevelopment, false, true},
		{"common password in ci", func(c *Config) { c.Neo4j.Password = "password" }, ModeCI, true, false},
		{"zero workers", func(c *Config) { c.Index.Workers = 0 }, ModeDevelopment, true, false},
		{"zero debounce", func(c *Config) { c.Watch.Debounce = 0 }, ModeDevelopment, true, false},
		{"slow sweep", func(c *Config) { c.Watch.SweepInterval = time.Second }, ModeDevelopment, false, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, ModeDevelopment, true, false},
		{"negative timeout", func(c *Config) { c.Graph.Timeouts = map[string]time.Duration{"ingest": -1} }, ModeDevelopment, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			result := cfg.ValidateWithMode(tt.mode)
			assert.Equal(t, tt.wantErr, result.HasErrors(), result.Error())
			assert.Equal(t, tt.wantWarn, len(result.Warnings) > 0, result.Warnings)
		})
	}
}

func TestRequireNeo4j(t *testing.T) {
	t.Setenv("REPOGRAPH_MODE", "development")

	cfg := Default()
	err := cfg.RequireNeo4j()
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))
	assert.Contains(t, err.Error(), "NEO4J_PASSWORD")

	cfg.Neo4j.Password = "a-strong-password"
	assert.NoError(t, cfg.RequireNeo4j())
}

func TestDetectMode(t *testing.T) {
	tests := []struct {
		value string
		want  DeploymentMode
	}{
		{"dev", ModeDevelopment},
		{"prod", ModeProduction},
		{"CI", ModeCI},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("REPOGRAPH_MODE", tt.value)
			assert.Equal(t, tt.want, DetectMode())
		})
	}
}
