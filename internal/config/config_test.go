package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskwatch/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 25, cfg.Matching.Threshold)
	assert.Contains(t, cfg.Matching.OrdinalMarkers, "episode")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")
	cfg, path, exists, err := config.Load(missing)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, missing, path)
	assert.Equal(t, 5, cfg.Poller.IntervalSeconds)
}

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		"[paths]",
		`state_dir = "` + filepath.Join(dir, "state") + `"`,
		`log_dir = "` + filepath.Join(dir, "logs") + `"`,
		"",
		"[matching]",
		"threshold = 30",
		`ordinal_markers = ["Episode", " EP "]`,
		"",
		"[origin]",
		`agent_url = "http://localhost:9000/"`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, resolved, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, path, resolved)
	assert.Equal(t, 30, cfg.Matching.Threshold)
	// Markers are lowercased and trimmed during normalization.
	assert.Equal(t, []string{"episode", "ep"}, cfg.Matching.OrdinalMarkers)
	// Trailing slash on the agent URL is trimmed.
	assert.Equal(t, "http://localhost:9000", cfg.Origin.AgentURL)
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "[matching]\nthreshold = 5\nordinal_penalty = 10\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, _, _, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ordinal_penalty")
}

func TestSocketPathDefaultsUnderStateDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = "/tmp/tw-test"
	assert.Equal(t, "/tmp/tw-test/taskwatchd.sock", cfg.SocketPath())

	cfg.Paths.Socket = "/run/custom.sock"
	assert.Equal(t, "/run/custom.sock", cfg.SocketPath())
}

func TestCreateSampleParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	require.NoError(t, config.CreateSample(path))

	cfg, _, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, cfg.Validate())
}
