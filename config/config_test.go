package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8188", cfg.Backend.BaseURL)
	assert.Equal(t, 3, cfg.Backend.MaxRetries)
	assert.Equal(t, 2.0, cfg.Backend.BaseDelaySeconds)
	assert.Equal(t, 60.0, cfg.Backend.MaxDelaySeconds)
	assert.Equal(t, 5, cfg.Backend.PollIntervalSeconds)
	assert.Equal(t, 3600, cfg.Backend.MaxPollTimeSeconds)
	assert.Equal(t, "atelier.db", cfg.Database.Path)
	assert.False(t, cfg.Archive.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atelier.toml")
	content := `
[backend]
base_url = "http://render-box:8188"
max_retries = 5

[pipeline]
input_dir = "/srv/refs/input"

[archive]
enabled = true
base_url = "https://cdn.example.com"
bearer_token = "tok"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://render-box:8188", cfg.Backend.BaseURL)
	assert.Equal(t, 5, cfg.Backend.MaxRetries)
	assert.Equal(t, "/srv/refs/input", cfg.Pipeline.InputDir)
	// Values absent from the file keep their defaults
	assert.Equal(t, 5, cfg.Backend.PollIntervalSeconds)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "renders", cfg.Archive.Bucket)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
