package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tierkb/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 200, cfg.Knowledge.ChunkOverlap)
	assert.Equal(t, 3, cfg.Knowledge.TopK)
	assert.Equal(t, []string{"high", "med", "low"}, cfg.Storage.Tiers)
	assert.Equal(t, 2, cfg.Storage.MaxFiles)
	assert.Equal(t, int64(2*1024*1024), cfg.Storage.MaxFileSize)
	assert.Equal(t, "llama3", cfg.Embedding.Model)
	assert.Equal(t, "deepseek-chat", cfg.Chat.DeepSeekModel)
	assert.Empty(t, cfg.Chat.DeepSeekAPIKey)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Server.Port)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 8080
knowledge:
  chunk_size: 500
  chunk_overlap: 50
storage:
  tiers: [admin, staff, public]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 50, cfg.Knowledge.ChunkOverlap)
	assert.Equal(t, []string{"admin", "staff", "public"}, cfg.Storage.Tiers)
	// Untouched sections keep defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600))

	t.Setenv("TIERKB_SERVER_PORT", "9999")
	t.Setenv("TIERKB_CHAT_DEEPSEEK_API_KEY", "sk-test")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Chat.DeepSeekAPIKey)
}

func TestValidateRejectsOverlapNotLessThanSize(t *testing.T) {
	t.Setenv("TIERKB_KNOWLEDGE_CHUNK_SIZE", "100")
	t.Setenv("TIERKB_KNOWLEDGE_CHUNK_OVERLAP", "100")

	_, err := config.Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestValidateRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		valid bool
	}{
		{"port out of range", map[string]string{"TIERKB_SERVER_PORT": "70000"}, false},
		{"bad log format", map[string]string{"TIERKB_LOGGING_FORMAT": "xml"}, false},
		{"overlap below size", map[string]string{
			"TIERKB_KNOWLEDGE_CHUNK_SIZE":    "100",
			"TIERKB_KNOWLEDGE_CHUNK_OVERLAP": "99",
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("")
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, config.ErrInvalidConfig)
			}
		})
	}
}
