package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Server.Port)
	assert.Equal(t, "voice-sessions", cfg.Kafka.Topic)
	assert.Equal(t, DefaultSystemPrompt, cfg.LLM.SystemPrompt)
	assert.Equal(t, 3, cfg.Voice.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Voice.RetryDelay)
	assert.Equal(t, 30*time.Minute, cfg.Voice.WebhookTolerance)
	assert.Equal(t, 30, cfg.Voice.TitleMaxLen)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: "8080"
voice:
  retry_delay: "500ms"
  webhook_secret: "from-file"
kafka:
  brokers: "a:9092,b:9092"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("VOXCHAT_VOICE_WEBHOOK_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Voice.RetryDelay)
	assert.Equal(t, "from-env", cfg.Voice.WebhookSecret)
	assert.Equal(t, "a:9092,b:9092", cfg.Kafka.Brokers)
	assert.Equal(t, 10*time.Second, cfg.Voice.ResolveBudget)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
