// Package config_test tests the configuration loading for the narration service.
package config_test

import (
	"testing"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[http]
listen_addr = ":9090"
public_base_url = "https://narration.example.com"

[vendor]
base_url = "https://api.elevenlabs.io"
api_key = "secret"
default_model_id = "eleven_monolingual_v1"
multilingual_model_id = "eleven_multilingual_v2"
stability = 0.5
similarity_boost = 0.75
synthesis_timeout_seconds = 60
voices_timeout_seconds = 15

[storage]
audio_object_store_bucket = "NARRATION_AUDIO"
upload_timeout_seconds = 15
uploads_dir = "/var/lib/narration/uploads"

[cache]
db_path = "/var/lib/narration/cache.db"
retention_days = 30

[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
worker_enabled = true
default_voice_id = "voice-a"

[paths]
base_logs_dir = "/var/log/narration"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.ListenAddr)
	assert.Equal(t, "https://narration.example.com", cfg.HTTP.PublicBaseURL)
	assert.Equal(t, "https://api.elevenlabs.io", cfg.Vendor.BaseURL)
	assert.Equal(t, "secret", cfg.Vendor.APIKey)
	assert.Equal(t, "eleven_multilingual_v2", cfg.Vendor.MultilingualModelID)
	assert.InEpsilon(t, 0.75, cfg.Vendor.SimilarityBoost, 0.001)
	assert.Equal(t, 60, cfg.Vendor.SynthesisTimeoutSeconds)
	assert.Equal(t, "NARRATION_AUDIO", cfg.Storage.AudioObjectStoreBucket)
	assert.Equal(t, "/var/lib/narration/uploads", cfg.Storage.UploadsDir)
	assert.Equal(t, "/var/lib/narration/cache.db", cfg.Cache.DBPath)
	assert.Equal(t, 30, cfg.Cache.RetentionDays)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "text.processed", cfg.NATS.TextProcessedSubject)
	assert.True(t, cfg.NATS.WorkerEnabled)
	assert.Equal(t, "voice-a", cfg.NATS.DefaultVoiceID)
	assert.Equal(t, "/var/log/narration", cfg.Paths.BaseLogsDir)
}
