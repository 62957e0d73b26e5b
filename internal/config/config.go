// Package config provides the configuration structure for the narration service.
package config

import (
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Environment variable overrides.
const (
	envVendorAPIKey = "NARRATION_VENDOR_API_KEY"
)

// Defaults applied to unset fields.
const (
	defaultListenAddr           = ":8084"
	defaultPublicBaseURL        = "http://localhost:8084"
	defaultVendorBaseURL        = "https://api.elevenlabs.io"
	defaultSynthesisTimeoutSecs = 60
	defaultVoicesTimeoutSecs    = 15
	defaultUploadTimeoutSecs    = 15
	defaultCacheRetentionDays   = 30
	defaultUploadsDir           = "uploads"
	defaultCacheDBPath          = "narration-cache.db"
)

// HTTPConfig holds the API listener settings. PublicBaseURL is the prefix
// under which stored audio URLs are minted.
type HTTPConfig struct {
	ListenAddr    string `toml:"listen_addr"`
	PublicBaseURL string `toml:"public_base_url"`
}

// VendorConfig holds the speech-synthesis vendor settings. The API key may
// be supplied via the NARRATION_VENDOR_API_KEY environment variable instead
// of the config file.
type VendorConfig struct {
	BaseURL                 string  `toml:"base_url"`
	APIKey                  string  `toml:"api_key"`
	DefaultModelID          string  `toml:"default_model_id"`
	MultilingualModelID     string  `toml:"multilingual_model_id"`
	Stability               float64 `toml:"stability"`
	SimilarityBoost         float64 `toml:"similarity_boost"`
	SynthesisTimeoutSeconds int     `toml:"synthesis_timeout_seconds"`
	VoicesTimeoutSeconds    int     `toml:"voices_timeout_seconds"`
}

// StorageConfig holds the blob-storage settings. An empty bucket disables
// the object-store backend, leaving local disk as the only store.
type StorageConfig struct {
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	UploadTimeoutSeconds   int    `toml:"upload_timeout_seconds"`
	UploadsDir             string `toml:"uploads_dir"`
}

// CacheConfig holds the narration-cache settings.
type CacheConfig struct {
	DBPath        string `toml:"db_path"`
	RetentionDays int    `toml:"retention_days"`
}

// NATSConfig holds the NATS connection and ingest-worker settings.
type NATSConfig struct {
	URL                  string `toml:"url"`
	TextProcessedSubject string `toml:"text_processed_subject"`
	WorkerEnabled        bool   `toml:"worker_enabled"`
	DefaultVoiceID       string `toml:"default_voice_id"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	Vendor  VendorConfig  `toml:"vendor"`
	Storage StorageConfig `toml:"storage"`
	Cache   CacheConfig   `toml:"cache"`
	NATS    NATSConfig    `toml:"nats"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration for the narration service and applies
// defaults and environment overrides.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = defaultListenAddr
	}

	if c.HTTP.PublicBaseURL == "" {
		c.HTTP.PublicBaseURL = defaultPublicBaseURL
	}

	if c.Vendor.BaseURL == "" {
		c.Vendor.BaseURL = defaultVendorBaseURL
	}

	if key := os.Getenv(envVendorAPIKey); key != "" {
		c.Vendor.APIKey = key
	}

	if c.Vendor.SynthesisTimeoutSeconds == 0 {
		c.Vendor.SynthesisTimeoutSeconds = defaultSynthesisTimeoutSecs
	}

	if c.Vendor.VoicesTimeoutSeconds == 0 {
		c.Vendor.VoicesTimeoutSeconds = defaultVoicesTimeoutSecs
	}

	if c.Storage.UploadTimeoutSeconds == 0 {
		c.Storage.UploadTimeoutSeconds = defaultUploadTimeoutSecs
	}

	if c.Storage.UploadsDir == "" {
		c.Storage.UploadsDir = defaultUploadsDir
	}

	if c.Cache.DBPath == "" {
		c.Cache.DBPath = defaultCacheDBPath
	}

	if c.Cache.RetentionDays == 0 {
		c.Cache.RetentionDays = defaultCacheRetentionDays
	}
}
