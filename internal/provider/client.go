// Package provider implements the HTTP client for the external
// speech-synthesis vendor. It prefers the timestamp-capable endpoint and
// falls back to plain synthesis when that fails, so callers always get
// audio when the vendor can produce any.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesizeWithTimestamps = "/v1/text-to-speech/%s/with-timestamps"
	apiSynthesize               = "/v1/text-to-speech/%s"
	apiVoices                   = "/v1/voices"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAPIKey      = "xi-api-key"
	contentTypeJSON   = "application/json"
)

// Model variants. The multilingual model is selected whenever a request
// carries a language code other than the default.
const (
	DefaultModelID      = "eleven_monolingual_v1"
	MultilingualModelID = "eleven_multilingual_v2"
	defaultLanguageCode = "en"
)

// Default voice settings and timeouts.
const (
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75
	DefaultTimeout         = 60 * time.Second
	DefaultVoicesTimeout   = 15 * time.Second
)

// Static errors.
var (
	// ErrAPIKeyMissing indicates the vendor API key was not configured.
	ErrAPIKeyMissing = errors.New("vendor API key is not configured")
	// ErrTextEmpty indicates a synthesis request without text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoiceIDEmpty indicates a synthesis request without a voice.
	ErrVoiceIDEmpty = errors.New("voice id cannot be empty")
	// ErrEmptyAudio indicates the vendor returned no audio bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// Config holds the vendor connection settings.
type Config struct {
	BaseURL             string
	APIKey              string
	DefaultModelID      string
	MultilingualModelID string
	Stability           float64
	SimilarityBoost     float64
	Timeout             time.Duration
	VoicesTimeout       time.Duration
}

// Client is the vendor HTTP client. It implements core.Synthesizer.
type Client struct {
	httpClient *http.Client
	config     Config
	log        *logger.Logger
}

// synthesisRequest is the JSON payload for both synthesis endpoints.
type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// timestampResponse is the timestamp endpoint's JSON payload: base64 audio
// plus character-indexed timing as parallel arrays.
type timestampResponse struct {
	AudioBase64 string                `json:"audio_base64"`
	Alignment   *core.CharacterTiming `json:"alignment"`
}

// vendorError is the vendor's structured error body.
type vendorError struct {
	Detail json.RawMessage `json:"detail"`
}

// New creates a vendor client, filling unset config fields with defaults.
func New(config Config, log *logger.Logger) *Client {
	if config.DefaultModelID == "" {
		config.DefaultModelID = DefaultModelID
	}

	if config.MultilingualModelID == "" {
		config.MultilingualModelID = MultilingualModelID
	}

	if config.Stability == 0 {
		config.Stability = DefaultStability
	}

	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = DefaultSimilarityBoost
	}

	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	if config.VoicesTimeout == 0 {
		config.VoicesTimeout = DefaultVoicesTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		log:        log,
	}
}

// Synthesize obtains audio for the text, preferring the timestamp-capable
// endpoint. When that attempt fails for any reason the plain endpoint is
// tried once; its result carries no character timing. Both attempts failing
// fails the call.
func (c *Client) Synthesize(
	ctx context.Context,
	text, voiceID, languageCode string,
) (*core.SpeechResult, error) {
	err := c.validate(text, voiceID)
	if err != nil {
		return nil, err
	}

	modelID := c.modelForLanguage(languageCode)

	result, primaryErr := c.synthesizeWithTimestamps(ctx, text, voiceID, modelID)
	if primaryErr == nil {
		return result, nil
	}

	c.log.Warn("Timestamp synthesis failed for voice '%s', falling back to plain endpoint: %v",
		voiceID, primaryErr)

	audio, fallbackErr := c.synthesizePlain(ctx, text, voiceID, modelID)
	if fallbackErr != nil {
		return nil, fmt.Errorf(
			"both synthesis attempts failed: primary: %w; fallback: %w",
			primaryErr, fallbackErr,
		)
	}

	return &core.SpeechResult{Audio: audio, Characters: nil}, nil
}

// ListVoices proxies the vendor's voice catalog and returns the raw JSON.
func (c *Client) ListVoices(ctx context.Context) ([]byte, error) {
	if c.config.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.VoicesTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.config.BaseURL+apiVoices, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create voices request: %w", err)
	}

	req.Header.Set(headerAPIKey, c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch voice catalog from %s: %w", c.config.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice catalog: %w", err)
	}

	return body, nil
}

func (c *Client) validate(text, voiceID string) error {
	if c.config.APIKey == "" {
		return ErrAPIKeyMissing
	}

	if text == "" {
		return ErrTextEmpty
	}

	if voiceID == "" {
		return ErrVoiceIDEmpty
	}

	return nil
}

// modelForLanguage selects the multilingual model variant when the request
// carries a non-default language code.
func (c *Client) modelForLanguage(languageCode string) string {
	if languageCode != "" && languageCode != defaultLanguageCode {
		return c.config.MultilingualModelID
	}

	return c.config.DefaultModelID
}

func (c *Client) synthesizeWithTimestamps(
	ctx context.Context,
	text, voiceID, modelID string,
) (*core.SpeechResult, error) {
	url := c.config.BaseURL + fmt.Sprintf(apiSynthesizeWithTimestamps, voiceID)

	resp, err := c.postSynthesis(ctx, url, text, modelID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var payload timestampResponse

	err = json.NewDecoder(resp.Body).Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode timestamp response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(payload.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}

	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	return &core.SpeechResult{Audio: audio, Characters: payload.Alignment}, nil
}

func (c *Client) synthesizePlain(
	ctx context.Context,
	text, voiceID, modelID string,
) ([]byte, error) {
	url := c.config.BaseURL + fmt.Sprintf(apiSynthesize, voiceID)

	resp, err := c.postSynthesis(ctx, url, text, modelID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	return audio, nil
}

func (c *Client) postSynthesis(
	ctx context.Context,
	url, text, modelID string,
) (*http.Response, error) {
	requestBody, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: modelID,
		VoiceSettings: voiceSettings{
			Stability:       c.config.Stability,
			SimilarityBoost: c.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAPIKey, c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to vendor at %s: %w", c.config.BaseURL, err)
	}

	return resp, nil
}

// parseErrorResponse attempts to decode a structured JSON error from the
// vendor. If structured parsing fails, the raw response body is preserved
// so diagnostic information is not lost.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var structured vendorError

	err := json.Unmarshal(body, &structured)
	if err == nil && len(structured.Detail) > 0 {
		return fmt.Errorf("vendor error (%s): %s", resp.Status, string(structured.Detail))
	}

	return fmt.Errorf("vendor returned non-OK status: %s, body: %s", resp.Status, string(body))
}
