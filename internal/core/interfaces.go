// Package core defines the domain types and interfaces for the narration service.
package core

import (
	"context"
	"time"
)

// WordTiming describes when a single word is spoken within the synthesized audio.
type WordTiming struct {
	Word         string  `json:"word"`
	StartSeconds float64 `json:"start"`
	EndSeconds   float64 `json:"end"`
}

// Alignment is the word-level timing for a piece of synthesized audio.
// IsEstimated is true when the timing was computed by linear estimation
// rather than derived from vendor character timing.
type Alignment struct {
	Words       []WordTiming `json:"words"`
	IsEstimated bool         `json:"isEstimated"`
}

// CharacterTiming holds the vendor's character-level timing as parallel
// arrays: Characters[i] was spoken from StartSeconds[i] to EndSeconds[i].
type CharacterTiming struct {
	Characters   []string  `json:"characters"`
	StartSeconds []float64 `json:"character_start_times_seconds"`
	EndSeconds   []float64 `json:"character_end_times_seconds"`
}

// SpeechResult is the outcome of a vendor synthesis call. Characters is nil
// when the vendor produced audio without timing data.
type SpeechResult struct {
	Audio      []byte
	Characters *CharacterTiming
}

// CacheEntry is one persisted generation artifact, identified by the pair
// (ContentHash, VoiceID). Entries are never mutated in place.
type CacheEntry struct {
	ContentHash string
	VoiceID     string
	SourceText  string
	AudioURL    string
	Alignment   Alignment
	CreatedAt   time.Time
}

// CacheStats aggregates the cache contents by alignment provenance.
type CacheStats struct {
	TotalEntries         int64 `json:"totalEntries"`
	EstimatedEntries     int64 `json:"estimatedEntries"`
	RealTimestampEntries int64 `json:"realTimestampEntries"`
}

// Synthesizer defines the interface to the external speech-synthesis vendor.
type Synthesizer interface {
	// Synthesize produces audio for the given text and voice. Characters in
	// the result is nil when the vendor could not supply timing.
	Synthesize(ctx context.Context, text, voiceID, languageCode string) (*SpeechResult, error)

	// ListVoices returns the vendor's voice catalog as raw JSON.
	ListVoices(ctx context.Context) ([]byte, error)
}

// BlobStore persists audio bytes and returns a publicly resolvable URL.
// The choice of backing store is transparent to callers.
type BlobStore interface {
	Save(ctx context.Context, path string, data []byte) (string, error)
}

// CacheStore is the persistent key→artifact mapping for generated narration.
type CacheStore interface {
	// Find returns the entry for the pair, or nil when absent or expired.
	Find(ctx context.Context, contentHash, voiceID string) (*CacheEntry, error)

	// InsertIfAbsent writes the entry unless an entry for the same pair
	// already exists. Both outcomes are success; the return value reports
	// whether this call created the row.
	InsertIfAbsent(ctx context.Context, entry *CacheEntry) (bool, error)

	DeleteAll(ctx context.Context) (int64, error)
	DeleteByVoice(ctx context.Context, voiceID string) (int64, error)
	DeleteOne(ctx context.Context, contentHash, voiceID string) (int64, error)

	Stats(ctx context.Context) (CacheStats, error)

	Close() error
}
