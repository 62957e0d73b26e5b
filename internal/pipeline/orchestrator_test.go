// Package pipeline_test tests the end-to-end generation flow against a real
// SQLite cache and a local blob store, with a stubbed vendor.
package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/blobstore"
	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errVendorDown = errors.New("vendor unavailable")
	errCacheDown  = errors.New("cache unavailable")
)

// stubSynthesizer counts calls and returns canned speech.
type stubSynthesizer struct {
	calls      int
	withTiming bool
	fail       bool
}

func (s *stubSynthesizer) Synthesize(
	_ context.Context,
	_, _, _ string,
) (*core.SpeechResult, error) {
	s.calls++

	if s.fail {
		return nil, errVendorDown
	}

	result := &core.SpeechResult{Audio: []byte("mp3-bytes"), Characters: nil}

	if s.withTiming {
		result.Characters = &core.CharacterTiming{
			Characters:   []string{"h", "i", " ", "m", "o", "m"},
			StartSeconds: []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5},
			EndSeconds:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
		}
	}

	return result, nil
}

func (s *stubSynthesizer) ListVoices(_ context.Context) ([]byte, error) {
	return []byte(`{"voices":[]}`), nil
}

// brokenCache fails every write while reads behave as an empty cache.
type brokenCache struct {
	core.CacheStore
}

func (brokenCache) Find(_ context.Context, _, _ string) (*core.CacheEntry, error) {
	return nil, nil
}

func (brokenCache) InsertIfAbsent(_ context.Context, _ *core.CacheEntry) (bool, error) {
	return false, errCacheDown
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, log.Close())
	})

	return log
}

func newOrchestrator(
	t *testing.T,
	synthesizer core.Synthesizer,
) (*pipeline.Orchestrator, *cache.Store) {
	t.Helper()

	store, err := cache.New(filepath.Join(t.TempDir(), "cache.db"), 0)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	local, err := blobstore.NewLocalStore(t.TempDir(), "http://localhost:8084")
	require.NoError(t, err)

	blobs := blobstore.NewFallback(nil, local, newTestLogger(t))

	return pipeline.New(synthesizer, blobs, store, newTestLogger(t)), store
}

func TestOrchestrator_GenerateAndCacheHit(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{withTiming: true}
	orchestrator, _ := newOrchestrator(t, synthesizer)

	request := pipeline.GenerateRequest{
		Text:    "hi mom",
		VoiceID: "voice-a",
		BookID:  "book-1",
	}

	ctx := context.Background()

	first, err := orchestrator.Generate(ctx, request)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.False(t, first.Alignment.IsEstimated)
	require.Len(t, first.Alignment.Words, 2)
	assert.Contains(t, first.AudioURL, "/uploads/books/book-1/audio/")

	// Identical inputs must be served from the cache with no vendor call.
	second, err := orchestrator.Generate(ctx, request)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.AudioURL, second.AudioURL)
	assert.Equal(t, first.Alignment, second.Alignment)
	assert.Equal(t, 1, synthesizer.calls)
}

func TestOrchestrator_EstimatesWhenVendorHasNoTiming(t *testing.T) {
	t.Parallel()

	orchestrator, _ := newOrchestrator(t, &stubSynthesizer{})

	result, err := orchestrator.Generate(context.Background(), pipeline.GenerateRequest{
		Text:    "Hello world",
		VoiceID: "voice-a",
	})
	require.NoError(t, err)

	require.True(t, result.Alignment.IsEstimated)
	require.Len(t, result.Alignment.Words, 2)
	assert.InDelta(t, 0.4, result.Alignment.Words[0].EndSeconds, 1e-9)
}

func TestOrchestrator_VendorFailureIsFatal(t *testing.T) {
	t.Parallel()

	orchestrator, store := newOrchestrator(t, &stubSynthesizer{fail: true})

	_, err := orchestrator.Generate(context.Background(), pipeline.GenerateRequest{
		Text:    "hi",
		VoiceID: "voice-a",
	})
	require.ErrorIs(t, err, errVendorDown)

	// A failed generation must leave no cache entry behind.
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalEntries)
}

func TestOrchestrator_CacheWriteFailureStillReturnsAudio(t *testing.T) {
	t.Parallel()

	local, err := blobstore.NewLocalStore(t.TempDir(), "http://localhost:8084")
	require.NoError(t, err)

	log := newTestLogger(t)
	blobs := blobstore.NewFallback(nil, local, log)
	orchestrator := pipeline.New(&stubSynthesizer{}, blobs, brokenCache{}, log)

	result, err := orchestrator.Generate(context.Background(), pipeline.GenerateRequest{
		Text:    "hi",
		VoiceID: "voice-a",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AudioURL)
}

func TestOrchestrator_Validation(t *testing.T) {
	t.Parallel()

	orchestrator, _ := newOrchestrator(t, &stubSynthesizer{})
	ctx := context.Background()

	_, err := orchestrator.Generate(ctx, pipeline.GenerateRequest{VoiceID: "voice-a"})
	require.ErrorIs(t, err, pipeline.ErrTextRequired)

	_, err = orchestrator.Generate(ctx, pipeline.GenerateRequest{Text: "hi"})
	require.ErrorIs(t, err, pipeline.ErrVoiceRequired)
}

func TestOrchestrator_LanguageChangesCacheIdentity(t *testing.T) {
	t.Parallel()

	synthesizer := &stubSynthesizer{}
	orchestrator, _ := newOrchestrator(t, synthesizer)
	ctx := context.Background()

	_, err := orchestrator.Generate(ctx, pipeline.GenerateRequest{
		Text: "hallo", VoiceID: "voice-a", LanguageCode: "de",
	})
	require.NoError(t, err)

	_, err = orchestrator.Generate(ctx, pipeline.GenerateRequest{
		Text: "hallo", VoiceID: "voice-a", LanguageCode: "fr",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, synthesizer.calls)
}
