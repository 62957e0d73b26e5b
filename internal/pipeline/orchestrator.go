// Package pipeline composes cache lookup, vendor synthesis, alignment
// normalization, and blob persistence into the end-to-end narration flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/alignment"
	"github.com/book-expert/narration-service/internal/blobstore"
	"github.com/book-expert/narration-service/internal/cachekey"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/google/uuid"
)

// Static errors.
var (
	// ErrTextRequired indicates a generation request without text.
	ErrTextRequired = errors.New("text is required")
	// ErrVoiceRequired indicates a generation request without a voice id.
	ErrVoiceRequired = errors.New("voiceId is required")
)

// GenerateRequest is one narration request.
type GenerateRequest struct {
	Text         string
	VoiceID      string
	BookID       string
	LanguageCode string
}

// GenerateResult is the outcome returned to the caller. FromCache reports
// whether the artifact was served without a vendor call.
type GenerateResult struct {
	AudioURL  string
	Alignment core.Alignment
	FromCache bool
}

// Orchestrator runs the generation flow. Requests are independent; the only
// shared state is the persistent cache, whose uniqueness constraint resolves
// concurrent duplicate generations.
type Orchestrator struct {
	synthesizer core.Synthesizer
	blobs       blobstore.Store
	cache       core.CacheStore
	log         *logger.Logger
}

// New wires an orchestrator from its collaborators.
func New(
	synthesizer core.Synthesizer,
	blobs blobstore.Store,
	cache core.CacheStore,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		synthesizer: synthesizer,
		blobs:       blobs,
		cache:       cache,
		log:         log,
	}
}

// Generate returns the cached artifact for the request when one exists, and
// otherwise synthesizes, normalizes, persists, and caches a new one. Once
// synthesis has succeeded, cache-write failures never fail the request.
func (o *Orchestrator) Generate(
	ctx context.Context,
	request GenerateRequest,
) (*GenerateResult, error) {
	err := validate(request)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	contentHash := cachekey.Derive(request.Text, request.VoiceID, request.LanguageCode)

	cached := o.lookup(ctx, requestID, contentHash, request.VoiceID)
	if cached != nil {
		o.log.Info("Request %s: cache hit for hash %.12s voice %s", requestID, contentHash, request.VoiceID)

		return &GenerateResult{
			AudioURL:  cached.AudioURL,
			Alignment: cached.Alignment,
			FromCache: true,
		}, nil
	}

	speech, err := o.synthesizer.Synthesize(ctx, request.Text, request.VoiceID, request.LanguageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	aligned := alignment.Normalize(request.Text, speech.Characters)

	audioURL, err := o.blobs.Save(ctx, blobstore.ObjectPath(request.BookID, contentHash), speech.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to persist audio: %w", err)
	}

	o.writeCache(ctx, requestID, &core.CacheEntry{
		ContentHash: contentHash,
		VoiceID:     request.VoiceID,
		SourceText:  request.Text,
		AudioURL:    audioURL,
		Alignment:   aligned,
		CreatedAt:   time.Now().UTC(),
	})

	return &GenerateResult{
		AudioURL:  audioURL,
		Alignment: aligned,
		FromCache: false,
	}, nil
}

// lookup treats any cache read failure as a miss so a degraded cache never
// blocks generation.
func (o *Orchestrator) lookup(
	ctx context.Context,
	requestID, contentHash, voiceID string,
) *core.CacheEntry {
	entry, err := o.cache.Find(ctx, contentHash, voiceID)
	if err != nil {
		o.log.Warn("Request %s: cache lookup failed, generating fresh: %v", requestID, err)

		return nil
	}

	return entry
}

// writeCache records the artifact. A concurrent duplicate is absorbed by
// InsertIfAbsent; any other failure is logged and swallowed because the
// synthesized audio is already safe to return.
func (o *Orchestrator) writeCache(ctx context.Context, requestID string, entry *core.CacheEntry) {
	inserted, err := o.cache.InsertIfAbsent(ctx, entry)
	if err != nil {
		o.log.Warn("Request %s: cache write failed, returning audio anyway: %v", requestID, err)

		return
	}

	if !inserted {
		o.log.Info("Request %s: concurrent generation already cached hash %.12s", requestID, entry.ContentHash)
	}
}

func validate(request GenerateRequest) error {
	if request.Text == "" {
		return ErrTextRequired
	}

	if request.VoiceID == "" {
		return ErrVoiceRequired
	}

	return nil
}
