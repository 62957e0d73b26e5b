// Package worker provides a NATS worker that pre-warms the narration cache.
//
// Book ingestion publishes text-processed events; the worker runs each one
// through the same generation pipeline as the HTTP API, so by the time a
// reader opens the page the narration for it is already cached.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 90 * time.Second

var (
	// ErrTextKeyEmpty indicates an event without a text object key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrVoiceEmpty indicates an event without a voice and no configured default.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
)

// TextFetcher retrieves preprocessed text blobs by object key.
type TextFetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// NatsWorker listens for text-processed events and generates narration.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	texts          TextFetcher
	orchestrator   *pipeline.Orchestrator
	defaultVoiceID string
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	texts TextFetcher,
	orchestrator *pipeline.Orchestrator,
	defaultVoiceID string,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		texts:          texts,
		orchestrator:   orchestrator,
		defaultVoiceID: defaultVoiceID,
		log:            log,
	}
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal text-processed event: %v", err)

		return
	}

	audioURL, err := w.generateNarration(ctx, &event)
	if err != nil {
		w.log.Error("Failed to generate narration for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioURL,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// generateNarration downloads the preprocessed text and runs the generation
// pipeline. The cache absorbs republished events for unchanged text.
func (w *NatsWorker) generateNarration(
	ctx context.Context,
	event *events.TextProcessedEvent,
) (string, error) {
	if event.TextKey == "" {
		return "", ErrTextKeyEmpty
	}

	voiceID := event.Voice
	if voiceID == "" {
		voiceID = w.defaultVoiceID
	}

	if voiceID == "" {
		return "", ErrVoiceEmpty
	}

	textData, err := w.texts.Get(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	result, err := w.orchestrator.Generate(ctx, pipeline.GenerateRequest{
		Text:         string(textData),
		VoiceID:      voiceID,
		BookID:       "",
		LanguageCode: "",
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate narration: %w", err)
	}

	if result.FromCache {
		w.log.Info("Narration for key '%s' already cached", event.TextKey)
	}

	return result.AudioURL, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}
