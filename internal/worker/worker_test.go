// Package worker_test tests the NATS ingest worker for the narration service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/blobstore"
	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/google/uuid"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockFetch = errors.New("mock fetch error")

// mockTextFetcher is a mock implementation of the TextFetcher interface.
type mockTextFetcher struct {
	fetchShouldFail bool
	fetchedKey      string
}

func (m *mockTextFetcher) Get(_ context.Context, key string) ([]byte, error) {
	if m.fetchShouldFail {
		return nil, errMockFetch
	}

	m.fetchedKey = key

	return []byte("sample narration text"), nil
}

// mockSynthesizer returns canned audio with no timing data.
type mockSynthesizer struct {
	calls int
}

func (m *mockSynthesizer) Synthesize(
	_ context.Context,
	_, _, _ string,
) (*core.SpeechResult, error) {
	m.calls++

	return &core.SpeechResult{Audio: []byte("sample audio"), Characters: nil}, nil
}

func (m *mockSynthesizer) ListVoices(_ context.Context) ([]byte, error) {
	return []byte(`{"voices":[]}`), nil
}

func createTestNatsClient(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	cleanup := func() {
		server.Shutdown()
		natsConnection.Close()
	}

	return natsConnection, cleanup
}

func setupTest(t *testing.T) (
	*worker.NatsWorker,
	*mockTextFetcher,
	*mockSynthesizer,
	context.Context,
	context.CancelFunc,
	*nats.Conn,
) {
	t.Helper()

	fetcher := &mockTextFetcher{fetchShouldFail: false, fetchedKey: ""}
	synthesizer := &mockSynthesizer{}

	natsConnection, natsCleanup := createTestNatsClient(t)
	t.Cleanup(natsCleanup)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	store, err := cache.New(filepath.Join(t.TempDir(), "cache.db"), 0)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	local, err := blobstore.NewLocalStore(t.TempDir(), "http://localhost:8084")
	require.NoError(t, err)

	orchestrator := pipeline.New(
		synthesizer,
		blobstore.NewFallback(nil, local, testLogger),
		store,
		testLogger,
	)

	workerInstance := worker.NewNatsWorker(
		natsConnection, "test_subject", fetcher, orchestrator, "default-voice", testLogger,
	)

	ctx, cancel := context.WithCancel(context.Background())

	return workerInstance, fetcher, synthesizer, ctx, cancel, natsConnection
}

func testEvent() *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           "test-text-key",
		PNGKey:            "",
		PageNumber:        3,
		TotalPages:        12,
		Voice:             "",
		Seed:              0,
		NGL:               0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       0,
	}
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	workerInstance, fetcher, synthesizer, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	event := testEvent()
	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request("test_subject", eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent

	err = json.Unmarshal(replyMsg.Data, &replyEvent)
	require.NoError(t, err)

	assert.Equal(t, "test-text-key", fetcher.fetchedKey)
	assert.Equal(t, 1, synthesizer.calls)
	assert.Contains(t, replyEvent.AudioKey, "/uploads/audio/")
	assert.Equal(t, event.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.Equal(t, event.PageNumber, replyEvent.PageNumber)
	assert.Equal(t, event.TotalPages, replyEvent.TotalPages)

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_RepublishedEventHitsCache(t *testing.T) {
	t.Parallel()

	workerInstance, _, synthesizer, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	go func() {
		_ = workerInstance.Run(ctx)
	}()

	eventData, err := json.Marshal(testEvent())
	require.NoError(t, err)

	_, err = natsConnection.Request("test_subject", eventData, 5*time.Second)
	require.NoError(t, err)

	// Same text key and voice: the cache absorbs the duplicate.
	_, err = natsConnection.Request("test_subject", eventData, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 1, synthesizer.calls)
}

func TestMessageHandler_FetchFailureProducesNoReply(t *testing.T) {
	t.Parallel()

	workerInstance, fetcher, _, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	fetcher.fetchShouldFail = true

	go func() {
		_ = workerInstance.Run(ctx)
	}()

	eventData, err := json.Marshal(testEvent())
	require.NoError(t, err)

	_, err = natsConnection.Request("test_subject", eventData, time.Second)
	require.Error(t, err, "a failed job must not produce a reply event")
}
