// main package for the narration-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/blobstore"
	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/book-expert/narration-service/internal/provider"
	"github.com/book-expert/narration-service/internal/server"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/nats-io/nats.go"
)

const hoursPerDay = 24

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "narration-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// Bootstrap logger covers the window before configuration is available.
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	cacheStore, err := cache.New(
		cfg.Cache.DBPath,
		time.Duration(cfg.Cache.RetentionDays)*hoursPerDay*time.Hour,
	)
	if err != nil {
		return fmt.Errorf("failed to open narration cache: %w", err)
	}

	defer func() {
		closeErr := cacheStore.Close()
		if closeErr != nil {
			log.Warn("Failed to close narration cache: %v", closeErr)
		}
	}()

	localStore, err := blobstore.NewLocalStore(cfg.Storage.UploadsDir, cfg.HTTP.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("failed to prepare local blob store: %w", err)
	}

	natsConnection, natsStore, err := connectObjectStore(cfg, log)
	if err != nil {
		return err
	}

	if natsConnection != nil {
		defer natsConnection.Close()
	}

	synthesizer := provider.New(provider.Config{
		BaseURL:             cfg.Vendor.BaseURL,
		APIKey:              cfg.Vendor.APIKey,
		DefaultModelID:      cfg.Vendor.DefaultModelID,
		MultilingualModelID: cfg.Vendor.MultilingualModelID,
		Stability:           cfg.Vendor.Stability,
		SimilarityBoost:     cfg.Vendor.SimilarityBoost,
		Timeout:             time.Duration(cfg.Vendor.SynthesisTimeoutSeconds) * time.Second,
		VoicesTimeout:       time.Duration(cfg.Vendor.VoicesTimeoutSeconds) * time.Second,
	}, log)

	// A nil *NatsStore must not be wrapped into a non-nil Store interface.
	var primary blobstore.Store
	if natsStore != nil {
		primary = natsStore
	}

	blobs := blobstore.NewFallback(primary, localStore, log)
	orchestrator := pipeline.New(synthesizer, blobs, cacheStore, log)

	var objects server.ObjectGetter
	if natsStore != nil {
		objects = natsStore
	}

	apiServer := server.New(
		orchestrator, synthesizer, cacheStore, objects,
		localStore.RootDir(), cfg.HTTP.ListenAddr, log,
	)

	startWorker(ctx, cfg, natsConnection, natsStore, orchestrator, log)

	err = apiServer.ListenAndServe(ctx)
	if err != nil {
		return fmt.Errorf("narration API failed: %w", err)
	}

	return nil
}

// connectObjectStore dials NATS and binds the audio bucket when configured.
// Both the connection and the store are nil when the bucket is unset.
func connectObjectStore(
	cfg *config.Config,
	log *logger.Logger,
) (*nats.Conn, *blobstore.NatsStore, error) {
	if cfg.Storage.AudioObjectStoreBucket == "" || cfg.NATS.URL == "" {
		log.Warn("Object storage not configured; audio will be stored on local disk only.")

		return nil, nil, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	natsStore, err := blobstore.NewNatsStore(
		jetstreamContext,
		cfg.Storage.AudioObjectStoreBucket,
		cfg.HTTP.PublicBaseURL,
		time.Duration(cfg.Storage.UploadTimeoutSeconds)*time.Second,
	)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to bind audio object store: %w", err)
	}

	return natsConnection, natsStore, nil
}

// startWorker launches the ingest worker when it is enabled and NATS is
// available. The worker shares the orchestrator, so warmed entries are
// served by the HTTP API immediately.
func startWorker(
	ctx context.Context,
	cfg *config.Config,
	natsConnection *nats.Conn,
	natsStore *blobstore.NatsStore,
	orchestrator *pipeline.Orchestrator,
	log *logger.Logger,
) {
	if !cfg.NATS.WorkerEnabled {
		return
	}

	if natsConnection == nil || natsStore == nil {
		log.Warn("Ingest worker enabled but NATS is not configured; worker not started.")

		return
	}

	ingestWorker := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.TextProcessedSubject,
		natsStore,
		orchestrator,
		cfg.NATS.DefaultVoiceID,
		log,
	)

	go func() {
		runErr := ingestWorker.Run(ctx)
		if runErr != nil {
			log.Error("Ingest worker stopped: %v", runErr)
		}
	}()

	log.System("Ingest worker listening on subject: %s", cfg.NATS.TextProcessedSubject)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
