package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ObjectsMount is the HTTP mount under which NATS-stored audio is served.
const ObjectsMount = "/objects/"

// DefaultUploadTimeout bounds a single object-store Put. A hung JetStream
// write must fail over to local disk well before the caller's synthesis
// window runs out.
const DefaultUploadTimeout = 15 * time.Second

// NatsStore implements Store on a NATS JetStream object-store bucket. The
// minted URLs point back at this service's own objects mount, which streams
// the bytes out of the bucket.
type NatsStore struct {
	bucket        string
	store         nats.ObjectStore
	publicBaseURL string
	uploadTimeout time.Duration
}

// NewNatsStore creates or binds the named bucket. Uses a "create-first"
// approach: creation is attempted, and an already-existing bucket is bound
// instead. A non-positive uploadTimeout falls back to DefaultUploadTimeout.
func NewNatsStore(
	jetstreamContext nats.JetStreamContext,
	bucketName, publicBaseURL string,
	uploadTimeout time.Duration,
) (*NatsStore, error) {
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Narration audio for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsStore{
		bucket:        bucketName,
		store:         store,
		publicBaseURL: publicBaseURL,
		uploadTimeout: uploadTimeout,
	}, nil
}

// Save uploads the audio bytes under the given path and returns the public
// URL at which the object can be fetched. The write is bounded by the
// configured upload timeout and by the caller's context.
func (n *NatsStore) Save(ctx context.Context, path string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.uploadTimeout)
	defer cancel()

	reader := bytes.NewReader(data)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        path,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to put object '%s' to bucket '%s': %w", path, n.bucket, err)
	}

	return joinURL(n.publicBaseURL, ObjectsMount, path), nil
}

// Get retrieves a stored object so the HTTP layer can serve it.
func (n *NatsStore) Get(_ context.Context, path string) ([]byte, error) {
	obj, err := n.store.Get(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", path, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", path, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", path, closeErr)
	}

	return data, nil
}
