// Package blobstore persists synthesized audio and mints the public URLs
// that clients resolve. The primary backend is a NATS JetStream object
// store; any primary failure falls back to local disk so a storage outage
// never blocks returning audio.
package blobstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

// Object path layout. The layout is a compatibility surface for the reading
// client and must remain stable.
const (
	bookPathFormat    = "books/%s/audio/%s"
	genericPathFormat = "audio/%s"
	objectNameFormat  = "%d_%s.mp3"
	hashPrefixLength  = 12
)

// Store is the persistence interface the pipeline depends on. Save returns
// a URL that is immediately resolvable by a client.
type Store interface {
	Save(ctx context.Context, path string, data []byte) (string, error)
}

// ObjectPath builds the relative storage path for one audio artifact. When
// bookID is supplied the object is namespaced under that book, otherwise it
// lands under the generic audio prefix.
func ObjectPath(bookID, contentHash string) string {
	hashPrefix := contentHash
	if len(hashPrefix) > hashPrefixLength {
		hashPrefix = hashPrefix[:hashPrefixLength]
	}

	name := fmt.Sprintf(objectNameFormat, time.Now().UnixMilli(), hashPrefix)

	if bookID != "" {
		return fmt.Sprintf(bookPathFormat, bookID, name)
	}

	return fmt.Sprintf(genericPathFormat, name)
}

// joinURL concatenates a base URL, a mount prefix, and a relative path
// without doubling separators.
func joinURL(baseURL, mount, path string) string {
	return strings.TrimRight(baseURL, "/") + mount + strings.TrimLeft(path, "/")
}

// Fallback is a Store that tries a primary backend and switches to a local
// backend on any primary error. A nil primary (object storage unconfigured)
// goes straight to local.
type Fallback struct {
	primary Store
	local   Store
	log     *logger.Logger
}

// NewFallback composes the two backends. The local store must not be nil.
func NewFallback(primary Store, local *LocalStore, log *logger.Logger) *Fallback {
	return &Fallback{
		primary: primary,
		local:   local,
		log:     log,
	}
}

// Save writes the audio bytes through the primary backend when available,
// falling back to local disk otherwise. The caller cannot tell which
// backend served the write except by inspecting the returned URL.
func (f *Fallback) Save(ctx context.Context, path string, data []byte) (string, error) {
	if f.primary != nil {
		url, err := f.primary.Save(ctx, path, data)
		if err == nil {
			return url, nil
		}

		f.log.Warn("Primary blob store failed for '%s', falling back to local disk: %v", path, err)
	}

	url, err := f.local.Save(ctx, path, data)
	if err != nil {
		return "", fmt.Errorf("failed to save blob '%s' to local fallback: %w", path, err)
	}

	return url, nil
}
