// Package cache implements the persistent narration cache on SQLite.
//
// Concurrency safety for duplicate generation lives entirely in this layer:
// the composite primary key on (content_hash, voice_id) guarantees at most
// one row per pair, and InsertIfAbsent treats a lost race as success.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/book-expert/narration-service/internal/core"
)

// DefaultRetention is the soft TTL applied to cache entries. Expired rows
// are treated as misses on read; expiry is not a correctness invariant.
const DefaultRetention = 30 * 24 * time.Hour

// ErrNilEntry indicates an InsertIfAbsent call with no entry.
var ErrNilEntry = errors.New("cache entry cannot be nil")

const createTable = `
CREATE TABLE IF NOT EXISTS narration_cache (
	content_hash TEXT NOT NULL,
	voice_id     TEXT NOT NULL,
	source_text  TEXT NOT NULL,
	audio_url    TEXT NOT NULL,
	alignment    BLOB NOT NULL,
	is_estimated INTEGER NOT NULL,
	created_at   DATETIME NOT NULL,
	PRIMARY KEY (content_hash, voice_id)
);
`

// Store is a core.CacheStore backed by a SQLite database file.
type Store struct {
	db        *sql.DB
	retention time.Duration
}

// New opens (creating if needed) the cache database at dbPath. A
// non-positive retention falls back to DefaultRetention.
func New(dbPath string, retention time.Duration) (*Store, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database at %s: %w", dbPath, err)
	}

	// SQLite allows one writer at a time; a single pooled connection keeps
	// concurrent inserts queued instead of failing with a busy error.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(createTable)
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to migrate cache database: %w (close: %w)", err, closeErr)
		}

		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	return &Store{db: db, retention: retention}, nil
}

// Find returns the entry for (contentHash, voiceID), or nil when no row
// exists or the row has outlived the retention window.
func (s *Store) Find(ctx context.Context, contentHash, voiceID string) (*core.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source_text, audio_url, alignment, created_at
		 FROM narration_cache WHERE content_hash = ? AND voice_id = ?`,
		contentHash, voiceID,
	)

	var (
		entry         core.CacheEntry
		alignmentBlob []byte
	)

	err := row.Scan(&entry.SourceText, &entry.AudioURL, &alignmentBlob, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query cache entry: %w", err)
	}

	if time.Since(entry.CreatedAt) > s.retention {
		// Drop the expired row now so a fresh generation can re-insert
		// under the same key instead of being ignored forever.
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM narration_cache WHERE content_hash = ? AND voice_id = ?`,
			contentHash, voiceID)

		return nil, nil
	}

	err = json.Unmarshal(alignmentBlob, &entry.Alignment)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached alignment: %w", err)
	}

	entry.ContentHash = contentHash
	entry.VoiceID = voiceID

	return &entry, nil
}

// InsertIfAbsent writes the entry unless a row for the same
// (content_hash, voice_id) already exists. A lost race is not an error: the
// surviving row was produced from identical inputs, so the in-flight write
// is redundant. The return value reports whether this call created the row.
func (s *Store) InsertIfAbsent(ctx context.Context, entry *core.CacheEntry) (bool, error) {
	if entry == nil {
		return false, ErrNilEntry
	}

	alignmentBlob, err := json.Marshal(entry.Alignment)
	if err != nil {
		return false, fmt.Errorf("failed to encode alignment: %w", err)
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	isEstimated := 0
	if entry.Alignment.IsEstimated {
		isEstimated = 1
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO narration_cache
		 (content_hash, voice_id, source_text, audio_url, alignment, is_estimated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ContentHash, entry.VoiceID, entry.SourceText, entry.AudioURL,
		alignmentBlob, isEstimated, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cache entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	return affected > 0, nil
}

// DeleteAll removes every cache entry and returns the number removed.
// Expired rows are purged first so the count matches what Stats reported.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	s.purgeExpired(ctx)

	return s.deleteWhere(ctx, `DELETE FROM narration_cache`)
}

// DeleteByVoice removes all entries for one voice and returns the count.
func (s *Store) DeleteByVoice(ctx context.Context, voiceID string) (int64, error) {
	s.purgeExpired(ctx)

	return s.deleteWhere(ctx, `DELETE FROM narration_cache WHERE voice_id = ?`, voiceID)
}

// DeleteOne removes the entry for a single (contentHash, voiceID) pair.
func (s *Store) DeleteOne(ctx context.Context, contentHash, voiceID string) (int64, error) {
	s.purgeExpired(ctx)

	return s.deleteWhere(ctx,
		`DELETE FROM narration_cache WHERE content_hash = ? AND voice_id = ?`,
		contentHash, voiceID,
	)
}

// Stats returns aggregate counts over unexpired entries, split by whether
// the alignment was estimated or vendor-derived.
func (s *Store) Stats(ctx context.Context) (core.CacheStats, error) {
	var stats core.CacheStats

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_estimated), 0)
		 FROM narration_cache WHERE created_at > ?`,
		s.expiryCutoff(),
	)

	err := row.Scan(&stats.TotalEntries, &stats.EstimatedEntries)
	if err != nil {
		return core.CacheStats{}, fmt.Errorf("failed to query cache stats: %w", err)
	}

	stats.RealTimestampEntries = stats.TotalEntries - stats.EstimatedEntries

	return stats, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}

	return nil
}

func (s *Store) deleteWhere(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted cache entries: %w", err)
	}

	return count, nil
}

// purgeExpired opportunistically drops rows past the retention window so
// targeted admin deletions report counts over live entries only. Failures
// are ignored; expiry is enforced on read regardless.
func (s *Store) purgeExpired(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM narration_cache WHERE created_at <= ?`, s.expiryCutoff())
}

func (s *Store) expiryCutoff() time.Time {
	return time.Now().UTC().Add(-s.retention)
}
