// Package cachekey derives the content address used to cache narration artifacts.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultLanguageCode is the language that the cache key treats as implicit.
// A request with this language code hashes identically to a request with no
// language code at all, so the two can never produce divergent cache entries.
const DefaultLanguageCode = "en"

// Derive computes the content address for a (text, voice, language) triple.
// The key is the SHA-256 digest of text+voiceID, with languageCode appended
// only when it is present and not the default language. Identical inputs
// always yield an identical key.
func Derive(text, voiceID, languageCode string) string {
	hasher := sha256.New()
	hasher.Write([]byte(text))
	hasher.Write([]byte(voiceID))

	if languageCode != "" && languageCode != DefaultLanguageCode {
		hasher.Write([]byte(languageCode))
	}

	return hex.EncodeToString(hasher.Sum(nil))
}
