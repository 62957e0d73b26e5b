// Package alignment converts vendor character-level timing into the
// word-level timing consumed by the reading client, and estimates timing
// when the vendor supplied none. All functions are pure.
package alignment

import (
	"errors"
	"strings"

	"github.com/book-expert/narration-service/internal/core"
)

// EstimatedWordSeconds is the per-word duration used by the estimation
// fallback, approximating an average speaking rate of 150 words per minute.
const EstimatedWordSeconds = 0.4

// ErrMismatchedTiming indicates that the vendor's parallel timing arrays
// disagree in length and cannot be interpreted.
var ErrMismatchedTiming = errors.New("character timing arrays have mismatched lengths")

// Normalize produces word-level timing for text. When characters carries
// well-formed vendor timing it is converted exactly; otherwise the timing is
// estimated from the text alone.
func Normalize(text string, characters *core.CharacterTiming) core.Alignment {
	if characters != nil {
		aligned, err := FromCharacters(*characters)
		if err == nil {
			return aligned
		}
	}

	return Estimate(text)
}

// FromCharacters converts character-level timing to word-level timing.
//
// The character sequence is scanned left to right. Whitespace characters are
// word boundaries and never part of a word; each non-whitespace character
// extends the current word and advances its end time, while the word's start
// time stays fixed at its first character's start time.
func FromCharacters(characters core.CharacterTiming) (core.Alignment, error) {
	if len(characters.Characters) != len(characters.StartSeconds) ||
		len(characters.Characters) != len(characters.EndSeconds) {
		return core.Alignment{Words: nil, IsEstimated: false}, ErrMismatchedTiming
	}

	var (
		words   []core.WordTiming
		builder strings.Builder
		start   float64
		end     float64
	)

	flush := func() {
		if builder.Len() == 0 {
			return
		}

		words = append(words, core.WordTiming{
			Word:         strings.TrimSpace(builder.String()),
			StartSeconds: start,
			EndSeconds:   end,
		})
		builder.Reset()
	}

	for index, character := range characters.Characters {
		if isBoundary(character) {
			flush()

			continue
		}

		if builder.Len() == 0 {
			start = characters.StartSeconds[index]
		}

		builder.WriteString(character)

		end = characters.EndSeconds[index]
	}

	flush()

	return core.Alignment{Words: words, IsEstimated: false}, nil
}

// Estimate derives word timing from the text alone: word i spans
// [i*D, (i+1)*D] for the fixed per-word duration D.
func Estimate(text string) core.Alignment {
	fields := strings.Fields(text)

	words := make([]core.WordTiming, 0, len(fields))
	for index, field := range fields {
		words = append(words, core.WordTiming{
			Word:         field,
			StartSeconds: float64(index) * EstimatedWordSeconds,
			EndSeconds:   float64(index+1) * EstimatedWordSeconds,
		})
	}

	return core.Alignment{Words: words, IsEstimated: true}
}

// isBoundary reports whether a vendor character token is a word separator.
// The vendor emits one token per character, so a separator is a single
// space, tab, or newline.
func isBoundary(character string) bool {
	switch character {
	case " ", "\t", "\n", "\r":
		return true
	default:
		return false
	}
}
