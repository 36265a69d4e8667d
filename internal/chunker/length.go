package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// LengthFunc measures text in the unit ChunkSize and ChunkOverlap are given in.
type LengthFunc func(string) int

// Length units accepted by LengthFor.
const (
	UnitChars    = "chars"
	UnitTokens   = "tokens"
	UnitEstimate = "estimate"
)

// DefaultEncoding is the tiktoken encoding used for UnitTokens.
const DefaultEncoding = "cl100k_base"

// Runes counts Unicode code points, so CJK text is measured per character.
func Runes(text string) int {
	return utf8.RuneCountInString(text)
}

// EstimateTokens gives a rough token count from the word count.
// It needs no encoding tables, which makes it usable offline.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	// Roughly 0.75 words per token for English text.
	tokens := int(float64(words) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// TokenLength counts tokens with the named tiktoken encoding.
// The encoding tables are fetched and cached by tiktoken-go on first use.
func TokenLength(encoding string) (LengthFunc, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// LengthFor resolves a configured unit name to a LengthFunc.
func LengthFor(unit, encoding string) (LengthFunc, error) {
	switch strings.ToLower(unit) {
	case "", UnitChars, "runes":
		return Runes, nil
	case UnitEstimate:
		return EstimateTokens, nil
	case UnitTokens:
		return TokenLength(encoding)
	default:
		return nil, &ConfigError{Field: "length", Reason: fmt.Sprintf("unknown length unit %q", unit)}
	}
}
