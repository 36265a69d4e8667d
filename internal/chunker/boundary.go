package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Boundary cuts text at one kind of split point. The returned pieces must be
// consecutive and concatenate back to exactly the input; separators stay
// attached to the end of the piece they terminate.
type Boundary interface {
	Name() string
	Split(text string) []string
}

// Separator splits after every occurrence of a literal string.
type Separator string

const (
	ParagraphBreak Separator = "\n\n"
	LineBreak      Separator = "\n"
	WordBreak      Separator = " "
)

func (s Separator) Name() string { return fmt.Sprintf("separator %q", string(s)) }

func (s Separator) Split(text string) []string {
	if s == "" {
		return Characters.Split(text)
	}
	sep := string(s)
	var out []string
	for {
		i := strings.Index(text, sep)
		if i < 0 {
			break
		}
		out = append(out, text[:i+len(sep)])
		text = text[i+len(sep):]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// PatternBoundary splits right after every match of a regular expression.
type PatternBoundary struct {
	name string
	re   *regexp.Regexp
}

// NewPatternBoundary compiles pattern into a Boundary. Empty matches are ignored.
func NewPatternBoundary(name, pattern string) (*PatternBoundary, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile boundary %s: %w", name, err)
	}
	return &PatternBoundary{name: name, re: re}, nil
}

func (b *PatternBoundary) Name() string { return b.name }

func (b *PatternBoundary) Split(text string) []string {
	var out []string
	start := 0
	for _, loc := range b.re.FindAllStringIndex(text, -1) {
		if loc[1] <= start {
			continue
		}
		out = append(out, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// SentencePattern ends a sentence at Latin terminators followed by whitespace
// or end of text, and at CJK terminators regardless of what follows. Closing
// quotes and brackets stay with the sentence they close, and trailing
// whitespace stays with the preceding sentence.
const SentencePattern = `[.!?]+["'”’)\]]*(?:\s+|$)|[。！？；]+["'”’」』）)\]]*\s*`

// Sentences is the default sentence policy.
var Sentences Boundary = mustPattern("sentence", SentencePattern)

func mustPattern(name, pattern string) *PatternBoundary {
	b, err := NewPatternBoundary(name, pattern)
	if err != nil {
		panic(err)
	}
	return b
}

type characterBoundary struct{}

// Characters splits text into single runes; it is the last-resort fallback.
var Characters Boundary = characterBoundary{}

func (characterBoundary) Name() string { return "character" }

func (characterBoundary) Split(text string) []string {
	out := make([]string, 0, utf8.RuneCountInString(text))
	for len(text) > 0 {
		_, n := utf8.DecodeRuneInString(text)
		out = append(out, text[:n])
		text = text[n:]
	}
	return out
}

// Unspaced reports whether r belongs to a script written without spaces
// between words (Han, Hiragana, Katakana) or is CJK punctuation. Every such
// rune is its own word.
func Unspaced(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) ||
		(r >= 0x3000 && r <= 0x303f) || // CJK symbols and punctuation
		(r >= 0xff00 && r <= 0xffef) // halfwidth and fullwidth forms
}

type ideographBoundary struct{}

// Ideographs cuts before and after every unspaced rune, so runs of Chinese or
// Japanese text split like words do. Text in spaced scripts is left whole.
var Ideographs Boundary = ideographBoundary{}

func (ideographBoundary) Name() string { return "ideograph" }

func (ideographBoundary) Split(text string) []string {
	var out []string
	start := 0
	prevUnspaced := false
	for i, r := range text {
		u := Unspaced(r)
		if i > start && (u || prevUnspaced) {
			out = append(out, text[start:i])
			start = i
		}
		prevUnspaced = u
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
