package chunker

import (
	"strings"
	"unicode"
)

// Span is one chunk of split text. Start and End are byte offsets into the
// input and Text is input[Start:End], already trimmed of surrounding whitespace.
type Span struct {
	Start int
	End   int
	Text  string
}

// Splitter cuts text into overlapping chunks no longer than a size limit,
// preferring the earliest boundary in its list.
type Splitter struct {
	size       int
	overlap    int
	length     LengthFunc
	boundaries []Boundary
	midWord    bool // overlap may start inside a word
}

// NewSplitter validates cfg and builds a Splitter from it.
func NewSplitter(cfg Config) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	length := cfg.Length
	if length == nil {
		length = Runes
	}
	return &Splitter{
		size:       cfg.ChunkSize,
		overlap:    cfg.ChunkOverlap,
		length:     length,
		boundaries: cfg.Boundaries(),
		midWord:    cfg.CharacterFallback,
	}, nil
}

// Split returns the chunk texts for text.
func (s *Splitter) Split(text string) []string {
	spans := s.Spans(text)
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.Text
	}
	return out
}

// Spans splits text and reports where each chunk came from.
func (s *Splitter) Spans(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.merge(text, s.pieces(text))
}

type piece struct{ start, end int }

type workItem struct {
	start, end int
	boundary   int // index of the next boundary to try
}

// pieces cuts text into consecutive segments that each fit the size limit,
// or that no boundary can split any further. Items are taken from the end of
// the work list and pushed back in reverse, so output stays in document order.
func (s *Splitter) pieces(text string) []piece {
	var out []piece
	work := []workItem{{start: 0, end: len(text)}}

	for len(work) > 0 {
		item := work[len(work)-1]
		work = work[:len(work)-1]

		seg := text[item.start:item.end]
		if item.boundary >= len(s.boundaries) || s.length(seg) <= s.size {
			out = append(out, piece{item.start, item.end})
			continue
		}

		parts := s.boundaries[item.boundary].Split(seg)
		if !covers(parts, seg) {
			// A boundary that loses or invents text is skipped.
			parts = []string{seg}
		}

		end := item.end
		for i := len(parts) - 1; i >= 0; i-- {
			start := end - len(parts[i])
			work = append(work, workItem{start: start, end: end, boundary: item.boundary + 1})
			end = start
		}
	}
	return out
}

func covers(parts []string, seg string) bool {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n == len(seg) && strings.Join(parts, "") == seg
}

// merge packs consecutive pieces greedily into chunks. Each chunk after the
// first starts at the earliest word inside the previous chunk whose tail is
// within the overlap and still leaves room for the next piece, so consecutive
// chunks share close to ChunkOverlap of text even when pieces are whole
// sentences.
func (s *Splitter) merge(text string, pieces []piece) []Span {
	if len(pieces) == 0 {
		return nil
	}
	var spans []Span
	start := pieces[0].start

	for i := 1; i < len(pieces); i++ {
		if s.length(text[start:pieces[i].end]) <= s.size {
			continue
		}
		end := pieces[i-1].end
		spans = appendSpan(spans, text, start, end)
		start = s.overlapStart(text, start, end, pieces[i].end)
	}
	return appendSpan(spans, text, start, pieces[len(pieces)-1].end)
}

// overlapStart picks where the chunk following text[start:end] begins. The
// result is end when no tail fits.
func (s *Splitter) overlapStart(text string, start, end, nextEnd int) int {
	if s.overlap == 0 {
		return end
	}
	if o, ok := s.fitTail(text, tailStarts(text, start, end, false), end, nextEnd); ok {
		return o
	}
	if s.midWord {
		if o, ok := s.fitTail(text, tailStarts(text, start, end, true), end, nextEnd); ok {
			return o
		}
	}
	return end
}

// fitTail walks candidates from the back and returns the earliest one whose
// tail, as the trimmed chunk shows it, fits the overlap and whose window,
// extended to nextEnd, fits the size. Both lengths only grow as the candidate
// moves back.
func (s *Splitter) fitTail(text string, candidates []int, end, nextEnd int) (int, bool) {
	best, ok := 0, false
	for k := len(candidates) - 1; k >= 0; k-- {
		o := candidates[k]
		shared := strings.TrimRightFunc(text[o:end], unicode.IsSpace)
		if s.length(shared) > s.overlap || s.length(text[o:nextEnd]) > s.size {
			break
		}
		best, ok = o, true
	}
	return best, ok
}

// tailStarts lists, in order, the offsets in (start, end) where a chunk may
// begin: the first rune of a word, any unspaced rune, or with anyRune every
// rune that is not whitespace.
func tailStarts(text string, start, end int, anyRune bool) []int {
	var offsets []int
	var prev rune
	for i, r := range text[start:end] {
		if i > 0 && !unicode.IsSpace(r) &&
			(anyRune || unicode.IsSpace(prev) || Unspaced(prev) || Unspaced(r)) {
			offsets = append(offsets, start+i)
		}
		prev = r
	}
	return offsets
}

func appendSpan(spans []Span, text string, start, end int) []Span {
	seg := text[start:end]
	left := strings.TrimLeftFunc(seg, unicode.IsSpace)
	start += len(seg) - len(left)
	trimmed := strings.TrimRightFunc(left, unicode.IsSpace)
	if trimmed == "" {
		return spans
	}
	// A window holding nothing past the previous chunk adds no text.
	if n := len(spans); n > 0 && start+len(trimmed) <= spans[n-1].End {
		return spans
	}
	return append(spans, Span{Start: start, End: start + len(trimmed), Text: trimmed})
}
