package chunker

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dgallion1/docsplit/internal/doctree"
	"github.com/dgallion1/docsplit/internal/outline"
	"github.com/dgallion1/docsplit/internal/parser"
)

// Defaults used by ProcessDocument when no configuration is given.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Config controls chunking behavior.
type Config struct {
	ChunkSize    int        // Maximum chunk length, in Length units.
	ChunkOverlap int        // Target overlap between consecutive chunks of a section.
	Length       LengthFunc // Defaults to Runes.

	// Sentences is the sentence policy tried after paragraph and line breaks.
	// Defaults to Sentences.
	Sentences Boundary

	// CharacterFallback lets the splitter cut single space-delimited words
	// that are longer than ChunkSize, and start an overlap mid-word. When
	// false such a word is emitted whole. Chinese and Japanese text is cut
	// between runes either way.
	CharacterFallback bool
}

// DefaultConfig returns a 500/50 character configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// ConfigError reports an unusable chunking configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid chunk config %s: %s", e.Field, e.Reason)
}

// Validate checks the size/overlap relationship.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return &ConfigError{Field: "chunk_size", Reason: fmt.Sprintf("must be positive, got %d", c.ChunkSize)}
	}
	if c.ChunkOverlap < 0 {
		return &ConfigError{Field: "chunk_overlap", Reason: fmt.Sprintf("must not be negative, got %d", c.ChunkOverlap)}
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return &ConfigError{
			Field:  "chunk_overlap",
			Reason: fmt.Sprintf("%d must be less than chunk_size %d", c.ChunkOverlap, c.ChunkSize),
		}
	}
	return nil
}

// Boundaries returns the split points in preference order: paragraph, line,
// sentence, word, unspaced runes, then characters when enabled.
func (c Config) Boundaries() []Boundary {
	sentences := c.Sentences
	if sentences == nil {
		sentences = Sentences
	}
	b := []Boundary{ParagraphBreak, LineBreak, sentences, WordBreak, Ideographs}
	if c.CharacterFallback {
		b = append(b, Characters)
	}
	return b
}

// Chunker turns sections into metadata-stamped chunks.
type Chunker struct {
	splitter *Splitter
}

// New validates cfg and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	s, err := NewSplitter(cfg)
	if err != nil {
		return nil, err
	}
	return &Chunker{splitter: s}, nil
}

// Chunk splits every section and stamps each chunk with the section's title
// and level, its position in the section and its position in the document.
// Sections with no text produce no chunks.
func (c *Chunker) Chunk(sections []doctree.Section, source string) []doctree.Chunk {
	var chunks []doctree.Chunk
	for _, sec := range sections {
		for seq, text := range c.splitter.Split(sec.Text) {
			chunks = append(chunks, doctree.Chunk{
				Content: text,
				Metadata: doctree.ChunkMetadata{
					Title:         sec.Title,
					Level:         sec.Level,
					SequenceIndex: seq,
					ChunkIndex:    len(chunks),
					Path:          copyPath(sec.Path),
					Source:        source,
				},
			})
		}
	}
	return chunks
}

// ChunkSections is New(cfg) followed by Chunk.
func ChunkSections(sections []doctree.Section, source string, cfg Config) ([]doctree.Chunk, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c.Chunk(sections, source), nil
}

// ProcessDocument reads a .docx file and returns its chunks in document order.
// The configuration is validated before the file is touched.
func ProcessDocument(path string, cfg Config) ([]doctree.Chunk, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	paras, err := parser.ReadDOCXFile(path)
	if err != nil {
		return nil, err
	}
	return c.Chunk(outline.Sections(paras), filepath.Base(path)), nil
}

// ProcessReader is ProcessDocument for documents that are already in memory,
// such as uploads. source names the document in chunk metadata.
func ProcessReader(r io.Reader, source string, cfg Config) ([]doctree.Chunk, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	paras, err := parser.ReadDOCX(r, source)
	if err != nil {
		return nil, err
	}
	return c.Chunk(outline.Sections(paras), source), nil
}

func copyPath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, len(path))
	copy(out, path)
	return out
}
