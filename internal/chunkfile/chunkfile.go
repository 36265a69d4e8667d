// Package chunkfile reads and writes the JSON export of a chunked document.
package chunkfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgallion1/docsplit/internal/doctree"
)

// Metadata describes the export as a whole.
type Metadata struct {
	SourceFile   string    `json:"source_file"`
	TotalChunks  int       `json:"total_chunks"`
	ChunkSize    int       `json:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap"`
	CreatedAt    time.Time `json:"created_at"`
}

// Entry is one exported chunk.
type Entry struct {
	ChunkID  string                `json:"chunk_id"`
	Text     string                `json:"text"`
	Metadata doctree.ChunkMetadata `json:"metadata"`
}

// File is the on-disk layout.
type File struct {
	Metadata Metadata `json:"metadata"`
	Chunks   []Entry  `json:"chunks"`
}

// New builds an export for chunks cut from sourceFile.
func New(sourceFile string, chunks []doctree.Chunk, size, overlap int) *File {
	prefix := Slugify(strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile)))
	f := &File{
		Metadata: Metadata{
			SourceFile:   filepath.Base(sourceFile),
			TotalChunks:  len(chunks),
			ChunkSize:    size,
			ChunkOverlap: overlap,
			CreatedAt:    time.Now().UTC(),
		},
		Chunks: make([]Entry, len(chunks)),
	}
	for i, c := range chunks {
		f.Chunks[i] = Entry{
			ChunkID:  ChunkID(prefix, i),
			Text:     c.Content,
			Metadata: c.Metadata,
		}
	}
	return f
}

// ChunkID names the i-th chunk of a document.
func ChunkID(prefix string, i int) string {
	return fmt.Sprintf("%s_chunk_%04d", prefix, i)
}

// Doctree converts the entries back into chunks.
func (f *File) Doctree() []doctree.Chunk {
	out := make([]doctree.Chunk, len(f.Chunks))
	for i, e := range f.Chunks {
		out[i] = doctree.Chunk{Content: e.Text, Metadata: e.Metadata}
	}
	return out
}

// Encode renders the export as indented JSON without HTML escaping.
func (f *File) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode chunks: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves the export to path, creating parent directories.
func Write(path string, f *File) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	return nil
}

// Read loads an export written by Write.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode chunks %s: %w", path, err)
	}
	if f.Metadata.TotalChunks != len(f.Chunks) {
		return nil, fmt.Errorf("decode chunks %s: total_chunks is %d but %d chunks present",
			path, f.Metadata.TotalChunks, len(f.Chunks))
	}
	return &f, nil
}

var (
	slugInvalid = regexp.MustCompile(`[^\p{L}\p{N}-]+`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slugify lowercases s and replaces everything but letters, digits and
// dashes with a single dash. Letters outside ASCII are kept. The result is
// at most 50 runes; an empty result becomes "document".
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if utf8.RuneCountInString(s) > 50 {
		s = strings.TrimRight(string([]rune(s)[:50]), "-")
	}
	if s == "" {
		return "document"
	}
	return s
}
