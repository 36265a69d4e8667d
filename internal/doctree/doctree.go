package doctree

// UntitledSection is the title given to text that appears before the first heading.
const UntitledSection = "untitled"

// Paragraph is one block of a parsed document.
type Paragraph struct {
	Text  string // Paragraph text, trimmed
	Level int    // Heading level (1 = Heading1); 0 for body text
}

// IsHeading reports whether the paragraph carries a heading style.
func (p Paragraph) IsHeading() bool { return p.Level > 0 }

// Heading is one entry of a heading stack.
type Heading struct {
	Level int
	Title string
}

// HeadingPath is the stack of currently open headings, outermost first.
type HeadingPath []Heading

// Enter returns the path after a heading of the given level is encountered:
// every entry with level >= level is closed, then the heading is pushed.
// The receiver is never modified.
func (p HeadingPath) Enter(level int, title string) HeadingPath {
	keep := len(p)
	for keep > 0 && p[keep-1].Level >= level {
		keep--
	}
	next := make(HeadingPath, keep, keep+1)
	copy(next, p[:keep])
	return append(next, Heading{Level: level, Title: title})
}

// Innermost returns the nearest enclosing heading.
func (p HeadingPath) Innermost() (Heading, bool) {
	if len(p) == 0 {
		return Heading{}, false
	}
	return p[len(p)-1], true
}

// Titles returns the heading titles, outermost first,
// e.g. ["Leave Policy", "Annual Leave", "Approval"].
func (p HeadingPath) Titles() []string {
	if len(p) == 0 {
		return nil
	}
	titles := make([]string, len(p))
	for i, h := range p {
		titles[i] = h.Title
	}
	return titles
}

// Section is the body text found under one heading.
type Section struct {
	Title string   // Nearest enclosing heading, or UntitledSection
	Level int      // Heading level; 0 for the untitled section
	Path  []string // Heading hierarchy leading to this section
	Text  string   // Body paragraphs joined by blank lines
}

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	Title         string   `json:"title"`
	Level         int      `json:"level"`
	SequenceIndex int      `json:"sequence_index"` // Position within the section
	ChunkIndex    int      `json:"chunk_index"`    // Position within the document
	Path          []string `json:"path,omitempty"`
	Source        string   `json:"source,omitempty"`
}

// Chunk is a sized text segment with its section metadata, ready for indexing.
type Chunk struct {
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}
