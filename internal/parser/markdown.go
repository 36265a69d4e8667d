package parser

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownSource is a Markdown document prepared for rule extraction.
type MarkdownSource struct {
	Name     string   // Base filename
	Title    string   // First heading, or the filename without extension
	Headings []string // All heading texts in document order
	Content  string   // Raw Markdown, sent to the model as-is
}

// ReadMarkdownFile loads a Markdown document from disk.
func ReadMarkdownFile(path string) (*MarkdownSource, error) {
	if !IsSupportedExtension(path, KindMarkdown) {
		return nil, &FileError{Path: path, Err: ErrUnsupportedFormat}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defer f.Close()
	return LoadMarkdown(f, path)
}

// LoadMarkdown reads Markdown from r and collects its headings with goldmark.
func LoadMarkdown(r io.Reader, filename string) (*MarkdownSource, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, &FileError{Path: filename, Err: err}
	}
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, &ParseError{Source: filename, Err: ErrEmptyDocument}
	}

	name := filepath.Base(filename)
	out := &MarkdownSource{
		Name:    name,
		Title:   strings.TrimSuffix(strings.TrimSuffix(name, ".md"), ".markdown"),
		Content: string(src),
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		title := strings.TrimSpace(inlineText(heading, src))
		if title == "" {
			continue
		}
		if len(out.Headings) == 0 {
			out.Title = title
		}
		out.Headings = append(out.Headings, title)
	}
	return out, nil
}

// inlineText concatenates the text segments below n.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
			continue
		}
		buf.WriteString(inlineText(c, src))
	}
	return buf.String()
}
