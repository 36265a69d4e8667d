package parser

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dgallion1/docsplit/internal/doctree"
	"github.com/fumiama/go-docx"
)

// ReadDOCXFile opens path and parses it into paragraphs.
// Problems opening the file are reported as *FileError, problems decoding it as *ParseError.
func ReadDOCXFile(path string) ([]doctree.Paragraph, error) {
	if !IsSupportedExtension(path, KindDOCX) {
		return nil, &FileError{Path: path, Err: fmt.Errorf("%w: expected .docx", ErrUnsupportedFormat)}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &FileError{Path: path, Err: fmt.Errorf("is a directory")}
	}

	return ParseDOCX(f, info.Size(), path)
}

// ReadDOCX buffers r and parses it. Uploads arrive as streams, go-docx needs random access.
func ReadDOCX(r io.Reader, source string) ([]doctree.Paragraph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &FileError{Path: source, Err: err}
	}
	return ParseDOCX(bytes.NewReader(data), int64(len(data)), source)
}

// ParseDOCX decodes a DOCX package into its body paragraphs in document order.
// Tables and drawings are skipped; empty paragraphs are dropped.
func ParseDOCX(r io.ReaderAt, size int64, source string) (paras []doctree.Paragraph, err error) {
	defer func() {
		// go-docx dereferences optional XML parts without checks on some inputs.
		if rec := recover(); rec != nil {
			paras = nil
			err = &ParseError{Source: source, Err: fmt.Errorf("malformed docx: %v", rec)}
		}
	}()

	doc, err := docx.Parse(r, size)
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	styles, err := readStyles(r, size)
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}

	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := docxParagraphText(para)
		if text == "" {
			continue
		}
		paras = append(paras, doctree.Paragraph{
			Text:  text,
			Level: docxHeadingLevel(para, styles),
		})
	}
	return paras, nil
}

// docxHeadingLevel resolves the paragraph style through the package's style
// sheet: its outline level, else its name ("heading 2", "标题 2").
func docxHeadingLevel(para *docx.Paragraph, styles styleSheet) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	return styles.level(para.Properties.Style.Val)
}

// headingLevel reads a level from a style name or id such as "Heading2",
// "heading 2" or "标题 2". A bare "Heading" counts as level 1; a bare "标题"
// is the Title style and is not a heading.
func headingLevel(style string) int {
	s := strings.ToLower(strings.Join(strings.Fields(style), ""))
	rest, ok := strings.CutPrefix(s, "heading")
	if !ok {
		if rest, ok = strings.CutPrefix(s, "标题"); !ok || rest == "" {
			return 0
		}
	}
	if rest == "" {
		return 1
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRunText(&buf, c)
		case *docx.Hyperlink:
			writeRunText(&buf, &c.Run)
		}
	}
	return strings.TrimSpace(buf.String())
}

func writeRunText(buf *strings.Builder, run *docx.Run) {
	for _, rc := range run.Children {
		switch t := rc.(type) {
		case *docx.Text:
			buf.WriteString(t.Text)
		case *docx.Tab:
			buf.WriteByte('\t')
		case *docx.BarterRabbet:
			buf.WriteByte('\n')
		}
	}
}
