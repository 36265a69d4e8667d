package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is wrapped by FileError when a file has the wrong extension.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrEmptyDocument is wrapped by ParseError when a document has no text at all.
var ErrEmptyDocument = errors.New("document has no text")

// FileError reports a document that cannot be read or is not of the expected kind.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// ParseError reports a document whose bytes could be read but not decoded.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SupportedExtensions lists the file extensions each loader accepts.
var SupportedExtensions = map[string]Kind{
	".docx":     KindDOCX,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
}

// Kind identifies a document format.
type Kind string

const (
	KindDOCX     Kind = "docx"
	KindMarkdown Kind = "markdown"
)

// KindOf returns the document kind for a filename.
func KindOf(filename string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	kind, ok := SupportedExtensions[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return kind, nil
}

// IsSupportedExtension reports whether filename has the extension of the given kind.
func IsSupportedExtension(filename string, kind Kind) bool {
	k, err := KindOf(filename)
	return err == nil && k == kind
}
