package parser

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

const stylesPart = "word/styles.xml"

// bodyTextOutline is the outline level Word uses for "not a heading".
const bodyTextOutline = 9

// maxStyleDepth bounds basedOn chains; Word itself stops well before this.
const maxStyleDepth = 16

type xmlVal struct {
	Val string `xml:"val,attr"`
}

type xmlStyle struct {
	Type    string  `xml:"type,attr"`
	ID      string  `xml:"styleId,attr"`
	Name    *xmlVal `xml:"name"`
	BasedOn *xmlVal `xml:"basedOn"`
	PPr     *struct {
		OutlineLvl *xmlVal `xml:"outlineLvl"`
	} `xml:"pPr"`
}

type xmlStyles struct {
	Styles []xmlStyle `xml:"style"`
}

type styleDef struct {
	name    string
	basedOn string
	outline int // -1 when the style sets no outline level
}

// styleSheet resolves paragraph style ids to heading levels. Localized Word
// writes ids such as "1" or "a3"; the display name and outline level are what
// identify a heading.
type styleSheet map[string]styleDef

// readStyles loads the paragraph styles of a DOCX package. A package without
// a styles part yields an empty sheet.
func readStyles(r io.ReaderAt, size int64) (styleSheet, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	f, err := zr.Open(stylesPart)
	if errors.Is(err, fs.ErrNotExist) {
		return styleSheet{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeStyles(f)
}

func decodeStyles(r io.Reader) (styleSheet, error) {
	var doc xmlStyles
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", stylesPart, err)
	}
	sheet := make(styleSheet, len(doc.Styles))
	for _, s := range doc.Styles {
		if s.ID == "" || (s.Type != "" && s.Type != "paragraph") {
			continue
		}
		def := styleDef{outline: -1}
		if s.Name != nil {
			def.name = s.Name.Val
		}
		if s.BasedOn != nil {
			def.basedOn = s.BasedOn.Val
		}
		if s.PPr != nil && s.PPr.OutlineLvl != nil {
			if n, err := strconv.Atoi(s.PPr.OutlineLvl.Val); err == nil && n >= 0 {
				def.outline = n
			}
		}
		sheet[s.ID] = def
	}
	return sheet, nil
}

// level returns the heading level of a paragraph style, following basedOn.
// An explicit outline level wins over the style name. Ids missing from the
// sheet are read as names, which covers packages written without styles.
func (s styleSheet) level(id string) int {
	if id == "" {
		return 0
	}
	def, ok := s[id]
	if !ok {
		return headingLevel(id)
	}
	for depth := 0; ok && depth < maxStyleDepth; depth++ {
		if def.outline >= 0 {
			if def.outline >= bodyTextOutline {
				return 0
			}
			return def.outline + 1
		}
		if n := headingLevel(def.name); n > 0 {
			return n
		}
		if def.basedOn == "" {
			break
		}
		def, ok = s[def.basedOn]
	}
	return 0
}
