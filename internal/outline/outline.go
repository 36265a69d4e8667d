// Package outline turns a flat paragraph list into heading-attributed sections.
package outline

import (
	"strings"

	"github.com/dgallion1/docsplit/internal/doctree"
)

// EventKind distinguishes heading changes from body text.
type EventKind int

const (
	HeadingEvent EventKind = iota + 1
	TextEvent
)

func (k EventKind) String() string {
	switch k {
	case HeadingEvent:
		return "heading"
	case TextEvent:
		return "text"
	}
	return "unknown"
}

// Event is one step of the structure walk. Path is the heading stack in effect
// after the event; it is a private snapshot and safe to keep.
type Event struct {
	Kind EventKind
	Path doctree.HeadingPath
	Text string // Body text; empty for heading events
}

// Step applies one paragraph to the heading stack and returns the new stack
// together with the event it produced. The input path is not modified.
func Step(path doctree.HeadingPath, p doctree.Paragraph) (doctree.HeadingPath, Event) {
	if p.IsHeading() {
		next := path.Enter(p.Level, p.Text)
		return next, Event{Kind: HeadingEvent, Path: next}
	}
	return path, Event{Kind: TextEvent, Path: path, Text: p.Text}
}

// Extract walks paragraphs in order, threading the heading stack through Step.
func Extract(paras []doctree.Paragraph) []Event {
	events := make([]Event, 0, len(paras))
	var path doctree.HeadingPath
	for _, p := range paras {
		var ev Event
		path, ev = Step(path, p)
		events = append(events, ev)
	}
	return events
}

// Assemble groups body text under its nearest enclosing heading. Each heading
// opens a new section, even when it is immediately followed by another heading;
// such sections have empty text. Text seen before any heading goes to a
// level-0 section titled doctree.UntitledSection.
func Assemble(events []Event) []doctree.Section {
	var (
		sections []doctree.Section
		current  *doctree.Section
		body     []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.Join(body, "\n\n")
		sections = append(sections, *current)
		current, body = nil, nil
	}

	for _, ev := range events {
		switch ev.Kind {
		case HeadingEvent:
			flush()
			h, _ := ev.Path.Innermost()
			current = &doctree.Section{Title: h.Title, Level: h.Level, Path: ev.Path.Titles()}
		case TextEvent:
			if current == nil {
				current = sectionFor(ev.Path)
			}
			body = append(body, ev.Text)
		}
	}
	flush()

	return sections
}

// sectionFor opens a section for text that arrives without a preceding heading event.
func sectionFor(path doctree.HeadingPath) *doctree.Section {
	if h, ok := path.Innermost(); ok {
		return &doctree.Section{Title: h.Title, Level: h.Level, Path: path.Titles()}
	}
	return &doctree.Section{Title: doctree.UntitledSection, Level: 0}
}

// Sections is Assemble(Extract(paras)).
func Sections(paras []doctree.Paragraph) []doctree.Section {
	return Assemble(Extract(paras))
}
