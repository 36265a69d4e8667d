package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/dgallion1/docsplit/internal/doctree"
	"github.com/dgallion1/docsplit/internal/extract"
)

var (
	success = color.New(color.FgGreen, color.Bold)
	failure = color.New(color.FgRed, color.Bold)
	heading = color.New(color.FgCyan)
	faint   = color.New(color.Faint)
)

const previewRunes = 80

func printChunks(w io.Writer, chunks []doctree.Chunk) {
	for _, c := range chunks {
		m := c.Metadata
		label := strings.Join(m.Path, " > ")
		if label == "" {
			label = m.Title
		}
		heading.Fprintf(w, "[%d] %s", m.ChunkIndex, label)
		faint.Fprintf(w, " (#%d, %d chars)\n", m.SequenceIndex, len([]rune(c.Content)))
		fmt.Fprintf(w, "    %s\n", preview(c.Content))
	}
}

func printRules(w io.Writer, rules []extract.Rule) {
	for i, r := range rules {
		fmt.Fprintf(w, "%3d. ", i+1)
		heading.Fprint(w, r.Approver)
		fmt.Fprintf(w, " ← %s", r.Condition)
		if r.Remark != nil {
			faint.Fprintf(w, " (%s)", *r.Remark)
		}
		fmt.Fprintln(w)
	}
}

func printStats(w io.Writer, model string, s extract.StatsSnapshot) {
	if s.Count == 0 {
		return
	}
	faint.Fprintf(w, "%s: %d calls, %d failed, p50 %.0fms, p95 %.0fms, %d+%d tokens\n",
		model, s.Count, s.Failed, s.P50Ms, s.P95Ms, s.PromptTokens, s.CompletionTokens)
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes]) + "…"
}
